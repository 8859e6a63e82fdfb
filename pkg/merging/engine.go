// Package merging stages entity and relationship writes and commits them
// atomically to the graph store.
package merging

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/relationships"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// Store is the graph capability the engine commits through.
type Store interface {
	// ExistingEntityIDs reports which of the given node ids already exist.
	ExistingEntityIDs(ctx context.Context, ids []string) (map[string]bool, error)

	// CommitBatch writes all staged nodes and edges in a single transaction.
	CommitBatch(ctx context.Context, entities []*EntityMerge, edges []*EdgeMerge) error
}

// Engine validates staged writes against the shape table and commits batches.
type Engine struct {
	shapes *relationships.Table
	store  Store
	logger ectologger.Logger
}

// NewEngine creates a new merge engine.
func NewEngine(shapes *relationships.Table, store Store, logger ectologger.Logger) *Engine {
	return &Engine{
		shapes: shapes,
		store:  store,
		logger: logger,
	}
}

// StageEntity adds a node write to the batch.
func (e *Engine) StageEntity(ctx context.Context, batch *Batch, m EntityMerge) error {
	if m.ID == "" || m.Kind == "" {
		return fmt.Errorf("entity merge requires a kind and a natural key")
	}
	if m.Completion == "" {
		m.Completion = models.CompletionComplete
	}
	batch.addEntity(m)
	return nil
}

// StageRelationship expands a relationship intent through the shape table and
// adds the resulting directed edges to the batch. An unknown kind fails the
// whole batch.
func (e *Engine) StageRelationship(ctx context.Context, batch *Batch, intent models.EdgeIntent) error {
	edges, err := e.shapes.Expand(intent.Kind, intent.FromID, intent.ToID)
	if err != nil {
		return err
	}

	for _, edge := range edges {
		fromKind, toKind := intent.FromKind, intent.ToKind
		if edge.FromID != intent.FromID {
			fromKind, toKind = intent.ToKind, intent.FromKind
		}
		batch.addEdge(EdgeMerge{
			Kind:     edge.Kind,
			FromID:   edge.FromID,
			FromKind: fromKind,
			ToID:     edge.ToID,
			ToKind:   toKind,
			Props:    intent.Props,
		})
	}
	return nil
}

// Commit verifies every edge endpoint and writes the batch atomically.
// If any endpoint is neither staged in the batch nor already in the graph,
// nothing is written.
func (e *Engine) Commit(ctx context.Context, batch *Batch) error {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Commit")
	defer span.End()

	if batch.Len() == 0 {
		return nil
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"entities": len(batch.Entities()),
		"edges":    len(batch.Edges()),
	})

	if err := e.checkEndpoints(ctx, batch); err != nil {
		log.WithError(err).Error("Batch failed endpoint validation")
		return err
	}

	if err := e.store.CommitBatch(ctx, batch.Entities(), batch.Edges()); err != nil {
		log.WithError(err).Error("Failed to commit batch to graph")
		return err
	}

	log.Debug("Committed batch to graph")
	return nil
}

func (e *Engine) checkEndpoints(ctx context.Context, batch *Batch) error {
	var unknown []string
	seen := make(map[string]bool)
	for _, edge := range batch.Edges() {
		for _, id := range []string{edge.FromID, edge.ToID} {
			if batch.HasEntity(id) || seen[id] {
				continue
			}
			seen[id] = true
			unknown = append(unknown, id)
		}
	}

	if len(unknown) == 0 {
		return nil
	}

	existing, err := e.store.ExistingEntityIDs(ctx, unknown)
	if err != nil {
		return err
	}

	for _, id := range unknown {
		if !existing[id] {
			return fmt.Errorf("%w: %s", models.ErrDanglingEndpoint, id)
		}
	}
	return nil
}
