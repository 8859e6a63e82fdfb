package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/trellis/pkg/merging"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// Store commits merge batches to the graph. It implements merging.Store.
type Store struct {
	client *Client
	logger ectologger.Logger
}

// NewStore creates a new graph store.
func NewStore(client *Client, logger ectologger.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// ExistingEntityIDs reports which of the given node ids exist in the graph.
// Natural keys are globally unique across labels, so the match is unlabeled.
func (s *Store) ExistingEntityIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.ExistingEntityIDs")
	defer span.End()

	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	cypher := `
		MATCH (e)
		WHERE e.id IN $ids
		RETURN e.id AS id
	`

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}

		existing := make(map[string]bool)
		for result.Next(ctx) {
			record := result.Record()
			id, ok := record.Get("id")
			if !ok {
				continue
			}
			if str, ok := id.(string); ok {
				existing[str] = true
			}
		}
		return existing, result.Err()
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to look up existing entity ids")
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	return result.(map[string]bool), nil
}

// CommitBatch writes all staged nodes and edges in one write transaction.
// Immutable fields are set only on create, mutable fields overwrite, and the
// sync_state property never moves backwards.
func (s *Store) CommitBatch(ctx context.Context, entities []*merging.EntityMerge, edges []*merging.EdgeMerge) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.CommitBatch")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"entities": len(entities),
		"edges":    len(edges),
	})

	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := s.writeEntities(ctx, tx, entities, now); err != nil {
			return nil, err
		}
		return nil, s.writeEdges(ctx, tx, edges, now)
	})

	if err != nil {
		log.WithError(err).Error("Failed to commit batch to graph")
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	log.Debug("Committed batch to graph")
	return nil
}

func (s *Store) writeEntities(ctx context.Context, tx neo4j.ManagedTransaction, entities []*merging.EntityMerge, now string) error {
	// Group by kind so each UNWIND targets a single label
	byKind := make(map[models.EntityKind][]*merging.EntityMerge)
	var kinds []models.EntityKind
	for _, e := range entities {
		if _, ok := byKind[e.Kind]; !ok {
			kinds = append(kinds, e.Kind)
		}
		byKind[e.Kind] = append(byKind[e.Kind], e)
	}

	for _, kind := range kinds {
		kindEntities := byKind[kind]
		batchData := make([]map[string]any, len(kindEntities))
		for i, e := range kindEntities {
			immutable := map[string]any{}
			for k, v := range e.Immutable {
				immutable[k] = v
			}
			mutable := map[string]any{}
			for k, v := range e.Mutable {
				mutable[k] = v
			}
			batchData[i] = map[string]any{
				"id":         e.ID,
				"immutable":  immutable,
				"mutable":    mutable,
				"sync_state": string(e.Completion),
			}
		}

		cypher := fmt.Sprintf(`
			UNWIND $batch AS row
			MERGE (e:%s {id: row.id})
			ON CREATE SET e += row.immutable, e.created_at = $now
			SET e += row.mutable, e.updated_at = $now
			SET e.sync_state = CASE
				WHEN e.sync_state = 'terminal' THEN 'terminal'
				WHEN e.sync_state = 'complete' AND row.sync_state = 'partial' THEN 'complete'
				ELSE row.sync_state
			END
		`, sanitizeLabel(string(kind)))

		if _, err := tx.Run(ctx, cypher, map[string]any{"batch": batchData, "now": now}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeEdges(ctx context.Context, tx neo4j.ManagedTransaction, edges []*merging.EdgeMerge, now string) error {
	// Group by (kind, from label, to label) so each UNWIND is a single pattern
	type edgeKey struct {
		kind     string
		fromKind models.EntityKind
		toKind   models.EntityKind
	}
	byKey := make(map[edgeKey][]*merging.EdgeMerge)
	var keys []edgeKey
	for _, e := range edges {
		key := edgeKey{e.Kind, e.FromKind, e.ToKind}
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], e)
	}

	for _, key := range keys {
		keyEdges := byKey[key]
		batchData := make([]map[string]any, len(keyEdges))
		for i, e := range keyEdges {
			props := map[string]any{}
			for k, v := range e.Props {
				props[k] = v
			}
			batchData[i] = map[string]any{
				"from_id": e.FromID,
				"to_id":   e.ToID,
				"rel_id":  uuid.New().String(),
				"props":   props,
			}
		}

		cypher := fmt.Sprintf(`
			UNWIND $batch AS row
			MATCH (from:%s {id: row.from_id})
			MATCH (to:%s {id: row.to_id})
			MERGE (from)-[r:%s]->(to)
			ON CREATE SET r.id = row.rel_id, r.created_at = $now
			SET r += row.props, r.updated_at = $now
		`, sanitizeLabel(string(key.fromKind)), sanitizeLabel(string(key.toKind)), sanitizeLabel(key.kind))

		if _, err := tx.Run(ctx, cypher, map[string]any{"batch": batchData, "now": now}); err != nil {
			return err
		}
	}
	return nil
}
