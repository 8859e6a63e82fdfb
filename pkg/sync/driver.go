// Package sync drives reconciliation passes: fetch, filter, resolve, merge,
// commit, then advance the watermark.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/changedetect"
	"github.com/Ramsey-B/trellis/pkg/identity"
	"github.com/Ramsey-B/trellis/pkg/merging"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// Phase is the driver's position in a reconciliation pass.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseFiltering  Phase = "filtering"
	PhaseResolving  Phase = "resolving"
	PhaseMerging    Phase = "merging"
	PhaseCommitting Phase = "committing"
)

// Fetcher pulls one page of source records from a provider. A nil since means
// a full sync. Cursor is the provider continuation token from the previous
// page, empty for the first.
type Fetcher interface {
	FetchPage(ctx context.Context, since *time.Time, cursor string) (*models.Page, error)
}

// Collection binds a provider fetcher to the entity kind it produces.
type Collection struct {
	ID      string
	Kind    models.EntityKind
	Fetcher Fetcher
}

// StateStore is the sync state persistence the driver depends on.
type StateStore interface {
	GetWatermark(ctx context.Context, collectionID string) (*time.Time, error)
	SetWatermark(ctx context.Context, collectionID string, ts time.Time) error
	GetStatuses(ctx context.Context, kind models.EntityKind, keys []string) (map[string]models.CompletionStatus, error)
	UpsertStatuses(ctx context.Context, kind models.EntityKind, records []models.SourceRecord) error
}

// IdentityResolver maps provider identities to canonical person ids.
type IdentityResolver interface {
	Resolve(ctx context.Context, input models.IdentityInput) (identity.Resolution, error)
}

// EventSink publishes pipeline events. Satisfied by events.Emitter.
type EventSink interface {
	EmitEntitiesMerged(ctx context.Context, entities []*merging.EntityMerge) error
	EmitSyncCompleted(ctx context.Context, collectionID string, pages, processed, skipped, recordErrors int, watermark *time.Time) error
}

// Result summarizes a finished pass.
type Result struct {
	CollectionID string
	Pages        int
	Processed    int
	Skipped      int
	RecordErrors int
	Watermark    *time.Time
}

// Driver runs reconciliation passes for collections.
type Driver struct {
	state    StateStore
	filter   *changedetect.Filter
	resolver IdentityResolver
	engine   *merging.Engine
	events   EventSink
	metrics  *metrics.Collector
	logger   ectologger.Logger

	mu    sync.Mutex
	phase Phase
}

// NewDriver creates a reconciliation driver. The event sink may be nil.
func NewDriver(state StateStore, filter *changedetect.Filter, resolver IdentityResolver, engine *merging.Engine, events EventSink, collector *metrics.Collector, logger ectologger.Logger) *Driver {
	return &Driver{
		state:    state,
		filter:   filter,
		resolver: resolver,
		engine:   engine,
		events:   events,
		metrics:  collector,
		logger:   logger,
		phase:    PhaseIdle,
	}
}

// Phase reports the driver's current phase.
func (d *Driver) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

func (d *Driver) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
}

// RunPass reconciles one collection against the graph. Pages are committed as
// they are processed; the watermark advances only after the last page commits,
// so an aborted pass re-fetches from the previous watermark.
func (d *Driver) RunPass(ctx context.Context, col Collection) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "sync.Driver.RunPass")
	defer span.End()
	defer d.setPhase(PhaseIdle)

	start := time.Now()
	log := d.logger.WithContext(ctx).WithFields(map[string]any{"collection_id": col.ID})

	since, err := d.state.GetWatermark(ctx, col.ID)
	if err != nil {
		d.metrics.PassFailed(col.ID)
		return nil, err
	}

	result := &Result{CollectionID: col.ID}
	var maxObserved time.Time
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			d.metrics.PassFailed(col.ID)
			return nil, err
		}

		d.setPhase(PhaseFetching)
		page, err := col.Fetcher.FetchPage(ctx, since, cursor)
		if err != nil {
			log.WithError(err).Error("Failed to fetch page")
			d.metrics.PassFailed(col.ID)
			return nil, &models.TransientFetchError{Collection: col.ID, Err: err}
		}
		result.Pages++

		if err := d.processPage(ctx, col, page.Records, result, &maxObserved); err != nil {
			d.metrics.PassFailed(col.ID)
			return nil, err
		}

		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}

	if !maxObserved.IsZero() {
		if err := d.state.SetWatermark(ctx, col.ID, maxObserved); err != nil {
			d.metrics.PassFailed(col.ID)
			return nil, err
		}
		wm := maxObserved
		result.Watermark = &wm
		d.metrics.WatermarkAdvanced(col.ID, maxObserved)
	}

	d.metrics.PassCompleted(col.ID, time.Since(start))

	if d.events != nil {
		if err := d.events.EmitSyncCompleted(ctx, col.ID, result.Pages, result.Processed, result.Skipped, result.RecordErrors, result.Watermark); err != nil {
			log.WithError(err).Error("Failed to emit sync completion")
		}
	}

	log.WithFields(map[string]any{
		"pages":         result.Pages,
		"processed":     result.Processed,
		"skipped":       result.Skipped,
		"record_errors": result.RecordErrors,
		"duration":      time.Since(start).String(),
	}).Info("Completed reconciliation pass")

	return result, nil
}

func (d *Driver) processPage(ctx context.Context, col Collection, records []models.SourceRecord, result *Result, maxObserved *time.Time) error {
	if len(records) == 0 {
		return nil
	}

	d.setPhase(PhaseFiltering)
	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.NaturalKey)
	}
	statuses, err := d.state.GetStatuses(ctx, col.Kind, keys)
	if err != nil {
		return err
	}

	partition := d.filter.Partition(ctx, col.Kind, records, statuses)
	result.Skipped += len(partition.Skipped)

	// Malformed identity observations drop the record; everything else in the
	// page still commits. Any other resolver failure aborts the pass so the
	// unresolved records stay ahead of the watermark and retry next run.
	d.setPhase(PhaseResolving)
	type stagedRecord struct {
		record   models.SourceRecord
		resolved map[string]string
	}
	var staged []stagedRecord
	for _, record := range partition.Process {
		resolved, err := d.resolveIdentities(ctx, record)
		if err != nil {
			if !errors.Is(err, models.ErrInvalidIdentityInput) {
				return err
			}
			d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"collection_id": col.ID,
				"natural_key":   record.NaturalKey,
			}).Error("Dropped record with malformed identity")
			d.metrics.RecordError(string(record.Kind))
			result.RecordErrors++
			continue
		}
		staged = append(staged, stagedRecord{record: record, resolved: resolved})
	}

	d.setPhase(PhaseMerging)
	batch := merging.NewBatch()
	var committed []models.SourceRecord
	for _, s := range staged {
		if err := d.stageRecord(ctx, batch, s.record, s.resolved); err != nil {
			return err
		}
		committed = append(committed, s.record)
	}

	d.setPhase(PhaseCommitting)
	if err := d.engine.Commit(ctx, batch); err != nil {
		return err
	}
	if batch.Len() > 0 {
		d.metrics.BatchCommitted()
	}
	result.Processed += len(committed)

	if err := d.state.UpsertStatuses(ctx, col.Kind, committed); err != nil {
		return err
	}

	if d.events != nil && batch.Len() > 0 {
		if err := d.events.EmitEntitiesMerged(ctx, batch.Entities()); err != nil {
			d.logger.WithContext(ctx).WithError(err).Error("Failed to emit merge events")
		}
	}

	// Skipped records were still observed; their timestamps count toward the
	// watermark so the next pass does not re-fetch them.
	for _, r := range records {
		if r.ObservedAt.After(*maxObserved) {
			*maxObserved = r.ObservedAt
		}
	}

	return nil
}

func (d *Driver) resolveIdentities(ctx context.Context, record models.SourceRecord) (map[string]string, error) {
	resolved := make(map[string]string, len(record.Identities))
	for _, input := range record.Identities {
		res, err := d.resolver.Resolve(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("resolve identity %q: %w", input.Ref, err)
		}
		resolved[input.Ref] = res.PersonID
	}
	return resolved, nil
}

// stageRecord rewrites identity placeholder endpoints and stages the entity
// and its edges.
func (d *Driver) stageRecord(ctx context.Context, batch *merging.Batch, record models.SourceRecord, resolved map[string]string) error {
	if err := d.engine.StageEntity(ctx, batch, merging.EntityMerge{
		Kind:       record.Kind,
		ID:         record.NaturalKey,
		Immutable:  record.Immutable,
		Mutable:    record.Mutable,
		Completion: record.Completion,
	}); err != nil {
		return err
	}

	for _, stub := range record.Stubs {
		if err := d.engine.StageEntity(ctx, batch, merging.EntityMerge{
			Kind:       stub.Kind,
			ID:         stub.NaturalKey,
			Immutable:  stub.Immutable,
			Completion: models.CompletionPartial,
		}); err != nil {
			return err
		}
	}

	for _, edge := range record.Edges {
		if ref, ok := models.ParseIdentityRef(edge.FromID); ok {
			personID, found := resolved[ref]
			if !found {
				return fmt.Errorf("edge %s references undeclared identity %q", edge.Kind, ref)
			}
			edge.FromID = personID
			edge.FromKind = models.KindPerson
		}
		if ref, ok := models.ParseIdentityRef(edge.ToID); ok {
			personID, found := resolved[ref]
			if !found {
				return fmt.Errorf("edge %s references undeclared identity %q", edge.Kind, ref)
			}
			edge.ToID = personID
			edge.ToKind = models.KindPerson
		}
		if err := d.engine.StageRelationship(ctx, batch, edge); err != nil {
			return err
		}
	}

	return nil
}
