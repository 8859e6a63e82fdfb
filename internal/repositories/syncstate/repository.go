// Package syncstate persists sync watermarks and per-entity completion
// statuses in PostgreSQL.
package syncstate

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/trellis/pkg/changedetect"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// Repository handles sync state persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new sync state repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// statusRow is the entity_sync_status table shape.
type statusRow struct {
	EntityKind  string                         `db:"entity_kind"`
	NaturalKey  string                         `db:"natural_key"`
	State       string                         `db:"state"`
	Lifecycle   string                         `db:"lifecycle"`
	Fingerprint string                         `db:"fingerprint"`
	Marker      database.JSONB[map[string]any] `db:"marker"`
	UpdatedAt   time.Time                      `db:"updated_at"`
}

// GetWatermark returns the committed watermark for a collection, or nil when
// the collection has never completed a pass.
func (r *Repository) GetWatermark(ctx context.Context, collectionID string) (*time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "syncstate.Repository.GetWatermark")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("collection_id", "last_synced_at", "updated_at")
	sb.From("sync_watermarks")
	sb.Where(sb.Equal("collection_id", collectionID))

	query, args := sb.Build()
	var watermark models.SyncWatermark
	if err := r.db.GetContext(ctx, &watermark, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection_id": collectionID}).Error("Failed to get watermark")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get watermark")
	}

	ts := watermark.LastSyncedAt
	return &ts, nil
}

// SetWatermark advances the committed watermark for a collection. The stored
// value never moves backwards.
func (r *Repository) SetWatermark(ctx context.Context, collectionID string, ts time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "syncstate.Repository.SetWatermark")
	defer span.End()

	ib := database.NewInsertBuilder().
		InsertInto("sync_watermarks").
		Cols("collection_id", "last_synced_at", "updated_at").
		Values(collectionID, ts.UTC(), time.Now().UTC())
	ub := ib.OnConflict("collection_id")
	ub.Set(
		// the stored watermark never regresses
		"last_synced_at = GREATEST(sync_watermarks.last_synced_at, EXCLUDED.last_synced_at)",
		ub.Assign("updated_at", time.Now().UTC()),
	)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection_id": collectionID}).Error("Failed to set watermark")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set watermark")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"collection_id": collectionID,
		"watermark":     ts.UTC(),
	}).Debug("Advanced watermark")
	return nil
}

// GetStatuses returns the stored completion statuses for the given natural
// keys. Keys with no stored state are absent from the result.
func (r *Repository) GetStatuses(ctx context.Context, kind models.EntityKind, keys []string) (map[string]models.CompletionStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "syncstate.Repository.GetStatuses")
	defer span.End()

	if len(keys) == 0 {
		return map[string]models.CompletionStatus{}, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select("entity_kind", "natural_key", "state", "lifecycle", "fingerprint", "marker", "updated_at")
	sb.From("entity_sync_status")
	sb.Where(
		sb.Equal("entity_kind", string(kind)),
		sb.In("natural_key", sqlbuilder.Flatten(keys)...),
	)

	query, args := sb.Build()
	var rows []statusRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_kind": string(kind), "keys": len(keys)}).Error("Failed to get completion statuses")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get completion statuses")
	}

	statuses := make(map[string]models.CompletionStatus, len(rows))
	for _, row := range rows {
		statuses[row.NaturalKey] = models.CompletionStatus{
			State:       models.CompletionState(row.State),
			Lifecycle:   row.Lifecycle,
			Fingerprint: row.Fingerprint,
			Marker:      row.Marker.GetValue(),
			UpdatedAt:   row.UpdatedAt,
		}
	}
	return statuses, nil
}

// UpsertStatuses writes the post-commit statuses for a page of records in one
// transaction. A stored terminal state is never demoted.
func (r *Repository) UpsertStatuses(ctx context.Context, kind models.EntityKind, records []models.SourceRecord) error {
	ctx, span := tracing.StartSpan(ctx, "syncstate.Repository.UpsertStatuses")
	defer span.End()

	if len(records) == 0 {
		return nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	for _, record := range records {
		ib := database.NewInsertBuilder().
			InsertInto("entity_sync_status").
			Cols("entity_kind", "natural_key", "state", "lifecycle", "fingerprint", "marker", "updated_at").
			Values(
				string(kind),
				record.NaturalKey,
				string(record.Completion),
				record.Lifecycle,
				changedetect.MarkerFingerprint(record),
				database.NewJSONB(record.Marker),
				time.Now().UTC(),
			)
		ub := ib.OnConflict("entity_kind", "natural_key")
		ub.Set(
			// a stored terminal state is never demoted
			"state = CASE WHEN entity_sync_status.state = 'terminal' THEN entity_sync_status.state ELSE EXCLUDED.state END",
			ub.Assign("lifecycle", database.Excluded("lifecycle")),
			ub.Assign("fingerprint", database.Excluded("fingerprint")),
			ub.Assign("marker", database.Excluded("marker")),
			ub.Assign("updated_at", time.Now().UTC()),
		)

		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_kind": string(kind), "natural_key": record.NaturalKey}).Error("Failed to upsert completion status")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert completion status")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit completion statuses")
	}

	return nil
}
