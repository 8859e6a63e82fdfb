// Package events emits pipeline events for merged entities and finished
// reconciliation passes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/kafka"
	"github.com/Ramsey-B/trellis/pkg/merging"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes pipeline events through the Kafka producer
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitEntitiesMerged emits one entity.merged event per committed entity merge.
func (e *Emitter) EmitEntitiesMerged(ctx context.Context, entities []*merging.EntityMerge) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntitiesMerged")
	defer span.End()

	if len(entities) == 0 {
		return nil
	}

	correlationID := NewCorrelationID()
	events := make([]*kafka.EntityEvent, 0, len(entities))
	for _, entity := range entities {
		payload := map[string]any{
			"schema_version": SchemaVersion,
			"correlation_id": correlationID,
			"completion":     string(entity.Completion),
		}
		if len(entity.Mutable) > 0 {
			payload["fields"] = entity.Mutable
		}
		data, _ := json.Marshal(payload)

		events = append(events, &kafka.EntityEvent{
			EventType:  string(EventTypeEntityMerged),
			EntityID:   entity.ID,
			EntityKind: string(entity.Kind),
			Data:       data,
		})
	}

	if err := e.producer.PublishEntityEvents(ctx, events); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.merged events")
		return err
	}

	return nil
}

// EmitSyncCompleted emits a sync.completed event for a finished pass.
func (e *Emitter) EmitSyncCompleted(ctx context.Context, collectionID string, pages, processed, skipped, recordErrors int, watermark *time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitSyncCompleted")
	defer span.End()

	event := &kafka.SyncEvent{
		EventType:    string(EventTypeSyncCompleted),
		CollectionID: collectionID,
		Pages:        pages,
		Processed:    processed,
		Skipped:      skipped,
		RecordErrors: recordErrors,
		Watermark:    watermark,
	}

	if err := e.producer.PublishSyncEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit sync.completed event")
		return err
	}

	return nil
}

// EmitSyncFailed emits a sync.failed event for an aborted pass.
func (e *Emitter) EmitSyncFailed(ctx context.Context, collectionID string, cause error) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitSyncFailed")
	defer span.End()

	event := &kafka.SyncEvent{
		EventType:    string(EventTypeSyncFailed),
		CollectionID: collectionID,
		Error:        cause.Error(),
	}

	if err := e.producer.PublishSyncEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit sync.failed event")
		return err
	}

	return nil
}
