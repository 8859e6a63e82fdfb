package events

import "github.com/google/uuid"

// EventType defines the type of event
type EventType string

const (
	EventTypeEntityMerged  EventType = "entity.merged"
	EventTypeSyncCompleted EventType = "sync.completed"
	EventTypeSyncFailed    EventType = "sync.failed"
)

// NewCorrelationID returns a fresh correlation id for an event batch.
func NewCorrelationID() string {
	return uuid.NewString()
}
