package models

import "time"

// CompletionState tracks how much of an entity has been synchronized.
type CompletionState string

const (
	// CompletionPartial means the entity was created as a side effect of
	// another record (e.g. a stub issue referenced from a commit message) and
	// has not been synced from its own source yet.
	CompletionPartial CompletionState = "partial"

	// CompletionComplete means the entity was fully synced from its source.
	CompletionComplete CompletionState = "complete"

	// CompletionTerminal means the entity reached a lifecycle state it cannot
	// leave (e.g. a merged pull request) and will never be processed again.
	CompletionTerminal CompletionState = "terminal"
)

// rank orders completion states so that transitions are monotonic.
// A stored state never moves to a lower rank.
func (s CompletionState) rank() int {
	switch s {
	case CompletionComplete:
		return 1
	case CompletionTerminal:
		return 2
	default:
		return 0
	}
}

// Advances reports whether moving from s to next is an allowed transition.
func (s CompletionState) Advances(next CompletionState) bool {
	return next.rank() >= s.rank()
}

// Max returns the higher ranked of the two states.
func (s CompletionState) Max(other CompletionState) CompletionState {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// CompletionStatus is the stored sync state for a single entity, used by the
// change detection filter to decide whether a record needs processing.
type CompletionStatus struct {
	State       CompletionState
	Lifecycle   string
	Fingerprint string
	Marker      map[string]any
	UpdatedAt   time.Time
}
