package models

import (
	"strings"
	"time"
)

// EntityKind identifies the node label an entity is merged under.
type EntityKind string

const (
	KindRepository  EntityKind = "Repository"
	KindBranch      EntityKind = "Branch"
	KindCommit      EntityKind = "Commit"
	KindPullRequest EntityKind = "PullRequest"
	KindFile        EntityKind = "File"
	KindPerson      EntityKind = "Person"
	KindIdentity    EntityKind = "IdentityMapping"
	KindTeam        EntityKind = "Team"
	KindProject     EntityKind = "Project"
	KindIssue       EntityKind = "Issue"
	KindEpic        EntityKind = "Epic"
	KindSprint      EntityKind = "Sprint"
)

// IdentityInput is a raw identity observation attached to a source record.
// Ref names the observation within the record so edges can point at the
// canonical person once it is resolved.
type IdentityInput struct {
	Ref         string
	Provider    string
	ExternalID  string
	Email       string
	DisplayName string
}

// identityRefPrefix marks edge endpoints that are resolved to a canonical
// person id during the pass.
const identityRefPrefix = "identity://"

// IdentityRef builds an edge endpoint placeholder for a named identity input.
func IdentityRef(ref string) string {
	return identityRefPrefix + ref
}

// ParseIdentityRef returns the ref name if the endpoint is a placeholder.
func ParseIdentityRef(endpoint string) (string, bool) {
	if strings.HasPrefix(endpoint, identityRefPrefix) {
		return endpoint[len(identityRefPrefix):], true
	}
	return "", false
}

// EdgeIntent is a relationship observation attached to a source record.
// Endpoints are natural keys, or identity placeholders built with IdentityRef.
type EdgeIntent struct {
	Kind     string
	FromID   string
	FromKind EntityKind
	ToID     string
	ToKind   EntityKind
	Props    map[string]any
}

// Stub is a minimal observation of an entity another record refers to, merged
// as a partial node until the owning collection syncs the real thing.
type Stub struct {
	Kind       EntityKind
	NaturalKey string
	Immutable  map[string]any
}

// SourceRecord is a provider observation normalized by an adapter. Immutable
// fields are written once on node creation; mutable fields overwrite on every
// merge. Marker holds the fields the change detection filter fingerprints to
// decide whether anything observable changed.
type SourceRecord struct {
	Kind       EntityKind
	NaturalKey string
	ObservedAt time.Time
	Lifecycle  string
	Completion CompletionState
	Marker     map[string]any
	Immutable  map[string]any
	Mutable    map[string]any
	Identities []IdentityInput
	Edges      []EdgeIntent
	Stubs      []Stub
}

// Page is one page of source records in provider order.
type Page struct {
	Records []SourceRecord
	Cursor  string
	HasMore bool
}
