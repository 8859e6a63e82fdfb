package models

import "time"

// CanonicalPerson is the cross-provider person node. The id is the master
// key: derived from the normalized email when one is known, otherwise from
// the provider and external id.
type CanonicalPerson struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IdentityMapping links a provider account to a canonical person. One mapping
// exists per (provider, external_id); many mappings can point at one person.
type IdentityMapping struct {
	Provider      string
	ExternalID    string
	PersonID      string
	Email         string
	DisplayName   string
	LastUpdatedAt time.Time
}

// MappingID returns the graph node id for the mapping.
func (m *IdentityMapping) MappingID() string {
	return "identity_" + m.Provider + "_" + m.ExternalID
}
