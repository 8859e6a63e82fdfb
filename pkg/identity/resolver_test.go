package identity

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
)

type fakeStore struct {
	persons  map[string]*models.CanonicalPerson // by id
	byEmail  map[string]*models.CanonicalPerson
	mappings map[string]*models.IdentityMapping // by provider|external_id

	findCalls    int
	mappingCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		persons:  make(map[string]*models.CanonicalPerson),
		byEmail:  make(map[string]*models.CanonicalPerson),
		mappings: make(map[string]*models.IdentityMapping),
	}
}

func (s *fakeStore) FindPersonByEmail(_ context.Context, email string) (*models.CanonicalPerson, error) {
	s.findCalls++
	return s.byEmail[email], nil
}

func (s *fakeStore) GetMapping(_ context.Context, provider, externalID string) (*models.IdentityMapping, error) {
	s.mappingCalls++
	return s.mappings[provider+"|"+externalID], nil
}

func (s *fakeStore) SavePerson(_ context.Context, person *models.CanonicalPerson) error {
	clone := *person
	s.persons[person.ID] = &clone
	if person.Email != "" {
		s.byEmail[person.Email] = &clone
	}
	return nil
}

func (s *fakeStore) SaveMapping(_ context.Context, mapping *models.IdentityMapping) error {
	clone := *mapping
	s.mappings[mapping.Provider+"|"+mapping.ExternalID] = &clone
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestResolver(store *fakeStore) *Resolver {
	return NewResolver(store, 7*24*time.Hour, testLogger())
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	tests := []struct {
		name  string
		input models.IdentityInput
	}{
		{"missing provider", models.IdentityInput{ExternalID: "octocat"}},
		{"missing external id", models.IdentityInput{Provider: "github"}},
		{"missing both", models.IdentityInput{Email: "a@b.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidIdentityInput)
			assert.Empty(t, store.persons, "no partial writes on invalid input")
			assert.Empty(t, store.mappings)
		})
	}
}

func TestResolveCreatesPersonFromEmail(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), models.IdentityInput{
		Provider:    "github",
		ExternalID:  "octocat",
		Email:       "Alice@Example.COM",
		DisplayName: "Alice",
	})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, "person_alice@example.com", res.PersonID)

	mapping := store.mappings["github|octocat"]
	require.NotNil(t, mapping)
	assert.Equal(t, res.PersonID, mapping.PersonID)
	assert.Equal(t, "alice@example.com", mapping.Email)
}

func TestResolveConvergesAcrossProviders(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)
	ctx := context.Background()

	first, err := r.Resolve(ctx, models.IdentityInput{
		Provider: "github", ExternalID: "octocat", Email: "alice@example.com",
	})
	require.NoError(t, err)

	second, err := r.Resolve(ctx, models.IdentityInput{
		Provider: "jira", ExternalID: "acc-123", Email: "ALICE@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, first.PersonID, second.PersonID, "same email must converge on one person")
	assert.False(t, second.IsNew)
	assert.Len(t, store.mappings, 2)
}

func TestResolveFallsBackToProviderKey(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), models.IdentityInput{
		Provider: "github", ExternalID: "ghost",
	})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, "person_github_ghost", res.PersonID)
}

func TestResolveUsesCacheWithinWindow(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)
	ctx := context.Background()

	_, err := r.Resolve(ctx, models.IdentityInput{
		Provider: "github", ExternalID: "octocat", Email: "alice@example.com",
	})
	require.NoError(t, err)
	callsAfterFirst := store.mappingCalls

	res, err := r.Resolve(ctx, models.IdentityInput{
		Provider: "github", ExternalID: "octocat", Email: "alice@example.com",
	})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, callsAfterFirst, store.mappingCalls, "cache hit must not touch the store")
}

func TestResolveRespectsStoredMappingFreshness(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	store.mappings["github|octocat"] = &models.IdentityMapping{
		Provider:      "github",
		ExternalID:    "octocat",
		PersonID:      "person_alice@example.com",
		LastUpdatedAt: now.Add(-24 * time.Hour),
	}

	res, err := r.Resolve(context.Background(), models.IdentityInput{
		Provider: "github", ExternalID: "octocat", Email: "alice@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "person_alice@example.com", res.PersonID)
	assert.Zero(t, store.findCalls, "fresh mapping must short-circuit email lookup")
}

func TestResolveStaleMappingWithoutEmailKeepsPerson(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	store.mappings["github|octocat"] = &models.IdentityMapping{
		Provider:      "github",
		ExternalID:    "octocat",
		PersonID:      "person_alice@example.com",
		LastUpdatedAt: now.Add(-30 * 24 * time.Hour),
	}

	res, err := r.Resolve(context.Background(), models.IdentityInput{
		Provider: "github", ExternalID: "octocat",
	})
	require.NoError(t, err)
	assert.Equal(t, "person_alice@example.com", res.PersonID, "stale mapping without email must not fork identity")
	assert.False(t, res.IsNew)

	refreshed := store.mappings["github|octocat"]
	assert.Equal(t, now, refreshed.LastUpdatedAt)
}
