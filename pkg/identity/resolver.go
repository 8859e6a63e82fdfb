// Package identity resolves provider accounts to canonical person nodes.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/normalizers"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// Store is the graph capability the resolver reads and writes through.
// Implemented by graph.PersonService.
type Store interface {
	FindPersonByEmail(ctx context.Context, email string) (*models.CanonicalPerson, error)
	GetMapping(ctx context.Context, provider, externalID string) (*models.IdentityMapping, error)
	SavePerson(ctx context.Context, person *models.CanonicalPerson) error
	SaveMapping(ctx context.Context, mapping *models.IdentityMapping) error
}

// Resolution is the outcome of resolving one identity observation.
type Resolution struct {
	PersonID  string
	IsNew     bool
	FromCache bool
}

type cacheEntry struct {
	personID string
	at       time.Time
}

// Resolver maps (provider, external_id, email) observations to canonical
// person ids. The in-process cache removes duplicate lookups within and
// across concurrently running collections; the stored mapping's
// last_updated_at bounds how often a known identity is re-resolved.
type Resolver struct {
	store         Store
	refreshWindow time.Duration
	logger        ectologger.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewResolver creates a resolver with the given refresh window.
func NewResolver(store Store, refreshWindow time.Duration, logger ectologger.Logger) *Resolver {
	return &Resolver{
		store:         store,
		refreshWindow: refreshWindow,
		logger:        logger,
		cache:         make(map[string]cacheEntry),
		now:           time.Now,
	}
}

// PersonIDForEmail derives the master key for a normalized email.
func PersonIDForEmail(email string) string {
	return "person_" + email
}

// PersonIDForProvider derives the fallback master key when no email is known.
func PersonIDForProvider(provider, externalID string) string {
	return fmt.Sprintf("person_%s_%s", provider, externalID)
}

// Resolve returns the canonical person for an identity observation, creating
// the person and mapping when they do not exist yet. An observation without
// a provider or external id fails with ErrInvalidIdentityInput before any
// write happens.
func (r *Resolver) Resolve(ctx context.Context, in models.IdentityInput) (Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Resolver.Resolve")
	defer span.End()

	if in.Provider == "" || in.ExternalID == "" {
		return Resolution{}, fmt.Errorf("%w: provider=%q external_id=%q",
			models.ErrInvalidIdentityInput, in.Provider, in.ExternalID)
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":    in.Provider,
		"external_id": in.ExternalID,
	})

	key := in.Provider + "|" + in.ExternalID

	if personID, ok := r.cacheGet(key); ok {
		return Resolution{PersonID: personID, FromCache: true}, nil
	}

	// A stored mapping refreshed within the window is authoritative.
	mapping, err := r.store.GetMapping(ctx, in.Provider, in.ExternalID)
	if err != nil {
		return Resolution{}, err
	}
	if mapping != nil && r.now().Sub(mapping.LastUpdatedAt) < r.refreshWindow {
		r.cachePut(key, mapping.PersonID)
		return Resolution{PersonID: mapping.PersonID}, nil
	}

	personID, isNew, err := r.resolvePerson(ctx, in, mapping)
	if err != nil {
		return Resolution{}, err
	}

	if err := r.store.SaveMapping(ctx, &models.IdentityMapping{
		Provider:      in.Provider,
		ExternalID:    in.ExternalID,
		PersonID:      personID,
		Email:         normalizers.NormalizeEmail(in.Email),
		DisplayName:   in.DisplayName,
		LastUpdatedAt: r.now(),
	}); err != nil {
		return Resolution{}, err
	}

	r.cachePut(key, personID)

	if isNew {
		log.WithFields(map[string]any{"person_id": personID}).Info("Created canonical person")
	}

	return Resolution{PersonID: personID, IsNew: isNew}, nil
}

// resolvePerson finds or creates the canonical person. Email is the master
// key; the provider-scoped key is the fallback for accounts with no email.
func (r *Resolver) resolvePerson(ctx context.Context, in models.IdentityInput, mapping *models.IdentityMapping) (string, bool, error) {
	email := normalizers.NormalizeEmail(in.Email)

	if email == "" {
		// No email: reuse the stale mapping's person if one exists, so a
		// provider that stops exposing emails does not fork identities.
		if mapping != nil {
			return mapping.PersonID, false, nil
		}
		personID := PersonIDForProvider(in.Provider, in.ExternalID)
		err := r.store.SavePerson(ctx, &models.CanonicalPerson{
			ID:          personID,
			DisplayName: in.DisplayName,
		})
		return personID, true, err
	}

	existing, err := r.store.FindPersonByEmail(ctx, email)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		// Refresh the display name on the existing person.
		if in.DisplayName != "" && in.DisplayName != existing.DisplayName {
			if err := r.store.SavePerson(ctx, &models.CanonicalPerson{
				ID:          existing.ID,
				Email:       email,
				DisplayName: in.DisplayName,
			}); err != nil {
				return "", false, err
			}
		}
		return existing.ID, false, nil
	}

	personID := PersonIDForEmail(email)
	err = r.store.SavePerson(ctx, &models.CanonicalPerson{
		ID:          personID,
		Email:       email,
		DisplayName: in.DisplayName,
	})
	return personID, true, err
}

func (r *Resolver) cacheGet(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return "", false
	}
	if r.now().Sub(entry.at) >= r.refreshWindow {
		delete(r.cache, key)
		return "", false
	}
	return entry.personID, true
}

func (r *Resolver) cachePut(key, personID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{personID: personID, at: r.now()}
}
