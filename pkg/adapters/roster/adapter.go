// Package roster converts people and team directory records into graph
// source records.
package roster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/extractor"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/normalizers"
	"github.com/Ramsey-B/trellis/pkg/sync"
)

// Provider is the identity provider name stamped on identity inputs.
const Provider = "roster"

// Resources served by a source.
const (
	ResourcePeople = "people"
	ResourceTeams  = "teams"
)

// RawPage is one page of directory items.
type RawPage struct {
	Items   []map[string]any
	Cursor  string
	HasMore bool
}

// Source supplies raw directory pages for a resource.
type Source interface {
	FetchRaw(ctx context.Context, resource string, since *time.Time, cursor string) (*RawPage, error)
}

// Adapter converts raw directory payloads into source records.
type Adapter struct {
	source  Source
	extract *extractor.Extractor
	logger  ectologger.Logger
	now     func() time.Time
}

// NewAdapter creates a roster adapter over the given source.
func NewAdapter(source Source, logger ectologger.Logger) *Adapter {
	return &Adapter{
		source:  source,
		extract: extractor.New(),
		logger:  logger,
		now:     time.Now,
	}
}

// Collections returns the sync collections this adapter serves.
func (a *Adapter) Collections() []sync.Collection {
	return []sync.Collection{
		{ID: "roster:teams", Kind: models.KindTeam, Fetcher: a.fetcher(ResourceTeams, a.Team)},
		{ID: "roster:people", Kind: models.KindIdentity, Fetcher: a.fetcher(ResourcePeople, a.Person)},
	}
}

// TeamKey builds the team natural key from a team name.
func TeamKey(name string) string {
	return "team_" + normalizers.KeySegment(strings.ToLower(name))
}

// Person converts a raw person payload. The person's email is the master key,
// so the identity input carries it and resolution converges with provider
// identities seen elsewhere.
func (a *Adapter) Person(raw map[string]any) (*models.SourceRecord, error) {
	email := normalizers.NormalizeEmail(a.extract.String(raw, "email"))
	if email == "" {
		return nil, fmt.Errorf("person payload missing email")
	}

	mapping := models.IdentityMapping{Provider: Provider, ExternalID: email}
	record := &models.SourceRecord{
		Kind:       models.KindIdentity,
		NaturalKey: mapping.MappingID(),
		ObservedAt: a.now().UTC(),
		Completion: models.CompletionComplete,
		Marker: map[string]any{
			"name":          a.extract.String(raw, "name"),
			"title":         a.extract.String(raw, "title"),
			"manager_email": normalizers.NormalizeEmail(a.extract.String(raw, "manager_email")),
		},
		Identities: []models.IdentityInput{{
			Ref:         "self",
			Provider:    Provider,
			ExternalID:  email,
			Email:       email,
			DisplayName: a.extract.String(raw, "name"),
		}},
	}

	if manager := normalizers.NormalizeEmail(a.extract.String(raw, "manager_email")); manager != "" && manager != email {
		record.Identities = append(record.Identities, models.IdentityInput{
			Ref:        "manager",
			Provider:   Provider,
			ExternalID: manager,
			Email:      manager,
		})
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "REPORTS_TO",
			FromID: models.IdentityRef("self"), FromKind: models.KindPerson,
			ToID: models.IdentityRef("manager"), ToKind: models.KindPerson,
		})
	}

	teams, _ := a.extract.ExtractAll(raw, "teams[*]")
	for _, team := range teams {
		name, _ := team.(string)
		if name == "" {
			continue
		}
		teamKey := TeamKey(name)
		record.Stubs = append(record.Stubs, models.Stub{
			Kind:       models.KindTeam,
			NaturalKey: teamKey,
			Immutable:  map[string]any{"name": name},
		})
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "MEMBER_OF",
			FromID: models.IdentityRef("self"), FromKind: models.KindPerson,
			ToID: teamKey, ToKind: models.KindTeam,
		})
	}

	return record, nil
}

// Team converts a raw team payload.
func (a *Adapter) Team(raw map[string]any) (*models.SourceRecord, error) {
	name := a.extract.String(raw, "name")
	if name == "" {
		return nil, fmt.Errorf("team payload missing name")
	}

	key := TeamKey(name)
	record := &models.SourceRecord{
		Kind:       models.KindTeam,
		NaturalKey: key,
		ObservedAt: a.now().UTC(),
		Completion: models.CompletionComplete,
		Marker: map[string]any{
			"name":       name,
			"lead_email": normalizers.NormalizeEmail(a.extract.String(raw, "lead_email")),
		},
		Immutable: map[string]any{
			"name": name,
		},
		Mutable: map[string]any{
			"description": a.extract.String(raw, "description"),
		},
	}

	if lead := normalizers.NormalizeEmail(a.extract.String(raw, "lead_email")); lead != "" {
		record.Identities = append(record.Identities, models.IdentityInput{
			Ref:        "lead",
			Provider:   Provider,
			ExternalID: lead,
			Email:      lead,
		})
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "LEADS",
			FromID: models.IdentityRef("lead"), FromKind: models.KindPerson,
			ToID: key, ToKind: models.KindTeam,
		})
	}

	return record, nil
}

type convertFunc func(raw map[string]any) (*models.SourceRecord, error)

type resourceFetcher struct {
	adapter  *Adapter
	resource string
	convert  convertFunc
}

func (a *Adapter) fetcher(resource string, convert convertFunc) sync.Fetcher {
	return &resourceFetcher{adapter: a, resource: resource, convert: convert}
}

// FetchPage pulls one raw page and converts it. Malformed items are logged
// and dropped.
func (f *resourceFetcher) FetchPage(ctx context.Context, since *time.Time, cursor string) (*models.Page, error) {
	raw, err := f.adapter.source.FetchRaw(ctx, f.resource, since, cursor)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.resource, err)
	}

	page := &models.Page{Cursor: raw.Cursor, HasMore: raw.HasMore}
	for _, item := range raw.Items {
		record, err := f.convert(item)
		if err != nil {
			f.adapter.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"resource": f.resource,
			}).Error("Dropping malformed item")
			continue
		}
		page.Records = append(page.Records, *record)
	}
	return page, nil
}
