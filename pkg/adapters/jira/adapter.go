// Package jira converts issue-tracker records (projects, epics, sprints,
// issues and their links) into graph source records.
package jira

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/extractor"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/sync"
)

// Provider is the identity provider name stamped on identity inputs.
const Provider = "jira"

// Resources served by a source.
const (
	ResourceProjects = "projects"
	ResourceEpics    = "epics"
	ResourceSprints  = "sprints"
	ResourceIssues   = "issues"
)

// RawPage is one page of provider-shaped items. Cursor carries the startAt
// offset of the next page.
type RawPage struct {
	Items   []map[string]any
	Cursor  string
	HasMore bool
}

// Source supplies raw provider pages for a resource.
type Source interface {
	FetchRaw(ctx context.Context, resource string, since *time.Time, cursor string) (*RawPage, error)
}

// Adapter converts raw issue-tracker payloads into source records.
type Adapter struct {
	source  Source
	extract *extractor.Extractor
	logger  ectologger.Logger
	now     func() time.Time
}

// NewAdapter creates an issue-tracker adapter over the given source.
func NewAdapter(source Source, logger ectologger.Logger) *Adapter {
	return &Adapter{
		source:  source,
		extract: extractor.New(),
		logger:  logger,
		now:     time.Now,
	}
}

// Collections returns the sync collections this adapter serves, projects
// first so issue and epic edges have their endpoints.
func (a *Adapter) Collections() []sync.Collection {
	return []sync.Collection{
		{ID: "jira:projects", Kind: models.KindProject, Fetcher: a.fetcher(ResourceProjects, a.Project)},
		{ID: "jira:epics", Kind: models.KindEpic, Fetcher: a.fetcher(ResourceEpics, a.Epic)},
		{ID: "jira:sprints", Kind: models.KindSprint, Fetcher: a.fetcher(ResourceSprints, a.Sprint)},
		{ID: "jira:issues", Kind: models.KindIssue, Fetcher: a.fetcher(ResourceIssues, a.Issue)},
	}
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
