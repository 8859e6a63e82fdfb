// Package github converts source-host records (repositories, branches,
// commits, pull requests, collaborators) into graph source records.
package github

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
const Provider = "github"

// Resources served by a source.
const (
	ResourceRepositories  = "repositories"
	ResourceBranches      = "branches"
	ResourceCommits       = "commits"
	ResourcePullRequests  = "pull_requests"
	ResourceCollaborators = "collaborators"
)

// RawPage is one page of provider-shaped items.
type RawPage struct {
	Items   []map[string]any
	Cursor  string
	HasMore bool
}

// Source supplies raw provider pages for a resource. Implementations own the
// transport, auth and retry concerns.
type Source interface {
	FetchRaw(ctx context.Context, resource string, since *time.Time, cursor string) (*RawPage, error)
}

// Adapter converts raw source-host payloads into source records.
type Adapter struct {
	source  Source
	extract *extractor.Extractor
	logger  ectologger.Logger
	now     func() time.Time
}

// NewAdapter creates a source-host adapter over the given source.
func NewAdapter(source Source, logger ectologger.Logger) *Adapter {
	return &Adapter{
		source:  source,
		extract: extractor.New(),
		logger:  logger,
		now:     time.Now,
	}
}

// Collections returns the sync collections this adapter serves, in dependency
// order: repositories first so branch and commit edges have their endpoints.
func (a *Adapter) Collections() []sync.Collection {
	return []sync.Collection{
		{ID: "github:repositories", Kind: models.KindRepository, Fetcher: a.fetcher(ResourceRepositories, a.Repository)},
		{ID: "github:branches", Kind: models.KindBranch, Fetcher: a.fetcher(ResourceBranches, a.Branch)},
		{ID: "github:commits", Kind: models.KindCommit, Fetcher: a.fetcher(ResourceCommits, a.Commit)},
		{ID: "github:pull_requests", Kind: models.KindPullRequest, Fetcher: a.fetcher(ResourcePullRequests, a.PullRequest)},
		{ID: "github:collaborators", Kind: models.KindIdentity, Fetcher: a.fetcher(ResourceCollaborators, a.Collaborator)},
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

// FetchPage pulls one raw page and converts it. Items that cannot be
// converted are logged and dropped, they do not abort the page.
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
