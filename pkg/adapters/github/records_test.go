package github

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/sync"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestAdapter(source Source) *Adapter {
	a := NewAdapter(source, testLogger())
	a.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return a
}

func edgeKinds(record *models.SourceRecord) map[string]models.EdgeIntent {
	kinds := make(map[string]models.EdgeIntent)
	for _, edge := range record.Edges {
		kinds[edge.Kind] = edge
	}
	return kinds
}

func TestRepositoryRecord(t *testing.T) {
	a := newTestAdapter(nil)

	record, err := a.Repository(map[string]any{
		"full_name":      "Acme/API",
		"description":    "core service",
		"default_branch": "main",
		"private":        true,
		"archived":       false,
		"created_at":     "2024-01-02T03:04:05Z",
		"updated_at":     "2026-08-29T10:00:00Z",
		"pushed_at":      "2026-08-29T09:00:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, models.KindRepository, record.Kind)
	assert.Equal(t, "repo_acme_api", record.NaturalKey)
	assert.Equal(t, "active", record.Lifecycle)
	assert.Equal(t, models.CompletionComplete, record.Completion)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC), record.ObservedAt)
	assert.Equal(t, "Acme/API", record.Immutable["full_name"])
	assert.Equal(t, "main", record.Mutable["default_branch"])
	assert.Equal(t, "2026-08-29T09:00:00Z", record.Marker["pushed_at"])
}

func TestRepositoryRecordArchived(t *testing.T) {
	a := newTestAdapter(nil)

	record, err := a.Repository(map[string]any{
		"full_name": "acme/legacy",
		"archived":  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "archived", record.Lifecycle)
}

func TestRepositoryRecordMissingName(t *testing.T) {
	a := newTestAdapter(nil)
	_, err := a.Repository(map[string]any{"description": "nameless"})
	require.Error(t, err)
}

func TestBranchRecord(t *testing.T) {
	a := newTestAdapter(nil)

	record, err := a.Branch(map[string]any{
		"name":       "feature/abc-42-login",
		"protected":  false,
		"commit":     map[string]any{"sha": "deadbeef"},
		"repository": map[string]any{"full_name": "acme/api"},
	})
	require.NoError(t, err)

	assert.Equal(t, "branch_acme_api_feature_abc_42_login", record.NaturalKey)
	assert.Equal(t, "deadbeef", record.Marker["head_sha"])

	edges := edgeKinds(record)
	assert.Equal(t, "repo_acme_api", edges["BRANCH_OF"].ToID)
	assert.Equal(t, "issue_ABC-42", edges["REFERENCES"].ToID)

	require.Len(t, record.Stubs, 1)
	assert.Equal(t, models.KindIssue, record.Stubs[0].Kind)
	assert.Equal(t, "issue_ABC-42", record.Stubs[0].NaturalKey)
}

func TestCommitRecord(t *testing.T) {
	a := newTestAdapter(nil)

	record, err := a.Commit(map[string]any{
		"sha":        "deadbeef",
		"repository": map[string]any{"full_name": "acme/api"},
		"author":     map[string]any{"login": "Octocat"},
		"committer":  map[string]any{"login": "hubot"},
		"commit": map[string]any{
			"message": "ABC-7: fix login redirect",
			"author": map[string]any{
				"name":  "Alice",
				"email": "alice@example.com",
				"date":  "2026-08-28T16:30:00Z",
			},
			"committer": map[string]any{
				"name":  "Hubot",
				"email": "hubot@example.com",
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "commit_deadbeef", record.NaturalKey)
	assert.Equal(t, time.Date(2026, 8, 28, 16, 30, 0, 0, time.UTC), record.ObservedAt)

	require.Len(t, record.Identities, 2)
	author := record.Identities[0]
	assert.Equal(t, "author", author.Ref)
	assert.Equal(t, "octocat", author.ExternalID)
	assert.Equal(t, "alice@example.com", author.Email)
	assert.Equal(t, "Alice", author.DisplayName)

	edges := edgeKinds(record)
	assert.Equal(t, models.IdentityRef("author"), edges["AUTHORED_BY"].ToID)
	assert.Equal(t, models.IdentityRef("committer"), edges["COMMITTED_BY"].ToID)
	assert.Equal(t, "repo_acme_api", edges["PART_OF"].ToID)
	assert.Equal(t, "issue_ABC-7", edges["REFERENCES"].ToID)
}

func TestCommitRecordFiles(t *testing.T) {
	a := newTestAdapter(nil)

	record, err := a.Commit(map[string]any{
		"sha":        "deadbeef",
		"repository": map[string]any{"full_name": "acme/api"},
		"commit": map[string]any{
			"message": "refactor session store",
			"author":  map[string]any{"date": "2026-08-28T16:30:00Z"},
		},
		"files": []any{
			map[string]any{
				"filename":  "src/auth/session.go",
				"status":    "modified",
				"additions": float64(12),
				"deletions": float64(4),
			},
			map[string]any{"filename": "src/auth/session_test.go", "status": "added"},
			map[string]any{"status": "removed"}, // no filename, skipped
		},
	})
	require.NoError(t, err)

	var fileStubs []models.Stub
	for _, stub := range record.Stubs {
		if stub.Kind == models.KindFile {
			fileStubs = append(fileStubs, stub)
		}
	}
	require.Len(t, fileStubs, 2)
	assert.Equal(t, "file_acme_api_src_auth_session.go", fileStubs[0].NaturalKey)
	assert.Equal(t, "src/auth/session.go", fileStubs[0].Immutable["path"])

	var modifies, includes []models.EdgeIntent
	for _, edge := range record.Edges {
		switch edge.Kind {
		case "MODIFIES":
			modifies = append(modifies, edge)
		case "INCLUDES":
			includes = append(includes, edge)
		}
	}
	require.Len(t, modifies, 2)
	assert.Equal(t, "commit_deadbeef", modifies[0].FromID)
	assert.Equal(t, "file_acme_api_src_auth_session.go", modifies[0].ToID)
	assert.Equal(t, "modified", modifies[0].Props["status"])
	assert.Equal(t, 12, modifies[0].Props["additions"])

	require.Len(t, includes, 2)
	assert.Equal(t, "repo_acme_api", includes[0].FromID)
}

func TestPullRequestRecordMerged(t *testing.T) {
	a := newTestAdapter(nil)

	record, err := a.PullRequest(map[string]any{
		"number":     42,
		"title":      "ABC-9: rework session storage",
		"state":      "closed",
		"merged_at":  "2026-08-29T08:00:00Z",
		"created_at": "2026-08-20T08:00:00Z",
		"updated_at": "2026-08-29T08:00:00Z",
		"repository": map[string]any{"full_name": "acme/api"},
		"base":       map[string]any{"ref": "main"},
		"head":       map[string]any{"ref": "feature/abc-9-sessions"},
		"user":       map[string]any{"login": "octocat"},
		"merged_by":  map[string]any{"login": "hubot"},
		"requested_reviewers": []any{
			map[string]any{"login": "reviewer1"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "pr_acme_api_42", record.NaturalKey)
	assert.Equal(t, "merged", record.Lifecycle)
	assert.Equal(t, models.CompletionTerminal, record.Completion)

	edges := edgeKinds(record)
	assert.Equal(t, "branch_acme_api_main", edges["TARGETS"].ToID)
	assert.Equal(t, "branch_acme_api_feature_abc_9_sessions", edges["FROM"].ToID)
	assert.Equal(t, models.IdentityRef("author"), edges["CREATED_BY"].ToID)
	assert.Equal(t, models.IdentityRef("merged_by"), edges["MERGED_BY"].ToID)
	assert.Equal(t, models.IdentityRef("reviewer_reviewer1"), edges["REQUESTED_REVIEWER"].ToID)

	// ABC-9 appears in both title and head branch, stubbed once per source
	keys := make(map[string]int)
	for _, stub := range record.Stubs {
		keys[stub.NaturalKey]++
	}
	assert.Equal(t, 2, keys["issue_ABC-9"], "title and branch both reference the issue")
	assert.Equal(t, 1, keys["branch_acme_api_main"])
	assert.Equal(t, 1, keys["branch_acme_api_feature_abc_9_sessions"])
}

func TestPullRequestStubsBranchEndpoints(t *testing.T) {
	a := newTestAdapter(nil)

	// the head branch of a merged PR is typically deleted, so the branch
	// collection never delivers it; the edge endpoint must still exist
	record, err := a.PullRequest(map[string]any{
		"number":     51,
		"state":      "closed",
		"merged_at":  "2026-08-29T08:00:00Z",
		"repository": map[string]any{"full_name": "acme/api"},
		"base":       map[string]any{"ref": "main"},
		"head":       map[string]any{"ref": "hotfix/rollback"},
	})
	require.NoError(t, err)

	stubbed := make(map[string]bool)
	for _, stub := range record.Stubs {
		if stub.Kind == models.KindBranch {
			stubbed[stub.NaturalKey] = true
		}
	}
	for _, edge := range record.Edges {
		if edge.Kind == "TARGETS" || edge.Kind == "FROM" {
			assert.True(t, stubbed[edge.ToID], "branch edge endpoint %s must be stubbed", edge.ToID)
		}
	}
	assert.True(t, stubbed["branch_acme_api_hotfix_rollback"])
}

func TestPullRequestRecordOpen(t *testing.T) {
	a := newTestAdapter(nil)

	record, err := a.PullRequest(map[string]any{
		"number":     7,
		"state":      "open",
		"repository": map[string]any{"full_name": "acme/api"},
		"base":       map[string]any{"ref": "main"},
		"head":       map[string]any{"ref": "chore/deps"},
		"user":       map[string]any{"login": "octocat"},
	})
	require.NoError(t, err)
	assert.Equal(t, "open", record.Lifecycle)
	assert.Equal(t, models.CompletionComplete, record.Completion)
}

func TestCollaboratorRecord(t *testing.T) {
	a := newTestAdapter(nil)

	record, err := a.Collaborator(map[string]any{
		"login":      "Octocat",
		"email":      "alice@example.com",
		"name":       "Alice",
		"role_name":  "maintain",
		"repository": map[string]any{"full_name": "acme/api"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.KindIdentity, record.Kind)
	assert.Equal(t, "identity_github_octocat", record.NaturalKey)

	require.Len(t, record.Identities, 1)
	assert.Equal(t, "octocat", record.Identities[0].ExternalID)

	edges := edgeKinds(record)
	collab := edges["COLLABORATOR"]
	assert.Equal(t, models.IdentityRef("self"), collab.FromID)
	assert.Equal(t, "repo_acme_api", collab.ToID)
	assert.Equal(t, "maintain", collab.Props["role"])
}

type stubSource struct {
	pages map[string]*RawPage
	err   error
}

func (s *stubSource) FetchRaw(_ context.Context, resource string, _ *time.Time, _ string) (*RawPage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pages[resource], nil
}

func TestFetcherDropsMalformedItems(t *testing.T) {
	source := &stubSource{pages: map[string]*RawPage{
		ResourceRepositories: {
			Items: []map[string]any{
				{"full_name": "acme/api"},
				{"description": "no name"},
			},
			Cursor:  "2",
			HasMore: true,
		},
	}}

	a := newTestAdapter(source)
	var fetcher sync.Fetcher
	for _, col := range a.Collections() {
		if col.ID == "github:repositories" {
			fetcher = col.Fetcher
		}
	}
	require.NotNil(t, fetcher)

	page, err := fetcher.FetchPage(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, "2", page.Cursor)
	assert.True(t, page.HasMore)
}

func TestFetcherPropagatesSourceError(t *testing.T) {
	source := &stubSource{err: errors.New("rate limited")}
	a := newTestAdapter(source)

	fetcher := a.Collections()[0].Fetcher
	_, err := fetcher.FetchPage(context.Background(), nil, "")
	require.Error(t, err)
}

func TestIssueKeysFromText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single key", "ABC-123: fix login", []string{"ABC-123"}},
		{"multiple keys", "relates to ABC-1 and XYZ-22", []string{"ABC-1", "XYZ-22"}},
		{"duplicates collapse", "ABC-1 ABC-1", []string{"ABC-1"}},
		{"lowercase ignored", "abc-123 is not a key", nil},
		{"no keys", "plain message", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IssueKeysFromText(tt.text))
		})
	}
}

func TestIssueKeysFromBranch(t *testing.T) {
	tests := []struct {
		name   string
		branch string
		want   []string
	}{
		{"feature branch", "feature/abc-123-fix-login", []string{"ABC-123"}},
		{"bugfix branch", "bugfix/xyz-7", []string{"XYZ-7"}},
		{"bare key", "abc-9", []string{"ABC-9"}},
		{"no key", "main", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IssueKeysFromBranch(tt.branch))
		})
	}
}
