package github

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/normalizers"
)

// RepoKey builds the repository natural key from an owner/name pair.
func RepoKey(fullName string) string {
	return "repo_" + normalizers.KeySegment(strings.ToLower(fullName))
}

// BranchKey builds the branch natural key, scoped by its repository.
func BranchKey(fullName, branch string) string {
	return "branch_" + normalizers.KeySegment(strings.ToLower(fullName)) + "_" + normalizers.KeySegment(strings.ToLower(branch))
}

// PullRequestKey builds the pull request natural key, scoped by its repository.
func PullRequestKey(fullName string, number int) string {
	return fmt.Sprintf("pr_%s_%d", normalizers.KeySegment(strings.ToLower(fullName)), number)
}

// FileKey builds the file natural key from its repository and path.
func FileKey(fullName, path string) string {
	return "file_" + normalizers.KeySegment(strings.ToLower(fullName)) + "_" + normalizers.KeySegment(strings.ToLower(path))
}

// Repository converts a raw repository payload.
func (a *Adapter) Repository(raw map[string]any) (*models.SourceRecord, error) {
	fullName := a.extract.String(raw, "full_name")
	if fullName == "" {
		return nil, fmt.Errorf("repository payload missing full_name")
	}

	lifecycle := "active"
	if a.extract.Bool(raw, "archived") {
		lifecycle = "archived"
	}

	observed := a.extract.Time(raw, "updated_at")
	if observed.IsZero() {
		observed = a.now().UTC()
	}

	return &models.SourceRecord{
		Kind:       models.KindRepository,
		NaturalKey: RepoKey(fullName),
		ObservedAt: observed,
		Lifecycle:  lifecycle,
		Completion: models.CompletionComplete,
		Marker: map[string]any{
			"pushed_at":   a.extract.String(raw, "pushed_at"),
			"updated_at":  a.extract.String(raw, "updated_at"),
			"is_archived": a.extract.Bool(raw, "archived"),
		},
		Immutable: map[string]any{
			"full_name":  fullName,
			"created_at": a.extract.String(raw, "created_at"),
		},
		Mutable: map[string]any{
			"description":    a.extract.String(raw, "description"),
			"default_branch": a.extract.String(raw, "default_branch"),
			"language":       a.extract.String(raw, "language"),
			"is_private":     a.extract.Bool(raw, "private"),
			"is_archived":    a.extract.Bool(raw, "archived"),
		},
	}, nil
}

// Branch converts a raw branch payload. The repository full name rides along
// in the payload under "repository".
func (a *Adapter) Branch(raw map[string]any) (*models.SourceRecord, error) {
	name := a.extract.String(raw, "name")
	fullName := a.extract.String(raw, "repository.full_name")
	if name == "" || fullName == "" {
		return nil, fmt.Errorf("branch payload missing name or repository")
	}

	key := BranchKey(fullName, name)
	headSHA := a.extract.String(raw, "commit.sha")

	record := &models.SourceRecord{
		Kind:       models.KindBranch,
		NaturalKey: key,
		ObservedAt: a.now().UTC(),
		Lifecycle:  "active",
		Completion: models.CompletionComplete,
		Marker: map[string]any{
			"head_sha": headSHA,
		},
		Immutable: map[string]any{
			"name": name,
		},
		Mutable: map[string]any{
			"head_sha":  headSHA,
			"protected": a.extract.Bool(raw, "protected"),
		},
		Edges: []models.EdgeIntent{{
			Kind:   "BRANCH_OF",
			FromID: key, FromKind: models.KindBranch,
			ToID: RepoKey(fullName), ToKind: models.KindRepository,
		}},
	}

	a.attachIssueRefs(record, key, models.KindBranch, IssueKeysFromBranch(name))
	return record, nil
}

// Commit converts a raw commit payload.
func (a *Adapter) Commit(raw map[string]any) (*models.SourceRecord, error) {
	sha := a.extract.String(raw, "sha")
	fullName := a.extract.String(raw, "repository.full_name")
	if sha == "" || fullName == "" {
		return nil, fmt.Errorf("commit payload missing sha or repository")
	}

	key := "commit_" + sha
	message := a.extract.String(raw, "commit.message")
	authoredAt := a.extract.Time(raw, "commit.author.date")
	observed := authoredAt
	if observed.IsZero() {
		observed = a.now().UTC()
	}

	record := &models.SourceRecord{
		Kind:       models.KindCommit,
		NaturalKey: key,
		ObservedAt: observed,
		Completion: models.CompletionComplete,
		Marker:     map[string]any{"sha": sha},
		Immutable: map[string]any{
			"sha":         sha,
			"message":     message,
			"authored_at": a.extract.String(raw, "commit.author.date"),
		},
		Edges: []models.EdgeIntent{{
			Kind:   "PART_OF",
			FromID: key, FromKind: models.KindCommit,
			ToID: RepoKey(fullName), ToKind: models.KindRepository,
		}},
	}

	if author := a.identityInput(raw, "author", "author", "commit.author"); author != nil {
		record.Identities = append(record.Identities, *author)
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "AUTHORED_BY",
			FromID: key, FromKind: models.KindCommit,
			ToID: models.IdentityRef("author"), ToKind: models.KindPerson,
		})
	}
	if committer := a.identityInput(raw, "committer", "committer", "commit.committer"); committer != nil {
		record.Identities = append(record.Identities, *committer)
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "COMMITTED_BY",
			FromID: key, FromKind: models.KindCommit,
			ToID: models.IdentityRef("committer"), ToKind: models.KindPerson,
		})
	}

	a.attachFiles(record, key, fullName, raw)
	a.attachIssueRefs(record, key, models.KindCommit, IssueKeysFromText(message))
	return record, nil
}

// attachFiles stubs the files a commit touches and links them to the commit
// and its repository. File nodes only ever materialize through commits.
func (a *Adapter) attachFiles(record *models.SourceRecord, commitKey, fullName string, raw map[string]any) {
	files, _ := a.extract.ExtractAll(raw, "files[*]")
	for _, file := range files {
		path := a.extract.String(file, "filename")
		if path == "" {
			continue
		}

		fileKey := FileKey(fullName, path)
		record.Stubs = append(record.Stubs, models.Stub{
			Kind:       models.KindFile,
			NaturalKey: fileKey,
			Immutable:  map[string]any{"path": path},
		})
		record.Edges = append(record.Edges,
			models.EdgeIntent{
				Kind:   "MODIFIES",
				FromID: commitKey, FromKind: models.KindCommit,
				ToID: fileKey, ToKind: models.KindFile,
				Props: map[string]any{
					"status":    a.extract.String(file, "status"),
					"additions": a.extract.Int(file, "additions"),
					"deletions": a.extract.Int(file, "deletions"),
				},
			},
			models.EdgeIntent{
				Kind:   "INCLUDES",
				FromID: RepoKey(fullName), FromKind: models.KindRepository,
				ToID: fileKey, ToKind: models.KindFile,
			},
		)
	}
}

// PullRequest converts a raw pull request payload.
func (a *Adapter) PullRequest(raw map[string]any) (*models.SourceRecord, error) {
	fullName := a.extract.String(raw, "repository.full_name")
	number := a.extract.Int(raw, "number")
	if fullName == "" || number == 0 {
		return nil, fmt.Errorf("pull request payload missing number or repository")
	}

	key := PullRequestKey(fullName, number)
	state := a.extract.String(raw, "state")
	mergedAt := a.extract.String(raw, "merged_at")

	lifecycle := state
	if mergedAt != "" {
		lifecycle = "merged"
	}
	completion := models.CompletionComplete
	if lifecycle == "merged" || lifecycle == "closed" {
		completion = models.CompletionTerminal
	}

	observed := a.extract.Time(raw, "updated_at")
	if observed.IsZero() {
		observed = a.now().UTC()
	}

	record := &models.SourceRecord{
		Kind:       models.KindPullRequest,
		NaturalKey: key,
		ObservedAt: observed,
		Lifecycle:  lifecycle,
		Completion: completion,
		Marker: map[string]any{
			"updated_at": a.extract.String(raw, "updated_at"),
			"state":      state,
		},
		Immutable: map[string]any{
			"number":     number,
			"created_at": a.extract.String(raw, "created_at"),
		},
		Mutable: map[string]any{
			"title":     a.extract.String(raw, "title"),
			"state":     state,
			"is_draft":  a.extract.Bool(raw, "draft"),
			"merged_at": mergedAt,
		},
	}

	// The head branch of a merged PR is often deleted (or lives in a fork), so
	// the branch collection may never deliver it. Stub both endpoints so the
	// edges always resolve.
	branchEdges := []struct {
		kind string
		ref  string
	}{
		{"TARGETS", a.extract.String(raw, "base.ref")},
		{"FROM", a.extract.String(raw, "head.ref")},
	}
	for _, be := range branchEdges {
		kind, ref := be.kind, be.ref
		if ref == "" {
			continue
		}
		branchKey := BranchKey(fullName, ref)
		record.Stubs = append(record.Stubs, models.Stub{
			Kind:       models.KindBranch,
			NaturalKey: branchKey,
			Immutable:  map[string]any{"name": ref},
		})
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   kind,
			FromID: key, FromKind: models.KindPullRequest,
			ToID: branchKey, ToKind: models.KindBranch,
		})
	}

	if author := a.identityInput(raw, "author", "user", ""); author != nil {
		record.Identities = append(record.Identities, *author)
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "CREATED_BY",
			FromID: key, FromKind: models.KindPullRequest,
			ToID: models.IdentityRef("author"), ToKind: models.KindPerson,
		})
	}
	if mergedBy := a.identityInput(raw, "merged_by", "merged_by", ""); mergedBy != nil {
		record.Identities = append(record.Identities, *mergedBy)
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "MERGED_BY",
			FromID: key, FromKind: models.KindPullRequest,
			ToID: models.IdentityRef("merged_by"), ToKind: models.KindPerson,
		})
	}

	reviewers, _ := a.extract.ExtractAll(raw, "requested_reviewers[*]")
	for _, reviewer := range reviewers {
		login := a.extract.String(reviewer, "login")
		if login == "" {
			continue
		}
		ref := "reviewer_" + normalizers.NormalizeLogin(login)
		record.Identities = append(record.Identities, models.IdentityInput{
			Ref:         ref,
			Provider:    Provider,
			ExternalID:  normalizers.NormalizeLogin(login),
			DisplayName: login,
		})
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "REQUESTED_REVIEWER",
			FromID: key, FromKind: models.KindPullRequest,
			ToID: models.IdentityRef(ref), ToKind: models.KindPerson,
		})
	}

	keys := IssueKeysFromText(a.extract.String(raw, "title"))
	keys = append(keys, IssueKeysFromBranch(a.extract.String(raw, "head.ref"))...)
	a.attachIssueRefs(record, key, models.KindPullRequest, keys)
	return record, nil
}

// Collaborator converts a raw repository collaborator payload into an
// identity-bearing record.
func (a *Adapter) Collaborator(raw map[string]any) (*models.SourceRecord, error) {
	login := a.extract.String(raw, "login")
	fullName := a.extract.String(raw, "repository.full_name")
	if login == "" || fullName == "" {
		return nil, fmt.Errorf("collaborator payload missing login or repository")
	}

	normalized := normalizers.NormalizeLogin(login)
	mapping := models.IdentityMapping{Provider: Provider, ExternalID: normalized}

	return &models.SourceRecord{
		Kind:       models.KindIdentity,
		NaturalKey: mapping.MappingID(),
		ObservedAt: a.now().UTC(),
		Completion: models.CompletionComplete,
		Marker: map[string]any{
			"role": a.extract.String(raw, "role_name"),
		},
		Identities: []models.IdentityInput{{
			Ref:         "self",
			Provider:    Provider,
			ExternalID:  normalized,
			Email:       a.extract.String(raw, "email"),
			DisplayName: a.extract.String(raw, "name"),
		}},
		Edges: []models.EdgeIntent{{
			Kind:   "COLLABORATOR",
			FromID: models.IdentityRef("self"), FromKind: models.KindPerson,
			ToID: RepoKey(fullName), ToKind: models.KindRepository,
			Props: map[string]any{"role": a.extract.String(raw, "role_name")},
		}},
	}, nil
}

// identityInput builds an identity input from a user object, falling back to
// the git signature for email and display name when present.
func (a *Adapter) identityInput(raw map[string]any, ref, userPath, signaturePath string) *models.IdentityInput {
	login := a.extract.String(raw, userPath+".login")
	email := ""
	displayName := login
	if signaturePath != "" {
		email = a.extract.String(raw, signaturePath+".email")
		if name := a.extract.String(raw, signaturePath+".name"); name != "" {
			displayName = name
		}
	}

	if login == "" && email == "" {
		return nil
	}

	externalID := normalizers.NormalizeLogin(login)
	if externalID == "" {
		externalID = normalizers.NormalizeEmail(email)
	}

	return &models.IdentityInput{
		Ref:         ref,
		Provider:    Provider,
		ExternalID:  externalID,
		Email:       email,
		DisplayName: displayName,
	}
}

// attachIssueRefs adds stub issue nodes and REFERENCES edges for tracker keys
// found in commit messages, branch names or pull request titles.
func (a *Adapter) attachIssueRefs(record *models.SourceRecord, fromID string, fromKind models.EntityKind, issueKeys []string) {
	for _, issueKey := range issueKeys {
		stubKey := "issue_" + issueKey
		record.Stubs = append(record.Stubs, models.Stub{
			Kind:       models.KindIssue,
			NaturalKey: stubKey,
			Immutable:  map[string]any{"key": issueKey},
		})
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "REFERENCES",
			FromID: fromID, FromKind: fromKind,
			ToID: stubKey, ToKind: models.KindIssue,
		})
	}
}
