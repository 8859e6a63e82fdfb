package jira

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/normalizers"
)

// ProjectKey builds the project natural key from a tracker project key.
func ProjectKey(key string) string {
	return "project_" + strings.ToUpper(key)
}

// IssueKey builds the issue natural key from a tracker issue key.
func IssueKey(key string) string {
	return "issue_" + strings.ToUpper(key)
}

// EpicKey builds the epic natural key from a tracker issue key.
func EpicKey(key string) string {
	return "epic_" + strings.ToUpper(key)
}

// SprintKey builds the sprint natural key from a board sprint id.
func SprintKey(id int) string {
	return fmt.Sprintf("sprint_%d", id)
}

// linkKinds maps tracker issue link type names to relationship kinds. Only
// the outward side of a link is emitted, the shape table pairs the reverse.
var linkKinds = map[string]string{
	"Blocks":     "BLOCKS",
	"Dependency": "DEPENDS_ON",
	"Depends":    "DEPENDS_ON",
	"Relates":    "RELATES_TO",
}

// Project converts a raw project payload.
func (a *Adapter) Project(raw map[string]any) (*models.SourceRecord, error) {
	key := a.extract.String(raw, "key")
	if key == "" {
		return nil, fmt.Errorf("project payload missing key")
	}

	naturalKey := ProjectKey(key)
	record := &models.SourceRecord{
		Kind:       models.KindProject,
		NaturalKey: naturalKey,
		ObservedAt: a.now().UTC(),
		Completion: models.CompletionComplete,
		Marker: map[string]any{
			"name":        a.extract.String(raw, "name"),
			"is_archived": a.extract.Bool(raw, "archived"),
		},
		Immutable: map[string]any{
			"key": strings.ToUpper(key),
		},
		Mutable: map[string]any{
			"name":        a.extract.String(raw, "name"),
			"is_archived": a.extract.Bool(raw, "archived"),
		},
	}

	if lead := a.identityInput(raw, "lead", "lead"); lead != nil {
		record.Identities = append(record.Identities, *lead)
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "LEADS",
			FromID: models.IdentityRef("lead"), FromKind: models.KindPerson,
			ToID: naturalKey, ToKind: models.KindProject,
		})
	}

	return record, nil
}

// Epic converts a raw epic payload.
func (a *Adapter) Epic(raw map[string]any) (*models.SourceRecord, error) {
	key := a.extract.String(raw, "key")
	projectKey := a.extract.String(raw, "fields.project.key")
	if key == "" || projectKey == "" {
		return nil, fmt.Errorf("epic payload missing key or project")
	}

	naturalKey := EpicKey(key)
	observed := a.extract.Time(raw, "fields.updated")
	if observed.IsZero() {
		observed = a.now().UTC()
	}

	return &models.SourceRecord{
		Kind:       models.KindEpic,
		NaturalKey: naturalKey,
		ObservedAt: observed,
		Lifecycle:  a.lifecycle(raw),
		Completion: models.CompletionComplete,
		Marker: map[string]any{
			"updated": a.extract.String(raw, "fields.updated"),
			"status":  a.extract.String(raw, "fields.status.name"),
		},
		Immutable: map[string]any{
			"key":     strings.ToUpper(key),
			"created": a.extract.String(raw, "fields.created"),
		},
		Mutable: map[string]any{
			"summary": a.extract.String(raw, "fields.summary"),
			"status":  a.extract.String(raw, "fields.status.name"),
		},
		Edges: []models.EdgeIntent{{
			Kind:   "PART_OF",
			FromID: naturalKey, FromKind: models.KindEpic,
			ToID: ProjectKey(projectKey), ToKind: models.KindProject,
		}},
	}, nil
}

// Sprint converts a raw board sprint payload.
func (a *Adapter) Sprint(raw map[string]any) (*models.SourceRecord, error) {
	id := a.extract.Int(raw, "id")
	if id == 0 {
		return nil, fmt.Errorf("sprint payload missing id")
	}

	state := a.extract.String(raw, "state")
	return &models.SourceRecord{
		Kind:       models.KindSprint,
		NaturalKey: SprintKey(id),
		ObservedAt: a.now().UTC(),
		Lifecycle:  state,
		Completion: models.CompletionComplete,
		Marker: map[string]any{
			"state":    state,
			"end_date": a.extract.String(raw, "endDate"),
		},
		Immutable: map[string]any{
			"board_sprint_id": id,
			"start_date":      a.extract.String(raw, "startDate"),
		},
		Mutable: map[string]any{
			"name":     a.extract.String(raw, "name"),
			"state":    state,
			"end_date": a.extract.String(raw, "endDate"),
		},
	}, nil
}

// Issue converts a raw issue payload, including its links, sprint and epic
// parent. Link targets become partial stub nodes so the edge endpoints exist
// regardless of sync order.
func (a *Adapter) Issue(raw map[string]any) (*models.SourceRecord, error) {
	key := a.extract.String(raw, "key")
	projectKey := a.extract.String(raw, "fields.project.key")
	if key == "" || projectKey == "" {
		return nil, fmt.Errorf("issue payload missing key or project")
	}

	naturalKey := IssueKey(key)
	observed := a.extract.Time(raw, "fields.updated")
	if observed.IsZero() {
		observed = a.now().UTC()
	}

	record := &models.SourceRecord{
		Kind:       models.KindIssue,
		NaturalKey: naturalKey,
		ObservedAt: observed,
		Lifecycle:  a.lifecycle(raw),
		Completion: models.CompletionComplete,
		Marker: map[string]any{
			"updated": a.extract.String(raw, "fields.updated"),
			"status":  a.extract.String(raw, "fields.status.name"),
		},
		Immutable: map[string]any{
			"key":     strings.ToUpper(key),
			"created": a.extract.String(raw, "fields.created"),
		},
		Mutable: map[string]any{
			"summary":    a.extract.String(raw, "fields.summary"),
			"status":     a.extract.String(raw, "fields.status.name"),
			"issue_type": a.extract.String(raw, "fields.issuetype.name"),
			"priority":   a.extract.String(raw, "fields.priority.name"),
		},
		Edges: []models.EdgeIntent{{
			Kind:   "PART_OF",
			FromID: naturalKey, FromKind: models.KindIssue,
			ToID: ProjectKey(projectKey), ToKind: models.KindProject,
		}},
	}

	if assignee := a.identityInput(raw, "assignee", "fields.assignee"); assignee != nil {
		record.Identities = append(record.Identities, *assignee)
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "ASSIGNED_TO",
			FromID: naturalKey, FromKind: models.KindIssue,
			ToID: models.IdentityRef("assignee"), ToKind: models.KindPerson,
		})
	}
	if reporter := a.identityInput(raw, "reporter", "fields.reporter"); reporter != nil {
		record.Identities = append(record.Identities, *reporter)
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "REPORTED_BY",
			FromID: naturalKey, FromKind: models.KindIssue,
			ToID: models.IdentityRef("reporter"), ToKind: models.KindPerson,
		})
	}

	if sprintID := a.extract.Int(raw, "fields.sprint.id"); sprintID != 0 {
		// the sprint may not have synced yet, or may belong to a board that
		// never will
		record.Stubs = append(record.Stubs, models.Stub{
			Kind:       models.KindSprint,
			NaturalKey: SprintKey(sprintID),
			Immutable:  map[string]any{"board_sprint_id": sprintID},
		})
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "IN_SPRINT",
			FromID: naturalKey, FromKind: models.KindIssue,
			ToID: SprintKey(sprintID), ToKind: models.KindSprint,
		})
	}

	if parentKey := a.extract.String(raw, "fields.parent.key"); parentKey != "" {
		epicKey := EpicKey(parentKey)
		record.Stubs = append(record.Stubs, models.Stub{
			Kind:       models.KindEpic,
			NaturalKey: epicKey,
			Immutable:  map[string]any{"key": strings.ToUpper(parentKey)},
		})
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   "PART_OF",
			FromID: naturalKey, FromKind: models.KindIssue,
			ToID: epicKey, ToKind: models.KindEpic,
		})
	}

	a.attachLinks(record, naturalKey, raw)
	return record, nil
}

// attachLinks emits edges for the outward side of each issue link and stubs
// the linked issue.
func (a *Adapter) attachLinks(record *models.SourceRecord, naturalKey string, raw map[string]any) {
	links, _ := a.extract.ExtractAll(raw, "fields.issuelinks[*]")
	for _, link := range links {
		outwardKey := a.extract.String(link, "outwardIssue.key")
		if outwardKey == "" {
			continue
		}

		kind, ok := linkKinds[a.extract.String(link, "type.name")]
		if !ok {
			continue
		}

		targetKey := IssueKey(outwardKey)
		record.Stubs = append(record.Stubs, models.Stub{
			Kind:       models.KindIssue,
			NaturalKey: targetKey,
			Immutable:  map[string]any{"key": strings.ToUpper(outwardKey)},
		})
		record.Edges = append(record.Edges, models.EdgeIntent{
			Kind:   kind,
			FromID: naturalKey, FromKind: models.KindIssue,
			ToID: targetKey, ToKind: models.KindIssue,
		})
	}
}

// lifecycle derives the record lifecycle from the issue status.
func (a *Adapter) lifecycle(raw map[string]any) string {
	status := a.extract.String(raw, "fields.status.name")
	return strings.ToLower(strings.ReplaceAll(status, " ", "_"))
}

// identityInput builds an identity input from an account object.
func (a *Adapter) identityInput(raw map[string]any, ref, path string) *models.IdentityInput {
	accountID := a.extract.String(raw, path+".accountId")
	if accountID == "" {
		return nil
	}

	return &models.IdentityInput{
		Ref:         ref,
		Provider:    Provider,
		ExternalID:  accountID,
		Email:       normalizers.NormalizeEmail(a.extract.String(raw, path+".emailAddress")),
		DisplayName: a.extract.String(raw, path+".displayName"),
	}
}
