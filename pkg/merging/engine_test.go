package merging

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/relationships"
)

type fakeGraph struct {
	existing map[string]bool

	commits         int
	committedNodes  []*EntityMerge
	committedEdges  []*EdgeMerge
	existenceChecks [][]string
}

func (g *fakeGraph) ExistingEntityIDs(_ context.Context, ids []string) (map[string]bool, error) {
	g.existenceChecks = append(g.existenceChecks, ids)
	out := make(map[string]bool)
	for _, id := range ids {
		if g.existing[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (g *fakeGraph) CommitBatch(_ context.Context, entities []*EntityMerge, edges []*EdgeMerge) error {
	g.commits++
	g.committedNodes = entities
	g.committedEdges = edges
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestEngine(graph *fakeGraph) *Engine {
	return NewEngine(relationships.NewTable(), graph, testLogger())
}

func TestCommitWritesNodesAndExpandedEdges(t *testing.T) {
	graph := &fakeGraph{existing: map[string]bool{}}
	engine := newTestEngine(graph)
	ctx := context.Background()

	batch := NewBatch()
	require.NoError(t, engine.StageEntity(ctx, batch, EntityMerge{
		Kind: models.KindIssue, ID: "issue_ABC-1",
		Immutable: map[string]any{"key": "ABC-1"},
	}))
	require.NoError(t, engine.StageEntity(ctx, batch, EntityMerge{
		Kind: models.KindIssue, ID: "issue_ABC-2",
		Immutable: map[string]any{"key": "ABC-2"},
	}))
	require.NoError(t, engine.StageRelationship(ctx, batch, models.EdgeIntent{
		Kind: "BLOCKS", FromID: "issue_ABC-1", FromKind: models.KindIssue,
		ToID: "issue_ABC-2", ToKind: models.KindIssue,
	}))

	require.NoError(t, engine.Commit(ctx, batch))
	require.Equal(t, 1, graph.commits)
	assert.Len(t, graph.committedNodes, 2)

	kinds := make(map[string]string)
	for _, e := range graph.committedEdges {
		kinds[e.Kind] = e.FromID + "->" + e.ToID
	}
	assert.Equal(t, "issue_ABC-1->issue_ABC-2", kinds["BLOCKS"])
	assert.Equal(t, "issue_ABC-2->issue_ABC-1", kinds["BLOCKED_BY"])
}

func TestStageRelationshipUnknownKind(t *testing.T) {
	graph := &fakeGraph{}
	engine := newTestEngine(graph)

	err := engine.StageRelationship(context.Background(), NewBatch(), models.EdgeIntent{
		Kind: "SHIPS_WITH", FromID: "a", ToID: "b",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnknownRelationshipKind)
}

func TestCommitRejectsDanglingEndpoint(t *testing.T) {
	graph := &fakeGraph{existing: map[string]bool{"repo_acme_api": true}}
	engine := newTestEngine(graph)
	ctx := context.Background()

	batch := NewBatch()
	require.NoError(t, engine.StageEntity(ctx, batch, EntityMerge{
		Kind: models.KindBranch, ID: "branch_acme_api_main",
	}))
	// repo exists in the graph, person does not and is not staged
	require.NoError(t, engine.StageRelationship(ctx, batch, models.EdgeIntent{
		Kind: "BRANCH_OF", FromID: "branch_acme_api_main", FromKind: models.KindBranch,
		ToID: "repo_acme_api", ToKind: models.KindRepository,
	}))
	require.NoError(t, engine.StageRelationship(ctx, batch, models.EdgeIntent{
		Kind: "CREATED_BY", FromID: "branch_acme_api_main", FromKind: models.KindBranch,
		ToID: "person_ghost@example.com", ToKind: models.KindPerson,
	}))

	err := engine.Commit(ctx, batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDanglingEndpoint)
	assert.Contains(t, err.Error(), "person_ghost@example.com")
	assert.Zero(t, graph.commits, "nothing may be written when an endpoint is dangling")
}

func TestCommitAcceptsEndpointsStagedInBatch(t *testing.T) {
	graph := &fakeGraph{existing: map[string]bool{}}
	engine := newTestEngine(graph)
	ctx := context.Background()

	batch := NewBatch()
	require.NoError(t, engine.StageEntity(ctx, batch, EntityMerge{Kind: models.KindCommit, ID: "commit_abc"}))
	require.NoError(t, engine.StageEntity(ctx, batch, EntityMerge{
		Kind: models.KindIssue, ID: "issue_ABC-1", Completion: models.CompletionPartial,
	}))
	require.NoError(t, engine.StageRelationship(ctx, batch, models.EdgeIntent{
		Kind: "REFERENCES", FromID: "commit_abc", FromKind: models.KindCommit,
		ToID: "issue_ABC-1", ToKind: models.KindIssue,
	}))

	require.NoError(t, engine.Commit(ctx, batch))
	assert.Empty(t, graph.existenceChecks, "all endpoints staged, no lookup needed")
}

func TestCommitEmptyBatchIsNoop(t *testing.T) {
	graph := &fakeGraph{}
	engine := newTestEngine(graph)

	require.NoError(t, engine.Commit(context.Background(), NewBatch()))
	assert.Zero(t, graph.commits)
}

func TestBatchFoldsRepeatedEntities(t *testing.T) {
	graph := &fakeGraph{}
	engine := newTestEngine(graph)
	ctx := context.Background()

	batch := NewBatch()
	// stub staged first, then the full record
	require.NoError(t, engine.StageEntity(ctx, batch, EntityMerge{
		Kind: models.KindIssue, ID: "issue_ABC-1",
		Immutable:  map[string]any{"key": "ABC-1"},
		Completion: models.CompletionPartial,
	}))
	require.NoError(t, engine.StageEntity(ctx, batch, EntityMerge{
		Kind: models.KindIssue, ID: "issue_ABC-1",
		Immutable:  map[string]any{"key": "ABC-1", "created_at": "2026-01-01T00:00:00Z"},
		Mutable:    map[string]any{"summary": "Fix login"},
		Completion: models.CompletionComplete,
	}))

	entities := batch.Entities()
	require.Len(t, entities, 1)
	assert.Equal(t, models.CompletionComplete, entities[0].Completion)
	assert.Equal(t, "Fix login", entities[0].Mutable["summary"])
	assert.Equal(t, "ABC-1", entities[0].Immutable["key"])

	// the reverse order must not demote completion
	batch2 := NewBatch()
	require.NoError(t, engine.StageEntity(ctx, batch2, EntityMerge{
		Kind: models.KindIssue, ID: "issue_ABC-1", Completion: models.CompletionComplete,
	}))
	require.NoError(t, engine.StageEntity(ctx, batch2, EntityMerge{
		Kind: models.KindIssue, ID: "issue_ABC-1", Completion: models.CompletionPartial,
	}))
	assert.Equal(t, models.CompletionComplete, batch2.Entities()[0].Completion)
}

func TestBatchDeduplicatesEdges(t *testing.T) {
	batch := NewBatch()
	engine := newTestEngine(&fakeGraph{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, engine.StageRelationship(ctx, batch, models.EdgeIntent{
			Kind: "AUTHORED_BY", FromID: "commit_abc", FromKind: models.KindCommit,
			ToID: "person_a@example.com", ToKind: models.KindPerson,
		}))
	}

	assert.Len(t, batch.Edges(), 1)
}
