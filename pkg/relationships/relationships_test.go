package relationships

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
)

func TestExpand(t *testing.T) {
	table := NewTable()

	tests := []struct {
		name     string
		kind     string
		fromID   string
		toID     string
		expected []DirectedEdge
	}{
		{
			name:   "one-directional produces a single edge",
			kind:   "AUTHORED_BY",
			fromID: "commit_abc",
			toID:   "person_alice@example.com",
			expected: []DirectedEdge{
				{Kind: "AUTHORED_BY", FromID: "commit_abc", ToID: "person_alice@example.com"},
			},
		},
		{
			name:   "symmetric produces both directions with the same kind",
			kind:   "RELATES_TO",
			fromID: "issue_ABC-1",
			toID:   "issue_ABC-2",
			expected: []DirectedEdge{
				{Kind: "RELATES_TO", FromID: "issue_ABC-1", ToID: "issue_ABC-2"},
				{Kind: "RELATES_TO", FromID: "issue_ABC-2", ToID: "issue_ABC-1"},
			},
		},
		{
			name:   "paired produces forward and reverse kinds",
			kind:   "BLOCKS",
			fromID: "issue_ABC-1",
			toID:   "issue_ABC-2",
			expected: []DirectedEdge{
				{Kind: "BLOCKS", FromID: "issue_ABC-1", ToID: "issue_ABC-2"},
				{Kind: "BLOCKED_BY", FromID: "issue_ABC-2", ToID: "issue_ABC-1"},
			},
		},
		{
			name:   "reverse of a pair expands symmetrically to its forward",
			kind:   "PART_OF",
			fromID: "issue_ABC-1",
			toID:   "epic_ABC-100",
			expected: []DirectedEdge{
				{Kind: "PART_OF", FromID: "issue_ABC-1", ToID: "epic_ABC-100"},
				{Kind: "CONTAINS", FromID: "epic_ABC-100", ToID: "issue_ABC-1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edges, err := table.Expand(tt.kind, tt.fromID, tt.toID)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, edges)
		})
	}
}

func TestExpandUnknownKind(t *testing.T) {
	table := NewTable()

	_, err := table.Expand("SHIPS_WITH", "a", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnknownRelationshipKind)
	assert.Contains(t, err.Error(), "SHIPS_WITH")
}

func TestPairsAreInverses(t *testing.T) {
	table := NewTable()

	for _, kind := range table.Kinds() {
		def, err := table.Resolve(kind)
		require.NoError(t, err)
		if def.Shape != Paired {
			continue
		}
		reverse, err := table.Resolve(def.Reverse)
		require.NoError(t, err)
		assert.Equal(t, kind, reverse.Reverse, "pair %s/%s must be mutual", kind, def.Reverse)
	}
}
