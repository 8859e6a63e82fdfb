package roster

import (
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
)

func newTestAdapter() *Adapter {
	a := NewAdapter(nil, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	a.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestPersonRecord(t *testing.T) {
	a := newTestAdapter()

	record, err := a.Person(map[string]any{
		"email":         "Alice@Example.com",
		"name":          "Alice",
		"title":         "Engineer",
		"manager_email": "carol@example.com",
		"teams":         []any{"Core Platform", "Security"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.KindIdentity, record.Kind)
	assert.Equal(t, "identity_roster_alice@example.com", record.NaturalKey)

	require.Len(t, record.Identities, 2)
	assert.Equal(t, "alice@example.com", record.Identities[0].Email)
	assert.Equal(t, "carol@example.com", record.Identities[1].Email)

	var reportsTo, memberships int
	for _, edge := range record.Edges {
		switch edge.Kind {
		case "REPORTS_TO":
			reportsTo++
			assert.Equal(t, models.IdentityRef("manager"), edge.ToID)
		case "MEMBER_OF":
			memberships++
		}
	}
	assert.Equal(t, 1, reportsTo)
	assert.Equal(t, 2, memberships)

	require.Len(t, record.Stubs, 2)
	assert.Equal(t, "team_core_platform", record.Stubs[0].NaturalKey)
}

func TestPersonRecordSelfManaged(t *testing.T) {
	a := newTestAdapter()

	record, err := a.Person(map[string]any{
		"email":         "ceo@example.com",
		"manager_email": "CEO@example.com",
	})
	require.NoError(t, err)
	for _, edge := range record.Edges {
		assert.NotEqual(t, "REPORTS_TO", edge.Kind, "nobody reports to themselves")
	}
}

func TestPersonRecordMissingEmail(t *testing.T) {
	a := newTestAdapter()
	_, err := a.Person(map[string]any{"name": "Ghost"})
	require.Error(t, err)
}

func TestTeamRecord(t *testing.T) {
	a := newTestAdapter()

	record, err := a.Team(map[string]any{
		"name":        "Core Platform",
		"description": "owns shared infra",
		"lead_email":  "alice@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, models.KindTeam, record.Kind)
	assert.Equal(t, "team_core_platform", record.NaturalKey)
	assert.Equal(t, "Core Platform", record.Immutable["name"])

	require.Len(t, record.Edges, 1)
	assert.Equal(t, "LEADS", record.Edges[0].Kind)
	assert.Equal(t, models.IdentityRef("lead"), record.Edges[0].FromID)
}
