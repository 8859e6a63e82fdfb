package changedetect

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/trellis/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestFilter(t *testing.T, now time.Time) *Filter {
	t.Helper()
	f := NewFilter(DefaultPolicies(7*24*time.Hour), nil, testLogger())
	f.now = func() time.Time { return now }
	return f
}

func commitRecord(sha string) models.SourceRecord {
	return models.SourceRecord{
		Kind:       models.KindCommit,
		NaturalKey: "commit_" + sha,
		Lifecycle:  "committed",
		Completion: models.CompletionComplete,
		Marker:     map[string]any{"sha": sha},
	}
}

func TestPartitionProcessesUnknownRecords(t *testing.T) {
	f := newTestFilter(t, time.Now())

	result := f.Partition(context.Background(), models.KindCommit,
		[]models.SourceRecord{commitRecord("abc")},
		map[string]models.CompletionStatus{})

	require.Len(t, result.Process, 1)
	assert.Empty(t, result.Skipped)
}

func TestPartitionSkipsCompleteImmutable(t *testing.T) {
	f := newTestFilter(t, time.Now())

	statuses := map[string]models.CompletionStatus{
		"commit_abc": {State: models.CompletionComplete, UpdatedAt: time.Now()},
	}

	result := f.Partition(context.Background(), models.KindCommit,
		[]models.SourceRecord{commitRecord("abc")}, statuses)

	assert.Empty(t, result.Process)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, ReasonAlreadyComplete, result.Skipped[0].Reason)
}

func TestPartitionReprocessesPartialImmutable(t *testing.T) {
	f := newTestFilter(t, time.Now())

	statuses := map[string]models.CompletionStatus{
		"commit_abc": {State: models.CompletionPartial, UpdatedAt: time.Now()},
	}

	result := f.Partition(context.Background(), models.KindCommit,
		[]models.SourceRecord{commitRecord("abc")}, statuses)

	require.Len(t, result.Process, 1, "a partially synced commit must be retried")
}

func prRecord(number, state string) models.SourceRecord {
	completion := models.CompletionComplete
	if state == "merged" || state == "closed" {
		completion = models.CompletionTerminal
	}
	return models.SourceRecord{
		Kind:       models.KindPullRequest,
		NaturalKey: "pr_acme_api_" + number,
		Lifecycle:  state,
		Completion: completion,
		Marker:     map[string]any{"state": state, "head_sha": "abc"},
	}
}

func TestPartitionTerminalLifecycle(t *testing.T) {
	f := newTestFilter(t, time.Now())

	t.Run("open to merged transition processes once", func(t *testing.T) {
		statuses := map[string]models.CompletionStatus{
			"pr_acme_api_7": {
				State:       models.CompletionComplete,
				Lifecycle:   "open",
				Fingerprint: MarkerFingerprint(prRecord("7", "open")),
				UpdatedAt:   time.Now(),
			},
		}

		result := f.Partition(context.Background(), models.KindPullRequest,
			[]models.SourceRecord{prRecord("7", "merged")}, statuses)

		require.Len(t, result.Process, 1)
	})

	t.Run("already terminal never processes again", func(t *testing.T) {
		statuses := map[string]models.CompletionStatus{
			"pr_acme_api_7": {State: models.CompletionTerminal, Lifecycle: "merged", UpdatedAt: time.Now()},
		}

		result := f.Partition(context.Background(), models.KindPullRequest,
			[]models.SourceRecord{prRecord("7", "merged")}, statuses)

		assert.Empty(t, result.Process)
		require.Len(t, result.Skipped, 1)
		assert.Equal(t, ReasonTerminal, result.Skipped[0].Reason)
	})
}

func branchRecord(name, headSHA string, deleted bool) models.SourceRecord {
	return models.SourceRecord{
		Kind:       models.KindBranch,
		NaturalKey: "branch_acme_api_" + name,
		Lifecycle:  "active",
		Completion: models.CompletionComplete,
		Marker:     map[string]any{"last_commit_sha": headSHA, "is_deleted": deleted},
	}
}

func TestPartitionMarkerComparison(t *testing.T) {
	f := newTestFilter(t, time.Now())

	stored := branchRecord("main", "abc", false)
	statuses := map[string]models.CompletionStatus{
		stored.NaturalKey: {
			State:       models.CompletionComplete,
			Fingerprint: MarkerFingerprint(stored),
			UpdatedAt:   time.Now().Add(-48 * time.Hour),
		},
	}

	t.Run("unchanged marker skips", func(t *testing.T) {
		result := f.Partition(context.Background(), models.KindBranch,
			[]models.SourceRecord{branchRecord("main", "abc", false)}, statuses)

		assert.Empty(t, result.Process)
		require.Len(t, result.Skipped, 1)
		assert.Equal(t, ReasonUnchanged, result.Skipped[0].Reason)
	})

	t.Run("new head sha processes", func(t *testing.T) {
		result := f.Partition(context.Background(), models.KindBranch,
			[]models.SourceRecord{branchRecord("main", "def", false)}, statuses)

		require.Len(t, result.Process, 1)
	})

	t.Run("deletion flag flip processes", func(t *testing.T) {
		result := f.Partition(context.Background(), models.KindBranch,
			[]models.SourceRecord{branchRecord("main", "abc", true)}, statuses)

		require.Len(t, result.Process, 1)
	})
}

func TestPartitionRefreshWindow(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f := newTestFilter(t, now)

	record := models.SourceRecord{
		Kind:       models.KindIdentity,
		NaturalKey: "identity_github_octocat",
		Lifecycle:  "active",
		Completion: models.CompletionComplete,
		Marker:     map[string]any{"login": "octocat"},
	}

	t.Run("fresh mapping skips even when marker changed", func(t *testing.T) {
		statuses := map[string]models.CompletionStatus{
			record.NaturalKey: {
				State:       models.CompletionComplete,
				Fingerprint: "different",
				UpdatedAt:   now.Add(-24 * time.Hour),
			},
		}

		result := f.Partition(context.Background(), models.KindIdentity,
			[]models.SourceRecord{record}, statuses)

		assert.Empty(t, result.Process)
		require.Len(t, result.Skipped, 1)
		assert.Equal(t, ReasonFresh, result.Skipped[0].Reason)
	})

	t.Run("stale mapping processes", func(t *testing.T) {
		statuses := map[string]models.CompletionStatus{
			record.NaturalKey: {
				State:       models.CompletionComplete,
				Fingerprint: "different",
				UpdatedAt:   now.Add(-8 * 24 * time.Hour),
			},
		}

		result := f.Partition(context.Background(), models.KindIdentity,
			[]models.SourceRecord{record}, statuses)

		require.Len(t, result.Process, 1)
	})

	t.Run("stale mapping processes even when marker is unchanged", func(t *testing.T) {
		statuses := map[string]models.CompletionStatus{
			record.NaturalKey: {
				State:       models.CompletionComplete,
				Fingerprint: MarkerFingerprint(record),
				UpdatedAt:   now.Add(-8 * 24 * time.Hour),
			},
		}

		result := f.Partition(context.Background(), models.KindIdentity,
			[]models.SourceRecord{record}, statuses)

		require.Len(t, result.Process, 1, "refreshing the mapping updates the stored status")
	})
}
