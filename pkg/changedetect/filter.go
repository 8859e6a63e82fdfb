// Package changedetect decides which fetched records actually need
// processing, based on stored sync state and per-kind skip policies.
package changedetect

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/trellis/pkg/fingerprint"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// Skip reasons reported in decisions and metrics.
const (
	ReasonAlreadyComplete = "already_complete"
	ReasonTerminal        = "terminal"
	ReasonFresh           = "within_refresh_window"
	ReasonUnchanged       = "unchanged"
)

// Policy is the skip rule set for one entity kind.
type Policy struct {
	// Immutable entities are skipped once their stored state is complete.
	Immutable bool

	// TerminalLifecycles are lifecycle values that end processing for the
	// entity. A record observed in one of these is processed once to record
	// the transition, then never again.
	TerminalLifecycles []string

	// RefreshWindow skips records whose stored state was updated within the
	// window, regardless of content. Used for identity-bearing records that
	// are expensive to re-resolve.
	RefreshWindow time.Duration
}

func (p Policy) isTerminalLifecycle(lifecycle string) bool {
	for _, l := range p.TerminalLifecycles {
		if l == lifecycle {
			return true
		}
	}
	return false
}

// DefaultPolicies returns the skip rules for the org-graph entity kinds.
func DefaultPolicies(identityRefresh time.Duration) map[models.EntityKind]Policy {
	return map[models.EntityKind]Policy{
		models.KindCommit:      {Immutable: true},
		models.KindPullRequest: {TerminalLifecycles: []string{"merged", "closed"}},
		models.KindIdentity:    {RefreshWindow: identityRefresh},
		// Branches, repositories and tracker entities rely on marker
		// comparison only.
	}
}

// Metrics is the subset of the metrics collector the filter reports to.
type Metrics interface {
	RecordProcess(kind string)
	RecordSkip(kind, reason string)
}

// Decision explains why a record was skipped.
type Decision struct {
	Record models.SourceRecord
	Reason string
}

// Result partitions a page of records.
type Result struct {
	Process []models.SourceRecord
	Skipped []Decision
}

// Filter applies skip policies to fetched records.
type Filter struct {
	policies map[models.EntityKind]Policy
	metrics  Metrics
	logger   ectologger.Logger
	now      func() time.Time
}

// NewFilter creates a filter with the given per-kind policies.
func NewFilter(policies map[models.EntityKind]Policy, metrics Metrics, logger ectologger.Logger) *Filter {
	return &Filter{
		policies: policies,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// MarkerFingerprint fingerprints the change marker of a record. The lifecycle
// is folded in so a lifecycle transition always reads as a change.
func MarkerFingerprint(record models.SourceRecord) string {
	marker := make(map[string]any, len(record.Marker)+1)
	for k, v := range record.Marker {
		marker[k] = v
	}
	marker["lifecycle"] = record.Lifecycle
	return fingerprint.Generate(marker)
}

// Partition splits records into those that need processing and those that can
// be skipped, given their stored completion statuses keyed by natural key.
// Records with no stored state always process.
func (f *Filter) Partition(ctx context.Context, kind models.EntityKind, records []models.SourceRecord, statuses map[string]models.CompletionStatus) Result {
	ctx, span := tracing.StartSpan(ctx, "changedetect.Filter.Partition")
	defer span.End()

	policy := f.policies[kind]
	result := Result{}

	for _, record := range records {
		reason, skip := f.decide(policy, record, statuses)
		if skip {
			result.Skipped = append(result.Skipped, Decision{Record: record, Reason: reason})
			if f.metrics != nil {
				f.metrics.RecordSkip(string(record.Kind), reason)
			}
			continue
		}
		result.Process = append(result.Process, record)
		if f.metrics != nil {
			f.metrics.RecordProcess(string(record.Kind))
		}
	}

	f.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":    string(kind),
		"total":   len(records),
		"process": len(result.Process),
		"skipped": len(result.Skipped),
	}).Debug("Partitioned records")

	return result
}

func (f *Filter) decide(policy Policy, record models.SourceRecord, statuses map[string]models.CompletionStatus) (string, bool) {
	status, ok := statuses[record.NaturalKey]
	if !ok {
		return "", false
	}

	if policy.Immutable && status.State != models.CompletionPartial {
		return ReasonAlreadyComplete, true
	}

	if status.State == models.CompletionTerminal {
		return ReasonTerminal, true
	}

	// A record newly observed in a terminal lifecycle is processed exactly
	// once to record the transition.
	if policy.isTerminalLifecycle(record.Lifecycle) {
		return "", false
	}

	if policy.RefreshWindow > 0 {
		if f.now().Sub(status.UpdatedAt) < policy.RefreshWindow {
			return ReasonFresh, true
		}
		// Expired window: process even when the marker is unchanged, so the
		// stored status and the mapping refresh on the collection's own cadence.
		return "", false
	}

	if MarkerFingerprint(record) == status.Fingerprint {
		return ReasonUnchanged, true
	}

	return "", false
}
