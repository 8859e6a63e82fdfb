package sync

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
)

// Runner runs reconciliation passes for a set of collections on an interval.
type Runner struct {
	driver      *Driver
	collections []Collection
	interval    time.Duration
	logger      ectologger.Logger
}

// NewRunner creates a runner. Collections are reconciled in order each cycle.
func NewRunner(driver *Driver, collections []Collection, interval time.Duration, logger ectologger.Logger) *Runner {
	return &Runner{
		driver:      driver,
		collections: collections,
		interval:    interval,
		logger:      logger,
	}
}

// Run reconciles all collections immediately and then on every interval tick
// until the context is cancelled. A failed pass for one collection does not
// stop the others.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Runner) runCycle(ctx context.Context) {
	for _, col := range r.collections {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.driver.RunPass(ctx, col); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"collection_id": col.ID,
			}).Error("Reconciliation pass failed")
		}
	}
}
