// Package metrics collects and exposes Prometheus metrics for the
// reconciliation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector registers and records pipeline metrics.
type Collector struct {
	recordsProcessed *prometheus.CounterVec
	recordsSkipped   *prometheus.CounterVec
	recordErrors     *prometheus.CounterVec
	passDuration     *prometheus.HistogramVec
	passFailures     *prometheus.CounterVec
	batchCommits     prometheus.Counter
	watermarkAge     *prometheus.GaugeVec
}

// NewCollector creates a collector and registers its metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trellis_records_processed_total",
			Help: "Source records that passed change detection and were merged",
		}, []string{"kind"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trellis_records_skipped_total",
			Help: "Source records skipped by change detection, by reason",
		}, []string{"kind", "reason"}),
		recordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trellis_record_errors_total",
			Help: "Record-level failures that did not abort the pass",
		}, []string{"kind"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trellis_pass_duration_seconds",
			Help:    "Duration of reconciliation passes",
			Buckets: prometheus.DefBuckets,
		}, []string{"collection"}),
		passFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trellis_pass_failures_total",
			Help: "Reconciliation passes that aborted before completion",
		}, []string{"collection"}),
		batchCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trellis_batch_commits_total",
			Help: "Batches committed to the graph",
		}),
		watermarkAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trellis_watermark_age_seconds",
			Help: "Age of the sync watermark per collection",
		}, []string{"collection"}),
	}

	reg.MustRegister(
		c.recordsProcessed,
		c.recordsSkipped,
		c.recordErrors,
		c.passDuration,
		c.passFailures,
		c.batchCommits,
		c.watermarkAge,
	)

	return c
}

// RecordProcess counts a record that will be merged.
func (c *Collector) RecordProcess(kind string) {
	if c == nil {
		return
	}
	c.recordsProcessed.WithLabelValues(kind).Inc()
}

// RecordSkip counts a record skipped by change detection.
func (c *Collector) RecordSkip(kind, reason string) {
	if c == nil {
		return
	}
	c.recordsSkipped.WithLabelValues(kind, reason).Inc()
}

// RecordError counts a record-level failure.
func (c *Collector) RecordError(kind string) {
	if c == nil {
		return
	}
	c.recordErrors.WithLabelValues(kind).Inc()
}

// PassCompleted records the duration of a finished pass.
func (c *Collector) PassCompleted(collection string, duration time.Duration) {
	if c == nil {
		return
	}
	c.passDuration.WithLabelValues(collection).Observe(duration.Seconds())
}

// PassFailed counts an aborted pass.
func (c *Collector) PassFailed(collection string) {
	if c == nil {
		return
	}
	c.passFailures.WithLabelValues(collection).Inc()
}

// BatchCommitted counts a committed batch.
func (c *Collector) BatchCommitted() {
	if c == nil {
		return
	}
	c.batchCommits.Inc()
}

// WatermarkAdvanced records the new watermark age for a collection.
func (c *Collector) WatermarkAdvanced(collection string, watermark time.Time) {
	if c == nil {
		return
	}
	c.watermarkAge.WithLabelValues(collection).Set(time.Since(watermark).Seconds())
}
