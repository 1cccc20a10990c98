// Package metrics exposes extraction counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brensch/zipstage/internal/orchestrator"
)

// Archive outcomes.
const (
	OutcomeOK        = "ok"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Entry outcomes.
const (
	EntryExtracted = "extracted"
	EntrySkipped   = "skipped"
	EntryPending   = "pending"
	EntryError     = "error"
)

// Collector holds the pipeline metrics on its own registry.
type Collector struct {
	Registry *prometheus.Registry

	archives *prometheus.CounterVec
	entries  *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collector and registers its metrics on a fresh registry.
func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zipstage",
			Name:      "archives_total",
			Help:      "Archives processed, by logical type and outcome.",
		}, []string{"logical_type", "outcome"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zipstage",
			Name:      "entries_total",
			Help:      "Archive entries handled, by logical type and outcome.",
		}, []string{"logical_type", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zipstage",
			Name:      "archive_bytes_total",
			Help:      "Archive payload bytes downloaded.",
		}, []string{"logical_type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zipstage",
			Name:      "archive_duration_seconds",
			Help:      "Wall time spent processing one archive.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"logical_type"}),
	}
	c.Registry.MustRegister(c.archives, c.entries, c.bytes, c.duration)
	return c
}

// ObserveArchive folds one archive result into the metrics.
func (c *Collector) ObserveArchive(r orchestrator.ArchiveResult) {
	c.archives.WithLabelValues(r.LogicalType, Outcome(r)).Inc()
	c.entries.WithLabelValues(r.LogicalType, EntryExtracted).Add(float64(r.ExtractedCount))
	c.entries.WithLabelValues(r.LogicalType, EntrySkipped).Add(float64(r.SkippedCount))
	c.entries.WithLabelValues(r.LogicalType, EntryError).Add(float64(r.ErrorCount))
	c.entries.WithLabelValues(r.LogicalType, EntryPending).Add(float64(r.PendingCount))
	c.bytes.WithLabelValues(r.LogicalType).Add(float64(r.Bytes))
	c.duration.WithLabelValues(r.LogicalType).Observe(r.Duration.Seconds())
}

// Outcome classifies an archive result.
func Outcome(r orchestrator.ArchiveResult) string {
	switch {
	case r.Failed():
		return OutcomeFailed
	case r.Cancelled:
		return OutcomeCancelled
	case r.ErrorCount > 0:
		return OutcomePartial
	default:
		return OutcomeOK
	}
}
