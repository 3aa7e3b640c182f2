// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rpattn/fleetload/internal/domain"
)

var (
	// BatchesTotal counts batches reaching a terminal status
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetload",
			Subsystem: "ingestion",
			Name:      "batches_total",
			Help:      "Total number of batches by entity type and terminal status",
		},
		[]string{"entity_type", "status"},
	)

	// BatchDuration tracks time from upload to terminal status
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleetload",
			Subsystem: "ingestion",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch pipelines in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"entity_type"},
	)

	// PhaseDuration tracks each pipeline phase
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleetload",
			Subsystem: "ingestion",
			Name:      "phase_duration_seconds",
			Help:      "Duration of pipeline phases in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"phase"},
	)

	// DraftsTotal counts drafts by outcome
	DraftsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetload",
			Subsystem: "ingestion",
			Name:      "drafts_total",
			Help:      "Total number of drafts by entity type and outcome",
		},
		[]string{"entity_type", "outcome"},
	)

	// FindingsTotal counts findings by category and severity
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetload",
			Subsystem: "ingestion",
			Name:      "findings_total",
			Help:      "Total number of findings by category and severity",
		},
		[]string{"category", "severity"},
	)

	// UploadBytes tracks accepted upload sizes
	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetload",
			Subsystem: "ingestion",
			Name:      "upload_bytes",
			Help:      "Size of accepted uploads in bytes",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
		},
	)

	// ProgressEventsDropped counts progress events not delivered to slow subscribers
	ProgressEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetload",
			Subsystem: "progress",
			Name:      "events_dropped_total",
			Help:      "Total number of progress events dropped",
		},
		[]string{"reason"},
	)

	// ProgressSubscribers tracks open live subscriptions
	ProgressSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetload",
			Subsystem: "progress",
			Name:      "subscribers",
			Help:      "Number of open progress subscriptions",
		},
	)

	// EventsPublished counts lifecycle events sent to the broker
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetload",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of lifecycle events by type and status",
		},
		[]string{"type", "status"},
	)

	// SweptBatches counts stale batches marked failed by the sweeper
	SweptBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetload",
			Subsystem: "sweeper",
			Name:      "batches_failed_total",
			Help:      "Total number of stale batches marked failed",
		},
	)
)

// RecordBatch records a batch reaching a terminal status
func RecordBatch(entityType domain.EntityType, status domain.BatchStatus, durationSeconds float64) {
	BatchesTotal.WithLabelValues(string(entityType), string(status)).Inc()
	BatchDuration.WithLabelValues(string(entityType)).Observe(durationSeconds)
}

// RecordPhase records the duration of one pipeline phase
func RecordPhase(phase domain.BatchStatus, durationSeconds float64) {
	PhaseDuration.WithLabelValues(string(phase)).Observe(durationSeconds)
}

// RecordDrafts adds n drafts with the given outcome
func RecordDrafts(entityType domain.EntityType, outcome string, n int) {
	if n <= 0 {
		return
	}
	DraftsTotal.WithLabelValues(string(entityType), outcome).Add(float64(n))
}

// RecordFindings counts findings per category and severity
func RecordFindings(findings []domain.Finding) {
	for _, f := range findings {
		FindingsTotal.WithLabelValues(string(f.Category), string(f.Severity)).Inc()
	}
}

// RecordProgressDrop records one dropped progress event
func RecordProgressDrop(reason string) {
	ProgressEventsDropped.WithLabelValues(reason).Inc()
}

// RecordEventPublish records a lifecycle event publish attempt
func RecordEventPublish(eventType, status string) {
	EventsPublished.WithLabelValues(eventType, status).Inc()
}
