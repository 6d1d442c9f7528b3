// Package metrics exposes Prometheus instrumentation for the sync core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassesTotal tracks how many sync passes have run, by outcome
	// (clean = every item delivered, partial = at least one failure)
	PassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldcite_sync_passes_total",
		Help: "Total number of sync passes run",
	}, []string{"outcome"})

	// PassDuration measures how long a full pass takes including purge
	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fieldcite_sync_pass_duration_seconds",
		Help:    "Duration of sync passes in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ItemsTotal tracks delivered and failed queue items by entity type
	ItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldcite_sync_items_total",
		Help: "Total number of queue items processed",
	}, []string{"status", "entity_type"})

	// PendingItems is the current queue backlog, the primary lag signal
	PendingItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fieldcite_sync_pending_items",
		Help: "Current number of pending items in the sync queue",
	})

	// FailedItems counts items that exhausted their retries
	// If this number grows, a manual retry from the UI is required
	FailedItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fieldcite_sync_failed_items",
		Help: "Current number of terminally failed items in the sync queue",
	})
)

// ObservePass records one completed sync pass.
func ObservePass(duration time.Duration, hadFailures bool) {
	outcome := "clean"
	if hadFailures {
		outcome = "partial"
	}
	PassesTotal.WithLabelValues(outcome).Inc()
	PassDuration.Observe(duration.Seconds())
}

// ItemSynced records a successfully delivered queue item.
func ItemSynced(entityType string) {
	ItemsTotal.WithLabelValues("success", entityType).Inc()
}

// ItemFailed records a failed delivery attempt.
func ItemFailed(entityType string) {
	ItemsTotal.WithLabelValues("error", entityType).Inc()
}

// SetPendingItems updates the queue backlog gauge.
func SetPendingItems(n int64) {
	PendingItems.Set(float64(n))
}

// SetFailedItems updates the terminal-failure gauge.
func SetFailedItems(n int64) {
	FailedItems.Set(float64(n))
}
