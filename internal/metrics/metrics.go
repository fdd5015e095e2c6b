// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collectedItemsTotal    *prometheus.CounterVec
	runDurationSeconds     *prometheus.HistogramVec
	runFailuresTotal       *prometheus.CounterVec
	persistenceErrorsTotal *prometheus.CounterVec
	checkpointWritesTotal  *prometheus.CounterVec
	retryDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		collectedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_collected_items_total",
				Help: "Total items collected, labeled by source kind and run.",
			},
			[]string{"source_kind", "run_id"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_run_duration_seconds",
				Help:    "Histogram of end-to-end run durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"source_kind", "run_id"},
		)

		runFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_run_failures_total",
				Help: "Total failed runs, labeled by source kind and run.",
			},
			[]string{"source_kind", "run_id"},
		)

		persistenceErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_persistence_errors_total",
				Help: "Total per-record persistence failures, labeled by collection.",
			},
			[]string{"collection"},
		)

		checkpointWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_checkpoint_writes_total",
				Help: "Total checkpoint upserts, labeled by result.",
			},
			[]string{"result"},
		)

		retryDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_retry_delay_seconds",
				Help:    "Histogram of scheduled retry backoff delays.",
				Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"reason"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCollectedItems increments the collected-items counter.
func ObserveCollectedItems(sourceKind, runID string, n int) {
	if n < 1 {
		return
	}
	collectedItemsTotal.WithLabelValues(sourceKind, runID).Add(float64(n))
}

// ObserveRunDuration records the total duration of one run.
func ObserveRunDuration(sourceKind, runID string, d time.Duration) {
	runDurationSeconds.WithLabelValues(sourceKind, runID).Observe(d.Seconds())
}

// ObserveRunFailure increments the run failure counter.
func ObserveRunFailure(sourceKind, runID string) {
	runFailuresTotal.WithLabelValues(sourceKind, runID).Inc()
}

// ObservePersistenceError counts a skipped record for the given collection.
func ObservePersistenceError(collection string) {
	if collection == "" {
		collection = "unknown"
	}
	persistenceErrorsTotal.WithLabelValues(collection).Inc()
}

// ObserveCheckpointWrite counts a checkpoint upsert outcome ("ok"/"error").
func ObserveCheckpointWrite(result string) {
	checkpointWritesTotal.WithLabelValues(result).Inc()
}

// ObserveRetryDelay records a scheduled backoff delay.
func ObserveRetryDelay(reason string, d time.Duration) {
	retryDelaySeconds.WithLabelValues(reason).Observe(d.Seconds())
}
