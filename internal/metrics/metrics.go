// Package metrics provides Prometheus metrics for the pipeline coordinator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the coordinator.
type Metrics struct {
	// Dispatch metrics
	UnitsScanned    *prometheus.CounterVec
	UnitsSubmitted  *prometheus.CounterVec
	UnitsSkipped    *prometheus.CounterVec
	UnitsScanFailed *prometheus.CounterVec
	UnitsFailed     *prometheus.CounterVec

	// Retry metrics
	RetryCandidates *prometheus.CounterVec
	RetryExcluded   *prometheus.CounterVec
	RetrySubmitted  *prometheus.CounterVec
	RetryFailed     *prometheus.CounterVec

	// Aggregation metrics
	AggregateRows     *prometheus.CounterVec
	AggregateFailures *prometheus.CounterVec
	AggregateDuration *prometheus.HistogramVec
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "radarpipe"
	}

	m := &Metrics{
		UnitsScanned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_scanned_total",
				Help:      "Total number of work units enumerated",
			},
			[]string{"stage"},
		),
		UnitsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_submitted_total",
				Help:      "Total number of units submitted to the scheduler",
			},
			[]string{"stage"},
		),
		UnitsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_skipped_total",
				Help:      "Total number of units skipped (outputs already complete)",
			},
			[]string{"stage"},
		),
		UnitsScanFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_scan_failed_total",
				Help:      "Total number of units whose input could not be introspected",
			},
			[]string{"stage"},
		),
		UnitsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_failed_total",
				Help:      "Total number of submission calls rejected by the scheduler",
			},
			[]string{"stage"},
		),
		RetryCandidates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_candidates_total",
				Help:      "Total manifest rows considered for retry",
			},
			[]string{"stage"},
		),
		RetryExcluded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_excluded_total",
				Help:      "Total retry candidates dropped by the exclusion list",
			},
			[]string{"stage"},
		),
		RetrySubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_submitted_total",
				Help:      "Total retry tasks submitted",
			},
			[]string{"stage"},
		),
		RetryFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_failed_total",
				Help:      "Total retry submission calls rejected by the scheduler",
			},
			[]string{"stage"},
		),
		AggregateRows: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregate_rows_total",
				Help:      "Total profile rows written to daily aggregates",
			},
			[]string{"category"},
		),
		AggregateFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregate_failures_total",
				Help:      "Total per-category aggregation failures",
			},
			[]string{"category"},
		),
		AggregateDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregate_duration_seconds",
				Help:      "Time to merge one day's artifacts for one category",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"category"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}
