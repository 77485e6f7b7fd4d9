package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "codekvast"
)

var (
	queryDurationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// Warehouse query metrics
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "warehouse_query_duration_seconds",
		Help:      "Time taken for a warehouse API call to complete.",
		Buckets:   queryDurationBuckets,
	}, []string{"endpoint"})

	QueryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "warehouse_query_failures_total",
		Help:      "Count of failed warehouse API calls.",
	}, []string{"endpoint", "status"})

	AuthExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_expired_total",
		Help:      "Count of session expiries detected via claims or 401/403 responses.",
	})

	// Snapshot refresh metrics
	SnapshotRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_refreshes_total",
		Help:      "Count of status snapshot refresh attempts.",
	}, []string{"status"})

	SnapshotAgeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_age_seconds",
		Help:      "Age of the cached status snapshot.",
	})

	// Session metrics
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Count of session transitions, by direction and login source.",
	}, []string{"transition", "source"})
)
