package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gate metrics
	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plansync_gate_decisions_total",
			Help: "Total number of sync requests by trigger reason, decision and cause",
		},
		[]string{"reason", "decision", "cause"},
	)

	// Executor metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plansync_sync_runs_total",
			Help: "Total number of executed subscription resolves by outcome and error kind",
		},
		[]string{"outcome", "kind"}, // kind is empty on success
	)

	SyncDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plansync_sync_duration_seconds",
			Help:    "Duration of subscription resolves against the billing backend",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	MarkerWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plansync_marker_write_failures_total",
			Help: "Total number of marker writes that failed after a successful sync",
		},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plansync_sessions_active",
			Help: "Number of open client sessions",
		},
	)
)

// RecordGateDecision records one gate verdict
func RecordGateDecision(reason, decision, cause string) {
	GateDecisionsTotal.WithLabelValues(reason, decision, cause).Inc()
}

// RecordSyncRun records a finished resolve. kind is ignored on success.
func RecordSyncRun(success bool, kind string, duration time.Duration) {
	outcome := "success"
	if success {
		kind = ""
	} else {
		outcome = "failure"
	}
	SyncRunsTotal.WithLabelValues(outcome, kind).Inc()
	SyncDurationSeconds.Observe(duration.Seconds())
}

// RecordMarkerWriteFailure records a marker write that did not persist
func RecordMarkerWriteFailure() {
	MarkerWriteFailuresTotal.Inc()
}

// RecordSessionOpened records a new client session
func RecordSessionOpened() {
	SessionsActive.Inc()
}

// RecordSessionClosed records a closed client session
func RecordSessionClosed() {
	SessionsActive.Dec()
}
