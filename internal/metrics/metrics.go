package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks session cache lookups on the request path.
	SessionCacheAccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_session_cache_access_total",
			Help: "Session cache lookups by result (hit | miss | revoked).",
		},
		[]string{"result"},
	)

	// Tracks upstream refresh/authentication outcomes.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_session_refresh_total",
			Help: "Upstream token refresh attempts by trigger and outcome.",
		},
		[]string{"trigger", "outcome"}, // trigger = request | scheduler; outcome = ok | revoked | transient
	)

	// Measures duration of upstream refresh calls.
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_session_refresh_duration_seconds",
			Help:    "Duration of upstream token refresh calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms → ~40s
		},
	)

	// Measures time spent waiting on the shared upstream rate gate.
	RateGateWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_rate_gate_wait_seconds",
			Help:    "Time callers spend blocked on the shared upstream token bucket.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Count of gateway-level errors by component and reason.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the number of live cached sessions.
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_live_sessions",
			Help: "Number of tenants with a cached live session.",
		},
	)
)

// IncError increments the aggregated error counter.
func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// ObserveSince records elapsed time since start on histogram h.
func ObserveSince(h prometheus.Histogram, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
