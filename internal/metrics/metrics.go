// Package metrics defines and registers loghoi's Prometheus metrics,
// exposed via Handler() at /metrics (spec §4.10).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions is the current number of tracked C5 sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loghoi_active_sessions",
			Help: "Current number of tracked stream sessions",
		},
	)

	// ActiveMonitors is the current number of sessions with a running tail_f.
	ActiveMonitors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loghoi_active_monitors",
			Help: "Current number of sessions actively streaming a log",
		},
	)

	// JobsTotal counts collection jobs by their terminal state.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loghoi_jobs_total",
			Help: "Total number of collection jobs by terminal state",
		},
		[]string{"state"},
	)

	// CacheResultsTotal counts C3 cache lookups by hit/miss.
	CacheResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loghoi_cache_results_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"result"},
	)

	// RateLimiterDropsTotal counts lines a monitor's token bucket discarded.
	RateLimiterDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loghoi_rate_limiter_drops_total",
			Help: "Total number of log lines dropped by the monitor rate limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(ActiveMonitors)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(CacheResultsTotal)
	prometheus.MustRegister(RateLimiterDropsTotal)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
