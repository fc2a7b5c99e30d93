package observability

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	OutcomeAllowed    = "allowed"
	OutcomeLimited    = "limited"
	OutcomeCacheError = "cache_error"

	FlushEmpty         = "empty"
	FlushPersisted     = "persisted"
	FlushPersistFailed = "persist_failed"
	FlushCacheError    = "cache_error"
)

var (
	// RateLimitDecisions counts limiter verdicts per identity dimension.
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate-limit decisions by dimension and outcome.",
		},
		[]string{"dimension", "outcome"},
	)

	// ActivityAppends counts events accepted into session buffers.
	ActivityAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_events_appended_total",
			Help: "Events appended to interaction buffers.",
		},
	)

	// ActivityFlushes counts flush attempts by outcome.
	ActivityFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_flushes_total",
			Help: "Interaction flushes by outcome.",
		},
		[]string{"outcome"},
	)

	// SummaryFallbacks counts flushes that used the deterministic summary.
	SummaryFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_summary_fallbacks_total",
			Help: "Flushes whose summary came from the local fallback.",
		},
	)

	// FlushesInFlight gauges flushes dispatched by the watcher and not yet done.
	FlushesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "activity_flushes_inflight",
			Help: "Flushes currently running.",
		},
	)

	// WatcherReconnects counts expiry subscription re-establishments.
	WatcherReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_watcher_reconnects_total",
			Help: "Times the expiry watcher re-subscribed after a transport error.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RateLimitDecisions,
		ActivityAppends,
		ActivityFlushes,
		SummaryFallbacks,
		FlushesInFlight,
		WatcherReconnects,
	)
}
