package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service metrics for production monitoring. The Collector remains the
// source of truth for the /metrics and /metrics/json snapshots; these
// mirrors feed the Prometheus scrape endpoint.
var (
	// Request metrics
	RequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webharvest_requests_total",
			Help: "Total number of tool requests handled",
		},
	)

	RequestErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webharvest_request_errors_total",
			Help: "Total number of tool requests that returned an error",
		},
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webharvest_request_duration_seconds",
			Help:    "Tool request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// Cache metrics
	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webharvest_cache_events_total",
			Help: "Total number of resource cache events",
		},
		[]string{"event"}, // event: hit/miss/write/eviction
	)

	// Strategy metrics
	StrategyAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webharvest_strategy_attempts_total",
			Help: "Total number of fetch strategy attempts",
		},
		[]string{"strategy", "outcome"}, // outcome: success/failure
	)

	StrategyFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webharvest_strategy_fallbacks_total",
			Help: "Total number of fetches that fell back to a secondary strategy",
		},
	)

	StrategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webharvest_strategy_duration_seconds",
			Help:    "Fetch strategy duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms to ~50s
		},
		[]string{"strategy"},
	)

	// Resource store metrics
	StoreItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webharvest_resource_store_items",
			Help: "Current number of resources held by the store",
		},
	)

	StoreBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webharvest_resource_store_bytes",
			Help: "Current total content bytes held by the store",
		},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webharvest_sessions_active",
			Help: "Current number of live MCP sessions",
		},
	)

	EventsStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webharvest_events_stored_total",
			Help: "Total number of events appended to resumable streams",
		},
	)

	// Upstream metrics
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webharvest_upstream_calls_total",
			Help: "Total number of upstream enhanced-fetch API calls",
		},
		[]string{"verb", "status"},
	)

	// LLM extraction metrics
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webharvest_extractions_total",
			Help: "Total number of LLM extraction calls",
		},
		[]string{"provider", "status"},
	)
)

// SetStoreStats updates the store gauges after a mutation.
func SetStoreStats(items int, bytes int64) {
	StoreItems.Set(float64(items))
	StoreBytes.Set(float64(bytes))
}
