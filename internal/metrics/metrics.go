// Package metrics exposes Prometheus collectors for the render service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

var (
	renderInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagerender_render_inflight",
			Help: "Number of renders currently holding an admission permit.",
		},
	)

	renderPermitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagerender_render_permit_wait_seconds",
			Help:    "Histogram of time spent waiting for a render permit.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	rendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagerender_renders_total",
			Help: "Total number of renders, labeled by result.",
		},
		[]string{"result"},
	)

	renderDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagerender_render_duration_seconds",
			Help:    "Histogram of render durations, labeled by result.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"result"},
	)

	engineRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagerender_engine_restarts_total",
			Help: "Total number of times the shared browser was (re)launched.",
		},
	)

	// Hosts come from callers, so they are never used as label values.
	rateLimitDelaysSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagerender_rate_limit_delays_seconds",
			Help:    "Histogram of per-host render pacing waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagerender_cache_lookups_total",
			Help: "Total number of fresh-cache lookups, labeled by result.",
		},
		[]string{"result"},
	)

	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagerender_cache_entries",
			Help: "Number of URLs held in the cache, fresh or stale.",
		},
	)

	fetchCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagerender_fetch_coalesced_total",
			Help: "Total number of fetches that joined an in-flight render.",
		},
	)

	preloadURLs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagerender_preload_urls",
			Help: "Number of URLs in the preload set.",
		},
	)

	preloadRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagerender_preload_refresh_total",
			Help: "Total number of preload refreshes, labeled by result.",
		},
		[]string{"result"},
	)

	preloadCycleSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagerender_preload_cycle_duration_seconds",
			Help:    "Histogram of preload refresh cycle durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 60},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RenderStarted marks a render as holding a permit after waiting wait.
func RenderStarted(wait time.Duration) {
	renderPermitWaitSeconds.Observe(wait.Seconds())
	renderInflight.Inc()
}

// RenderFinished releases the in-flight slot and records the outcome.
func RenderFinished(result string, duration time.Duration) {
	renderInflight.Dec()
	rendersTotal.WithLabelValues(result).Inc()
	renderDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveEngineRestart counts a browser (re)launch.
func ObserveEngineRestart() {
	engineRestartsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveCacheLookup counts a fresh-cache lookup outcome.
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetCacheEntries records the cache size.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// ObserveCoalescedFetch counts a fetch that joined an in-flight render.
func ObserveCoalescedFetch() {
	fetchCoalescedTotal.Inc()
}

// SetPreloadURLs records the preload set size.
func SetPreloadURLs(n int) {
	preloadURLs.Set(float64(n))
}

// ObservePreloadRefresh counts one preload refresh outcome.
func ObservePreloadRefresh(result string) {
	preloadRefreshTotal.WithLabelValues(result).Inc()
}

// ObservePreloadCycle records the duration of a refresh cycle.
func ObservePreloadCycle(duration time.Duration) {
	preloadCycleSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
