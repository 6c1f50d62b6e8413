package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// NeoWs feed call rate by status. Watch for: error vs success ratio.
	FeedAPICallsTotal *prometheus.CounterVec

	// Feed latency per request. The feed is slow for 7-day windows; p95 of several seconds is normal.
	FeedAPIDuration *prometheus.HistogramVec

	// Retry attempts for feed calls. High retries = unstable upstream or DEMO_KEY throttling.
	FeedAPIRetriesTotal prometheus.Counter

	// Feed errors by category (see client.CategorizeError).
	FeedAPIErrorsTotal *prometheus.CounterVec

	// Feed entries dropped during normalization (missing field, bad number).
	FeedRecordsSkippedTotal prometheus.Counter

	// Records returned by the last successful normalization.
	FeedRecordsLast prometheus.Gauge

	// Memo cache hits and misses.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency by operation and result.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses for the same date range.
	CacheStampedeDetectedTotal prometheus.Counter

	// In-memory entries dropped to stay under max_entries.
	CacheEvictionsTotal prometheus.Counter

	// Callers that waited on another caller's in-flight fetch.
	RequestCoalescingHitsTotal prometheus.Counter
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Cache warming runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Circuit breaker transitions and current state (0 closed, 1 open, 2 half-open).
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
	CircuitBreakerState            *prometheus.GaugeVec

	// Dashboard renders by outcome (ok, empty).
	DashboardRendersTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	// Requests still in flight when shutdown started.
	ShutdownInFlightRequests prometheus.Gauge

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	FeedAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedApiCallsTotal",
			Help: "Total number of NeoWs feed API calls",
		},
		[]string{"status"},
	)
	FeedAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedApiDurationSeconds",
			Help:    "NeoWs feed API latency in seconds (per request)",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"status"},
	)
	FeedAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedApiRetriesTotal",
			Help: "Total number of retry attempts for feed API calls",
		},
	)
	FeedAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedApiErrorsTotal",
			Help: "Feed API errors by category",
		},
		[]string{"category"},
	)
	FeedRecordsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedRecordsSkippedTotal",
			Help: "Feed entries dropped during normalization",
		},
	)
	FeedRecordsLast = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedRecordsLast",
			Help: "Asteroid records in the most recent successful feed",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of memo cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of memo cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that overlapped another miss for the same date range",
		},
	)
	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Least recently used feeds evicted from the in-memory cache",
		},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by waiting on another in-flight feed fetch",
		},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting for a coalesced feed fetch",
			Buckets: prometheus.DefBuckets,
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed range",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	DashboardRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboardRendersTotal",
			Help: "Dashboard renders by outcome",
		},
		[]string{"outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "Requests in flight when graceful shutdown began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		FeedAPICallsTotal, FeedAPIDuration, FeedAPIRetriesTotal, FeedAPIErrorsTotal,
		FeedRecordsSkippedTotal, FeedRecordsLast,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, CacheEvictionsTotal, RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
		DashboardRendersTotal,
		RateLimitDeniedTotal,
		ShutdownInFlightRequests,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// requests and denials report counts over the overload window; safe to call more than once.
func RegisterRateLimitGauges(requests, denials func() int) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(requests()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(denials()) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a breaker transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordShutdownInFlight records the in-flight count observed at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
