package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the research integrator.
// It implements the recorder interfaces of the resilience, cache, aggregator
// and summarizer packages, so a single instance is shared by every component.
type Metrics struct {
	// HTTPRequests counts served requests, labeled by method, route and status.
	HTTPRequests *prometheus.CounterVec

	// HTTPRequestDuration observes request latency in seconds, labeled by method and route.
	HTTPRequestDuration *prometheus.HistogramVec

	// Searches counts searches, labeled by outcome (ok, degraded, failed, rejected).
	Searches *prometheus.CounterVec

	// SearchDuration observes end-to-end search duration in seconds.
	SearchDuration prometheus.Histogram

	// Summaries counts summarization requests, labeled by outcome.
	Summaries *prometheus.CounterVec

	// SummaryDuration observes summarization duration in seconds.
	SummaryDuration prometheus.Histogram

	// UpstreamCalls counts calls to paper sources and the LLM, labeled by tag and outcome.
	UpstreamCalls *prometheus.CounterVec

	// UpstreamCallDuration observes a single upstream attempt in seconds, labeled by tag.
	UpstreamCallDuration *prometheus.HistogramVec

	// UpstreamRetries counts retried upstream attempts, labeled by tag.
	UpstreamRetries *prometheus.CounterVec

	// RateLimitWait observes time spent waiting for a rate limit token, labeled by tag.
	RateLimitWait *prometheus.HistogramVec

	// CacheLookups counts cache lookups, labeled by cache and result (hit, miss).
	CacheLookups *prometheus.CounterVec

	// CacheEvictions counts capacity evictions, labeled by cache.
	CacheEvictions *prometheus.CounterVec

	// LLMTokensUsed counts tokens consumed, labeled by provider, model and token type.
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates all metrics under namespace and registers them with reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		// Searches
		Searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of searches by outcome",
		}, []string{"outcome"}),
		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of searches in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),

		// Summaries
		Summaries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Total number of summarization requests by outcome",
		}, []string{"outcome"}),
		SummaryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_duration_seconds",
			Help:      "Duration of summarization requests in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		// Upstreams
		UpstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Total number of upstream call attempts by outcome",
		}, []string{"tag", "outcome"}),
		UpstreamCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_duration_seconds",
			Help:      "Duration of upstream call attempts in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tag"}),
		UpstreamRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Total number of retried upstream attempts",
		}, []string{"tag"}),
		RateLimitWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a rate limit token in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"tag"}),

		// Caches
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by result",
		}, []string{"cache", "result"}),
		CacheEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted for capacity",
		}, []string{"cache"}),

		// LLM
		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total number of tokens consumed by summarization",
		}, []string{"provider", "model", "type"}),
	}
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordSearch records a finished search.
func (m *Metrics) RecordSearch(outcome string, d time.Duration) {
	m.Searches.WithLabelValues(outcome).Inc()
	m.SearchDuration.Observe(d.Seconds())
}

// RecordSummary records a finished summarization request.
func (m *Metrics) RecordSummary(outcome string, d time.Duration) {
	m.Summaries.WithLabelValues(outcome).Inc()
	m.SummaryDuration.Observe(d.Seconds())
}

// RecordLLMUsage records tokens consumed by one completion.
func (m *Metrics) RecordLLMUsage(provider, model string, inputTokens, outputTokens int) {
	m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// RecordUpstreamCall records one upstream attempt.
func (m *Metrics) RecordUpstreamCall(tag, outcome string, d time.Duration) {
	m.UpstreamCalls.WithLabelValues(tag, outcome).Inc()
	m.UpstreamCallDuration.WithLabelValues(tag).Observe(d.Seconds())
}

// RecordUpstreamRetry records that an upstream attempt is being retried.
func (m *Metrics) RecordUpstreamRetry(tag string) {
	m.UpstreamRetries.WithLabelValues(tag).Inc()
}

// RecordRateLimitWait records time spent acquiring a rate limit token.
func (m *Metrics) RecordRateLimitWait(tag string, wait time.Duration) {
	m.RateLimitWait.WithLabelValues(tag).Observe(wait.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordCacheEviction records an entry evicted for capacity.
func (m *Metrics) RecordCacheEviction(cache string) {
	m.CacheEvictions.WithLabelValues(cache).Inc()
}
