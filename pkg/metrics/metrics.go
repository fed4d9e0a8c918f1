// Package metrics defines the Prometheus collectors of the search and
// indexing services and exposes an HTTP handler for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	SearchCandidates   prometheus.Histogram
	RankingRuleBuckets *prometheus.CounterVec
	SkippedBuckets     prometheus.Counter
	DBCacheLookups     *prometheus.CounterVec

	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec

	DocsIndexedTotal  prometheus.Counter
	IndexFlushesTotal *prometheus.CounterVec
	IndexDocuments    prometheus.Gauge
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates the collectors and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate
// registration panics.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, invalid, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of document ids returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		SearchCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_candidates_count",
				Help:    "Number of documents matching a search query before pagination.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		RankingRuleBuckets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranking_rule_buckets_total",
				Help: "Buckets produced by each ranking rule.",
			},
			[]string{"rule"},
		),
		SkippedBuckets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ranking_rule_skipped_buckets_total",
				Help: "Buckets discarded whole because they fell before the requested offset.",
			},
		),
		DBCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_cache_lookups_total",
				Help: "Per-search database cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total index commits by status.",
			},
			[]string{"status"},
		),
		IndexDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_documents",
				Help: "Number of documents in the index.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.SearchCandidates,
		m.RankingRuleBuckets,
		m.SkippedBuckets,
		m.DBCacheLookups,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.IndexDocuments,
	)

	return m
}

// ObserveRankingRules adds the per-rule bucket counts of one search.
func (m *Metrics) ObserveRankingRules(buckets map[string]int, skipped int) {
	for rule, n := range buckets {
		m.RankingRuleBuckets.WithLabelValues(rule).Add(float64(n))
	}
	m.SkippedBuckets.Add(float64(skipped))
}
