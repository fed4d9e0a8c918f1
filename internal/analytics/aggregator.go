package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64            `json:"total_searches"`
	PlaceholderCount  int64            `json:"placeholder_searches"`
	FailedSearches    int64            `json:"failed_searches"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	AvgCandidates     float64          `json:"avg_candidates"`
	RuleBuckets       map[string]int64 `json:"rule_buckets"`
	SkippedBuckets    int64            `json:"skipped_buckets"`
	DBCacheHitRatio   float64          `json:"db_cache_hit_ratio"`
	TopQueries        []QueryCount     `json:"top_queries"`
	TopSorts          []QueryCount     `json:"top_sorts"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`
	IndexCommits      int64            `json:"index_commits"`
	FailedCommits     int64            `json:"failed_commits"`
	TotalDocIndexed   int64            `json:"total_docs_indexed"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds search and index events into running statistics.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     atomic.Int64
	placeholders      atomic.Int64
	failed            atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	zeroResults       atomic.Int64
	indexCommits      atomic.Int64
	failedCommits     atomic.Int64
	totalDocIndexed   atomic.Int64
	latencies         []int64
	nextLatency       int
	candidates        int64
	ruleBuckets       map[string]int64
	skippedBuckets    int64
	dbHits, dbMisses  int64
	queryCounts       map[string]int64
	sortCounts        map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, maxLatencySamples),
		ruleBuckets:       make(map[string]int64),
		queryCounts:       make(map[string]int64),
		sortCounts:        make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// Handle is a kafka.MessageHandler. Undecodable messages are logged and
// skipped so a bad event cannot stall the partition.
func (a *Aggregator) Handle(_ context.Context, key []byte, value []byte) error {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		a.logger.Error("failed to decode analytics event", "key", string(key), "error", err)
		return nil
	}
	switch envelope.Type {
	case EventSearch:
		var event SearchEvent
		if err := json.Unmarshal(value, &event); err != nil {
			a.logger.Error("failed to decode search event", "error", err)
			return nil
		}
		a.RecordSearch(event)
	case EventIndex:
		var event IndexEvent
		if err := json.Unmarshal(value, &event); err != nil {
			a.logger.Error("failed to decode index event", "error", err)
			return nil
		}
		a.RecordIndex(event)
	default:
		a.logger.Warn("unknown analytics event type", "type", envelope.Type)
	}
	return nil
}

// Track records an event directly, bypassing Kafka. It lets a searcher
// aggregate its own traffic.
func (a *Aggregator) Track(event any) {
	switch e := event.(type) {
	case SearchEvent:
		a.RecordSearch(e)
	case *SearchEvent:
		a.RecordSearch(*e)
	case IndexEvent:
		a.RecordIndex(e)
	case *IndexEvent:
		a.RecordIndex(*e)
	}
}

func (a *Aggregator) RecordSearch(event SearchEvent) {
	a.totalSearches.Add(1)
	if event.Error != "" {
		a.failed.Add(1)
		return
	}
	if event.Placeholder {
		a.placeholders.Add(1)
	}
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if event.Candidates == 0 {
		a.zeroResults.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.nextLatency] = event.LatencyMs
		a.nextLatency = (a.nextLatency + 1) % maxLatencySamples
	}
	a.candidates += int64(event.Candidates)
	for rule, n := range event.Buckets {
		a.ruleBuckets[rule] += int64(n)
	}
	a.skippedBuckets += int64(event.SkippedBuckets)
	a.dbHits += int64(event.DBCacheHits)
	a.dbMisses += int64(event.DBCacheMisses)
	if !event.Placeholder {
		a.queryCounts[event.Query]++
		if event.Candidates == 0 {
			a.zeroResultQueries[event.Query]++
		}
	}
	for _, s := range event.Sort {
		a.sortCounts[s]++
	}
}

func (a *Aggregator) RecordIndex(event IndexEvent) {
	a.indexCommits.Add(1)
	if event.Failed {
		a.failedCommits.Add(1)
		return
	}
	a.totalDocIndexed.Add(int64(event.Documents))
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:    a.totalSearches.Load(),
		PlaceholderCount: a.placeholders.Load(),
		FailedSearches:   a.failed.Load(),
		CacheHits:        a.cacheHits.Load(),
		CacheMisses:      a.cacheMisses.Load(),
		ZeroResultCount:  a.zeroResults.Load(),
		IndexCommits:     a.indexCommits.Load(),
		FailedCommits:    a.failedCommits.Load(),
		TotalDocIndexed:  a.totalDocIndexed.Load(),
		SkippedBuckets:   a.skippedBuckets,
		RuleBuckets:      make(map[string]int64, len(a.ruleBuckets)),
	}
	for rule, n := range a.ruleBuckets {
		stats.RuleBuckets[rule] = n
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if ok := stats.TotalSearches - stats.FailedSearches; ok > 0 {
		stats.AvgCandidates = float64(a.candidates) / float64(ok)
	}
	if lookups := a.dbHits + a.dbMisses; lookups > 0 {
		stats.DBCacheHitRatio = float64(a.dbHits) / float64(lookups)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.TopSorts = topN(a.sortCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}

	return stats
}

// Restore seeds the counters from a persisted snapshot so totals survive a
// restart. Percentiles and rankings start over.
func (a *Aggregator) Restore(s AggregatedStats) error {
	if s.TotalSearches < s.FailedSearches {
		return fmt.Errorf("corrupt snapshot: %d failed of %d searches", s.FailedSearches, s.TotalSearches)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches.Store(s.TotalSearches)
	a.placeholders.Store(s.PlaceholderCount)
	a.failed.Store(s.FailedSearches)
	a.cacheHits.Store(s.CacheHits)
	a.cacheMisses.Store(s.CacheMisses)
	a.zeroResults.Store(s.ZeroResultCount)
	a.indexCommits.Store(s.IndexCommits)
	a.failedCommits.Store(s.FailedCommits)
	a.totalDocIndexed.Store(s.TotalDocIndexed)
	a.candidates = int64(s.AvgCandidates * float64(s.TotalSearches-s.FailedSearches))
	a.skippedBuckets = s.SkippedBuckets
	for rule, n := range s.RuleBuckets {
		a.ruleBuckets[rule] = n
	}
	return nil
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
