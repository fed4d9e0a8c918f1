package search

import (
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// SearchLogger observes a search. Implementations must not modify the
// arguments they receive, and their calls never change the outcome of the
// search.
type SearchLogger interface {
	InitialQuery(query *QueryGraph)
	QueryForUniverse(query *QueryGraph)
	InitialUniverse(universe *roaring.Bitmap)
	RankingRules(rules []RankingRule)

	StartIterationRankingRule(index int, rule RankingRule, query *QueryGraph, universe *roaring.Bitmap)
	NextBucketRankingRule(index int, rule RankingRule, universe, bucket *roaring.Bitmap)
	SkipBucketRankingRule(index int, rule RankingRule, candidates *roaring.Bitmap)
	EndIterationRankingRule(index int, rule RankingRule, universe *roaring.Bitmap)
	AddToResults(docids []uint32)

	LogWordsState(query *QueryGraph)
	LogProximityState(state GraphState)
	LogTypoState(state GraphState)
}

// GraphState is a summary of one bucket computation of a graph-based rule.
type GraphState struct {
	Cost       uint32
	Paths      int
	DeadEnds   int
	Conditions int
	Universe   uint64
	Bucket     uint64
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) InitialQuery(*QueryGraph) {}
func (NoopLogger) QueryForUniverse(*QueryGraph) {}
func (NoopLogger) InitialUniverse(*roaring.Bitmap) {}
func (NoopLogger) RankingRules([]RankingRule) {}
func (NoopLogger) StartIterationRankingRule(int, RankingRule, *QueryGraph, *roaring.Bitmap) {}
func (NoopLogger) NextBucketRankingRule(int, RankingRule, *roaring.Bitmap, *roaring.Bitmap) {}
func (NoopLogger) SkipBucketRankingRule(int, RankingRule, *roaring.Bitmap) {}
func (NoopLogger) EndIterationRankingRule(int, RankingRule, *roaring.Bitmap) {}
func (NoopLogger) AddToResults([]uint32) {}
func (NoopLogger) LogWordsState(*QueryGraph) {}
func (NoopLogger) LogProximityState(GraphState) {}
func (NoopLogger) LogTypoState(GraphState) {}

// SlogLogger writes every pipeline transition as a debug record.
type SlogLogger struct {
	NoopLogger
	c      *Context
	logger *slog.Logger
}

// NewSlogLogger returns a SearchLogger writing to logger. Query graphs are
// rendered once Search.Execute has bound the logger to its Context.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger.With("component", "search-logger")}
}

// contextBinder is implemented by loggers that need the search Context to
// render what they observe.
type contextBinder interface {
	bindContext(c *Context)
}

func (l *SlogLogger) bindContext(c *Context) {
	l.c = c
}

func (l *SlogLogger) graph(q *QueryGraph) string {
	if l.c == nil {
		return ""
	}
	return q.Describe(l.c)
}

func (l *SlogLogger) InitialQuery(q *QueryGraph) {
	l.logger.Debug("initial query", "graph", l.graph(q))
}

func (l *SlogLogger) QueryForUniverse(q *QueryGraph) {
	l.logger.Debug("query for universe", "graph", l.graph(q))
}

func (l *SlogLogger) LogWordsState(q *QueryGraph) {
	l.logger.Debug("words state", "graph", l.graph(q))
}

func (l *SlogLogger) InitialUniverse(u *roaring.Bitmap) {
	l.logger.Debug("initial universe", "candidates", u.GetCardinality())
}

func (l *SlogLogger) RankingRules(rules []RankingRule) {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID()
	}
	l.logger.Debug("ranking rules", "rules", ids)
}

func (l *SlogLogger) StartIterationRankingRule(i int, r RankingRule, _ *QueryGraph, u *roaring.Bitmap) {
	l.logger.Debug("start iteration", "index", i, "rule", r.ID(), "universe", u.GetCardinality())
}

func (l *SlogLogger) NextBucketRankingRule(i int, r RankingRule, u, b *roaring.Bitmap) {
	l.logger.Debug("next bucket", "index", i, "rule", r.ID(), "universe", u.GetCardinality(), "bucket", b.GetCardinality())
}

func (l *SlogLogger) SkipBucketRankingRule(i int, r RankingRule, b *roaring.Bitmap) {
	l.logger.Debug("skip bucket", "index", i, "rule", r.ID(), "bucket", b.GetCardinality())
}

func (l *SlogLogger) EndIterationRankingRule(i int, r RankingRule, u *roaring.Bitmap) {
	l.logger.Debug("end iteration", "index", i, "rule", r.ID(), "universe", u.GetCardinality())
}

func (l *SlogLogger) AddToResults(docids []uint32) {
	l.logger.Debug("add to results", "count", len(docids))
}

func (l *SlogLogger) LogProximityState(s GraphState) {
	l.logger.Debug("proximity state", "cost", s.Cost, "paths", s.Paths, "dead_ends", s.DeadEnds, "bucket", s.Bucket)
}

func (l *SlogLogger) LogTypoState(s GraphState) {
	l.logger.Debug("typo state", "cost", s.Cost, "paths", s.Paths, "dead_ends", s.DeadEnds, "bucket", s.Bucket)
}

// Event is one call recorded by a RecordingLogger.
type Event struct {
	Kind  string
	Index int
	Rule  string
	Count uint64
	IDs   []uint32
	State GraphState
}

// RecordingLogger keeps every call in memory.
type RecordingLogger struct {
	mu     sync.Mutex
	Events []Event
}

func (r *RecordingLogger) record(e Event) {
	r.mu.Lock()
	r.Events = append(r.Events, e)
	r.mu.Unlock()
}

func (r *RecordingLogger) InitialQuery(*QueryGraph) { r.record(Event{Kind: "initial_query"}) }
func (r *RecordingLogger) QueryForUniverse(*QueryGraph) { r.record(Event{Kind: "query_for_universe"}) }
func (r *RecordingLogger) InitialUniverse(u *roaring.Bitmap) {
	r.record(Event{Kind: "initial_universe", Count: u.GetCardinality()})
}
func (r *RecordingLogger) RankingRules(rules []RankingRule) {
	r.record(Event{Kind: "ranking_rules", Count: uint64(len(rules))})
}
func (r *RecordingLogger) StartIterationRankingRule(i int, rule RankingRule, _ *QueryGraph, u *roaring.Bitmap) {
	r.record(Event{Kind: "start", Index: i, Rule: rule.ID(), Count: u.GetCardinality()})
}
func (r *RecordingLogger) NextBucketRankingRule(i int, rule RankingRule, _, b *roaring.Bitmap) {
	r.record(Event{Kind: "next_bucket", Index: i, Rule: rule.ID(), Count: b.GetCardinality()})
}
func (r *RecordingLogger) SkipBucketRankingRule(i int, rule RankingRule, b *roaring.Bitmap) {
	r.record(Event{Kind: "skip_bucket", Index: i, Rule: rule.ID(), Count: b.GetCardinality()})
}
func (r *RecordingLogger) EndIterationRankingRule(i int, rule RankingRule, u *roaring.Bitmap) {
	r.record(Event{Kind: "end", Index: i, Rule: rule.ID(), Count: u.GetCardinality()})
}
func (r *RecordingLogger) AddToResults(docids []uint32) {
	r.record(Event{Kind: "add_to_results", IDs: append([]uint32(nil), docids...)})
}
func (r *RecordingLogger) LogWordsState(*QueryGraph) { r.record(Event{Kind: "words_state"}) }
func (r *RecordingLogger) LogProximityState(s GraphState) {
	r.record(Event{Kind: "proximity_state", State: s})
}
func (r *RecordingLogger) LogTypoState(s GraphState) { r.record(Event{Kind: "typo_state", State: s}) }

// Count returns how many events of kind were recorded.
func (r *RecordingLogger) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// BucketCounter counts the buckets produced by each ranking rule.
type BucketCounter struct {
	NoopLogger
	Buckets map[string]int
	Skipped int
}

// NewBucketCounter returns an empty BucketCounter.
func NewBucketCounter() *BucketCounter {
	return &BucketCounter{Buckets: make(map[string]int)}
}

func (b *BucketCounter) NextBucketRankingRule(_ int, rule RankingRule, _, _ *roaring.Bitmap) {
	b.Buckets[rule.ID()]++
}

func (b *BucketCounter) SkipBucketRankingRule(int, RankingRule, *roaring.Bitmap) {
	b.Skipped++
}

// MultiLogger forwards every call to each of its loggers.
type MultiLogger []SearchLogger

func (m MultiLogger) bindContext(c *Context) {
	for _, l := range m {
		if b, ok := l.(contextBinder); ok {
			b.bindContext(c)
		}
	}
}

func (m MultiLogger) InitialQuery(q *QueryGraph) {
	for _, l := range m {
		l.InitialQuery(q)
	}
}

func (m MultiLogger) QueryForUniverse(q *QueryGraph) {
	for _, l := range m {
		l.QueryForUniverse(q)
	}
}

func (m MultiLogger) InitialUniverse(u *roaring.Bitmap) {
	for _, l := range m {
		l.InitialUniverse(u)
	}
}

func (m MultiLogger) RankingRules(rules []RankingRule) {
	for _, l := range m {
		l.RankingRules(rules)
	}
}

func (m MultiLogger) StartIterationRankingRule(i int, r RankingRule, q *QueryGraph, u *roaring.Bitmap) {
	for _, l := range m {
		l.StartIterationRankingRule(i, r, q, u)
	}
}

func (m MultiLogger) NextBucketRankingRule(i int, r RankingRule, u, b *roaring.Bitmap) {
	for _, l := range m {
		l.NextBucketRankingRule(i, r, u, b)
	}
}

func (m MultiLogger) SkipBucketRankingRule(i int, r RankingRule, b *roaring.Bitmap) {
	for _, l := range m {
		l.SkipBucketRankingRule(i, r, b)
	}
}

func (m MultiLogger) EndIterationRankingRule(i int, r RankingRule, u *roaring.Bitmap) {
	for _, l := range m {
		l.EndIterationRankingRule(i, r, u)
	}
}

func (m MultiLogger) AddToResults(docids []uint32) {
	for _, l := range m {
		l.AddToResults(docids)
	}
}

func (m MultiLogger) LogWordsState(q *QueryGraph) {
	for _, l := range m {
		l.LogWordsState(q)
	}
}

func (m MultiLogger) LogProximityState(s GraphState) {
	for _, l := range m {
		l.LogProximityState(s)
	}
}

func (m MultiLogger) LogTypoState(s GraphState) {
	for _, l := range m {
		l.LogTypoState(s)
	}
}
