package analytics

import "time"

type EventType string

const (
	EventSearch EventType = "search"
	EventIndex  EventType = "index"
)

// SearchEvent describes one executed search, including how many buckets each
// ranking rule had to produce to fill the page.
type SearchEvent struct {
	Type           EventType      `json:"type"`
	Query          string         `json:"query"`
	Placeholder    bool           `json:"placeholder"`
	Sort           []string       `json:"sort,omitempty"`
	GeoStrategy    string         `json:"geo_strategy,omitempty"`
	Offset         int            `json:"offset"`
	Limit          int            `json:"limit"`
	Candidates     int            `json:"candidates"`
	Returned       int            `json:"returned"`
	LatencyMs      int64          `json:"latency_ms"`
	CacheHit       bool           `json:"cache_hit"`
	RankingRules   []string       `json:"ranking_rules,omitempty"`
	Buckets        map[string]int `json:"buckets,omitempty"`
	SkippedBuckets int            `json:"skipped_buckets"`
	DBCacheHits    int            `json:"db_cache_hits"`
	DBCacheMisses  int            `json:"db_cache_misses"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	RequestID      string         `json:"request_id,omitempty"`
}

// IndexEvent describes one commit of the indexer.
type IndexEvent struct {
	Type      EventType `json:"type"`
	Documents int       `json:"documents"`
	SizeBytes int64     `json:"size_bytes"`
	Total     uint64    `json:"total_documents"`
	LatencyMs int64     `json:"latency_ms"`
	Failed    bool      `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the partition key of an event.
func Key(event any) string {
	switch e := event.(type) {
	case SearchEvent:
		return string(e.Type)
	case *SearchEvent:
		return string(e.Type)
	case IndexEvent:
		return string(e.Type)
	case *IndexEvent:
		return string(e.Type)
	}
	return "analytics"
}

// Tracker accepts analytics events without blocking.
type Tracker interface {
	Track(event any)
}

// Tee sends every event to each of its trackers.
type Tee []Tracker

func (t Tee) Track(event any) {
	for _, tr := range t {
		tr.Track(event)
	}
}
