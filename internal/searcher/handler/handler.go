package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/middleware"
)

type SearchExecutor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.SearchResult, error)
}

type Handler struct {
	executor     SearchExecutor
	cache        *cache.QueryCache
	tracker      analytics.Tracker
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New returns the search HTTP handler. queryCache, tracker and m may be nil.
func New(exec SearchExecutor, queryCache *cache.QueryCache, tracker analytics.Tracker, m *metrics.Metrics, defaultLimit, maxResults int) *Handler {
	return &Handler{
		executor:     exec,
		cache:        queryCache,
		tracker:      tracker,
		metrics:      m,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Search handles GET /api/v1/search. An empty q is a placeholder search
// returning every document in sort order.
//
//	q             query text; quotes make a phrase, NOT excludes a word
//	offset, limit pagination window
//	sort          field:asc|desc or _geoPoint(lat,lng):asc|desc, comma separated or repeated
//	geo_strategy  dynamic:N, iterative:N or rtree:N
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := h.parseRequest(r)
	if err != nil {
		h.countQuery("invalid")
		h.track(ctx, req, nil, false, time.Since(start), err)
		h.writeAppError(w, err)
		return
	}

	var result *executor.SearchResult
	cacheHit := false
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, req, func() (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, req)
		})
	} else {
		result, err = h.executor.Execute(ctx, req)
	}
	elapsed := time.Since(start)

	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("search execution failed", "query", req.Query, "error", err)
			h.countQuery("error")
		} else {
			h.countQuery("invalid")
		}
		h.track(ctx, req, nil, false, elapsed, err)
		h.writeAppError(w, err)
		return
	}

	log.Info("search completed",
		"query", req.Query,
		"total_hits", result.TotalHits,
		"returned", len(result.IDs),
		"cache_hit", cacheHit,
		"latency_ms", elapsed.Milliseconds(),
	)
	if h.metrics != nil {
		cacheStatus := "miss"
		if cacheHit {
			cacheStatus = "hit"
			h.metrics.CacheHitsTotal.Inc()
		} else if h.cache != nil {
			h.metrics.CacheMissesTotal.Inc()
		}
		if h.cache == nil {
			cacheStatus = "disabled"
		}
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(len(result.IDs)))
	}
	if result.TotalHits == 0 {
		h.countQuery("zero_result")
	} else {
		h.countQuery("hit")
	}
	h.track(ctx, req, result, cacheHit, elapsed, nil)

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) parseRequest(r *http.Request) (executor.Request, error) {
	params := r.URL.Query()
	req := executor.Request{Query: params.Get("q"), Limit: h.defaultLimit}

	if v := params.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset must be a non-negative integer")
		}
		req.Offset = n
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
		}
		req.Limit = min(n, h.maxResults)
	}
	for _, raw := range params["sort"] {
		for _, part := range splitSort(raw) {
			crit, err := search.ParseSortCriterion(part)
			if err != nil {
				return req, err
			}
			req.Sort = append(req.Sort, crit)
		}
	}
	if v := params.Get("geo_strategy"); v != "" {
		kind, value, _ := strings.Cut(v, ":")
		n, err := strconv.Atoi(value)
		if err != nil {
			return req, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "geo_strategy %q must be of the form kind:size", v)
		}
		strategy, err := search.ParseGeoSortStrategy(kind, n)
		if err != nil {
			return req, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%v", err)
		}
		req.GeoStrategy = &strategy
	}
	return req, nil
}

// splitSort splits on commas outside parentheses, so the coordinates of
// _geoPoint(lat,lng) stay together.
func splitSort(raw string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range raw {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, raw[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, raw[start:])
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func (h *Handler) track(ctx context.Context, req executor.Request, result *executor.SearchResult, cacheHit bool, elapsed time.Duration, err error) {
	if h.tracker == nil {
		return
	}
	event := analytics.SearchEvent{
		Type:        analytics.EventSearch,
		Query:       req.Query,
		Placeholder: strings.TrimSpace(req.Query) == "",
		Offset:      req.Offset,
		Limit:       req.Limit,
		LatencyMs:   elapsed.Milliseconds(),
		CacheHit:    cacheHit,
		Timestamp:   time.Now().UTC(),
		RequestID:   middleware.GetRequestID(ctx),
	}
	for _, s := range req.Sort {
		event.Sort = append(event.Sort, s.String())
	}
	if err != nil {
		event.Error = err.Error()
	}
	if result != nil {
		event.Placeholder = result.Placeholder
		event.GeoStrategy = result.GeoStrategy
		event.Candidates = result.TotalHits
		event.Returned = len(result.IDs)
		event.RankingRules = result.RankingRules
		event.Buckets = result.Buckets
		event.SkippedBuckets = result.SkippedBuckets
		event.DBCacheHits = result.DBCache.Hits
		event.DBCacheMisses = result.DBCache.Misses
	}
	h.tracker.Track(event)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError exposes client errors verbatim and hides server errors.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	switch {
	case status < http.StatusInternalServerError:
		h.writeError(w, status, err.Error())
	case status == http.StatusServiceUnavailable:
		h.writeError(w, status, "search timed out or was cancelled")
	default:
		h.writeError(w, status, "search failed")
	}
}
