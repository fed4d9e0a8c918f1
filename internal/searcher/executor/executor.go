// Package executor runs search requests against the on-disk index: one
// read snapshot per request, the bucket-sort pipeline, and the mapping of
// internal document ids back to external ids.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/dbcache"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/search"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/tracing"
)

// Request is one search as received from a client.
type Request struct {
	Query  string
	Offset int
	Limit  int
	Sort   []search.SortCriterion
	// GeoStrategy overrides the configured strategy when set.
	GeoStrategy *search.GeoSortStrategy
}

type SearchResult struct {
	Query          string         `json:"query"`
	Placeholder    bool           `json:"placeholder"`
	TotalHits      int            `json:"total_hits"`
	Offset         int            `json:"offset"`
	Limit          int            `json:"limit"`
	DocumentsIDs   []uint32       `json:"documents_ids"`
	IDs            []string       `json:"ids"`
	Sort           []string       `json:"sort,omitempty"`
	GeoStrategy    string         `json:"geo_strategy,omitempty"`
	RankingRules   []string       `json:"ranking_rules"`
	Buckets        map[string]int `json:"buckets,omitempty"`
	SkippedBuckets int            `json:"skipped_buckets"`
	DBCache        dbcache.Stats  `json:"db_cache"`
}

type Executor struct {
	idx      *index.Index
	cfg      config.SearchConfig
	strategy search.GeoSortStrategy
	typos    search.TypoSettings
	metrics  *metrics.Metrics
	tracing  bool
	logger   *slog.Logger
}

// New returns an Executor over idx. m may be nil.
func New(idx *index.Index, cfg config.SearchConfig, m *metrics.Metrics, tracingEnabled bool) (*Executor, error) {
	strategy, err := search.ParseGeoSortStrategy(cfg.GeoStrategy, cfg.GeoStrategyValue)
	if err != nil {
		return nil, fmt.Errorf("configuring geo sort: %w", err)
	}
	typos := search.DefaultTypoSettings
	if cfg.MinWordLenOneTypo > 0 {
		typos.MinWordLenOneTypo = cfg.MinWordLenOneTypo
	}
	if cfg.MinWordLenTwoTypo > 0 {
		typos.MinWordLenTwoTypo = cfg.MinWordLenTwoTypo
	}
	return &Executor{
		idx:      idx,
		cfg:      cfg,
		strategy: strategy,
		typos:    typos,
		metrics:  m,
		tracing:  tracingEnabled,
		logger:   slog.Default().With("component", "query-executor"),
	}, nil
}

// GeoStrategy returns the configured geo sort strategy.
func (e *Executor) GeoStrategy() search.GeoSortStrategy {
	return e.strategy
}

// Execute runs req. A panic in the pipeline is logged and returned as
// apperrors.ErrInternal.
func (e *Executor) Execute(ctx context.Context, req Request) (res *SearchResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.FromContext(ctx).Error("search panicked",
				"query", req.Query,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			res, err = nil, apperrors.Internal("search panicked: %v", p)
		}
	}()
	return e.execute(ctx, req)
}

func (e *Executor) execute(ctx context.Context, req Request) (*SearchResult, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	ctx, span := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	defer func() {
		span.End()
		if e.tracing {
			span.Log(e.logger)
		}
	}()

	strategy := e.strategy
	if req.GeoStrategy != nil {
		strategy = *req.GeoStrategy
	}
	plan := parser.Parse(req.Query)
	span.SetAttr("query", req.Query)
	span.SetAttr("terms", len(plan.Terms))

	_, snapSpan := tracing.StartChildSpan(ctx, "snapshot")
	snap, err := e.idx.ReadTxn()
	snapSpan.End()
	if err != nil {
		return nil, apperrors.Storage("opening read snapshot", err)
	}
	defer snap.Close()

	counter := search.NewBucketCounter()
	var searchLogger search.SearchLogger = counter
	if e.cfg.DebugLogger {
		searchLogger = search.MultiLogger{counter, search.NewSlogLogger(logger.FromContext(ctx))}
	}
	s := &search.Search{
		Query:       plan,
		Sort:        req.Sort,
		GeoStrategy: strategy,
		Offset:      req.Offset,
		Limit:       req.Limit,
		Typos:       e.typos,
		Logger:      searchLogger,
	}

	execCtx, execSpan := tracing.StartChildSpan(ctx, "bucket_sort")
	res, err := s.Execute(execCtx, snap)
	execSpan.End()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		span.SetAttr("error", err.Error())
		return nil, err
	}
	execSpan.SetAttr("candidates", res.Candidates.GetCardinality())
	execSpan.SetAttr("buckets", counter.Buckets)

	_, idsSpan := tracing.StartChildSpan(ctx, "external_ids")
	ids := make([]string, 0, len(res.DocumentsIDs))
	for _, docid := range res.DocumentsIDs {
		id, ok, err := snap.ExternalID(docid)
		if err != nil {
			idsSpan.End()
			return nil, err
		}
		if !ok {
			idsSpan.End()
			return nil, apperrors.Inconsistent("document %d has no external id", docid)
		}
		ids = append(ids, id)
	}
	idsSpan.End()

	sorts := make([]string, len(req.Sort))
	geo := false
	for i, crit := range req.Sort {
		sorts[i] = crit.String()
		geo = geo || crit.Geo
	}
	result := &SearchResult{
		Query:          req.Query,
		Placeholder:    plan.IsPlaceholder(),
		TotalHits:      int(res.Candidates.GetCardinality()),
		Offset:         req.Offset,
		Limit:          req.Limit,
		DocumentsIDs:   res.DocumentsIDs,
		IDs:            ids,
		Sort:           sorts,
		RankingRules:   res.Rules,
		Buckets:        counter.Buckets,
		SkippedBuckets: counter.Skipped,
		DBCache:        res.CacheStats,
	}
	if geo {
		result.GeoStrategy = strategy.String()
	}
	if result.DocumentsIDs == nil {
		result.DocumentsIDs = []uint32{}
	}
	e.observe(result)

	logger.FromContext(ctx).Info("query executed",
		"query", req.Query,
		"terms", len(plan.Terms),
		"candidates", result.TotalHits,
		"results", len(ids),
		"rules", res.Rules,
		"duration", time.Since(span.StartTime),
	)
	return result, nil
}

func (e *Executor) observe(r *SearchResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveRankingRules(r.Buckets, r.SkippedBuckets)
	e.metrics.SearchCandidates.Observe(float64(r.TotalHits))
	e.metrics.DBCacheLookups.WithLabelValues("hit").Add(float64(r.DBCache.Hits))
	e.metrics.DBCacheLookups.WithLabelValues("miss").Add(float64(r.DBCache.Misses))
}

// DocumentCount returns the number of documents in the index.
func (e *Executor) DocumentCount() (uint64, error) {
	var n uint64
	err := e.idx.View(func(s *index.Snapshot) error {
		ids, err := s.DocumentsIDs()
		if err != nil {
			return err
		}
		n = ids.GetCardinality()
		return nil
	})
	return n, err
}
