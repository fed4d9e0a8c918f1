// Package indexer batches incoming documents into an index.Builder and
// commits them to the on-disk index when the batch is full or the flush
// interval elapses.
package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/metrics"
)

// CommitHook runs after every successful commit.
type CommitHook func(ctx context.Context, committed int)

type Engine struct {
	idx     *index.Index
	builder *index.Builder
	cfg     config.IndexerConfig
	tracker analytics.Tracker
	metrics *metrics.Metrics
	hooks   []CommitHook
	logger  *slog.Logger

	// flushMu serializes commits; the builder guards its own state.
	flushMu sync.Mutex
}

// NewEngine returns an Engine writing to idx. tracker, which receives one
// analytics.IndexEvent per commit, and m may be nil.
func NewEngine(idx *index.Index, cfg config.IndexerConfig, tracker analytics.Tracker, m *metrics.Metrics) (*Engine, error) {
	if cfg.FlushBatchSize <= 0 {
		return nil, fmt.Errorf("flush batch size must be positive, got %d", cfg.FlushBatchSize)
	}
	b, err := idx.NewBuilder(index.Settings{
		PrimaryKey:       cfg.PrimaryKey,
		SearchableFields: cfg.Searchable,
		ExactAttributes:  cfg.Exact,
		SortableFields:   cfg.Sortable,
		Criteria:         cfg.Criteria,
	})
	if err != nil {
		return nil, fmt.Errorf("creating index builder: %w", err)
	}
	e := &Engine{
		idx:     idx,
		builder: b,
		cfg:     cfg,
		tracker: tracker,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
	if m != nil {
		if total, err := e.documentCount(); err == nil {
			m.IndexDocuments.Set(float64(total))
		}
	}
	return e, nil
}

// OnCommit registers a hook run after each successful commit.
func (e *Engine) OnCommit(hook CommitHook) {
	e.hooks = append(e.hooks, hook)
}

// IndexDocument adds doc to the pending batch and commits the batch once it
// holds FlushBatchSize documents.
func (e *Engine) IndexDocument(ctx context.Context, doc map[string]any) (uint32, error) {
	docid, err := e.builder.AddDocument(doc)
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Inc()
	}
	e.logger.Debug("document buffered", "docid", docid, "pending", e.builder.DocCount())

	if e.builder.DocCount() >= e.cfg.FlushBatchSize {
		e.logger.Info("batch full, flushing",
			"pending", e.builder.DocCount(),
			"threshold", e.cfg.FlushBatchSize,
		)
		if err := e.Flush(ctx); err != nil {
			return docid, fmt.Errorf("flushing batch: %w", err)
		}
	}
	return docid, nil
}

// IndexNDJSON indexes one JSON object per line of r and flushes at the end.
// Blank lines are skipped; a malformed line aborts the load.
func (e *Engine) IndexNDJSON(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n, line := 0, 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return n, err
		}
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return n, fmt.Errorf("line %d: decoding document: %w", line, err)
		}
		if _, err := e.IndexDocument(ctx, doc); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("reading documents: %w", err)
	}
	return n, e.Flush(ctx)
}

// Flush commits the pending documents. It is a no-op when nothing is
// pending. A failed commit keeps the batch so the next flush retries it.
func (e *Engine) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	pending := e.builder.DocCount()
	if pending == 0 {
		return nil
	}
	size := e.builder.Size()
	start := time.Now()
	err := e.builder.Commit(e.idx)
	elapsed := time.Since(start)

	event := analytics.IndexEvent{
		Type:      analytics.EventIndex,
		Documents: pending,
		SizeBytes: size,
		LatencyMs: elapsed.Milliseconds(),
		Failed:    err != nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		e.observeFlush("error", 0)
		e.track(event)
		return fmt.Errorf("committing %d documents: %w", pending, err)
	}

	total, countErr := e.documentCount()
	if countErr != nil {
		e.logger.Warn("reading document count failed", "error", countErr)
	}
	event.Total = total
	e.observeFlush("ok", total)
	e.track(event)
	e.logger.Info("batch committed",
		"documents", pending,
		"size_bytes", size,
		"total_documents", total,
		"duration", elapsed,
	)
	for _, hook := range e.hooks {
		hook(ctx, pending)
	}
	return nil
}

// Run flushes every FlushInterval until ctx is cancelled, then flushes
// whatever is still pending.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// The final commit must not be cut short by the cancelled context.
			if err := e.Flush(context.WithoutCancel(ctx)); err != nil {
				return fmt.Errorf("final flush: %w", err)
			}
			return nil
		case <-ticker.C:
			if err := e.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("periodic flush failed", "error", err)
			}
		}
	}
}

// Pending returns the number of documents waiting for a commit.
func (e *Engine) Pending() int {
	return e.builder.DocCount()
}

func (e *Engine) documentCount() (uint64, error) {
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

func (e *Engine) observeFlush(status string, total uint64) {
	if e.metrics == nil {
		return
	}
	e.metrics.IndexFlushesTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		e.metrics.IndexDocuments.Set(float64(total))
	}
}

func (e *Engine) track(event analytics.IndexEvent) {
	if e.tracker != nil {
		e.tracker.Track(event)
	}
}
