// Package tracing provides a lightweight span tree propagated through
// contexts. A search opens a root span, the pipeline stages open children,
// and the finished tree is written to slog.
package tracing

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

type contextKey string

const spanKey contextKey = "trace_span"

// Span is a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any
	mu        sync.Mutex
}

func newSpan(name, traceID string) *Span {
	return &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
}

// StartSpan creates a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey, span), span
}

// StartChildSpan creates a span under the one in ctx. Without a parent the
// child is a detached root with an empty trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	child := newSpan(name, "")
	if parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.Children = append(parent.Children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey, child), child
}

// End records the end time. Only the first call counts.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.EndTime.IsZero() {
		return
	}
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// Child returns the first direct child named name.
func (s *Span) Child(name string) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// SpanFromContext extracts the current Span from ctx, or nil if none.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanKey).(*Span); ok {
		return span
	}
	return nil
}

// Log writes the span tree to logger, one record per span, depth first.
func (s *Span) Log(logger *slog.Logger) {
	s.logRecursive(logger, 0)
}

func (s *Span) logRecursive(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}
	keys := make([]string, 0, len(s.Attrs))
	for k := range s.Attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		attrs = append(attrs, k, s.Attrs[k])
	}
	children := slices.Clone(s.Children)
	s.mu.Unlock()

	logger.Debug("span", attrs...)
	for _, child := range children {
		child.logRecursive(logger, depth+1)
	}
}
