package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "search", "trace-1")
	uctx, universe := StartChildSpan(ctx, "universe")
	universe.SetAttr("candidates", 42)
	universe.End()
	_, sort := StartChildSpan(ctx, "bucket_sort")
	sort.End()
	root.End()

	if SpanFromContext(uctx) != universe {
		t.Errorf("context does not carry the child span")
	}
	if got := root.Child("universe"); got != universe || got.TraceID != "trace-1" {
		t.Errorf("universe child = %+v", got)
	}
	if root.Child("bucket_sort") == nil || root.Child("missing") != nil {
		t.Errorf("unexpected children: %v", root.Children)
	}

	first := root.EndTime
	root.End()
	if !root.EndTime.Equal(first) {
		t.Errorf("second End moved the end time")
	}

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("logged %d spans, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "span=universe") || !strings.Contains(lines[1], "candidates=42") {
		t.Errorf("universe record = %s", lines[1])
	}
}

func TestDetachedChild(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	if span.TraceID != "" {
		t.Errorf("orphan trace id = %q", span.TraceID)
	}
}
