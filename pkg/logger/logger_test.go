package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "json")

	l.Info("dropped")
	l.Warn("kept", "rule", "typo")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["rule"] != "typo" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	if got := RequestID(ctx); got != "req-42" {
		t.Errorf("RequestID() = %q", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("empty context must have no request id, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info+2":  slog.LevelInfo + 2,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
