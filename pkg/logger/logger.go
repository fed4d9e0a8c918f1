// Package logger configures slog for the services and carries the request ID
// through contexts so search logs can be correlated per request.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
)

type requestIDKey struct{}

// Setup installs the process-wide default logger on stdout. Every record
// carries the service name.
func Setup(cfg config.LoggingConfig, service string) *slog.Logger {
	l := New(os.Stdout, cfg.Level, cfg.Format).With("service", service)
	slog.SetDefault(l)
	return l
}

// New builds a logger writing to w. format is "json" or text; level accepts
// the slog names (debug, info, warn, error) with optional offsets such as
// "debug+2". Unknown levels log at info.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if opts.Level.Level() < slog.LevelInfo {
		opts.AddSource = true
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the ID stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// FromContext returns the default logger tagged with the request ID of ctx,
// if any.
func FromContext(ctx context.Context) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return slog.Default().With("request_id", id)
	}
	return slog.Default()
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
