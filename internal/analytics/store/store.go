// Package store persists aggregated analytics snapshots in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/resilience"
)

const schema = `
CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS analytics_snapshots_captured_at ON analytics_snapshots (captured_at DESC);
`

// Store reads and writes the analytics_snapshots table.
type Store struct {
	db     *postgres.Client
	retry  resilience.RetryConfig
	logger *slog.Logger
}

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			Permanent:    postgres.IsPermanent,
		},
		logger: slog.Default().With("component", "analytics-store"),
	}
}

// EnsureSchema creates the snapshot table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating analytics schema: %w", err)
	}
	return nil
}

// SaveSnapshot persists stats, retrying transient failures with backoff.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	err = resilience.Retry(ctx, "save-analytics-snapshot", s.retry, func() error {
		return s.db.InTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
				data, time.Now().UTC(),
			)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"total_docs_indexed", stats.TotalDocIndexed,
	)
	return nil
}

// LatestSnapshot returns the most recent snapshot, or nil, nil when none
// exists yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// ListSnapshots returns the last limit snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data FROM analytics_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []analytics.AggregatedStats
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, stats)
	}
	return snapshots, rows.Err()
}

// Prune deletes snapshots older than maxAge and returns how many went.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM analytics_snapshots WHERE captured_at < $1`,
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return res.RowsAffected()
}

// RunPeriodicSave snapshots agg every interval until ctx is cancelled, then
// writes a final snapshot.
func (s *Store) RunPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("periodic snapshot started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			return nil
		}
	}
}
