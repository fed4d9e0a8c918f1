// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search and index events from Kafka, aggregates them in memory
// (query volume, latency percentiles, cache hit rates, ranking-rule bucket
// counts, top queries and sorts), snapshots the aggregate to PostgreSQL and
// serves it at GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/analytics/store"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/resilience"
)

const pruneInterval = time.Hour

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging, "analytics")
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	aggregator := analytics.NewAggregator()
	checker := health.NewChecker()

	// Postgres is optional: without it the aggregate lives only in memory.
	var snapshots *store.Store
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
	} else {
		defer db.Close()
		snapshots = store.New(db)
		if err := snapshots.EnsureSchema(ctx); err != nil {
			slog.Error("failed to create analytics schema", "error", err)
			os.Exit(1)
		}
		restore(ctx, snapshots, aggregator)

		g.Go(func() error {
			return snapshots.RunPeriodicSave(gctx, aggregator, cfg.Analytics.SnapshotInterval)
		})
		if cfg.Analytics.SnapshotRetention > 0 {
			g.Go(func() error {
				return prune(gctx, snapshots, cfg.Analytics.SnapshotRetention)
			})
		}
		checker.Register("postgres", health.Ping(func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, 2*time.Second, "postgres", db.Ping)
		}, health.StatusDegraded))
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents, aggregator.Handle)
	g.Go(func() error { return consumer.Start(gctx) })
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.SearchEvents)

	var lister analytics.SnapshotLister
	if snapshots != nil {
		lister = snapshots
	}
	analyticsHandler := analytics.NewHandler(aggregator, lister)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", analyticsHandler.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		slog.Info("analytics service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("analytics service error", "error", err)
	}
	slog.Info("analytics service stopped")
}

// restore seeds the aggregator with the last persisted snapshot so counters
// survive restarts.
func restore(ctx context.Context, s *store.Store, agg *analytics.Aggregator) {
	latest, err := s.LatestSnapshot(ctx)
	if err != nil {
		slog.Warn("failed to load latest snapshot", "error", err)
		return
	}
	if latest == nil {
		return
	}
	if err := agg.Restore(*latest); err != nil {
		slog.Warn("ignoring unusable snapshot", "error", err)
		return
	}
	slog.Info("aggregator restored", "total_searches", latest.TotalSearches)
}

func prune(ctx context.Context, s *store.Store, retention time.Duration) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Prune(ctx, retention)
			if err != nil {
				slog.Warn("snapshot pruning failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("old snapshots pruned", "deleted", n, "retention", retention)
			}
		}
	}
}
