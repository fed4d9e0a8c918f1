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
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/resilience"
)

const probeTimeout = 2 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging, "searcher")
	slog.Info("starting search service", "port", cfg.Server.Port, "index", cfg.Index.Path)

	idx, err := index.Open(cfg.Index.Path, index.Options{
		ReadOnly:    cfg.Index.ReadOnly,
		OpenTimeout: cfg.Index.OpenTimeout,
	})
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	exec, err := executor.New(idx, cfg.Search, m, cfg.Tracing.Enabled)
	if err != nil {
		slog.Error("failed to create executor", "error", err)
		os.Exit(1)
	}
	slog.Info("query executor ready", "geo_strategy", exec.GeoStrategy().String())

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
			FailureThreshold:    5,
			ResetTimeout:        30 * time.Second,
			HalfOpenMaxRequests: 1,
			OnStateChange: func(name string, s resilience.State) {
				if m != nil {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
				}
			},
		})
		queryCache = cache.New(redisClient, cfg.Redis, breaker)
		slog.Info("search cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	if m != nil {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Port) })
	}

	// The local aggregator serves this instance's live stats; the collector
	// ships the same events to cmd/analytics.
	aggregator := analytics.NewAggregator()
	tracker := analytics.Tee{aggregator}
	var collector *analytics.Collector
	var producer *kafka.Producer
	if cfg.Analytics.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents, kafka.Compressed())
		defer producer.Close()
		collector = analytics.NewCollector(producer, cfg.Analytics.BufferSize, 100, time.Second)
		collector.Start(gctx)
		tracker = append(tracker, collector)
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.SearchEvents)
	}

	// A writable index makes this process the single writer of the file, so
	// documents are consumed here and every commit invalidates the cache.
	if !cfg.Index.ReadOnly {
		engine, err := indexer.NewEngine(idx, cfg.Indexer, tracker, m)
		if err != nil {
			slog.Error("failed to create indexer engine", "error", err)
			os.Exit(1)
		}
		if queryCache != nil {
			engine.OnCommit(func(ctx context.Context, _ int) {
				if err := queryCache.Invalidate(ctx); err != nil {
					slog.Warn("cache invalidation after commit failed", "error", err)
				}
			})
		}
		docConsumer := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Documents,
			consumer.HandleMessage(engine),
			kafka.WithGroup(cfg.Kafka.ConsumerGroup+"-indexer"),
			kafka.FromBeginning(),
		))
		g.Go(func() error { return engine.Run(gctx) })
		g.Go(func() error { return docConsumer.Start(gctx) })
		slog.Info("in-process ingestion enabled", "topic", cfg.Kafka.Topics.Documents)
	}

	checker := health.NewChecker()
	checker.Register("index", health.Ping(func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, probeTimeout, "index", func(context.Context) error {
			_, err := exec.DocumentCount()
			return err
		})
	}, health.StatusDown))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.Ping(func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, probeTimeout, "redis", redisClient.Ping)
		}, health.StatusDegraded)(ctx)
	})

	h := handler.New(exec, queryCache, tracker, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator, nil).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	// the executor times out first and answers 503; this only catches stalls around it
	chain = middleware.Timeout(cfg.Search.Timeout + time.Second)(chain)
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
		defer limiter.Close()
		chain = middleware.RateLimit(limiter)(chain)
	}
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
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
		slog.Error("search service error", "error", err)
	}
	if collector != nil {
		collector.Close()
		if dropped := collector.Dropped(); dropped > 0 {
			slog.Warn("analytics events dropped", "count", dropped)
		}
		stats := producer.Stats()
		slog.Info("analytics producer totals", "messages", stats.Messages, "errors", stats.Errors)
	}
	slog.Info("search service stopped")
}
