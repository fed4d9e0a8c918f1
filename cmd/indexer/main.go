package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	input := flag.String("input", "", "NDJSON file of documents to load; - reads stdin")
	follow := flag.Bool("follow", false, "keep consuming documents from kafka after the load")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *input == "" && !*follow {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -input, -follow or both")
		os.Exit(2)
	}

	logger.Setup(cfg.Logging, "indexer")
	slog.Info("starting indexer",
		"index", cfg.Index.Path,
		"batch_size", cfg.Indexer.FlushBatchSize,
		"follow", *follow,
	)

	idx, err := index.Open(cfg.Index.Path, index.Options{OpenTimeout: cfg.Index.OpenTimeout})
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled && *follow {
		m = metrics.New()
	}

	var tracker analytics.Tracker
	var collector *analytics.Collector
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents, kafka.Compressed())
		defer producer.Close()
		collector = analytics.NewCollector(producer, cfg.Analytics.BufferSize, 100, time.Second)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector
	}

	engine, err := indexer.NewEngine(idx, cfg.Indexer, tracker, m)
	if err != nil {
		slog.Error("failed to create indexer engine", "error", err)
		os.Exit(1)
	}

	if *input != "" {
		start := time.Now()
		n, err := load(ctx, engine, *input)
		if err != nil {
			slog.Error("document load failed", "loaded", n, "error", err)
			os.Exit(1)
		}
		slog.Info("documents loaded", "count", n, "duration", time.Since(start))
	}
	if !*follow {
		return
	}

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.Documents,
		consumer.HandleMessage(engine),
		kafka.WithGroup(cfg.Kafka.ConsumerGroup+"-indexer"),
		kafka.FromBeginning(),
	)
	indexConsumer := consumer.New(kafkaConsumer)
	slog.Info("indexer following kafka",
		"topic", cfg.Kafka.Topics.Documents,
		"flush_interval", cfg.Indexer.FlushInterval,
	)

	g, gctx := errgroup.WithContext(ctx)
	if m != nil {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Port) })
	}
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return indexConsumer.Start(gctx) })
	if err := g.Wait(); err != nil {
		slog.Error("indexer error", "error", err)
	}
	slog.Info("indexer stopped")
}

func load(ctx context.Context, engine *indexer.Engine, path string) (int, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	return engine.IndexNDJSON(ctx, r)
}
