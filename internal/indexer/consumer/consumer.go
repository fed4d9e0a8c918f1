// Package consumer reads documents from Kafka and feeds them to the indexer
// engine.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/kafka"
)

// DocumentIndexer is the part of indexer.Engine the consumer needs.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, doc map[string]any) (uint32, error)
}

var _ DocumentIndexer = (*indexer.Engine)(nil)

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that decodes each message value as
// one JSON document and indexes it. Undecodable or invalid documents are
// logged and skipped so they do not block the partition; storage failures
// are returned so the Kafka consumer retries the message.
func HandleMessage(engine DocumentIndexer) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		doc, err := kafka.DecodeJSON[map[string]any](value)
		if err != nil {
			logger.Error("failed to decode document",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if doc == nil {
			logger.Warn("skipping null document", "key", string(key))
			return nil
		}

		docid, err := engine.IndexDocument(ctx, doc)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				logger.Warn("skipping invalid document",
					"key", string(key),
					"error", err,
				)
				return nil
			}
			return fmt.Errorf("indexing document %s: %w", string(key), err)
		}

		logger.Debug("document indexed",
			"key", string(key),
			"docid", docid,
		)
		return nil
	}
}
