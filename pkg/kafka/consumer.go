// Package kafka provides the Kafka producer and consumer used for search
// analytics and document ingestion, backed by segmentio/kafka-go. Values
// travel as JSON.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

type consumerSettings struct {
	reader kafka.ReaderConfig
	retry  resilience.RetryConfig
}

// ConsumerOption adjusts the reader configuration.
type ConsumerOption func(*consumerSettings)

// FromBeginning makes a new consumer group start at the oldest message
// instead of the newest. The indexer uses it so no document is skipped.
func FromBeginning() ConsumerOption {
	return func(s *consumerSettings) { s.reader.StartOffset = kafka.FirstOffset }
}

// WithGroup overrides the consumer group from the config.
func WithGroup(group string) ConsumerOption {
	return func(s *consumerSettings) { s.reader.GroupID = group }
}

// WithHandlerRetries sets how many times a failing message is handled
// before it is skipped.
func WithHandlerRetries(attempts int) ConsumerOption {
	return func(s *consumerSettings) { s.retry.MaxAttempts = attempts }
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	s := consumerSettings{
		reader: kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1e3,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		},
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Permanent:    func(err error) bool { return errors.Is(err, apperrors.ErrInvalidInput) },
		},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Consumer{
		reader:  kafka.NewReader(s.reader),
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry:   s.retry,
	}
}

// Start fetches and handles messages until ctx is cancelled. A message whose
// handler keeps failing is retried with backoff; once the attempts are used
// up it is logged and committed so the partition moves on.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "group", c.reader.Config().GroupID)
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
		log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

		err = resilience.Retry(ctx, "kafka-handle", c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("giving up on message", "key", string(msg.Key), "error", err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("failed to commit message", "error", err)
		}
	}
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
