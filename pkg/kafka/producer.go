package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Event is one message to publish. Events with the same Key land on the same
// partition; Value is encoded as JSON.
type Event struct {
	Key   string
	Value any
}

// ProducerOption adjusts the writer before it is used.
type ProducerOption func(*kafka.Writer)

// Compressed snappy-compresses each batch.
func Compressed() ProducerOption {
	return func(w *kafka.Writer) { w.Compression = kafka.Snappy }
}

// WithBatchTimeout bounds how long the writer waits to fill a batch.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(w *kafka.Writer) { w.BatchTimeout = d }
}

// Producer writes events to a single topic. Writes are synchronous and wait
// for all in-sync replicas.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string, opts ...ProducerOption) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes events in one call. An event whose value cannot be encoded
// fails the whole call before anything is sent.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	messages, err := encode(events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("failed to publish", "count", len(messages), "error", err)
		return fmt.Errorf("publishing %d events to kafka: %w", len(messages), err)
	}
	p.logger.Debug("published", "count", len(messages))
	return nil
}

// PublishBatch is Publish for callers holding a slice.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	return p.Publish(ctx, events...)
}

// Stats reports the writer's counters since the previous call.
func (p *Producer) Stats() kafka.WriterStats {
	return p.writer.Stats()
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func encode(events []Event) ([]kafka.Message, error) {
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		value, err := json.Marshal(event.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding event %q: %w", event.Key, err)
		}
		messages[i] = kafka.Message{Key: []byte(event.Key), Value: value}
	}
	return messages, nil
}
