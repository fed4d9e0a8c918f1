package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/kafka"
)

// Publisher is the part of kafka.Producer the collector needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers events off the request path and publishes them in
// batches, when a batch fills up or every flushInterval.
type Collector struct {
	producer      Publisher
	eventCh       chan any
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	closeOnce     sync.Once

	mu      sync.Mutex
	dropped int64
}

// NewCollector returns a Collector holding up to bufferSize unsent events.
func NewCollector(producer Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Collector{
		producer:      producer,
		eventCh:       make(chan any, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the publish loop. It stops, after a final flush, when ctx
// is cancelled or Close is called.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, c.batchSize)
		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				return
			}
			if err := c.producer.PublishBatch(ctx, batch); err != nil {
				c.logger.Error("failed to publish analytics events", "events", len(batch), "error", err)
			}
			batch = batch[:0]
		}
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					flush(context.Background())
					return
				}
				batch = append(batch, kafka.Event{Key: Key(event), Value: event})
				if len(batch) >= c.batchSize {
					flush(ctx)
				}
			case <-ticker.C:
				flush(ctx)
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.drainInto(&batch)
				flush(shutdownCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track queues an event. It never blocks: when the buffer is full the event
// is dropped.
func (c *Collector) Track(event any) {
	select {
	case c.eventCh <- event:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Dropped returns the number of events lost to a full buffer.
func (c *Collector) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close flushes the queued events and waits for the publish loop to exit.
// Track must not be called afterwards.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	<-c.done
}

func (c *Collector) drainInto(batch *[]kafka.Event) {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			*batch = append(*batch, kafka.Event{Key: Key(event), Value: event})
		default:
			return
		}
	}
}
