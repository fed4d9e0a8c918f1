package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls Retry. Zero fields take the defaults.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// Permanent reports errors that retrying cannot fix.
	Permanent func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	return c
}

// backoff is the sleep after the given failed attempt (1-based): exponential,
// jittered by ±JitterFraction, capped at MaxDelay.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	d *= 1 + c.JitterFraction*(2*rand.Float64()-1)
	return time.Duration(min(max(d, float64(c.InitialDelay)/2), float64(c.MaxDelay)))
}

func (c RetryConfig) permanent(err error) bool {
	return c.Permanent != nil && c.Permanent(err)
}

// Retry calls fn until it succeeds, returns a permanent error, ctx is done
// or MaxAttempts is reached.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)

	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if cfg.permanent(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempt, err)
		}

		delay := cfg.backoff(attempt)
		logger.Warn("attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"next_delay", delay,
			"error", err,
		)
		timer.Reset(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("%s: retry aborted: %w (last error: %v)", name, ctx.Err(), err)
		}
	}
}
