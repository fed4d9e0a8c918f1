package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/errors"
)

// WithTimeout bounds a probe or backend call. fn runs in its own goroutine
// and is abandoned, not stopped, once the limit passes, so it must honour
// its context to release resources.
//
// A missed deadline matches both apperrors.ErrTimeout and
// context.DeadlineExceeded; a cancelled parent matches apperrors.ErrCancelled.
// A non-positive timeout calls fn directly.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(bounded) }()

	select {
	case err := <-done:
		if err == nil || bounded.Err() == nil {
			return err
		}
	case <-bounded.Done():
	}
	if cause := ctx.Err(); cause != nil {
		return fmt.Errorf("%s: %w: %w", name, apperrors.ErrCancelled, cause)
	}
	return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
}
