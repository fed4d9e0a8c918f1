// Package resilience wraps calls to the optional backing services (Redis,
// Postgres) in a circuit breaker, backoff retries and timeouts.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while the breaker is
// open or its half-open probes are in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker. Default 5.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before probing.
	// Default 30s.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests bounds concurrent probes. Default 1.
	HalfOpenMaxRequests int
	// IsFailure decides which errors count against the backend. The default
	// ignores cancellation by the caller.
	IsFailure func(error) bool
	// OnStateChange is called after every transition with the breaker's lock
	// held; it must not call back into the breaker.
	OnStateChange func(name string, s State)
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return c
}

type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the breaker is open, and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(s State) {
	if cb.state == s {
		return
	}
	cb.logger.Info("circuit state changed", "from", cb.state.String(), "to", s.String(), "failures", cb.failures)
	cb.state = s
	cb.probes = 0
	switch s {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, s)
	}
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !cb.cfg.IsFailure(err) {
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
		cb.failures = 0
		return
	}
	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen)
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.transition(StateOpen)
	}
}
