// Package health runs the readiness checks of a service (index file, Redis,
// Postgres) in parallel and serves them as liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Ping adapts a probe returning an error into a Check. A failing probe
// reports onFailure: StatusDegraded for dependencies the service can run
// without, such as the result cache, StatusDown for the index.
func Ping(probe func(ctx context.Context) error, onFailure Status) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := probe(ctx); err != nil {
			return ComponentHealth{Status: onFailure, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// Report is the outcome of one readiness run. Status is the worst component
// status.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "health"),
	}
}

// Register adds or replaces the check stored under name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every registered check concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]ComponentHealth, len(checks))
	)
	for name, check := range checks {
		wg.Go(func() {
			start := time.Now()
			res := check(ctx)
			res.Latency = time.Since(start).Round(time.Millisecond).String()
			if res.Status != StatusUp {
				c.logger.Warn("health check failing", "check", name, "status", res.Status, "message", res.Message)
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		})
	}
	wg.Wait()

	report := Report{Status: StatusUp, Components: results, Timestamp: time.Now().UTC()}
	for _, res := range results {
		if res.Status.severity() > report.Status.severity() {
			report.Status = res.Status
		}
	}
	return report
}

// LiveHandler answers 200 while the process is serving HTTP at all.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]Status{"status": StatusUp})
	}
}

// ReadyHandler runs the checks and answers 503 only when one is down; a
// degraded instance still takes traffic.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()
		report := c.Run(ctx)
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
