package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	up := Ping(func(context.Context) error { return nil }, StatusDown)
	degraded := Ping(func(context.Context) error { return errors.New("connection refused") }, StatusDegraded)
	down := Ping(func(context.Context) error { return errors.New("index closed") }, StatusDown)

	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{"all up", map[string]Check{"index": up, "redis": up}, StatusUp},
		{"optional dependency failing", map[string]Check{"index": up, "redis": degraded}, StatusDegraded},
		{"required dependency failing", map[string]Check{"index": down, "redis": degraded}, StatusDown},
	}
	for _, tt := range tests {
		c := NewChecker()
		for name, check := range tt.checks {
			c.Register(name, check)
		}
		report := c.Run(context.Background())
		if report.Status != tt.want {
			t.Errorf("%s: status = %s, want %s", tt.name, report.Status, tt.want)
		}
		if len(report.Components) != len(tt.checks) {
			t.Errorf("%s: %d components reported", tt.name, len(report.Components))
		}
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("redis", Ping(func(context.Context) error { return errors.New("timeout") }, StatusDegraded))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("degraded: status = %d, want 200", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if got := report.Components["redis"]; got.Status != StatusDegraded || got.Message != "timeout" {
		t.Errorf("redis component = %+v", got)
	}
}

func TestReadyHandlerDown(t *testing.T) {
	c := NewChecker()
	c.Register("index", Ping(func(context.Context) error { return errors.New("index closed") }, StatusDown))
	c.Register("redis", Ping(func(context.Context) error { return nil }, StatusDegraded))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
