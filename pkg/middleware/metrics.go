// Package middleware provides the HTTP middleware of the search service:
// request ids, Prometheus metrics, request timeouts, per-client rate limits
// and CORS.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/metrics"
)

// Metrics records request count, latency and in-flight requests, labelled by
// method, folded path and status. Panicking handlers are still counted.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer func() {
				m.HTTPRequestsInFlight.Dec()
				path := normalizePath(r.URL.Path)
				m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
				m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
			}()
			next.ServeHTTP(sw, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// knownPaths are the routes recorded under their own label. Anything else
// is folded into "other" so scanners cannot blow up label cardinality.
var knownPaths = map[string]bool{
	"/api/v1/search":              true,
	"/api/v1/cache/stats":         true,
	"/api/v1/cache/invalidate":    true,
	"/api/v1/analytics":           true,
	"/api/v1/analytics/snapshots": true,
	"/health/live":                true,
	"/health/ready":               true,
}

func normalizePath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "other"
}
