package middleware

import (
	"bytes"
	"context"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/logger"
)

// Timeout cancels the request context after timeout. The handler writes into
// a buffer that is copied out when it returns in time; otherwise the client
// gets a 504 and the late response is discarded. The bucket sort checks its
// context between buckets, so a cancelled search stops early.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			bw := &bufferedWriter{header: make(http.Header)}
			done := make(chan struct{})
			panicked := make(chan any, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
				}()
				next.ServeHTTP(bw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case p := <-panicked:
				panic(p)
			case <-done:
				bw.mu.Lock()
				defer bw.mu.Unlock()
				maps.Copy(w.Header(), bw.header)
				w.WriteHeader(bw.status())
				w.Write(bw.body.Bytes())
			case <-ctx.Done():
				bw.mu.Lock()
				bw.expired = true
				bw.mu.Unlock()
				logger.FromContext(r.Context()).Warn("request timed out",
					"method", r.Method,
					"path", r.URL.Path,
					"timeout", timeout,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusGatewayTimeout)
				w.Write([]byte(`{"error":"request timeout"}`))
			}
		})
	}
}

type bufferedWriter struct {
	mu      sync.Mutex
	header  http.Header
	body    bytes.Buffer
	code    int
	expired bool
}

func (bw *bufferedWriter) Header() http.Header { return bw.header }

func (bw *bufferedWriter) WriteHeader(code int) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.code == 0 {
		bw.code = code
	}
}

func (bw *bufferedWriter) Write(b []byte) (int, error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.expired {
		return 0, http.ErrHandlerTimeout
	}
	return bw.body.Write(b)
}

func (bw *bufferedWriter) status() int {
	if bw.code == 0 {
		return http.StatusOK
	}
	return bw.code
}
