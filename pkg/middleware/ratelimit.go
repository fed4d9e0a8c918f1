package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is an in-memory token bucket per client key. Each key holds up to
// limit tokens, refilled continuously over window.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   float64
	window  time.Duration
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewLimiter starts a limiter allowing limit requests per window per key.
// Close stops its cleanup goroutine.
func NewLimiter(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   float64(limit),
		window:  window,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Allow takes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.limit - 1, last: now}
		return true
	}
	refill := now.Sub(b.last).Seconds() * l.limit / l.window.Seconds()
	b.tokens = min(b.tokens+refill, l.limit)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

// evictLoop drops keys idle for two windows; a refilled bucket is the same
// as a missing one.
func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(max(l.window, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-2 * l.window)
			for key, b := range l.buckets {
				if b.last.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// RateLimit rejects requests with 429 once the client, identified by its
// remote IP, has used up its tokens.
func RateLimit(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(max(l.window.Seconds()/l.limit, 1))))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
