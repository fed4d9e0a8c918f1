package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/pkg/logger"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID reuses the caller's X-Request-ID or generates one, stores it in
// the request context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// GetRequestID returns the id stored by RequestID, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	return logger.RequestID(ctx)
}
