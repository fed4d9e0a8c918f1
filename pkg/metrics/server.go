package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const scrapeTimeout = 10 * time.Second

// Handler serves the collectors of g in the Prometheus or OpenMetrics text
// format, depending on what the scraper asks for.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Timeout:           scrapeTimeout,
	})
}

// Serve exposes the default registry at /metrics on its own port until ctx
// is done, then shuts the listener down. It returns nil on a clean stop.
func Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(prometheus.DefaultGatherer))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      scrapeTimeout + time.Second,
	}
	logger := slog.Default().With("component", "metrics")

	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", server.Addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
