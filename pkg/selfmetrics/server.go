package selfmetrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Serve registers collector with a fresh prometheus.Registry and starts an
// HTTP server on addr exposing it at /metrics, exactly like
// runZeroInc-sockstats/cmd/exporter_example2's promhttp.Handler() wiring.
// It blocks until ctx is cancelled, then shuts the server down gracefully.
func Serve(ctx context.Context, addr string, collector *Collector) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return server.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
