package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	diagnosticsReadHeaderTimeout = 5 * time.Second
	diagnosticsShutdownTimeout   = 5 * time.Second
)

// MetricsHandler serves registry in the Prometheus exposition format. Scrapes
// of the handler itself are counted in promhttp_metric_handler_requests_total.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(registry,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
}

// DiagnosticsServer serves /healthz, /readyz and /metrics for the lifetime
// of a count run.
type DiagnosticsServer struct {
	server   *http.Server
	listener net.Listener
	served   chan error
}

// StartDiagnostics listens on addr and serves the diagnostics endpoints in
// the background until Close. Readiness is the conjunction of checks.
func StartDiagnostics(
	ctx context.Context, addr string, registry *prometheus.Registry, checks ...ReadyCheck,
) (*DiagnosticsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", HealthHandler())
	mux.Handle("GET /readyz", ReadyHandler(checks...))
	mux.Handle("GET /metrics", MetricsHandler(registry))

	var lc net.ListenConfig

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: listen on %s: %w", addr, err)
	}

	d := &DiagnosticsServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: diagnosticsReadHeaderTimeout,
			BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		},
		listener: listener,
		served:   make(chan error, 1),
	}

	go func() {
		d.served <- d.server.Serve(listener)
	}()

	return d, nil
}

// Addr returns the address the server is listening on.
func (d *DiagnosticsServer) Addr() string {
	return d.listener.Addr().String()
}

// Close shuts the server down, waiting for in-flight scrapes, and reports
// any error the serve loop stopped with.
func (d *DiagnosticsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), diagnosticsShutdownTimeout)
	defer cancel()

	err := d.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("diagnostics: shutdown: %w", err)
	}

	serveErr := <-d.served
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("diagnostics: serve: %w", serveErr)
	}

	return nil
}
