// Package metrics serves the recorder's Prometheus scrape endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Prometheus gatherer at /metrics and a liveness probe at
// /health.
type Server struct {
	srv *http.Server
}

// NewServer builds the metrics server for addr (e.g. ":9090"). Nothing
// listens until Start.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newHandler(gatherer),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func newHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		// Liveness only. There is no separate readiness probe: the process
		// exits outright when it cannot acquire the lock or open the record.
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok") //nolint:errcheck // best-effort probe response
	})
	return mux
}

// Start begins listening and returns immediately. The channel yields the
// serve error, if any, and closes once the listener stops.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server on %s: %w", s.srv.Addr, err)
		}
	}()
	return errCh
}

// Shutdown drains in-flight scrapes, waiting until done or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
