package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics and /healthz for the lifetime of a run.
type Server struct {
	server   *http.Server
	listener net.Listener
}

// Serve starts an HTTP server on addr exposing the collector's registry.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux}
	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("Metrics server stopped.", "error", serveErr)
		}
	}()
	logger.Info("Serving metrics.", slog.String("addr", listener.Addr().String()))
	return &Server{server: srv, listener: listener}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close shuts the server down.
func (s *Server) Close() error {
	if err := s.server.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
