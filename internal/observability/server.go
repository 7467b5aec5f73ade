// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Package observability exposes bridge metrics and health over HTTP.
package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// Paths served by Server.
const (
	MetricsPath   = "/metrics"
	LivenessPath  = "/healthz/liveness"
	ReadinessPath = "/healthz/readiness"
)

// Readiness is satisfied by *bridge.Bridge.
type Readiness interface {
	Ready() bool
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors. Pass it to NewMetrics for the bridge counters and to NewServer
// for scraping.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Server serves MetricsPath, LivenessPath and ReadinessPath for a simulator
// harness. Readiness follows the bridge: 200 between Initialize and
// Finalize, 503 otherwise.
type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger

	mu   sync.Mutex
	http *http.Server
	ln   net.Listener
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for start, stop and serve errors.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer builds a server scraping gatherer and reporting ready's state.
// addr is "host:port"; ":0" picks a free port.
func NewServer(addr string, gatherer prometheus.Gatherer, ready Readiness, opts ...ServerOption) *Server {
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc(LivenessPath, func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "alive")
	})
	mux.HandleFunc(ReadinessPath, func(w http.ResponseWriter, _ *http.Request) {
		if ready == nil || !ready.Ready() {
			writeStatus(w, http.StatusServiceUnavailable, "bridge not initialized")
			return
		}
		writeStatus(w, http.StatusOK, "bridge ready")
	})

	s := &Server{addr: addr, handler: mux, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the endpoint mux without binding a socket.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds addr and serves in the background. Serve failures arrive on
// the returned channel, which closes once the server stops.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return nil, oops.In("observability").With("addr", s.ln.Addr().String()).Errorf("observability server already running")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.In("observability").With("addr", s.addr).Wrapf(err, "listen")
	}

	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.http, s.ln = srv, ln

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", "addr", ln.Addr().String(), "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("observability server listening", "addr", ln.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return oops.In("observability").With("addr", s.ln.Addr().String()).Wrapf(err, "shutdown")
	}
	s.http, s.ln = nil, nil

	s.logger.Info("observability server stopped")
	return nil
}

// Addr is the bound address, or "" when the server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func writeStatus(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	//nolint:errcheck // the scraper may already be gone
	io.WriteString(w, body+"\n")
}
