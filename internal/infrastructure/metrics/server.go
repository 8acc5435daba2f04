// Package metrics exposes the Prometheus scrape endpoint and a JSON
// health endpoint on one HTTP port.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradebot/internal/core"
	"tradebot/internal/infrastructure/health"
)

// Server serves /metrics for Prometheus and /healthz for probes.
type Server struct {
	port   int
	health *health.Manager
	logger core.ILogger
	srv    *http.Server
}

// NewServer creates the metrics server. health may be nil, in which
// case /healthz always reports ok.
func NewServer(port int, healthMgr *health.Manager, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: healthMgr,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Start starts the HTTP server in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("starting metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.health == nil {
		w.Write([]byte(`{"status":"ok"}`))
		return
	}

	body := map[string]interface{}{
		"status":     "ok",
		"components": s.health.Status(),
	}
	if !s.health.IsHealthy() {
		body["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(body)
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping metrics server")
	return s.srv.Shutdown(ctx)
}
