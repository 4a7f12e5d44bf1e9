// Package httpadapter exposes the health, readiness, metrics, and snapshot
// endpoints. The snapshot routes are the presentation layer's only coupling
// to the core: read-only views of the current published snapshot.
package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/quake-watch-service/internal/domain"
)

// SnapshotProvider is the read-only surface the orchestrator exposes.
type SnapshotProvider interface {
	Snapshot() (*domain.Snapshot, bool)
	CheckReadiness(ctx context.Context) error
	LastError() string
}

// Server exposes the HTTP endpoints.
type Server struct {
	httpServer *http.Server
	provider   SnapshotProvider
	logger     *slog.Logger
}

// NewServer creates an HTTP server with health, readiness, metrics, and
// snapshot API routes.
func NewServer(addr string, provider SnapshotProvider, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		provider: provider,
		logger:   logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/recommendations", s.handleRecommendations)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.provider.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.provider.Snapshot()
	if !ok {
		s.writeNotAvailable(w)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.provider.Snapshot()
	if !ok {
		s.writeNotAvailable(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_sequence": snap.Sequence,
		"cycle_time":     snap.CycleTime,
		"events":         snap.Events,
	})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.provider.Snapshot()
	if !ok {
		s.writeNotAvailable(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_sequence":  snap.Sequence,
		"cycle_time":      snap.CycleTime,
		"recommendations": snap.Recommendations,
	})
}

func (s *Server) writeNotAvailable(w http.ResponseWriter) {
	body := map[string]string{"error": "snapshot not yet available"}
	if lastErr := s.provider.LastError(); lastErr != "" {
		body["last_error"] = lastErr
	}
	writeJSON(w, http.StatusServiceUnavailable, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response body
}
