package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthResponse mirrors the teacher's HealthHandler response shape.
type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// StatusProvider reports the current cache/session state for the status
// endpoint; *plm.API satisfies it without the httpapi package needing to
// import its full surface.
type StatusProvider interface {
	SessionActive() bool
	CacheManifestConsistent(ctx context.Context) (bool, error)
}

// Server is the local status/progress HTTP surface (SPEC_FULL.md §3):
// /health, /status, /metrics, and /ws/progress, wired through gorilla/mux
// the way the teacher's internal/api.NewRouter composes routes.
type Server struct {
	router *mux.Router
	hub    *ProgressHub
	logger *slog.Logger
}

// NewServer builds the router. status may be nil if no live
// session/cache is available yet (e.g. before the first sync).
func NewServer(status StatusProvider, hub *ProgressHub, logger *slog.Logger, metricsEnabled bool, metricsPath string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{router: mux.NewRouter(), hub: hub, logger: logger}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus(status)).Methods(http.MethodGet)
	if hub != nil {
		s.router.HandleFunc("/ws/progress", hub.ServeWS)
	}
	if metricsEnabled {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		s.router.Handle(metricsPath, promhttp.Handler())
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Service: "arenasync", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode health response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

type statusResponse struct {
	SessionActive      bool   `json:"session_active"`
	CacheConsistent    bool   `json:"cache_consistent"`
	CacheCheckError    string `json:"cache_check_error,omitempty"`
	Timestamp          string `json:"timestamp"`
}

func (s *Server) handleStatus(status StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}
		if status != nil {
			resp.SessionActive = status.SessionActive()
			consistent, err := status.CacheManifestConsistent(r.Context())
			resp.CacheConsistent = consistent
			if err != nil {
				resp.CacheCheckError = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Error("failed to encode status response", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

// Run starts the server on addr and blocks until ctx is cancelled or the
// server fails, mirroring the teacher's signal-driven shutdown in
// cmd/server/main.go but scoped to this one http.Server instance.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
