package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/simbricks/runner/pkg/logger"
)

// Server exposes /healthz and /readyz endpoints. /healthz reports whether the
// process is alive; /readyz additionally requires configuration to have
// loaded successfully and the process not to be in the middle of shutting
// down, matching the two-phase startup used by cmd/main-runner.
type Server struct {
	server *http.Server
	log    logger.Logger
	port   string

	configLoaded atomic.Bool
	shuttingDown atomic.Bool
}

// NewServer builds a health server bound to port.
func NewServer(log logger.Logger, port string) *Server {
	s := &Server{log: log, port: port}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)

	s.server = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetConfigLoaded marks configuration as having finished loading
// successfully. Call once, after the config loader returns without error.
func (s *Server) SetConfigLoaded() {
	s.configLoaded.Store(true)
}

// SetShuttingDown marks the process as tearing down so /readyz starts
// failing ahead of the process actually exiting, giving load balancers a
// chance to stop sending new work.
func (s *Server) SetShuttingDown(down bool) {
	s.shuttingDown.Store(down)
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, "ok")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		writeHealthJSON(w, http.StatusServiceUnavailable, "shutting_down")
		return
	}
	if !s.configLoaded.Load() {
		writeHealthJSON(w, http.StatusServiceUnavailable, "config_not_loaded")
		return
	}
	writeHealthJSON(w, http.StatusOK, "ready")
}

func writeHealthJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: body})
}

// Start starts the health server in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.log.Infof(ctx, "starting health server on port %s", s.port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCtx := logger.WithErrorField(ctx, err)
			s.log.Errorf(errCtx, "health server error")
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down health server")
	return s.server.Shutdown(ctx)
}
