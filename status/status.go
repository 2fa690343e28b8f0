// Package status exposes the engine's health and aggregate metrics over
// HTTP. The surface is deliberately small: a liveness check, a JSON metrics
// snapshot, and session listing/cancellation for operators.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/trafficflou/trafficflou/engine"
	"github.com/trafficflou/trafficflou/logging"
)

// Options configure the status server.
type Options struct {
	// Addr is the listen address.
	Addr string
	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Logger receives request errors. Defaults to NoOp.
	Logger logging.Logger
}

// Server serves the status endpoints.
type Server struct {
	engine *engine.Engine
	router *mux.Router
	srv    *http.Server
	logger logging.Logger
}

// New constructs a status server over the engine.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:         ":8089",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{engine: eng, logger: opts.Logger}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}", s.handleCancel).Methods(http.MethodDelete)

	s.srv = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Handler returns the route handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("status server listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.engine.Running(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	ids := s.engine.ActiveSessions()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(ids),
		"sessions": ids,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.engine.CancelSession(id) {
		s.writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"cancelled": id})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
