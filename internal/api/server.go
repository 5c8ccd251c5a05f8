package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"solana-copy-bot/internal/ledger"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server exposes read-only engine state over HTTP for dashboards and
// monitoring. It is a pure consumer of ledger snapshots: nothing served
// here is required for trading correctness.
type Server struct {
	ledger    *ledger.Ledger
	router    *mux.Router
	srv       *http.Server
	startedAt time.Time
	logger    *zap.Logger
}

// NewServer creates the status API server listening on addr.
func NewServer(addr string, ldg *ledger.Ledger, logger *zap.Logger) *Server {
	s := &Server{
		ledger:    ldg,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
		logger:    logger,
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      cors.Default().Handler(s.router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("status API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status API server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("status API shutdown error", zap.Error(err))
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Positions())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	processed, executed := s.ledger.Counters()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"open_positions":       len(s.ledger.Positions()),
		"processed_signatures": processed,
		"executed_trades":      executed,
		"uptime_seconds":       int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
