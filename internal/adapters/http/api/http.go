// Package api exposes the status surface of the ingestion service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/okian/meterbridge/internal/adapters/journal"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// Trigger asks for an out-of-schedule cycle.
	Trigger(ctx context.Context, reason model.TriggerReason) (model.Trigger, error)

	// History returns journaled cycles, newest first.
	History(ctx context.Context, limit int) ([]journal.Cycle, error)
}

// Server wires HTTP routes for the status API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	triggerHandler *TriggerHandler
	cyclesHandler  *CyclesHandler
	logger         logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		triggerHandler: NewTriggerHandler(deps, log),
		cyclesHandler:  NewCyclesHandler(deps),
		logger:         log,
	}
}

// Register attaches all routes to r.
func (s *Server) Register(_ context.Context, r *mux.Router) {
	if r == nil {
		panic("router is nil")
	}
	r.Use(MetricsMiddleware)

	r.HandleFunc("/healthz", s.healthHandler.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.healthHandler.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.statsHandler.HandleStats).Methods(http.MethodGet)
	r.HandleFunc("/trigger", s.triggerHandler.HandleTrigger).Methods(http.MethodPost)
	r.HandleFunc("/cycles", s.cyclesHandler.HandleCycles).Methods(http.MethodGet)
}

// Handler returns the routed API with panic recovery. extra registers
// additional routes on the same router.
func (s *Server) Handler(ctx context.Context, extra ...func(context.Context, *mux.Router)) http.Handler {
	r := mux.NewRouter()
	s.Register(ctx, r)
	for _, register := range extra {
		register(ctx, r)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{log: s.logger}),
		handlers.PrintRecoveryStack(false),
	)(r)
}

// recoveryLogger forwards recovered handler panics to the structured logger.
type recoveryLogger struct {
	log logger.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.log.Error(context.Background(), "http handler panicked", logger.String("panic", fmt.Sprint(v...)))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
