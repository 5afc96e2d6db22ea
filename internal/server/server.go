// Package server exposes the query engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dealerrag/internal/agent"
	"dealerrag/internal/config"
	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

// Version is stamped at build time.
var Version = "dev"

// HealthChecker reports one dependency's availability.
type HealthChecker func(ctx context.Context) error

// Server wires the engine to its HTTP routes.
type Server struct {
	engine  *agent.Engine
	cfg     config.ServerConfig
	ingCfg  config.IngestionConfig
	log     *zap.Logger
	checks  map[string]HealthChecker
	httpSrv *http.Server
}

// New builds the server. checks maps dependency names to their health
// probes for GET /health.
func New(engine *agent.Engine, cfg config.ServerConfig, ingCfg config.IngestionConfig,
	log *zap.Logger, checks map[string]HealthChecker) *Server {
	s := &Server{
		engine: engine,
		cfg:    cfg,
		ingCfg: ingCfg,
		log:    log,
		checks: checks,
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}
	return s
}

// Routes assembles the middleware stack and route table.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(zapLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	if s.cfg.RateLimitPerMinute > 0 {
		r.Use(rateLimit(newTokenBucket(s.cfg.RateLimitPerMinute)))
	}
	r.Use(bearerAuth(s.cfg.APIToken))

	r.Post("/query", s.handleQuery)
	r.Post("/ingest", s.handleIngest)
	r.Post("/ingest/file", s.handleIngestFile)
	r.Delete("/namespace/{namespace}", s.handleDeleteNamespace)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", s.cfg.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()
	logging.Server("shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}

// ===== RESPONSE HELPERS =====

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// statusForError maps engine errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrAuthFailure):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, types.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
