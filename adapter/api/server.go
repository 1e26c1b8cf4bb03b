// Package api provides the HTTP API for licenceledger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mlewis7127/licenceledger/pkg/observability"
)

// Header names used to carry correlation across services.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// Server is the HTTP API server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	metrics observability.Metrics
	handler *LicenceHandler
	health  *observability.HealthRegistry
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new API server. health and metrics may be nil.
func NewServer(
	cfg ServerConfig,
	handler *LicenceHandler,
	health *observability.HealthRegistry,
	metrics observability.Metrics,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = observability.NewHealthRegistry()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		metrics: metrics,
		handler: handler,
		health:  health,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.health.Handler())

	s.mux.HandleFunc("POST /api/v1/licences", s.handler.CreateLicence)
	s.mux.HandleFunc("GET /api/v1/licences", s.handler.GetLicence)
}

// Handler returns the routed handler wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	return s.withRequestContext(s.mux)
}

// withRequestContext tags each request with request and correlation ids,
// echoes them back and records the request outcome.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithRequestID(r.Context(), r.Header.Get(HeaderRequestID))
		ctx = observability.WithCorrelationID(ctx, r.Header.Get(HeaderCorrelationID))

		w.Header().Set(HeaderRequestID, observability.RequestIDFromContext(ctx))
		w.Header().Set(HeaderCorrelationID, observability.CorrelationIDFromContext(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.metrics.Counter(observability.MetricHTTPRequests, 1,
			observability.T("method", r.Method),
			observability.T(observability.StatusKey, strconv.Itoa(rec.status)),
		)
		s.logger.DebugContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			observability.StatusKey, rec.status,
			observability.DurationKey, time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start starts the API server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting licence API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down licence API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// Problem is the error body returned by every endpoint.
type Problem struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeJSON(w, status, Problem{Status: status, Title: title, Detail: detail})
}
