// Package api exposes the prescription pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	limiter *RateLimiter
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, limits domain.RateLimitConfig, deps Deps, version string) *Server {
	handler := NewHandler(deps, version, cfg.MaxUploadMB)
	limiter := NewRateLimiter(limits)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(metrics.Middleware)     // Prometheus request metrics
	router.Use(limiter.Middleware)     // Per-client token bucket
	router.Use(middleware.Compress(5)) // Gzip compression

	// Probes
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	// Pipeline
	router.Post("/extract", handler.Extract)
	router.Post("/analyze", handler.Analyze)
	router.Post("/analyze/async", handler.AnalyzeAsync)
	router.Post("/check", handler.Check)

	// History
	router.Get("/analyses/{id}", handler.GetAnalysis)
	router.Get("/history", handler.ListHistory)
	router.Get("/history/{patient}", handler.PatientHistory)

	// Knowledge tables
	router.Route("/knowledge", func(r chi.Router) {
		r.Get("/", handler.KnowledgeStats)
		r.Get("/dose-limits", handler.ListDoseLimits)
		r.Get("/condition-rules", handler.ListConditionRules)
		r.Post("/reload", handler.ReloadKnowledge)
	})

	return &Server{
		router:  router,
		handler: handler,
		limiter: limiter,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.limiter.StartCleanup(10 * time.Minute)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

// Limiter returns the rate limiter for testing.
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}
