// Package api exposes the HTTP surface for fraud checks, rule management and
// the alert/case lifecycle.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, store *rules.Store, orchestrator *decision.Orchestrator, alertMgr *alerts.Manager, caseMgr *cases.Manager, version string) *Server {
	handler := NewHandler(repo, cache, store, orchestrator, alertMgr, caseMgr, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and observability endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// Fraud check
	router.Post("/check", handler.Check)
	router.Get("/fraud-logs/{id}", handler.GetFraudLog)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Put("/rules/{id}", handler.UpdateRule)
	router.Delete("/rules/{id}", handler.DeleteRule)
	router.Post("/rules/{id}/toggle", handler.ToggleRule)

	// Blacklist management
	router.Post("/blacklist", handler.AddBlacklistEntry)

	// Alert lifecycle
	router.Get("/alerts", handler.ListAlerts)
	router.Get("/alerts/stats", handler.AlertStats)
	router.Get("/alerts/{id}", handler.GetAlert)
	router.Post("/alerts/{id}/assign", handler.AssignAlert)
	router.Post("/alerts/{id}/investigate", handler.InvestigateAlert)
	router.Post("/alerts/{id}/resolve", handler.ResolveAlert)
	router.Post("/alerts/{id}/close", handler.CloseAlert)

	// Case lifecycle
	router.Post("/cases", handler.CreateCase)
	router.Get("/cases", handler.ListCases)
	router.Get("/cases/{id}", handler.GetCase)
	router.Post("/cases/{id}/assign", handler.AssignCase)
	router.Post("/cases/{id}/investigate", handler.InvestigateCase)
	router.Post("/cases/{id}/follow-ups", handler.AddFollowUp)
	router.Get("/cases/{id}/follow-ups", handler.ListFollowUps)
	router.Post("/cases/{id}/close", handler.CloseCase)

	return &Server{
		router:  router,
		handler: handler,
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

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
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
