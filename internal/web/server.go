// Package web serves the maintenance import API and the HTMX dashboard.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/maintrack/internal/config"
	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/JonMunkholm/maintrack/internal/metrics"
	mw "github.com/JonMunkholm/maintrack/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP front end of a core.Service.
type Server struct {
	service *core.Service
	cfg     *config.Config
	metrics *metrics.Recorder
	router  *chi.Mux
	server  *http.Server
}

// NewServer builds the router. rec may be nil, in which case /metrics is
// not mounted.
func NewServer(service *core.Service, cfg *config.Config, rec *metrics.Recorder) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		metrics: rec,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleDashboard)
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	importLimiter := newRateLimiter(s.cfg.Rate.ImportLimit, time.Minute)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security))

		r.Get("/stats", s.handleStats)

		r.Route("/imports", func(r chi.Router) {
			r.Post("/{mode}/autodetect", s.handleAutodetect)
			r.With(s.limitImports(importLimiter)).Post("/{mode}/preview", s.handlePreview)
			r.Get("/previews/{id}", s.handleGetPreview)
			r.Delete("/previews/{id}", s.handleDiscardPreview)
			r.With(s.limitImports(importLimiter)).Post("/previews/{id}/apply", s.handleApplyPreview)
		})

		r.Get("/templates", s.handleListTemplates)
		r.Post("/templates", s.handleCreateTemplate)
		r.Put("/templates/{id}", s.handleUpdateTemplate)
		r.Delete("/templates/{id}", s.handleDeleteTemplate)

		r.Get("/work-orders", s.handleListWorkOrders)
		r.Post("/work-orders/generate", s.handleGenerateWorkOrders)
		r.Post("/work-orders/{seq}/fulfill", s.handleFulfillWorkOrder)
		r.Post("/reports/scan", s.handleScanReports)

		r.Get("/timeline", s.handleTimeline)
		r.Get("/audit-log", s.handleAuditLog)

		r.Get("/backup", s.handleExport)
		r.Post("/backup", s.handleImportBackup)
		r.Get("/snapshots", s.handleListSnapshots)
		r.Post("/snapshots/{id}/restore", s.handleRestoreSnapshot)
		r.Post("/dataset/repair", s.handleRepair)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the chi router, for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(csp bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if csp {
				h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self' https://unpkg.com; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON encodes v with the given status. Encoding errors are only
// logged since the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}
