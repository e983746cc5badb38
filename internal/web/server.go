// Package web provides the HTTP server of the employee import service: the
// session API, the backend contract endpoints, the HTML results pages and
// the operational endpoints.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/loliloopp/PassDesk-sub001/internal/config"
	"github.com/loliloopp/PassDesk-sub001/internal/core"
	webmw "github.com/loliloopp/PassDesk-sub001/internal/web/middleware"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type readinessCheck struct {
	name   string
	pinger Pinger
}

// Option configures a Server.
type Option func(*Server)

// WithContract serves the backend contract (/api/import/validate and
// /api/import/execute) from b, so other instances can use this one as
// their remote backend.
func WithContract(b core.Backend) Option {
	return func(s *Server) { s.contract = b }
}

// WithReadinessCheck adds a dependency to /readyz.
func WithReadinessCheck(name string, p Pinger) Option {
	return func(s *Server) { s.checks = append(s.checks, readinessCheck{name, p}) }
}

// WithRateLimitStore shares rate limit counters through store. The default
// is an in-process memory store.
func WithRateLimitStore(store limiter.Store) Option {
	return func(s *Server) { s.limits = store }
}

// Server is the HTTP server of the import service.
type Server struct {
	service  *core.Service
	contract core.Backend
	checks   []readinessCheck
	limits   limiter.Store
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limits == nil {
		s.limits = memory.NewStore()
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5, "application/json", "text/html"))
	s.router.Use(s.securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(webmw.RateLimit(s.limits, "global", s.cfg.Rate.RequestsPerMinute))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Operational
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Handle("/metrics", promhttp.Handler())

	// Pages
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/sessions", http.StatusFound)
	})
	s.router.Get("/sessions", s.handleSessionsPage)
	s.router.With(withSession).Get("/sessions/{sessionID}", s.handleSessionPage)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Use(webmw.APIKeyAuth(s.cfg.Security))

		strict := s.strictLimit()

		r.Get("/import/template.xlsx", s.handleTemplate)

		// Backend contract. Executions can outlast the interactive
		// request timeout, so these routes run without it.
		if s.contract != nil {
			r.Group(func(r chi.Router) {
				r.Use(withSession)
				r.Post("/import/validate", s.handleContractValidate)
				r.With(strict).Post("/import/execute", s.handleContractExecute)
			})
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/", s.handleListSessions)
			r.With(strict).Post("/", s.handleCreateSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Use(withSession)

				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.With(strict).Put("/file", s.handleReplaceFile)
				r.Post("/validate", s.handleValidate)
				r.Put("/resolutions/{inn}", s.handleSetResolution)
				r.Post("/resolutions", s.handleResolveAll)
				r.Post("/proceed", s.handleProceed)
				r.Post("/back", s.handleBack)
				r.With(strict).Post("/execute", s.handleExecute)
				r.Post("/reset", s.handleReset)
				r.Get("/report.xlsx", s.handleReport)
			})
		})
	})
}

// strictLimit is the per-IP limit of uploads and executions.
func (s *Server) strictLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return webmw.RateLimit(s.limits, "upload", s.cfg.Rate.UploadLimit)
}

// Start begins listening for HTTP requests.
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

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Pages carry inline styles and no scripts.
		if s.cfg.Security.EnableCSP {
			w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; img-src 'self' data:; form-action 'self'; frame-ancestors 'none'")
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// readyTimeout bounds all readiness checks together.
const readyTimeout = 3 * time.Second
