package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/storegate/internal/provision"
	"github.com/mattjoyce/storegate/internal/telemetry"
)

// InstallFlow serves the OAuth install routes.
type InstallFlow interface {
	Begin(w http.ResponseWriter, r *http.Request)
	Callback(w http.ResponseWriter, r *http.Request)
}

// WebhookReceiver accepts platform webhooks.
type WebhookReceiver interface {
	http.Handler
	Head(w http.ResponseWriter, r *http.Request)
}

// Provisioner runs and reports tenant provisioning.
type Provisioner interface {
	Provision(ctx context.Context, domain string) (*provision.Result, error)
	Status(ctx context.Context, domain string) (*provision.Result, error)
}

// Pinger reports store reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds API server configuration
type Config struct {
	Listen          string
	ShutdownTimeout time.Duration
	Version         string
}

// Components are the request handlers the server routes to.
type Components struct {
	Install   InstallFlow
	Webhooks  WebhookReceiver
	Provision Provisioner
	Functions http.Handler
	// Session authenticates tenant-scoped app requests.
	Session   func(http.Handler) http.Handler
	Store     Pinger
	Telemetry *telemetry.Provider
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	c         Components
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, c Components, logger *slog.Logger) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.Disabled()
	}
	return &Server{
		config:    config,
		c:         c,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "version", s.config.Version)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.c.Telemetry.Handler(s.setupRoutes(), "storegate")
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	if s.c.Install != nil {
		r.Get("/auth", s.c.Install.Begin)
		r.Get("/auth/callback", s.c.Install.Callback)
	}

	if s.c.Webhooks != nil {
		r.Post("/webhooks", s.c.Webhooks.ServeHTTP)
		r.Head("/webhooks", s.c.Webhooks.Head)
	}

	if s.c.Functions != nil {
		r.Method(http.MethodPost, "/functions/{tenantId}", s.c.Functions)
	}

	if s.c.Provision != nil && s.c.Session != nil {
		r.Group(func(r chi.Router) {
			r.Use(s.c.Session)
			r.Post("/provision", s.handleProvision)
			r.Get("/provision", s.handleProvisionStatus)
		})
	}

	return r
}

// loggingMiddleware logs HTTP requests. Query strings are never logged; they
// carry OAuth codes and signatures.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
