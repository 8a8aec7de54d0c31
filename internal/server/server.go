// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware and
// routes. It decides
//   - which (method, path) pairs exist
//   - which authentication each one needs
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go creates the long-lived resources (store, issuer, metrics, logger)
// and hands them over in Deps. New() builds the service and handlers from
// them. This is the "composition root" pattern: all wiring happens in one
// place instead of being scattered across packages.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/account-api/internal/auth"
	"github.com/sakif/account-api/internal/handler"
	"github.com/sakif/account-api/internal/metrics"
	"github.com/sakif/account-api/internal/middleware"
	"github.com/sakif/account-api/internal/repository"
	"github.com/sakif/account-api/internal/service"
)

// Config holds the HTTP server settings.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RequestTimeout is the deadline put on every request context. A
	// transaction still open when it fires is rolled back by the store.
	RequestTimeout time.Duration
}

// Deps are the resources the server is built from. Store, Issuer and
// Passwords are required; Metrics and GitHub may be nil.
type Deps struct {
	Store     repository.Store
	Issuer    auth.Issuer
	Passwords *auth.PasswordService
	Metrics   *metrics.Metrics
	GitHub    *auth.GitHubProvider
}

// Server represents the HTTP server and its router.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	issuer auth.Issuer
}

// access is the authentication a route requires before its handler runs.
type access int

const (
	public  access = iota
	bearer         // a bearer token is present; the handler verifies it
	session        // a valid, unrevoked token; claims are in the context
)

// route is one row of the routing table.
//
// WHY A TABLE?
// Every endpoint, its guard and the token capability it depends on are
// visible in one list. A route whose capability the active issuer lacks is
// simply not mounted, so e.g. /auth/refresh answers 404 in an opaque-token
// deployment instead of reaching a handler that can only fail.
type route struct {
	method   string
	pattern  string
	handler  http.HandlerFunc
	access   access
	requires auth.Capability // "" = always available
	enabled  bool
}

// New builds the service layer, the handlers and the router.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Store == nil || deps.Issuer == nil || deps.Passwords == nil {
		return nil, errors.New("server: store, issuer and password service are required")
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		issuer: deps.Issuer,
	}
	s.setupRoutes(deps)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures middleware and mounts the routing table.
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns an ID used in every log line of the request
//  2. RealIP: client IP from proxy headers
//  3. Logger: logs and measures every request, including panics turned into 500
//  4. Recoverer: turns a panic into a 500 instead of killing the process
//  5. Timeout: puts a deadline on the request context (skipped when zero)
//  6. sentryhttp: attaches a Sentry hub to the context and reports panics
//     (re-panicking so Recoverer still answers)
func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, deps.Metrics))
	s.router.Use(chimiddleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		s.router.Use(chimiddleware.Timeout(s.config.RequestTimeout))
	}
	s.router.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)

	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handler.WriteStatus(w, http.StatusNotFound, "The requested resource was not found.")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		handler.WriteStatus(w, http.StatusMethodNotAllowed, "This method is not allowed for the requested resource.")
	})

	sessions := service.NewAuthService(deps.Store, deps.Issuer, deps.Passwords, deps.Metrics, s.logger)

	// A nil *GitHubProvider must become a nil interface, otherwise the
	// handler would think GitHub is configured.
	var gh handler.GitHubExchanger
	if deps.GitHub != nil {
		gh = deps.GitHub
	}
	authHandler := handler.NewAuthHandler(sessions, gh, s.logger)
	healthHandler := handler.NewHealthHandler(deps.Store, s.logger)

	requireSession := auth.RequireSession(sessions, s.logger)

	routes := []route{
		{http.MethodPost, "/auth/register", authHandler.HandleRegister, public, "", true},
		{http.MethodPost, "/auth/login", authHandler.HandleLogin, public, "", true},
		{http.MethodPost, "/auth/logout", authHandler.HandleLogout, session, "", true},
		{http.MethodPost, "/auth/logout-all", authHandler.HandleLogoutAll, session, auth.CapRevokeAll, true},
		{http.MethodGet, "/auth/refresh", authHandler.HandleRefresh, bearer, auth.CapRefresh, true},
		{http.MethodGet, "/auth/get-session", authHandler.HandleSession, session, "", true},
		{http.MethodGet, "/user", authHandler.HandleSession, session, "", true},
		{http.MethodGet, "/auth/github/login", authHandler.HandleGitHubLogin, public, "", authHandler.GitHubEnabled()},
		{http.MethodGet, "/auth/github/callback", authHandler.HandleGitHubCallback, public, "", authHandler.GitHubEnabled()},
		{http.MethodGet, "/healthz", healthHandler.HandleHealth, public, "", true},
	}

	for _, rt := range routes {
		if !rt.enabled {
			continue
		}
		if rt.requires != "" && !deps.Issuer.Supports(rt.requires) {
			s.logger.Debug("route not mounted",
				slog.String("route", rt.method+" "+rt.pattern),
				slog.String("missingCapability", string(rt.requires)),
				slog.String("tokenStrategy", string(deps.Issuer.Kind())),
			)
			continue
		}

		var h http.Handler = rt.handler
		switch rt.access {
		case bearer:
			h = auth.RequireBearer(h)
		case session:
			h = requireSession(h)
		}
		s.router.Method(rt.method, rt.pattern, h)
	}

	if deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait up to ShutdownTimeout for in-flight requests to finish
//
// Closing the store is the caller's job: it opened it.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("tokenStrategy", string(s.issuer.Kind())),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	}
}
