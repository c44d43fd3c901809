// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

// Package httpapi exposes the authentication subsystem over a JSON HTTP API.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/prepline/prepline/internal/auth"
	"github.com/prepline/prepline/internal/config"
	"github.com/prepline/prepline/internal/observability"
)

// Server serves the authentication API.
type Server struct {
	cfg        *config.Config
	service    *auth.Service
	linker     *auth.IdentityLinker // nil when no provider is configured
	logger     *slog.Logger
	metrics    *observability.Metrics // nil when metrics are disabled
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates the API server. The identity linker and metrics are
// optional; a nil linker disables external login with a 501 response.
func NewServer(cfg *config.Config, service *auth.Service, linker *auth.IdentityLinker, logger *slog.Logger, metrics *observability.Metrics) (*Server, error) {
	if cfg == nil {
		return nil, oops.Code("HTTPAPI_INVALID").Errorf("config is required")
	}
	if service == nil {
		return nil, oops.Code("HTTPAPI_INVALID").Errorf("auth service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		service: service,
		linker:  linker,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Routes builds the router. Exposed for handler tests that drive the full
// middleware chain without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/external", s.handleExternalLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuthenticated)
			r.Get("/me", s.handleMe)
			r.Post("/change-password", s.handleChangePassword)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAuthenticated)
		r.Use(s.requireRole(auth.RoleManager))
		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleCreateUser)
	})

	return r
}

// Start begins serving the API.
// It returns an error channel that will receive any errors from the HTTP
// server after it starts. The channel is closed when the server stops
// gracefully. Callers should monitor this channel to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.cfg.ListenAddr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}

	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
