// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package server exposes the ops and diagnostics HTTP surface: provider
// health, rankings, rolling metrics, alerts, breaker control, and one-shot
// fetches through the failover chain. The end-user data API lives
// elsewhere; everything here exists for operators.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    RateLimitConfig
	Services     *Services
	Logger       *slog.Logger
}

// Server wraps a chi router with a huma API and an HTTP listener.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	services *Services
	logger   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	boundAddr string
}

// New creates a Server with routing, middleware, and every ops route
// registered against cfg.Services.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, fferr.New(fferr.CodeServerConfigInvalid, "listen address is required")
	}
	if cfg.Services == nil {
		return nil, fferr.New(fferr.CodeServerConfigInvalid, "services are required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}

	done := make(chan struct{})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware(cfg.RateLimit, cfg.Logger, done))

	humaConfig := huma.DefaultConfig("Feedfuse Ops API", "0.1.0")
	humaConfig.Info.Description = "Operator diagnostics for the market data aggregation daemon"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router:   r,
		api:      api,
		cfg:      cfg,
		services: cfg.Services,
		logger:   cfg.Logger,
		done:     done,
	}
	srv.registerRoutes()

	return srv, nil
}

// Close releases background resources (the rate limiter's cleanup
// goroutine). Safe to call more than once. Start calls it on the way out;
// tests that only exercise Handler must call it themselves.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Handler returns the underlying http.Handler for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// BoundAddr returns the address the listener is bound to, or "" before
// Start has opened the socket. With a ":0" listen address this is the
// only way to learn the assigned port.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fferr.Wrapf(err, fferr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	s.mu.Lock()
	s.boundAddr = ln.Addr().String()
	s.mu.Unlock()

	s.logger.Info("ops server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fferr.Wrap(err, fferr.CodeServerInternalFailure, "serving requests")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fferr.Wrap(err, fferr.CodeServerShutdownFailure, "shutting down ops server")
	}
	s.logger.Info("ops server stopped")
	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:8710"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
