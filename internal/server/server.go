// Package server implements the tally ops HTTP server.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/tally/internal/server/handlers"
)

// Server is the ops HTTP server attached to a running import or backfill.
type Server struct {
	deps   handlers.Deps
	router chi.Router
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

// New creates a new HTTP server. An empty apiKey disables authentication.
func New(addr string, deps handlers.Deps, apiKey string) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		addr:   addr,
		logger: deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LogMiddleware(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(APIKeyMiddleware(apiKey))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests. It returns nil after Stop.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("ops server listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
