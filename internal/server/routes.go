package server

import (
	"expvar"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/tally/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.deps)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Get("/health", h.Health)
		r.Get("/progress", h.Progress)
		r.Get("/quota", h.Quota)
		r.Get("/metrics/{entityID}/{date}", h.GetMetrics)
		r.Get("/checkpoints/{job}", h.GetCheckpoint)
	})

	r.Handle("/debug/vars", expvar.Handler())
}
