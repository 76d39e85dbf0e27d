package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/forgerelay/relay/internal/metrics"
)

// setupRoutes configures the relay's API surface.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Get("/connect", s.connectSession)
			r.Get("/events", s.getSessionEvents)
			r.Post("/pause", s.pauseSession)
			r.Post("/resume", s.resumeSession)
		})
	})

	r.Route("/api/secrets", func(r chi.Router) {
		r.Get("/", s.listSecrets)
		r.Post("/", s.createSecret)
		r.Delete("/{secretID}", s.deleteSecret)
	})

	r.Route("/api/environments", func(r chi.Router) {
		r.Get("/", s.listEnvironments)
		r.Post("/", s.createEnvironment)
		r.Get("/{environmentID}", s.getEnvironment)
		r.Put("/{environmentID}", s.updateEnvironment)
		r.Delete("/{environmentID}", s.deleteEnvironment)
	})

	r.Get("/ws/sessions/{sessionID}", s.sessionWebSocket)
}
