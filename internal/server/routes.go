package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/mcp", func(r chi.Router) {
		r.Get("/", s.listServers)
		r.Post("/", s.addServer)
		r.Get("/tools", s.listSkills)
		r.Get("/events", s.streamEvents)
		r.Post("/reload", s.reloadServers)
		r.Post("/tool/{id}", s.callSkill)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.getServer)
			r.Delete("/", s.removeServer)
			r.Post("/reconnect", s.reconnectServer)
			r.Post("/tools/retry", s.retryTools)
		})
	})
}
