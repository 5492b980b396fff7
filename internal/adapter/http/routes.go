package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Projects
		r.Get("/projects/{id}", h.GetProject)
		r.Get("/projects/{id}/plan", h.GetPlan)

		// Waves
		r.Get("/projects/{id}/waves", h.ListWaves)
		r.Get("/projects/{id}/waves/{n}", h.GetWave)
		r.Get("/projects/{id}/waves/{n}/tasks", h.ListWaveTasks)

		// Phase execution
		r.Post("/projects/{id}/phases/{n}/run", h.RunPhase)

		// Tasks (direct access)
		r.Get("/tasks/{id}", h.GetTask)

		// Audit trail
		r.Get("/projects/{id}/events", h.ListEvents)
		r.Get("/projects/{id}/failures", h.ListCriticalFailures)
		r.Get("/projects/{id}/deployments", h.ListDeployments)
	})
}
