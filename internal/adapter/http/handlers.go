package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/helmsmanhq/helmsman/internal/port/database"
	"github.com/helmsmanhq/helmsman/internal/port/eventstore"
	"github.com/helmsmanhq/helmsman/internal/port/planstore"
)

// PhaseRunner triggers the execution of one phase of a project's plan.
type PhaseRunner interface {
	RunPhase(ctx context.Context, projectID string, phaseNumber int) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store  database.Store
	plans  planstore.Store
	events eventstore.Store
	runner PhaseRunner
}

// NewHandlers creates the handler set.
func NewHandlers(store database.Store, plans planstore.Store, events eventstore.Store, runner PhaseRunner) *Handlers {
	return &Handlers{store: store, plans: plans, events: events, runner: runner}
}

// GetProject returns a single project.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProject(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPlan returns the execution plan for a project.
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.plans.GetPlan(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListWaves returns all waves of a project in order.
func (h *Handlers) ListWaves(w http.ResponseWriter, r *http.Request) {
	waves, err := h.store.ListWaves(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, waves)
}

// GetWave returns one wave of a project.
func (h *Handlers) GetWave(w http.ResponseWriter, r *http.Request) {
	n, ok := waveNumber(w, r)
	if !ok {
		return
	}
	wv, err := h.store.GetWave(r.Context(), urlParam(r, "id"), n)
	if err != nil {
		writeDomainError(w, err, "wave not found")
		return
	}
	writeJSON(w, http.StatusOK, wv)
}

// ListWaveTasks returns the tasks assigned to one wave.
func (h *Handlers) ListWaveTasks(w http.ResponseWriter, r *http.Request) {
	n, ok := waveNumber(w, r)
	if !ok {
		return
	}
	tasks, err := h.store.ListTasksByWave(r.Context(), urlParam(r, "id"), n)
	if err != nil {
		writeDomainError(w, err, "wave not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask returns a single task.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTask(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListEvents returns the orchestration event trail for a project. The
// optional "wave" query parameter narrows it to one wave.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "id")

	if waveStr := r.URL.Query().Get("wave"); waveStr != "" {
		n, err := strconv.Atoi(waveStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid wave number")
			return
		}
		events, err := h.events.ListByWave(r.Context(), projectID, n)
		if err != nil {
			writeDomainError(w, err, "project not found")
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	events, err := h.events.ListByProject(r.Context(), projectID)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// ListCriticalFailures returns the escalation records of a project.
func (h *Handlers) ListCriticalFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := h.store.ListCriticalFailures(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, failures)
}

// ListDeployments returns the deployment history of a project.
func (h *Handlers) ListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := h.store.ListDeployments(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

// RunPhase triggers asynchronous execution of one phase. The response is
// 202 Accepted; progress is observable via waves, events, and the WebSocket.
func (h *Handlers) RunPhase(w http.ResponseWriter, r *http.Request) {
	projectID := urlParam(r, "id")
	n, ok := waveNumber(w, r)
	if !ok {
		return
	}

	if _, err := h.store.GetProject(r.Context(), projectID); err != nil {
		writeDomainError(w, err, "project not found")
		return
	}

	go func() {
		if err := h.runner.RunPhase(context.Background(), projectID, n); err != nil {
			slog.Error("phase run failed", "project_id", projectID, "phase", n, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"project_id": projectID,
		"phase":      n,
		"status":     "accepted",
	})
}

func waveNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(urlParam(r, "n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "invalid phase number")
		return 0, false
	}
	return n, true
}
