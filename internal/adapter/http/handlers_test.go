package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	hmhttp "github.com/helmsmanhq/helmsman/internal/adapter/http"
	"github.com/helmsmanhq/helmsman/internal/domain"
	"github.com/helmsmanhq/helmsman/internal/domain/deploy"
	"github.com/helmsmanhq/helmsman/internal/domain/escalation"
	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/domain/plan"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
)

// mockStore implements database.Store for handler tests. Only the read
// paths the API exposes carry data; writes are accepted and dropped.
type mockStore struct {
	projects map[string]*project.Project
	tasks    map[string]*task.Task
	waves    []wave.Wave
	failures []escalation.CriticalFailure
	deploys  []deploy.Deployment
}

func newMockStore() *mockStore {
	return &mockStore{
		projects: map[string]*project.Project{},
		tasks:    map[string]*task.Task{},
	}
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	if p, ok := m.projects[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) UpdateProjectStatus(context.Context, string, project.Status) error { return nil }
func (m *mockStore) SetProjectWorkspace(context.Context, string, string) error        { return nil }

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	if t, ok := m.tasks[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListTasksByWave(_ context.Context, projectID string, waveNumber int) ([]task.Task, error) {
	var out []task.Task
	for _, t := range m.tasks {
		if t.ProjectID == projectID && t.WaveNumber == waveNumber {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) CountUnwavedPending(context.Context, string) (int, error)       { return 0, nil }
func (m *mockStore) AssignTaskToWave(context.Context, string, int, string) error    { return nil }
func (m *mockStore) MarkTaskStarted(context.Context, string, time.Time) error       { return nil }
func (m *mockStore) FailTask(context.Context, string, string, time.Time) error      { return nil }
func (m *mockStore) ResetTaskForRetry(context.Context, string, string) error        { return nil }
func (m *mockStore) SetTaskReview(context.Context, string, float64, int) error      { return nil }
func (m *mockStore) SetTaskPR(context.Context, string, int, string) error           { return nil }
func (m *mockStore) ListStuckTasks(context.Context, time.Time) ([]task.Task, error) { return nil, nil }

func (m *mockStore) CompleteTask(context.Context, string, []string, string, time.Time) error {
	return nil
}

func (m *mockStore) EnsureWave(context.Context, string, int, int) (*wave.Wave, error) {
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetWave(_ context.Context, projectID string, waveNumber int) (*wave.Wave, error) {
	for i := range m.waves {
		if m.waves[i].ProjectID == projectID && m.waves[i].WaveNumber == waveNumber {
			return &m.waves[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListWaves(_ context.Context, projectID string) ([]wave.Wave, error) {
	var out []wave.Wave
	for _, wv := range m.waves {
		if wv.ProjectID == projectID {
			out = append(out, wv)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateWaveStatus(context.Context, string, wave.Status, string) error { return nil }
func (m *mockStore) IncrementWaveCompleted(context.Context, string) error                { return nil }
func (m *mockStore) SetWaveBranch(context.Context, string, string) error                 { return nil }
func (m *mockStore) SetWavePreviewURL(context.Context, string, string) error             { return nil }
func (m *mockStore) SetWaveReviewScore(context.Context, string, float64) error           { return nil }
func (m *mockStore) SetWavePR(context.Context, string, int, string) error                { return nil }

func (m *mockStore) CreateCriticalFailure(context.Context, *escalation.CriticalFailure) error {
	return nil
}

func (m *mockStore) ListCriticalFailures(context.Context, string) ([]escalation.CriticalFailure, error) {
	return m.failures, nil
}

func (m *mockStore) CreateDeployment(context.Context, *deploy.Deployment) error { return nil }

func (m *mockStore) ListDeployments(context.Context, string) ([]deploy.Deployment, error) {
	return m.deploys, nil
}

// mockPlans implements planstore.Store.
type mockPlans struct {
	plans map[string]*plan.ExecutionPlan
}

func (m *mockPlans) GetPlan(_ context.Context, projectID string) (*plan.ExecutionPlan, error) {
	if p, ok := m.plans[projectID]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

// mockEvents implements eventstore.Store.
type mockEvents struct {
	byProject []event.Event
	byWave    []event.Event
}

func (m *mockEvents) Append(context.Context, *event.Event) error { return nil }

func (m *mockEvents) ListByProject(context.Context, string) ([]event.Event, error) {
	return m.byProject, nil
}

func (m *mockEvents) ListByWave(context.Context, string, int) ([]event.Event, error) {
	return m.byWave, nil
}

// mockRunner records RunPhase invocations.
type mockRunner struct {
	ran chan int
}

func (m *mockRunner) RunPhase(_ context.Context, _ string, phaseNumber int) error {
	m.ran <- phaseNumber
	return nil
}

func newTestServer(store *mockStore, plans *mockPlans, events *mockEvents, runner *mockRunner) *httptest.Server {
	r := chi.NewRouter()
	hmhttp.MountRoutes(r, hmhttp.NewHandlers(store, plans, events, runner))
	return httptest.NewServer(r)
}

func seededServer(t *testing.T) (*httptest.Server, *mockStore, *mockRunner) {
	t.Helper()
	store := newMockStore()
	store.projects["p1"] = &project.Project{ID: "p1", Name: "shop", RepoRef: "acme/shop", MainBranch: "main"}
	store.waves = []wave.Wave{
		{ID: "w1", ProjectID: "p1", WaveNumber: 1, Status: wave.StatusCompleted},
		{ID: "w2", ProjectID: "p1", WaveNumber: 2, Status: wave.StatusInProgress},
	}
	plans := &mockPlans{plans: map[string]*plan.ExecutionPlan{
		"p1": {ProjectID: "p1", Phases: []plan.Phase{{Name: "foundation", TaskIDs: []string{"t1"}}}},
	}}
	events := &mockEvents{
		byProject: []event.Event{{ID: "e1", ProjectID: "p1", Type: event.TypeWaveStarted}},
		byWave:    []event.Event{{ID: "e2", ProjectID: "p1", WaveNumber: 2, Type: event.TypeWaveStarted}},
	}
	runner := &mockRunner{ran: make(chan int, 1)}

	srv := newTestServer(store, plans, events, runner)
	t.Cleanup(srv.Close)
	return srv, store, runner
}

func getJSON(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test server URL
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestGetProject(t *testing.T) {
	srv, _, _ := seededServer(t)

	var got project.Project
	getJSON(t, srv.URL+"/api/v1/projects/p1", http.StatusOK, &got)
	if got.Name != "shop" {
		t.Errorf("name = %q, want shop", got.Name)
	}

	getJSON(t, srv.URL+"/api/v1/projects/missing", http.StatusNotFound, nil)
}

func TestGetPlan(t *testing.T) {
	srv, _, _ := seededServer(t)

	var got plan.ExecutionPlan
	getJSON(t, srv.URL+"/api/v1/projects/p1/plan", http.StatusOK, &got)
	if len(got.Phases) != 1 || got.Phases[0].Name != "foundation" {
		t.Errorf("plan = %+v", got)
	}
}

func TestListWaves(t *testing.T) {
	srv, _, _ := seededServer(t)

	var got []wave.Wave
	getJSON(t, srv.URL+"/api/v1/projects/p1/waves", http.StatusOK, &got)
	if len(got) != 2 {
		t.Errorf("waves = %d, want 2", len(got))
	}
}

func TestGetWave(t *testing.T) {
	srv, _, _ := seededServer(t)

	var got wave.Wave
	getJSON(t, srv.URL+"/api/v1/projects/p1/waves/2", http.StatusOK, &got)
	if got.Status != wave.StatusInProgress {
		t.Errorf("status = %s", got.Status)
	}

	getJSON(t, srv.URL+"/api/v1/projects/p1/waves/abc", http.StatusBadRequest, nil)
	getJSON(t, srv.URL+"/api/v1/projects/p1/waves/0", http.StatusBadRequest, nil)
	getJSON(t, srv.URL+"/api/v1/projects/p1/waves/9", http.StatusNotFound, nil)
}

func TestListEvents(t *testing.T) {
	srv, _, _ := seededServer(t)

	var all []event.Event
	getJSON(t, srv.URL+"/api/v1/projects/p1/events", http.StatusOK, &all)
	if len(all) != 1 || all[0].ID != "e1" {
		t.Errorf("events = %+v", all)
	}

	var scoped []event.Event
	getJSON(t, srv.URL+"/api/v1/projects/p1/events?wave=2", http.StatusOK, &scoped)
	if len(scoped) != 1 || scoped[0].ID != "e2" {
		t.Errorf("wave events = %+v", scoped)
	}

	getJSON(t, srv.URL+"/api/v1/projects/p1/events?wave=zero", http.StatusBadRequest, nil)
}

func TestRunPhaseAccepted(t *testing.T) {
	srv, _, runner := seededServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/projects/p1/phases/1/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	select {
	case n := <-runner.ran:
		if n != 1 {
			t.Errorf("phase = %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("runner was not invoked")
	}
}

func TestRunPhaseValidation(t *testing.T) {
	srv, _, _ := seededServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/projects/missing/phases/1/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown project status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/v1/projects/p1/phases/abc/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad phase status = %d, want 400", resp.StatusCode)
	}
}
