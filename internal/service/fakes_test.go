package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/helmsmanhq/helmsman/internal/config"
	"github.com/helmsmanhq/helmsman/internal/domain"
	"github.com/helmsmanhq/helmsman/internal/domain/deploy"
	"github.com/helmsmanhq/helmsman/internal/domain/escalation"
	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/domain/plan"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/domain/scm"
	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
	"github.com/helmsmanhq/helmsman/internal/port/gitprovider"
	"github.com/helmsmanhq/helmsman/internal/port/messagequeue"
	"github.com/helmsmanhq/helmsman/internal/port/notifier"
)

// fakeStore is an in-memory database.Store and eventstore.Store honoring the
// same state guards as the postgres adapter.
type fakeStore struct {
	mu          sync.Mutex
	projects    map[string]*project.Project
	plans       map[string]*plan.ExecutionPlan
	tasks       map[string]*task.Task
	waves       map[string]*wave.Wave
	failures    []escalation.CriticalFailure
	deployments []deploy.Deployment
	events      []event.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: make(map[string]*project.Project),
		plans:    make(map[string]*plan.ExecutionPlan),
		tasks:    make(map[string]*task.Task),
		waves:    make(map[string]*wave.Wave),
	}
}

func (s *fakeStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) UpdateProjectStatus(_ context.Context, id string, status project.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	return nil
}

func (s *fakeStore) SetProjectWorkspace(_ context.Context, id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.WorkspacePath = path
	return nil
}

func (s *fakeStore) GetPlan(_ context.Context, projectID string) (*plan.ExecutionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[projectID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) ListTasksByWave(_ context.Context, projectID string, waveNumber int) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.ProjectID == projectID && t.WaveNumber == waveNumber {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) CountUnwavedPending(_ context.Context, projectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.ProjectID == projectID && t.Status == task.StatusPending && t.WaveNumber == 0 {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) AssignTaskToWave(_ context.Context, id string, waveNumber int, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.WaveNumber = waveNumber
	t.BranchName = branch
	return nil
}

func (s *fakeStore) MarkTaskStarted(_ context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status == task.StatusPending {
		t.Status = task.StatusInProgress
		t.StartedAt = &startedAt
	}
	return nil
}

func (s *fakeStore) CompleteTask(_ context.Context, id string, files []string, output string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusInProgress {
		return domain.ErrNotFound
	}
	t.Status = task.StatusCompleted
	t.Files = files
	t.Output = output
	t.CompletedAt = &completedAt
	return nil
}

func (s *fakeStore) FailTask(_ context.Context, id, reason string, failedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return domain.ErrNotFound
	}
	t.Status = task.StatusFailed
	t.Error = reason
	t.CompletedAt = &failedAt
	return nil
}

func (s *fakeStore) ResetTaskForRetry(_ context.Context, id, failureContext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = task.StatusPending
	t.RetryCount++
	t.Error = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	_ = failureContext
	return nil
}

func (s *fakeStore) SetTaskReview(_ context.Context, id string, score float64, criticalIssues int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.ReviewScore = score
	t.CriticalIssues = criticalIssues
	return nil
}

func (s *fakeStore) SetTaskPR(_ context.Context, id string, prNumber int, prURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.PRNumber = prNumber
	t.PRURL = prURL
	return nil
}

func (s *fakeStore) ListStuckTasks(_ context.Context, cutoff time.Time) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusInProgress && t.StartedAt != nil && t.StartedAt.Before(cutoff) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) EnsureWave(_ context.Context, projectID string, waveNumber, taskCount int) (*wave.Wave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wv := range s.waves {
		if wv.ProjectID == projectID && wv.WaveNumber == waveNumber {
			cp := *wv
			return &cp, nil
		}
	}
	wv := &wave.Wave{
		ID:         fmt.Sprintf("wave-%s-%d", projectID, waveNumber),
		ProjectID:  projectID,
		WaveNumber: waveNumber,
		Status:     wave.StatusInProgress,
		TaskCount:  taskCount,
	}
	s.waves[wv.ID] = wv
	cp := *wv
	return &cp, nil
}

func (s *fakeStore) GetWave(_ context.Context, projectID string, waveNumber int) (*wave.Wave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wv := range s.waves {
		if wv.ProjectID == projectID && wv.WaveNumber == waveNumber {
			cp := *wv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) ListWaves(_ context.Context, projectID string) ([]wave.Wave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wave.Wave
	for _, wv := range s.waves {
		if wv.ProjectID == projectID {
			out = append(out, *wv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WaveNumber < out[j].WaveNumber })
	return out, nil
}

func (s *fakeStore) UpdateWaveStatus(_ context.Context, id string, status wave.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wv, ok := s.waves[id]
	if !ok {
		return domain.ErrNotFound
	}
	wv.Status = status
	wv.Error = errMsg
	return nil
}

func (s *fakeStore) IncrementWaveCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wv, ok := s.waves[id]
	if !ok {
		return domain.ErrNotFound
	}
	if wv.CompletedCount < wv.TaskCount {
		wv.CompletedCount++
	}
	return nil
}

func (s *fakeStore) SetWaveBranch(_ context.Context, id, branch string) error {
	return s.mutateWave(id, func(wv *wave.Wave) { wv.BranchName = branch })
}

func (s *fakeStore) SetWavePreviewURL(_ context.Context, id, url string) error {
	return s.mutateWave(id, func(wv *wave.Wave) { wv.PreviewURL = url })
}

func (s *fakeStore) SetWaveReviewScore(_ context.Context, id string, score float64) error {
	return s.mutateWave(id, func(wv *wave.Wave) { wv.FinalReviewScore = score })
}

func (s *fakeStore) SetWavePR(_ context.Context, id string, prNumber int, prURL string) error {
	return s.mutateWave(id, func(wv *wave.Wave) {
		wv.PRNumber = prNumber
		wv.PRURL = prURL
	})
}

func (s *fakeStore) mutateWave(id string, fn func(*wave.Wave)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wv, ok := s.waves[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(wv)
	return nil
}

func (s *fakeStore) CreateCriticalFailure(_ context.Context, f *escalation.CriticalFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = fmt.Sprintf("cf-%d", len(s.failures)+1)
	s.failures = append(s.failures, *f)
	return nil
}

func (s *fakeStore) ListCriticalFailures(_ context.Context, projectID string) ([]escalation.CriticalFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []escalation.CriticalFailure
	for _, f := range s.failures {
		if f.ProjectID == projectID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateDeployment(_ context.Context, d *deploy.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = fmt.Sprintf("dep-%d", len(s.deployments)+1)
	s.deployments = append(s.deployments, *d)
	return nil
}

func (s *fakeStore) ListDeployments(_ context.Context, projectID string) ([]deploy.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []deploy.Deployment
	for _, d := range s.deployments {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) Append(_ context.Context, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = fmt.Sprintf("%d", len(s.events)+1)
	s.events = append(s.events, *ev)
	return nil
}

func (s *fakeStore) ListByProject(_ context.Context, projectID string) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.events {
		if ev.ProjectID == projectID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) ListByWave(_ context.Context, projectID string, waveNumber int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.events {
		if ev.ProjectID == projectID && ev.WaveNumber == waveNumber {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) eventTypes() []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Type, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func (s *fakeStore) taskStatus(id string) task.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.Status
	}
	return ""
}

// fakeQueue routes published messages to responder hooks so a test can play
// the role of the workers on the other side of the queue.
type fakeQueue struct {
	mu       sync.Mutex
	handlers map[string]messagequeue.Handler
	// respond is called for every publish; it may call Deliver to simulate
	// a worker answering.
	respond   func(q *fakeQueue, subject string, data []byte)
	published []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	q.published = append(q.published, subject)
	respond := q.respond
	q.mu.Unlock()
	if respond != nil {
		// Small delay mimics queue propagation so the publisher finishes
		// its post-publish bookkeeping before the reply lands.
		go func() {
			time.Sleep(10 * time.Millisecond)
			respond(q, subject, data)
		}()
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	q.handlers[subject] = handler
	q.mu.Unlock()
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

// Deliver feeds a message to the handler subscribed on the subject.
func (q *fakeQueue) Deliver(subject string, v any) {
	q.mu.Lock()
	handler := q.handlers[subject]
	q.mu.Unlock()
	if handler == nil {
		return
	}
	data, _ := json.Marshal(v)
	_ = handler(context.Background(), subject, data)
}

func (q *fakeQueue) publishedTo(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.published {
		if s == subject {
			n++
		}
	}
	return n
}

// fakeWorkspace records git operations and simulates merge conflicts for
// configured branches.
type fakeWorkspace struct {
	mu        sync.Mutex
	ops       []string
	conflicts map[string]bool
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{conflicts: make(map[string]bool)}
}

func (w *fakeWorkspace) record(op string) {
	w.mu.Lock()
	w.ops = append(w.ops, op)
	w.mu.Unlock()
}

func (w *fakeWorkspace) Ensure(_ context.Context, repoRef, path string) error {
	w.record("ensure " + repoRef)
	return nil
}

func (w *fakeWorkspace) CreateBranchFrom(_ context.Context, _, branch, base string) error {
	w.record("branch " + branch + " from " + base)
	return nil
}

func (w *fakeWorkspace) Checkout(_ context.Context, _, branch string) error {
	w.record("checkout " + branch)
	return nil
}

func (w *fakeWorkspace) Merge(_ context.Context, _, source string) error {
	w.record("merge " + source)
	w.mu.Lock()
	conflict := w.conflicts[source]
	w.mu.Unlock()
	if conflict {
		return fmt.Errorf("merge %s: %w", source, scm.ErrMergeConflict)
	}
	return nil
}

func (w *fakeWorkspace) Push(_ context.Context, _, branch string) error {
	w.record("push " + branch)
	return nil
}

// fakeProvider is an in-memory gitprovider.Provider.
type fakeProvider struct {
	mu      sync.Mutex
	nextNum int
	open    map[string]*scm.PullRequest // by branch
	created int
	updated int
	merged  []int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{nextNum: 100, open: make(map[string]*scm.PullRequest)}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Capabilities() gitprovider.Capabilities {
	return gitprovider.Capabilities{PullRequest: true, Merge: true}
}

func (p *fakeProvider) FindOpenPullRequest(_ context.Context, _, branch string) (*scm.PullRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, ok := p.open[branch]; ok {
		cp := *pr
		return &cp, nil
	}
	return nil, nil
}

func (p *fakeProvider) CreatePullRequest(_ context.Context, _ string, req gitprovider.CreatePRRequest) (*scm.PullRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextNum++
	p.created++
	pr := &scm.PullRequest{
		Number: p.nextNum,
		URL:    fmt.Sprintf("https://example.test/pr/%d", p.nextNum),
		State:  "open",
		Title:  req.Title,
		Body:   req.Body,
		Branch: req.Branch,
	}
	p.open[req.Branch] = pr
	cp := *pr
	return &cp, nil
}

func (p *fakeProvider) UpdatePullRequest(_ context.Context, _ string, number int, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated++
	for _, pr := range p.open {
		if pr.Number == number {
			pr.Body = body
			return nil
		}
	}
	return domain.ErrNotFound
}

func (p *fakeProvider) MergePullRequest(_ context.Context, _ string, number int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.merged = append(p.merged, number)
	return nil
}

// fakeNotifier counts notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
	fail bool
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }

func (n *fakeNotifier) Send(_ context.Context, msg notifier.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return fmt.Errorf("webhook down")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fakeBranches is a dbbranch.Provider with configurable support.
type fakeBranches struct {
	supports bool
	fail     bool
	created  []string
}

func (b *fakeBranches) Name() string   { return "fake" }
func (b *fakeBranches) Supports() bool { return b.supports }

func (b *fakeBranches) CreateBranch(_ context.Context, name, parentID string) (*deploy.DatabaseBranch, error) {
	if b.fail {
		return nil, fmt.Errorf("branch api down")
	}
	b.created = append(b.created, name)
	return &deploy.DatabaseBranch{
		Provider:         "fake",
		BranchID:         "br-" + name,
		ConnectionString: "postgres://preview/" + name,
		ParentBranchID:   parentID,
	}, nil
}

// fakeHub records broadcast event types.
type fakeHub struct {
	mu    sync.Mutex
	types []string
}

func (h *fakeHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	h.types = append(h.types, eventType)
	h.mu.Unlock()
}

// testPipelineConfig returns a pipeline config with short timeouts suitable
// for tests.
func testPipelineConfig() config.Pipeline {
	return config.Pipeline{
		AgentTimeout:       200 * time.Millisecond,
		PropagationBuffer:  50 * time.Millisecond,
		GateTimeout:        200 * time.Millisecond,
		FixTimeout:         200 * time.Millisecond,
		MaxTestRetries:     2,
		MaxDispatchRetries: 2,
		StrictReview:       false,
		DeployPlatform:     "vercel",
	}
}
