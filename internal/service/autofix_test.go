package service

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/domain/review"
	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
	"github.com/helmsmanhq/helmsman/internal/journal"
	"github.com/helmsmanhq/helmsman/internal/port/messagequeue"
)

// autofixFixture wires an AutoFix against a fake queue whose critic stage
// replies with the given verdict and whose fix dispatches always succeed.
func autofixFixture(t *testing.T, criticIssues []review.CodeIssue, approved bool) (*AutoFix, *fakeStore, *fakeNotifier, *[]time.Duration) {
	t.Helper()
	store := newFakeStore()
	notify := &fakeNotifier{}

	q := newFakeQueue()
	q.respond = func(q *fakeQueue, subject string, data []byte) {
		switch {
		case strings.HasPrefix(subject, messagequeue.SubjectFixPrefix):
			var p messagequeue.FixDispatchPayload
			_ = json.Unmarshal(data, &p)
			q.Deliver(messagequeue.SubjectTaskCompletion, messagequeue.CompletionPayload{
				TaskID: p.TaskID, ProjectID: p.ProjectID, Success: true,
			})
		case subject == messagequeue.SubjectCriticRequest:
			var p messagequeue.CriticRequestPayload
			_ = json.Unmarshal(data, &p)
			q.Deliver(messagequeue.SubjectCriticResult, messagequeue.CriticResultPayload{
				RequestID: p.RequestID,
				Approved:  approved,
				Score:     5.0,
				Issues:    criticIssues,
			})
		}
	}

	cfg := testPipelineConfig()
	dispatcher := NewDispatcher(q, store, cfg)
	gates := NewGateClient(q, cfg)

	cancelCompletions, err := dispatcher.StartCompletionSubscriber(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cancelCompletions)
	cancelResults, err := gates.StartResultSubscribers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cancelResults)

	af := NewAutoFix(dispatcher, gates, store, journal.NewMemory(), store, notify, &fakeHub{})
	sleeps := &[]time.Duration{}
	af.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return af, store, notify, sleeps
}

func autofixWave() (*project.Project, *wave.Wave, []task.Task) {
	proj := &project.Project{ID: "p1", Name: "shop", MainBranch: "main"}
	wv := &wave.Wave{ID: "w1", ProjectID: "p1", WaveNumber: 1}
	tasks := []task.Task{
		{ID: "t1", ProjectID: "p1", AgentType: task.AgentBackend, Status: task.StatusCompleted, Files: []string{"a.go"}},
	}
	return proj, wv, tasks
}

func criticalIssue(file string) review.CodeIssue {
	return review.CodeIssue{
		File:     file,
		Severity: review.SeverityCritical,
		Category: review.CategoryCorrectness,
		Message:  "nil dereference",
	}
}

func TestAutoFixUnownedIssuesResolveImmediately(t *testing.T) {
	af, store, notify, sleeps := autofixFixture(t, nil, true)
	proj, wv, tasks := autofixWave()

	report := &review.Report{MustFix: []review.CodeIssue{criticalIssue("nobody-owns-this.go")}}
	status, err := af.Run(context.Background(), "run", proj, wv, tasks, report)
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if status != wave.StatusCompleted {
		t.Errorf("status = %s, want completed", status)
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %v, want no backoff on first attempt", *sleeps)
	}
	if notify.count() != 0 {
		t.Error("notification sent for a resolved report")
	}
	if len(store.failures) != 0 {
		t.Errorf("critical failures = %v, want none", store.failures)
	}
}

func TestAutoFixEscalatesAfterExhaustion(t *testing.T) {
	// The critic keeps reporting the same critical issue, so every attempt
	// leaves it remaining.
	af, store, notify, sleeps := autofixFixture(t, []review.CodeIssue{criticalIssue("a.go")}, false)
	proj, wv, tasks := autofixWave()

	report := &review.Report{MustFix: []review.CodeIssue{criticalIssue("a.go")}}
	status, err := af.Run(context.Background(), "run", proj, wv, tasks, report)
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if status != wave.StatusNeedsHumanReview {
		t.Errorf("status = %s, want needs_human_review", status)
	}

	wantSleeps := []time.Duration{
		5000 * time.Millisecond,
		10000 * time.Millisecond,
		20000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	if !reflect.DeepEqual(*sleeps, wantSleeps) {
		t.Errorf("backoff = %v, want %v", *sleeps, wantSleeps)
	}

	if len(store.failures) != 1 {
		t.Fatalf("critical failures = %d, want exactly 1", len(store.failures))
	}
	f := store.failures[0]
	if f.TotalAttempts != 5 || f.IssuesRemaining != 1 || !f.EscalatedToHuman {
		t.Errorf("failure record = %+v", f)
	}
	if !f.NotificationSent || notify.count() != 1 {
		t.Errorf("notifications = %d, record says sent=%v; want exactly one", notify.count(), f.NotificationSent)
	}
}

func TestAutoFixEscalationJournaledOnce(t *testing.T) {
	af, store, notify, _ := autofixFixture(t, []review.CodeIssue{criticalIssue("a.go")}, false)
	proj, wv, tasks := autofixWave()
	report := &review.Report{MustFix: []review.CodeIssue{criticalIssue("a.go")}}

	if _, err := af.Run(context.Background(), "run", proj, wv, tasks, report); err != nil {
		t.Fatal(err)
	}
	// A redelivered wave re-runs under the same run ID; attempts and the
	// escalation replay from the journal.
	if _, err := af.Run(context.Background(), "run", proj, wv, tasks, report); err != nil {
		t.Fatal(err)
	}

	if len(store.failures) != 1 {
		t.Errorf("critical failures = %d after re-run, want 1", len(store.failures))
	}
	if notify.count() != 1 {
		t.Errorf("notifications = %d after re-run, want 1", notify.count())
	}
}

func TestAutoFixMediumIssuesDowngradeToWarning(t *testing.T) {
	medium := review.CodeIssue{
		File: "a.go", Severity: review.SeverityMedium, Category: review.CategoryStyle, Message: "long function",
	}
	af, store, notify, sleeps := autofixFixture(t, []review.CodeIssue{medium}, false)
	proj, wv, tasks := autofixWave()

	report := &review.Report{ShouldFix: []review.CodeIssue{medium}}
	status, err := af.Run(context.Background(), "run", proj, wv, tasks, report)
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if status != wave.StatusCompletedWithWarnings {
		t.Errorf("status = %s, want completed_with_warnings", status)
	}
	if len(*sleeps) != 2 {
		t.Errorf("backoff count = %d, want 2 (3 attempts)", len(*sleeps))
	}
	if notify.count() != 0 || len(store.failures) != 0 {
		t.Error("medium-only exhaustion must not escalate")
	}
}
