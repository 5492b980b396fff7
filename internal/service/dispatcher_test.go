package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/port/messagequeue"
)

func newTestTask(id string) *task.Task {
	return &task.Task{
		ID:         id,
		ProjectID:  "p1",
		AgentType:  task.AgentBackend,
		Input:      json.RawMessage(`{"description":"build the auth api"}`),
		Status:     task.StatusPending,
		WaveNumber: 1,
	}
}

func newTestDispatcher(t *testing.T, q *fakeQueue, store *fakeStore) *Dispatcher {
	t.Helper()
	d := NewDispatcher(q, store, testPipelineConfig())
	cancel, err := d.StartCompletionSubscriber(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cancel)
	return d
}

func TestDispatchAndWaitSuccess(t *testing.T) {
	store := newFakeStore()
	tsk := newTestTask("t1")
	store.tasks["t1"] = tsk

	q := newFakeQueue()
	q.respond = func(q *fakeQueue, subject string, data []byte) {
		if !strings.HasPrefix(subject, messagequeue.SubjectDispatchPrefix) {
			return
		}
		var p messagequeue.DispatchPayload
		_ = json.Unmarshal(data, &p)
		q.Deliver(messagequeue.SubjectTaskCompletion, messagequeue.CompletionPayload{
			TaskID:    p.TaskID,
			ProjectID: p.ProjectID,
			Success:   true,
			Files:     []string{"api/auth.go"},
			Output:    "done",
		})
	}

	d := newTestDispatcher(t, q, store)
	result, err := d.DispatchAndWait(context.Background(), projectIdentity{}, tsk)
	if err != nil {
		t.Fatalf("DispatchAndWait = %v", err)
	}
	if !result.Success || result.Output != "done" {
		t.Errorf("result = %+v", result)
	}
	if got := store.taskStatus("t1"); got != task.StatusCompleted {
		t.Errorf("task status = %s, want completed", got)
	}
}

func TestDispatchAndWaitRetriesAgentFailure(t *testing.T) {
	store := newFakeStore()
	tsk := newTestTask("t1")
	store.tasks["t1"] = tsk

	var attempts atomic.Int32
	q := newFakeQueue()
	q.respond = func(q *fakeQueue, subject string, data []byte) {
		if !strings.HasPrefix(subject, messagequeue.SubjectDispatchPrefix) {
			return
		}
		n := attempts.Add(1)
		q.Deliver(messagequeue.SubjectTaskCompletion, messagequeue.CompletionPayload{
			TaskID:    "t1",
			ProjectID: "p1",
			Success:   n > 1,
			Error:     "flaky agent",
			Output:    "done",
		})
	}

	d := newTestDispatcher(t, q, store)
	result, err := d.DispatchAndWait(context.Background(), projectIdentity{}, tsk)
	if err != nil {
		t.Fatalf("DispatchAndWait = %v", err)
	}
	if !result.Success {
		t.Errorf("result = %+v", result)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("dispatched %d times, want 2", got)
	}
}

func TestDispatchAndWaitExhaustsRetries(t *testing.T) {
	store := newFakeStore()
	tsk := newTestTask("t1")
	store.tasks["t1"] = tsk

	q := newFakeQueue()
	q.respond = func(q *fakeQueue, subject string, data []byte) {
		if !strings.HasPrefix(subject, messagequeue.SubjectDispatchPrefix) {
			return
		}
		q.Deliver(messagequeue.SubjectTaskCompletion, messagequeue.CompletionPayload{
			TaskID: "t1", ProjectID: "p1", Success: false, Error: "broken",
		})
	}

	d := newTestDispatcher(t, q, store)
	_, err := d.DispatchAndWait(context.Background(), projectIdentity{}, tsk)

	var execErr *task.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("DispatchAndWait = %v, want ExecutionError", err)
	}
	// 1 initial attempt + MaxDispatchRetries re-dispatches.
	if got := q.publishedTo(messagequeue.DispatchSubject("backend")); got != 3 {
		t.Errorf("dispatched %d times, want 3", got)
	}
}

func TestDispatchAndWaitTimeoutNotRetried(t *testing.T) {
	store := newFakeStore()
	tsk := newTestTask("t1")
	store.tasks["t1"] = tsk

	// No responder: the completion never arrives.
	q := newFakeQueue()
	d := newTestDispatcher(t, q, store)

	_, err := d.DispatchAndWait(context.Background(), projectIdentity{}, tsk)

	var timeoutErr *PhaseTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("DispatchAndWait = %v, want PhaseTimeoutError", err)
	}
	if got := q.publishedTo(messagequeue.DispatchSubject("backend")); got != 1 {
		t.Errorf("dispatched %d times, want 1 (timeouts are not retried)", got)
	}
	if got := store.taskStatus("t1"); got != task.StatusFailed {
		t.Errorf("task status = %s, want failed", got)
	}
}

func TestDispatchRejectsInvalidInput(t *testing.T) {
	store := newFakeStore()
	tsk := newTestTask("t1")
	tsk.Input = json.RawMessage(`{"endpoints":["/x"]}`) // missing description
	store.tasks["t1"] = tsk

	q := newFakeQueue()
	d := newTestDispatcher(t, q, store)

	if _, err := d.DispatchAndWait(context.Background(), projectIdentity{}, tsk); err == nil {
		t.Fatal("DispatchAndWait with invalid input succeeded")
	}
}

func TestHandleCompletionDuplicateIsNoOp(t *testing.T) {
	store := newFakeStore()
	tsk := newTestTask("t1")
	tsk.Status = task.StatusInProgress
	store.tasks["t1"] = tsk

	q := newFakeQueue()
	newTestDispatcher(t, q, store)

	done := messagequeue.CompletionPayload{TaskID: "t1", ProjectID: "p1", Success: true, Output: "first"}
	q.Deliver(messagequeue.SubjectTaskCompletion, done)
	done.Output = "second"
	q.Deliver(messagequeue.SubjectTaskCompletion, done)

	got, err := store.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusCompleted || got.Output != "first" {
		t.Errorf("task = %+v, want first completion to win", got)
	}
}
