package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helmsmanhq/helmsman/internal/config"
	"github.com/helmsmanhq/helmsman/internal/domain"
	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/port/database"
	"github.com/helmsmanhq/helmsman/internal/port/messagequeue"
)

// Dispatcher publishes tasks to specialized agents over the queue and blocks
// until the matching completion message arrives. Completions are correlated
// by task ID; redelivered completions are absorbed by idempotent store writes.
type Dispatcher struct {
	queue   messagequeue.Queue
	store   database.Store
	cfg     config.Pipeline
	waiters *syncWaiter[messagequeue.CompletionPayload]
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(queue messagequeue.Queue, store database.Store, cfg config.Pipeline) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		store:   store,
		cfg:     cfg,
		waiters: newSyncWaiter[messagequeue.CompletionPayload]("task completion"),
	}
}

// dispatchTimeout is the agent processing budget plus a fixed buffer for
// message propagation.
func (d *Dispatcher) dispatchTimeout() time.Duration {
	return d.cfg.AgentTimeout + d.cfg.PropagationBuffer
}

// StartCompletionSubscriber subscribes to the completion subject. The
// returned function cancels the subscription.
func (d *Dispatcher) StartCompletionSubscriber(ctx context.Context) (func(), error) {
	return d.queue.Subscribe(ctx, messagequeue.SubjectTaskCompletion, d.handleCompletion)
}

// handleCompletion persists the task result and unblocks the waiter. The
// store writes are state-guarded, so a redelivered completion is a no-op.
func (d *Dispatcher) handleCompletion(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.CompletionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		// Malformed messages are dropped, not redelivered.
		slog.Error("malformed completion message", "error", err)
		return nil
	}
	if p.TaskID == "" {
		slog.Error("completion message missing task_id")
		return nil
	}

	now := time.Now().UTC()
	var err error
	if p.Success {
		err = d.store.CompleteTask(ctx, p.TaskID, p.Files, p.Output, now)
	} else {
		err = d.store.FailTask(ctx, p.TaskID, p.Error, now)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("persist completion for task %s: %w", p.TaskID, err)
	}
	if errors.Is(err, domain.ErrNotFound) {
		// Already terminal: duplicate delivery.
		slog.Debug("duplicate completion ignored", "task_id", p.TaskID)
	}

	d.waiters.deliver(p.TaskID, &p)
	return nil
}

// DispatchAndWait publishes the task to its agent and blocks until the agent
// reports completion or the dispatch times out. Agent-reported failures are
// retried up to MaxDispatchRetries times; a timeout is never retried.
func (d *Dispatcher) DispatchAndWait(ctx context.Context, proj projectIdentity, t *task.Task) (*messagequeue.CompletionPayload, error) {
	maxAttempts := 1 + d.cfg.MaxDispatchRetries

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := d.dispatchOnce(ctx, proj, t)
		if err == nil {
			return result, nil
		}

		var timeoutErr *PhaseTimeoutError
		if errors.As(err, &timeoutErr) {
			return nil, err
		}

		lastErr = err
		if attempt < maxAttempts {
			slog.Warn("task failed, re-dispatching",
				"task_id", t.ID, "attempt", attempt, "error", err)
			if resetErr := d.store.ResetTaskForRetry(ctx, t.ID, err.Error()); resetErr != nil {
				return nil, fmt.Errorf("reset task %s for retry: %w", t.ID, resetErr)
			}
		}
	}
	return nil, lastErr
}

func (d *Dispatcher) dispatchOnce(ctx context.Context, proj projectIdentity, t *task.Task) (*messagequeue.CompletionPayload, error) {
	payload := messagequeue.DispatchPayload{
		TaskID:         t.ID,
		ProjectID:      t.ProjectID,
		UserID:         proj.UserID,
		ConversationID: proj.ConversationID,
		TaskInput:      t.Input,
		Priority:       t.Priority,
		WaveNumber:     t.WaveNumber,
	}
	if err := messagequeue.ValidateDispatch(t.AgentType, &payload); err != nil {
		return nil, fmt.Errorf("validate dispatch: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch: %w", err)
	}

	ch := d.waiters.register(t.ID)
	defer d.waiters.unregister(t.ID)

	subject := messagequeue.DispatchSubject(string(t.AgentType))
	if err := d.queue.Publish(ctx, subject, data); err != nil {
		return nil, fmt.Errorf("publish dispatch: %w", err)
	}
	if err := d.store.MarkTaskStarted(ctx, t.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("mark task started: %w", err)
	}

	slog.Info("task dispatched", "task_id", t.ID, "subject", subject, "wave", t.WaveNumber)

	return d.await(ctx, ch, t.ID, d.dispatchTimeout())
}

// DispatchFixAndWait publishes a fix task to the originating agent type and
// blocks until it completes.
func (d *Dispatcher) DispatchFixAndWait(ctx context.Context, agentType task.AgentType, p messagequeue.FixDispatchPayload) (*messagequeue.CompletionPayload, error) {
	if err := messagequeue.ValidateFixDispatch(&p); err != nil {
		return nil, fmt.Errorf("validate fix dispatch: %w", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal fix dispatch: %w", err)
	}

	ch := d.waiters.register(p.TaskID)
	defer d.waiters.unregister(p.TaskID)

	subject := messagequeue.FixSubject(string(agentType))
	if err := d.queue.Publish(ctx, subject, data); err != nil {
		return nil, fmt.Errorf("publish fix dispatch: %w", err)
	}

	slog.Info("fix task dispatched",
		"task_id", p.TaskID, "subject", subject, "attempt", p.Attempt)

	timeout := d.cfg.FixTimeout + d.cfg.PropagationBuffer
	return d.await(ctx, ch, p.TaskID, timeout)
}

func (d *Dispatcher) await(ctx context.Context, ch chan *messagequeue.CompletionPayload, taskID string, timeout time.Duration) (*messagequeue.CompletionPayload, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		if !result.Success {
			return nil, &task.ExecutionError{TaskID: taskID, Reason: result.Error}
		}
		return result, nil
	case <-timer.C:
		if err := d.store.FailTask(ctx, taskID, "dispatch timeout", time.Now().UTC()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Error("fail timed-out task", "task_id", taskID, "error", err)
		}
		return nil, &PhaseTimeoutError{TaskID: taskID, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// projectIdentity carries the routing identity forwarded in every dispatch.
type projectIdentity struct {
	UserID         string
	ConversationID string
}
