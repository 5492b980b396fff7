package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/helmsmanhq/helmsman/internal/domain/escalation"
	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/domain/review"
	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
	"github.com/helmsmanhq/helmsman/internal/journal"
	"github.com/helmsmanhq/helmsman/internal/port/broadcast"
	"github.com/helmsmanhq/helmsman/internal/port/database"
	"github.com/helmsmanhq/helmsman/internal/port/eventstore"
	"github.com/helmsmanhq/helmsman/internal/port/messagequeue"
	"github.com/helmsmanhq/helmsman/internal/port/notifier"

	wsadapter "github.com/helmsmanhq/helmsman/internal/adapter/ws"
)

// AutoFix retries rejected review reports by re-dispatching fix tasks to the
// owning agents with exponential backoff. Critical or breaking issues get
// five attempts and escalate to a human on exhaustion; medium issues get
// three attempts and downgrade to a warning.
type AutoFix struct {
	dispatcher *Dispatcher
	gates      *GateClient
	store      database.Store
	jrnl       journal.Store
	events     eventstore.Store
	notify     notifier.Notifier
	hub        broadcast.Broadcaster

	// sleep is swappable for testing.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAutoFix creates the auto-fix retry controller.
func NewAutoFix(dispatcher *Dispatcher, gates *GateClient, store database.Store, jrnl journal.Store, events eventstore.Store, notify notifier.Notifier, hub broadcast.Broadcaster) *AutoFix {
	return &AutoFix{
		dispatcher: dispatcher,
		gates:      gates,
		store:      store,
		jrnl:       jrnl,
		events:     events,
		notify:     notify,
		hub:        hub,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the retry state machine for a rejected report and returns the
// wave status it concluded: completed (all issues fixed), completed_with_warnings
// (medium issues remain after exhaustion), or needs_human_review (critical
// issues remain after exhaustion).
func (a *AutoFix) Run(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave, tasks []task.Task, report *review.Report) (wave.Status, error) {
	strategy := review.StrategyFor(report)
	issuesFound := len(strategy.Issues)
	remaining := strategy.Issues

	for attempt := 1; attempt <= strategy.MaxAttempts && len(remaining) > 0; attempt++ {
		if attempt > 1 {
			if err := a.sleep(ctx, review.BackoffDelay(attempt-1)); err != nil {
				return wave.StatusFailed, err
			}
		}

		step := fmt.Sprintf("autofix-attempt-%d", attempt)
		result, err := journal.Do(ctx, a.jrnl, runID, step, func(ctx context.Context) ([]review.CodeIssue, error) {
			return a.attempt(ctx, proj, wv, tasks, remaining, attempt)
		})
		if err != nil {
			return wave.StatusFailed, fmt.Errorf("autofix attempt %d: %w", attempt, err)
		}
		remaining = result

		appendEvent(ctx, a.events, &event.Event{
			ProjectID:  proj.ID,
			WaveNumber: wv.WaveNumber,
			Type:       event.TypeFixAttempt,
			Payload:    eventPayload(map[string]any{"attempt": attempt, "remaining": len(remaining)}),
		})
		slog.Info("autofix attempt finished",
			"project_id", proj.ID, "wave", wv.WaveNumber,
			"attempt", attempt, "remaining", len(remaining))
	}

	if len(remaining) == 0 {
		appendEvent(ctx, a.events, &event.Event{
			ProjectID:  proj.ID,
			WaveNumber: wv.WaveNumber,
			Type:       event.TypeFixSucceeded,
		})
		return wave.StatusCompleted, nil
	}

	if strategy.EscalateOnFailure {
		if err := a.escalate(ctx, runID, proj, wv, issuesFound, len(remaining), strategy.MaxAttempts); err != nil {
			return wave.StatusFailed, err
		}
		return wave.StatusNeedsHumanReview, nil
	}

	appendEvent(ctx, a.events, &event.Event{
		ProjectID:  proj.ID,
		WaveNumber: wv.WaveNumber,
		Type:       event.TypeFixWarned,
		Payload:    eventPayload(map[string]any{"remaining": len(remaining)}),
	})
	return wave.StatusCompletedWithWarnings, nil
}

// attempt dispatches fix tasks to the owners of the remaining issues and
// re-runs the Critic to measure what is still broken. Issues in files no
// task owns cannot be routed anywhere and are treated as resolved.
func (a *AutoFix) attempt(ctx context.Context, proj *project.Project, wv *wave.Wave, tasks []task.Task, issues []review.CodeIssue, attempt int) ([]review.CodeIssue, error) {
	owned := issueOwners(issues, tasks)
	if len(owned) == 0 {
		return nil, nil
	}

	for taskID, taskIssues := range owned {
		t := taskByID(tasks, taskID)
		if t == nil {
			continue
		}
		payload := messagequeue.FixDispatchPayload{
			TaskID:     taskID,
			ProjectID:  proj.ID,
			WaveNumber: wv.WaveNumber,
			Attempt:    attempt,
			Issues:     taskIssues,
		}
		if _, err := a.dispatcher.DispatchFixAndWait(ctx, t.AgentType, payload); err != nil {
			// A failed fix dispatch leaves the issues in place; the next
			// verification pass counts them as remaining.
			slog.Warn("fix dispatch failed",
				"task_id", taskID, "attempt", attempt, "error", err)
		}
	}

	// Verify: re-review and keep only issues still in the urgent buckets.
	result, err := a.gates.RunCritic(ctx, proj.ID, wv.WaveNumber, collectFiles(tasks))
	if err != nil {
		return nil, fmt.Errorf("verification review: %w", err)
	}
	if result.Approved {
		return nil, nil
	}

	b := review.Categorize(result.Issues)
	stillBroken := make([]review.CodeIssue, 0, len(b.Critical)+len(b.Breaking))
	stillBroken = append(stillBroken, b.Critical...)
	stillBroken = append(stillBroken, b.Breaking...)
	if len(stillBroken) == 0 {
		// Only medium issues left; the urgent work is done.
		stillBroken = b.Medium
	}
	return stillBroken, nil
}

// escalate records exactly one critical failure and sends exactly one
// notification, both journaled so a redelivered wave cannot duplicate them.
func (a *AutoFix) escalate(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave, found, remaining, attempts int) error {
	err := journal.Step(ctx, a.jrnl, runID, "autofix-escalate", func(ctx context.Context) error {
		failure := &escalation.CriticalFailure{
			ProjectID:        proj.ID,
			WaveNumber:       wv.WaveNumber,
			IssuesFound:      found,
			IssuesRemaining:  remaining,
			TotalAttempts:    attempts,
			Status:           escalation.StatusEscalated,
			EscalatedToHuman: true,
			NotificationSent: false,
		}

		notified := false
		if a.notify != nil {
			notifyErr := a.notify.Send(ctx, notifier.Notification{
				Title: "Wave escalated to human review",
				Message: fmt.Sprintf("Project %s wave %d: %d critical issue(s) remain after %d fix attempts.",
					proj.Name, wv.WaveNumber, remaining, attempts),
				Level:  "error",
				Source: string(event.TypeWaveEscalated),
			})
			if notifyErr != nil {
				slog.Error("escalation notification failed", "project_id", proj.ID, "error", notifyErr)
			} else {
				notified = true
			}
		}
		failure.NotificationSent = notified

		return a.store.CreateCriticalFailure(ctx, failure)
	})
	if err != nil {
		return fmt.Errorf("record escalation: %w", err)
	}

	appendEvent(ctx, a.events, &event.Event{
		ProjectID:  proj.ID,
		WaveNumber: wv.WaveNumber,
		Type:       event.TypeFixEscalated,
		Payload:    eventPayload(map[string]any{"issues_remaining": remaining, "attempts": attempts}),
	})
	if a.hub != nil {
		a.hub.BroadcastEvent(ctx, wsadapter.EventEscalation, wsadapter.EscalationEvent{
			ProjectID:       proj.ID,
			WaveNumber:      wv.WaveNumber,
			IssuesRemaining: remaining,
		})
	}
	return nil
}

// issueOwners groups issues by the task owning each issue's file.
func issueOwners(issues []review.CodeIssue, tasks []task.Task) map[string][]review.CodeIssue {
	owners := make(map[string][]review.CodeIssue)
	for _, issue := range issues {
		for i := range tasks {
			if tasks[i].OwnsFile(issue.File) {
				owners[tasks[i].ID] = append(owners[tasks[i].ID], issue)
				break
			}
		}
	}
	return owners
}
