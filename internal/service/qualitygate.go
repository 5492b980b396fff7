package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helmsmanhq/helmsman/internal/config"
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

	wsadapter "github.com/helmsmanhq/helmsman/internal/adapter/ws"
)

// QualityGate runs the three-stage quality pipeline for a completed wave:
// Testing, then Critic review, then Integration verification. Stages run in
// strict order and each failure path has its own policy.
type QualityGate struct {
	gates      *GateClient
	dispatcher *Dispatcher
	autofix    *AutoFix
	store      database.Store
	jrnl       journal.Store
	events     eventstore.Store
	hub        broadcast.Broadcaster
	cfg        config.Pipeline
}

// NewQualityGate creates the quality gate pipeline.
func NewQualityGate(gates *GateClient, dispatcher *Dispatcher, autofix *AutoFix, store database.Store, jrnl journal.Store, events eventstore.Store, hub broadcast.Broadcaster, cfg config.Pipeline) *QualityGate {
	return &QualityGate{
		gates:      gates,
		dispatcher: dispatcher,
		autofix:    autofix,
		store:      store,
		jrnl:       jrnl,
		events:     events,
		hub:        hub,
		cfg:        cfg,
	}
}

// Run executes the gate pipeline and returns the wave status it concluded:
// completed, completed_with_warnings, needs_human_review, or failed.
func (q *QualityGate) Run(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave, tasks []task.Task) (wave.Status, error) {
	files := collectFiles(tasks)

	passed, err := q.runTesting(ctx, runID, proj, wv, tasks, files)
	if err != nil {
		return wave.StatusFailed, err
	}
	if !passed {
		return wave.StatusFailed, nil
	}

	status, err := q.runCritic(ctx, runID, proj, wv, tasks, files)
	if err != nil || status == wave.StatusFailed || status == wave.StatusNeedsHumanReview {
		return status, err
	}

	compatible, err := q.runIntegration(ctx, runID, proj, wv)
	if err != nil {
		return wave.StatusFailed, err
	}
	if !compatible {
		return wave.StatusFailed, nil
	}

	return status, nil
}

// runTesting executes the testing stage. Failing tests are routed back to
// the tasks owning the failing files for a bounded number of re-dispatches.
func (q *QualityGate) runTesting(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave, tasks []task.Task, files []string) (bool, error) {
	ident := projectIdentity{UserID: proj.UserID, ConversationID: proj.ConversationID}

	for attempt := 0; ; attempt++ {
		step := fmt.Sprintf("gate-testing-%d", attempt)
		result, err := journal.Do(ctx, q.jrnl, runID, step, func(ctx context.Context) (*messagequeue.TestingResultPayload, error) {
			return q.gates.RunTesting(ctx, proj.ID, wv.WaveNumber, files)
		})
		if err != nil {
			return false, fmt.Errorf("testing gate: %w", err)
		}

		q.recordGate(ctx, proj.ID, wv.WaveNumber, "testing", result.TestsFailed == 0, 0)

		if result.TestsFailed == 0 {
			return true, nil
		}
		if attempt >= q.cfg.MaxTestRetries {
			slog.Warn("testing gate exhausted retries",
				"project_id", proj.ID, "wave", wv.WaveNumber, "failed", result.TestsFailed)
			return false, nil
		}

		owners := failureOwners(result.Failures, tasks)
		if len(owners) == 0 {
			// No task owns the failing files; re-dispatching cannot help.
			return false, nil
		}

		for taskID, failures := range owners {
			t := taskByID(tasks, taskID)
			if t == nil {
				continue
			}
			fixStep := fmt.Sprintf("gate-testing-%d-retry-%s", attempt, taskID)
			err := journal.Step(ctx, q.jrnl, runID, fixStep, func(ctx context.Context) error {
				msg := testFailureContext(failures)
				if err := q.store.ResetTaskForRetry(ctx, taskID, msg); err != nil {
					return err
				}
				appendEvent(ctx, q.events, &event.Event{
					ProjectID:  proj.ID,
					WaveNumber: wv.WaveNumber,
					TaskID:     taskID,
					Type:       event.TypeTaskRetry,
					Payload:    eventPayload(map[string]any{"reason": "test_failure", "attempt": attempt + 1}),
				})
				fresh, err := q.store.GetTask(ctx, taskID)
				if err != nil {
					return err
				}
				_, err = q.dispatcher.DispatchAndWait(ctx, ident, fresh)
				return err
			})
			if err != nil {
				return false, fmt.Errorf("testing retry for task %s: %w", taskID, err)
			}
		}
	}
}

// runCritic executes the review stage. A rejected report is handed to the
// auto-fix controller, whose outcome decides the wave status.
func (q *QualityGate) runCritic(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave, tasks []task.Task, files []string) (wave.Status, error) {
	result, err := journal.Do(ctx, q.jrnl, runID, "gate-critic", func(ctx context.Context) (*messagequeue.CriticResultPayload, error) {
		return q.gates.RunCritic(ctx, proj.ID, wv.WaveNumber, files)
	})
	if err != nil {
		return wave.StatusFailed, fmt.Errorf("critic gate: %w", err)
	}

	if err := q.store.SetWaveReviewScore(ctx, wv.ID, result.Score); err != nil {
		slog.Error("set wave review score", "wave_id", wv.ID, "error", err)
	}
	q.recordTaskReviews(ctx, tasks, result)
	q.recordGate(ctx, proj.ID, wv.WaveNumber, "critic", result.Approved, result.Score)

	if result.Approved {
		return wave.StatusCompleted, nil
	}

	report := buildReport(result)
	return q.autofix.Run(ctx, runID, proj, wv, tasks, report)
}

// runIntegration executes the cross-task compatibility stage.
func (q *QualityGate) runIntegration(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave) (bool, error) {
	result, err := journal.Do(ctx, q.jrnl, runID, "gate-integration", func(ctx context.Context) (*messagequeue.IntegrationResultPayload, error) {
		return q.gates.RunIntegration(ctx, proj.ID, wv.WaveNumber)
	})
	if err != nil {
		return false, fmt.Errorf("integration gate: %w", err)
	}

	// Compatibility alone is not enough: critical cross-task issues fail
	// the wave even when the verifier reports the tasks as compatible.
	passed := result.Compatible && result.CriticalIssues == 0
	q.recordGate(ctx, proj.ID, wv.WaveNumber, "integration", passed, result.CompatibilityScore)
	return passed, nil
}

func (q *QualityGate) recordGate(ctx context.Context, projectID string, waveNumber int, gate string, passed bool, score float64) {
	var evType event.Type
	switch gate {
	case "testing":
		evType = event.TypeGateTesting
	case "critic":
		evType = event.TypeGateCritic
	default:
		evType = event.TypeGateIntegration
	}
	appendEvent(ctx, q.events, &event.Event{
		ProjectID:  projectID,
		WaveNumber: waveNumber,
		Type:       evType,
		Payload:    eventPayload(map[string]any{"passed": passed, "score": score}),
	})
	if q.hub != nil {
		q.hub.BroadcastEvent(ctx, wsadapter.EventGateResult, wsadapter.GateResultEvent{
			ProjectID:  projectID,
			WaveNumber: waveNumber,
			Gate:       gate,
			Passed:     passed,
			Score:      score,
		})
	}
}

// buildReport converts the Critic's wire payload into the domain report,
// bucketing issues by severity.
// recordTaskReviews stamps the wave review score and each task's share of
// critical issues (by file ownership) onto the task records.
func (q *QualityGate) recordTaskReviews(ctx context.Context, tasks []task.Task, result *messagequeue.CriticResultPayload) {
	for i := range tasks {
		t := &tasks[i]
		critical := 0
		for _, issue := range result.Issues {
			if issue.Severity == review.SeverityCritical && t.OwnsFile(issue.File) {
				critical++
			}
		}
		if err := q.store.SetTaskReview(ctx, t.ID, result.Score, critical); err != nil {
			slog.Error("set task review", "task_id", t.ID, "error", err)
		}
	}
}

func buildReport(p *messagequeue.CriticResultPayload) *review.Report {
	r := &review.Report{
		OverallScore: p.Score,
		Metrics:      p.Metrics,
		Approved:     p.Approved,
	}
	for _, issue := range p.Issues {
		switch issue.Severity {
		case review.SeverityCritical, review.SeverityHigh:
			r.MustFix = append(r.MustFix, issue)
		case review.SeverityMedium:
			r.ShouldFix = append(r.ShouldFix, issue)
		default:
			r.Optional = append(r.Optional, issue)
		}
	}
	return r
}

// collectFiles returns the union of files produced by the wave's tasks.
func collectFiles(tasks []task.Task) []string {
	seen := make(map[string]struct{})
	var files []string
	for i := range tasks {
		for _, f := range tasks[i].Files {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			files = append(files, f)
		}
	}
	return files
}

// failureOwners maps failing tests to the tasks owning the failing files.
// Failures in files no task owns are dropped.
func failureOwners(failures []messagequeue.TestFailure, tasks []task.Task) map[string][]messagequeue.TestFailure {
	owners := make(map[string][]messagequeue.TestFailure)
	for _, f := range failures {
		for i := range tasks {
			if tasks[i].OwnsFile(f.File) {
				owners[tasks[i].ID] = append(owners[tasks[i].ID], f)
				break
			}
		}
	}
	return owners
}

func taskByID(tasks []task.Task, id string) *task.Task {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
	}
	return nil
}

func testFailureContext(failures []messagequeue.TestFailure) string {
	msg := "failing tests:"
	for _, f := range failures {
		msg += fmt.Sprintf(" %s (%s): %s;", f.Name, f.File, f.Message)
	}
	return msg
}
