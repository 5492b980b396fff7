package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/helmsmanhq/helmsman/internal/config"
	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/domain/plan"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/domain/scm"
	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
	"github.com/helmsmanhq/helmsman/internal/journal"
	"github.com/helmsmanhq/helmsman/internal/port/broadcast"
	"github.com/helmsmanhq/helmsman/internal/port/database"
	"github.com/helmsmanhq/helmsman/internal/port/eventstore"
	"github.com/helmsmanhq/helmsman/internal/port/planstore"
	"github.com/helmsmanhq/helmsman/internal/port/workspace"

	oteladapter "github.com/helmsmanhq/helmsman/internal/adapter/otel"
	wsadapter "github.com/helmsmanhq/helmsman/internal/adapter/ws"
)

// Executor runs one phase of a project's plan as a wave: it dispatches the
// phase's tasks strictly in order, runs the quality gate pipeline over the
// results, aggregates branches, provisions a preview, publishes the PR, and
// hands off to the completion controller. Every side-effecting step is
// journaled under the wave's run ID so a crashed or redelivered run resumes
// instead of repeating work.
type Executor struct {
	store      database.Store
	plans      planstore.Store
	ws         workspace.Workspace
	dispatcher *Dispatcher
	gate       *QualityGate
	aggregator *Aggregator
	previewer  *Previewer
	publisher  *Publisher
	completion *Completion
	jrnl       journal.Store
	events     eventstore.Store
	hub        broadcast.Broadcaster
	metrics    *oteladapter.Metrics
	gitCfg     config.Git
}

// NewExecutor creates the phase executor.
func NewExecutor(
	store database.Store,
	plans planstore.Store,
	ws workspace.Workspace,
	dispatcher *Dispatcher,
	gate *QualityGate,
	aggregator *Aggregator,
	previewer *Previewer,
	publisher *Publisher,
	completion *Completion,
	jrnl journal.Store,
	events eventstore.Store,
	hub broadcast.Broadcaster,
	metrics *oteladapter.Metrics,
	gitCfg config.Git,
) *Executor {
	return &Executor{
		store:      store,
		plans:      plans,
		ws:         ws,
		dispatcher: dispatcher,
		gate:       gate,
		aggregator: aggregator,
		previewer:  previewer,
		publisher:  publisher,
		completion: completion,
		jrnl:       jrnl,
		events:     events,
		hub:        hub,
		metrics:    metrics,
		gitCfg:     gitCfg,
	}
}

// RunPhase executes one 1-indexed phase of the project's plan.
func (e *Executor) RunPhase(ctx context.Context, projectID string, phaseNumber int) error {
	proj, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	execPlan, err := e.plans.GetPlan(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if err := execPlan.Validate(); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	phase, err := execPlan.PhaseByNumber(phaseNumber)
	if err != nil {
		return err
	}

	runID := journal.RunID(projectID, phaseNumber)

	wv, err := e.store.EnsureWave(ctx, projectID, phaseNumber, len(phase.TaskIDs))
	if err != nil {
		return fmt.Errorf("ensure wave: %w", err)
	}
	if wv.Status.IsTerminal() {
		slog.Info("wave already terminal, skipping",
			"project_id", projectID, "wave", phaseNumber, "status", wv.Status)
		return nil
	}

	started := time.Now()
	if e.metrics != nil {
		e.metrics.WavesStarted.Add(ctx, 1)
	}
	appendEvent(ctx, e.events, &event.Event{
		ProjectID:  projectID,
		WaveNumber: phaseNumber,
		Type:       event.TypeWaveStarted,
		Payload:    eventPayload(map[string]any{"phase": phase.Name, "tasks": len(phase.TaskIDs)}),
	})
	e.broadcastWave(ctx, wv, wave.StatusInProgress, "", "")

	if err := e.ensureWorkspace(ctx, runID, proj); err != nil {
		return e.failWave(ctx, proj, wv, started, err)
	}

	tasks, err := e.runTasks(ctx, runID, proj, wv, phase)
	if err != nil {
		return e.failWave(ctx, proj, wv, started, err)
	}

	status, err := e.gate.Run(ctx, runID, proj, wv, tasks)
	if err != nil {
		return e.failWave(ctx, proj, wv, started, err)
	}

	switch status {
	case wave.StatusFailed:
		return e.failWave(ctx, proj, wv, started, errors.New("quality gate failed"))
	case wave.StatusNeedsHumanReview:
		return e.escalateWave(ctx, proj, wv, started)
	}

	// The wave passed its gates; collect, preview, and publish.
	tasks, err = e.store.ListTasksByWave(ctx, projectID, phaseNumber)
	if err != nil {
		return e.failWave(ctx, proj, wv, started, err)
	}

	result, err := e.aggregator.Aggregate(ctx, runID, proj, wv, tasks)
	if err != nil {
		// A merge conflict is fatal for the wave; the error carries the
		// full conflicting-branch list for the failure record.
		var conflictErr *scm.MergeConflictError
		if errors.As(err, &conflictErr) {
			slog.Warn("branch aggregation hit merge conflicts",
				"project_id", projectID, "wave", phaseNumber, "branches", conflictErr.Branches)
		}
		return e.failWave(ctx, proj, wv, started, err)
	}

	previewURL, err := e.previewer.Provision(ctx, runID, proj, wv, result.BranchName)
	if err != nil {
		return e.failWave(ctx, proj, wv, started, err)
	}

	pr, err := e.publisher.Publish(ctx, runID, proj, wv, tasks, result, previewURL)
	if err != nil {
		return e.failWave(ctx, proj, wv, started, err)
	}

	if err := e.store.UpdateWaveStatus(ctx, wv.ID, status, ""); err != nil {
		return fmt.Errorf("update wave status: %w", err)
	}

	evType := event.TypeWaveCompleted
	if status == wave.StatusCompletedWithWarnings {
		evType = event.TypeWaveWarned
	}
	appendEvent(ctx, e.events, &event.Event{
		ProjectID:  projectID,
		WaveNumber: phaseNumber,
		Type:       evType,
		Payload:    eventPayload(map[string]any{"pr": pr.Number, "preview": previewURL}),
	})
	if e.metrics != nil {
		e.metrics.WavesCompleted.Add(ctx, 1)
		e.metrics.WaveDuration.Record(ctx, time.Since(started).Seconds())
	}
	e.broadcastWave(ctx, wv, status, previewURL, pr.URL)

	slog.Info("wave finished",
		"project_id", projectID, "wave", phaseNumber, "status", status,
		"pr", pr.Number, "duration", time.Since(started))

	return e.completion.OnWaveComplete(ctx, proj, execPlan, phaseNumber)
}

// ensureWorkspace initializes the shared per-project checkout exactly once.
func (e *Executor) ensureWorkspace(ctx context.Context, runID string, proj *project.Project) error {
	path := proj.WorkspacePath
	if path == "" {
		path = filepath.Join(e.gitCfg.WorkspaceRoot, proj.ID)
	}

	err := journal.Step(ctx, e.jrnl, runID, "workspace-init", func(ctx context.Context) error {
		if err := e.ws.Ensure(ctx, proj.RepoRef, path); err != nil {
			return fmt.Errorf("ensure workspace: %w", err)
		}
		return e.store.SetProjectWorkspace(ctx, proj.ID, path)
	})
	if err != nil {
		return err
	}
	proj.WorkspacePath = path
	return nil
}

// runTasks dispatches the phase's tasks strictly in plan order. Each task
// gets a branch created from a fresh main checkout, and each successful task
// is counted against the wave before the next one starts. Any task failure
// or timeout aborts the remaining tasks.
func (e *Executor) runTasks(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave, phase *plan.Phase) ([]task.Task, error) {
	ident := projectIdentity{UserID: proj.UserID, ConversationID: proj.ConversationID}

	for i, taskID := range phase.TaskIDs {
		branch := scm.TaskBranchName(wv.WaveNumber, i+1)

		err := journal.Step(ctx, e.jrnl, runID, "task-"+taskID+"-branch", func(ctx context.Context) error {
			if err := e.store.AssignTaskToWave(ctx, taskID, wv.WaveNumber, branch); err != nil {
				return fmt.Errorf("assign task %s: %w", taskID, err)
			}
			return e.ws.CreateBranchFrom(ctx, proj.WorkspacePath, branch, proj.MainBranch)
		})
		if err != nil {
			return nil, err
		}

		t, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("load task %s: %w", taskID, err)
		}
		if t.Status == task.StatusCompleted {
			continue // resumed run; this task already finished
		}

		appendEvent(ctx, e.events, &event.Event{
			ProjectID:  proj.ID,
			WaveNumber: wv.WaveNumber,
			TaskID:     taskID,
			Type:       event.TypeTaskDispatched,
		})
		if e.metrics != nil {
			e.metrics.TasksDispatched.Add(ctx, 1)
		}
		e.broadcastTask(ctx, t, task.StatusInProgress)

		err = journal.Step(ctx, e.jrnl, runID, "task-"+taskID+"-execute", func(ctx context.Context) error {
			_, err := e.dispatcher.DispatchAndWait(ctx, ident, t)
			return err
		})
		if err != nil {
			evType := event.TypeTaskFailed
			var timeoutErr *PhaseTimeoutError
			if errors.As(err, &timeoutErr) {
				evType = event.TypeTaskTimeout
				if e.metrics != nil {
					e.metrics.TaskTimeouts.Add(ctx, 1)
				}
			}
			appendEvent(ctx, e.events, &event.Event{
				ProjectID:  proj.ID,
				WaveNumber: wv.WaveNumber,
				TaskID:     taskID,
				Type:       evType,
				Payload:    eventPayload(map[string]any{"error": err.Error()}),
			})
			e.broadcastTask(ctx, t, task.StatusFailed)
			return nil, fmt.Errorf("task %s: %w", taskID, err)
		}

		err = journal.Step(ctx, e.jrnl, runID, "task-"+taskID+"-push", func(ctx context.Context) error {
			return e.ws.Push(ctx, proj.WorkspacePath, branch)
		})
		if err != nil {
			return nil, fmt.Errorf("push task branch %s: %w", branch, err)
		}

		err = journal.Step(ctx, e.jrnl, runID, "task-"+taskID+"-count", func(ctx context.Context) error {
			return e.store.IncrementWaveCompleted(ctx, wv.ID)
		})
		if err != nil {
			return nil, fmt.Errorf("count task %s: %w", taskID, err)
		}

		appendEvent(ctx, e.events, &event.Event{
			ProjectID:  proj.ID,
			WaveNumber: wv.WaveNumber,
			TaskID:     taskID,
			Type:       event.TypeTaskCompleted,
		})
		e.broadcastTask(ctx, t, task.StatusCompleted)
	}

	return e.store.ListTasksByWave(ctx, proj.ID, wv.WaveNumber)
}

func (e *Executor) failWave(ctx context.Context, proj *project.Project, wv *wave.Wave, started time.Time, cause error) error {
	if err := e.store.UpdateWaveStatus(ctx, wv.ID, wave.StatusFailed, cause.Error()); err != nil {
		slog.Error("mark wave failed", "wave_id", wv.ID, "error", err)
	}
	appendEvent(ctx, e.events, &event.Event{
		ProjectID:  proj.ID,
		WaveNumber: wv.WaveNumber,
		Type:       event.TypeWaveFailed,
		Payload:    eventPayload(map[string]any{"error": cause.Error()}),
	})
	if e.metrics != nil {
		e.metrics.WavesFailed.Add(ctx, 1)
		e.metrics.WaveDuration.Record(ctx, time.Since(started).Seconds())
	}
	e.broadcastWave(ctx, wv, wave.StatusFailed, "", "")
	return fmt.Errorf("wave %d failed: %w", wv.WaveNumber, cause)
}

func (e *Executor) escalateWave(ctx context.Context, proj *project.Project, wv *wave.Wave, started time.Time) error {
	if err := e.store.UpdateWaveStatus(ctx, wv.ID, wave.StatusNeedsHumanReview, ""); err != nil {
		slog.Error("mark wave escalated", "wave_id", wv.ID, "error", err)
	}
	appendEvent(ctx, e.events, &event.Event{
		ProjectID:  proj.ID,
		WaveNumber: wv.WaveNumber,
		Type:       event.TypeWaveEscalated,
	})
	if e.metrics != nil {
		e.metrics.WavesEscalated.Add(ctx, 1)
		e.metrics.WaveDuration.Record(ctx, time.Since(started).Seconds())
	}
	e.broadcastWave(ctx, wv, wave.StatusNeedsHumanReview, "", "")
	// Escalation stops the pipeline without an error; a human resumes it.
	return nil
}

func (e *Executor) broadcastWave(ctx context.Context, wv *wave.Wave, status wave.Status, previewURL, prURL string) {
	if e.hub == nil {
		return
	}
	e.hub.BroadcastEvent(ctx, wsadapter.EventWaveStatus, wsadapter.WaveStatusEvent{
		ProjectID:  wv.ProjectID,
		WaveNumber: wv.WaveNumber,
		Status:     string(status),
		PreviewURL: previewURL,
		PRURL:      prURL,
	})
}

func (e *Executor) broadcastTask(ctx context.Context, t *task.Task, status task.Status) {
	if e.hub == nil {
		return
	}
	e.hub.BroadcastEvent(ctx, wsadapter.EventTaskStatus, wsadapter.TaskStatusEvent{
		TaskID:     t.ID,
		ProjectID:  t.ProjectID,
		WaveNumber: t.WaveNumber,
		Status:     string(status),
		AgentType:  string(t.AgentType),
	})
}
