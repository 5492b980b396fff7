package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/helmsmanhq/helmsman/internal/config"
	"github.com/helmsmanhq/helmsman/internal/domain/deploy"
	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/domain/plan"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/journal"
	"github.com/helmsmanhq/helmsman/internal/port/database"
	"github.com/helmsmanhq/helmsman/internal/port/eventstore"
	"github.com/helmsmanhq/helmsman/internal/port/gitprovider"
	"github.com/helmsmanhq/helmsman/internal/port/messagequeue"
	"github.com/helmsmanhq/helmsman/internal/port/notifier"
)

// phaseRunner starts the next phase of a project. The executor satisfies
// this; the indirection breaks the construction cycle between the two.
type phaseRunner interface {
	RunPhase(ctx context.Context, projectID string, phaseNumber int) error
}

// Completion decides what happens after a wave finishes: advance to the
// next phase, or finalize the project (docs, PR merges, optional production
// deploy, notification). Finalization steps are journaled under a dedicated
// run so a crash mid-finalize resumes cleanly.
type Completion struct {
	queue    messagequeue.Queue
	provider gitprovider.Provider
	gates    *GateClient
	store    database.Store
	jrnl     journal.Store
	events   eventstore.Store
	notify   notifier.Notifier
	cfg      config.Pipeline

	runner phaseRunner
}

// NewCompletion creates the completion controller. The phase runner is
// injected later via SetPhaseRunner.
func NewCompletion(queue messagequeue.Queue, provider gitprovider.Provider, gates *GateClient, store database.Store, jrnl journal.Store, events eventstore.Store, notify notifier.Notifier, cfg config.Pipeline) *Completion {
	return &Completion{
		queue:    queue,
		provider: provider,
		gates:    gates,
		store:    store,
		jrnl:     jrnl,
		events:   events,
		notify:   notify,
		cfg:      cfg,
	}
}

// SetPhaseRunner wires the executor in after both are constructed.
func (c *Completion) SetPhaseRunner(r phaseRunner) { c.runner = r }

// OnWaveComplete advances the pipeline after a wave reached a publishable
// state: run the next phase if one remains, otherwise finalize the project.
func (c *Completion) OnWaveComplete(ctx context.Context, proj *project.Project, execPlan *plan.ExecutionPlan, waveNumber int) error {
	if waveNumber < execPlan.PhaseCount() {
		if c.runner == nil {
			return fmt.Errorf("no phase runner wired for project %s", proj.ID)
		}
		slog.Info("advancing to next phase",
			"project_id", proj.ID, "completed_wave", waveNumber, "next", waveNumber+1)
		return c.runner.RunPhase(ctx, proj.ID, waveNumber+1)
	}
	return c.finalize(ctx, proj, execPlan)
}

// finalize completes the project: documentation request, wave PR merges in
// order, optional production deploy, status flip and one notification.
func (c *Completion) finalize(ctx context.Context, proj *project.Project, execPlan *plan.ExecutionPlan) error {
	runID := proj.ID + ":completion"

	// Plan drift check: tasks added after planning that no phase picked up.
	if n, err := c.store.CountUnwavedPending(ctx, proj.ID); err == nil && n > 0 {
		slog.Warn("finalizing with unassigned pending tasks", "project_id", proj.ID, "count", n)
	}

	err := journal.Step(ctx, c.jrnl, runID, "docs-generate", func(ctx context.Context) error {
		payload, err := json.Marshal(messagequeue.DocsGeneratePayload{
			ProjectID: proj.ID,
			Waves:     execPlan.PhaseCount(),
		})
		if err != nil {
			return err
		}
		return c.queue.Publish(ctx, messagequeue.SubjectDocsGenerate, payload)
	})
	if err != nil {
		// Documentation is best-effort; a dead queue must not block the merge.
		slog.Warn("docs generation request failed", "project_id", proj.ID, "error", err)
	}

	if err := c.mergeWavePRs(ctx, runID, proj); err != nil {
		return err
	}

	if proj.ProdApproved {
		if err := c.deployProduction(ctx, runID, proj); err != nil {
			return err
		}
	}

	if err := c.store.UpdateProjectStatus(ctx, proj.ID, project.StatusCompleted); err != nil {
		return fmt.Errorf("mark project completed: %w", err)
	}
	appendEvent(ctx, c.events, &event.Event{
		ProjectID: proj.ID,
		Type:      event.TypeProjectCompleted,
		Payload:   eventPayload(map[string]any{"waves": execPlan.PhaseCount()}),
	})

	err = journal.Step(ctx, c.jrnl, runID, "notify-completed", func(ctx context.Context) error {
		if c.notify == nil {
			return nil
		}
		notifyErr := c.notify.Send(ctx, notifier.Notification{
			Title:   "Project build completed",
			Message: fmt.Sprintf("Project %s finished all %d waves.", proj.Name, execPlan.PhaseCount()),
			Level:   "success",
			Source:  string(event.TypeProjectCompleted),
		})
		if notifyErr != nil {
			// Journal the step anyway; notification is not retryable state.
			slog.Error("completion notification failed", "project_id", proj.ID, "error", notifyErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("project finalized", "project_id", proj.ID, "waves", execPlan.PhaseCount())
	return nil
}

// mergeWavePRs merges every wave's pull request into main, in wave order.
// Waves without a PR (escalated or failed ones a human resolved out of band)
// are skipped.
func (c *Completion) mergeWavePRs(ctx context.Context, runID string, proj *project.Project) error {
	waves, err := c.store.ListWaves(ctx, proj.ID)
	if err != nil {
		return fmt.Errorf("list waves: %w", err)
	}

	for i := range waves {
		wv := &waves[i]
		if wv.PRNumber == 0 {
			continue
		}
		if !wv.Status.Publishable() {
			slog.Warn("skipping unmergeable wave pr",
				"project_id", proj.ID, "wave", wv.WaveNumber, "status", wv.Status)
			continue
		}

		step := fmt.Sprintf("merge-wave-%d-pr", wv.WaveNumber)
		err := journal.Step(ctx, c.jrnl, runID, step, func(ctx context.Context) error {
			return c.provider.MergePullRequest(ctx, proj.RepoRef, wv.PRNumber)
		})
		if err != nil {
			return fmt.Errorf("merge wave %d pr #%d: %w", wv.WaveNumber, wv.PRNumber, err)
		}
		slog.Info("wave pr merged",
			"project_id", proj.ID, "wave", wv.WaveNumber, "pr", wv.PRNumber)
	}
	return nil
}

// productionOutcome is the journaled result of the production deploy.
type productionOutcome struct {
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

func (c *Completion) deployProduction(ctx context.Context, runID string, proj *project.Project) error {
	outcome, err := journal.Do(ctx, c.jrnl, runID, "deploy-production", func(ctx context.Context) (*productionOutcome, error) {
		result, err := c.gates.RequestDeploy(ctx, messagequeue.DeployRequestPayload{
			ProjectID:   proj.ID,
			Environment: string(deploy.EnvProduction),
			Platform:    c.cfg.DeployPlatform,
			Branch:      proj.MainBranch,
		})
		if err != nil {
			return nil, err
		}

		out := &productionOutcome{URL: result.DeploymentURL}
		status := deploy.StatusSucceeded
		if !result.Success {
			out.Error = result.Error
			status = deploy.StatusFailed
		}
		record := &deploy.Deployment{
			ProjectID:   proj.ID,
			Environment: deploy.EnvProduction,
			Platform:    c.cfg.DeployPlatform,
			URL:         out.URL,
			Status:      status,
			Error:       out.Error,
		}
		if err := c.store.CreateDeployment(ctx, record); err != nil {
			slog.Error("record production deployment", "project_id", proj.ID, "error", err)
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("production deploy: %w", err)
	}
	if outcome.Error != "" {
		return fmt.Errorf("production deploy failed: %s", outcome.Error)
	}
	return nil
}
