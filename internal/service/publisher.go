package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/domain/scm"
	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
	"github.com/helmsmanhq/helmsman/internal/journal"
	"github.com/helmsmanhq/helmsman/internal/port/database"
	"github.com/helmsmanhq/helmsman/internal/port/eventstore"
	"github.com/helmsmanhq/helmsman/internal/port/gitprovider"
)

// Publisher opens the wave's pull request on the hosting provider.
// Publication is idempotent: if an open PR for the branch already exists its
// description is refreshed instead of opening a duplicate.
type Publisher struct {
	provider gitprovider.Provider
	store    database.Store
	jrnl     journal.Store
	events   eventstore.Store
}

// NewPublisher creates the PR publisher.
func NewPublisher(provider gitprovider.Provider, store database.Store, jrnl journal.Store, events eventstore.Store) *Publisher {
	return &Publisher{provider: provider, store: store, jrnl: jrnl, events: events}
}

// Publish opens (or refreshes) the wave's pull request and returns it.
func (p *Publisher) Publish(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave, tasks []task.Task, result *scm.MergeResult, previewURL string) (*scm.PullRequest, error) {
	body := prBody(wv, tasks, result, previewURL)

	pr, err := journal.Do(ctx, p.jrnl, runID, "publish-pr", func(ctx context.Context) (*scm.PullRequest, error) {
		return p.publish(ctx, proj, wv, result.BranchName, body)
	})
	if err != nil {
		return nil, err
	}

	if err := p.store.SetWavePR(ctx, wv.ID, pr.Number, pr.URL); err != nil {
		slog.Error("set wave pr", "wave_id", wv.ID, "error", err)
	}
	for i := range tasks {
		t := &tasks[i]
		if t.Status != task.StatusCompleted {
			continue
		}
		if err := p.store.SetTaskPR(ctx, t.ID, pr.Number, pr.URL); err != nil {
			slog.Error("set task pr", "task_id", t.ID, "error", err)
		}
	}
	appendEvent(ctx, p.events, &event.Event{
		ProjectID:  proj.ID,
		WaveNumber: wv.WaveNumber,
		Type:       event.TypePRPublished,
		Payload:    eventPayload(map[string]any{"number": pr.Number, "url": pr.URL}),
	})
	return pr, nil
}

func (p *Publisher) publish(ctx context.Context, proj *project.Project, wv *wave.Wave, branch, body string) (*scm.PullRequest, error) {
	existing, err := p.provider.FindOpenPullRequest(ctx, proj.RepoRef, branch)
	if err != nil {
		return nil, fmt.Errorf("find open pr for %s: %w", branch, err)
	}
	if existing != nil {
		if err := p.provider.UpdatePullRequest(ctx, proj.RepoRef, existing.Number, body); err != nil {
			return nil, fmt.Errorf("refresh pr #%d: %w", existing.Number, err)
		}
		slog.Info("existing pr refreshed",
			"project_id", proj.ID, "wave", wv.WaveNumber, "pr", existing.Number)
		return existing, nil
	}

	pr, err := p.provider.CreatePullRequest(ctx, proj.RepoRef, gitprovider.CreatePRRequest{
		Branch: branch,
		Base:   proj.MainBranch,
		Title:  fmt.Sprintf("Wave %d: %d task(s)", wv.WaveNumber, wv.TaskCount),
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("create pr for %s: %w", branch, err)
	}

	slog.Info("pr published",
		"project_id", proj.ID, "wave", wv.WaveNumber, "pr", pr.Number, "url", pr.URL)
	return pr, nil
}

// prBody renders the wave summary used as the PR description.
func prBody(wv *wave.Wave, tasks []task.Task, result *scm.MergeResult, previewURL string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Wave %d\n\n", wv.WaveNumber)
	fmt.Fprintf(&b, "Review score: %.1f\n\n", wv.FinalReviewScore)
	if previewURL != "" {
		fmt.Fprintf(&b, "Preview: %s\n\n", previewURL)
	}

	b.WriteString("### Tasks\n\n")
	for i := range tasks {
		t := &tasks[i]
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", t.Status, t.ID, t.AgentType)
	}

	if len(result.MergedBranches) > 1 {
		b.WriteString("\n### Merged branches\n\n")
		for _, branch := range result.MergedBranches {
			fmt.Fprintf(&b, "- %s\n", branch)
		}
	}
	return b.String()
}
