package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/domain/scm"
	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
	"github.com/helmsmanhq/helmsman/internal/journal"
	"github.com/helmsmanhq/helmsman/internal/port/database"
	"github.com/helmsmanhq/helmsman/internal/port/eventstore"
	"github.com/helmsmanhq/helmsman/internal/port/workspace"
)

// ErrNoCompletedTasks is returned when aggregation is requested for a wave
// with no completed task branches.
var ErrNoCompletedTasks = errors.New("no completed task branches to aggregate")

// Aggregator collects the task branches of a completed wave into one
// reviewable branch. A single-task wave publishes its task branch directly;
// multi-task waves merge in task order into a fresh aggregate branch.
type Aggregator struct {
	ws     workspace.Workspace
	store  database.Store
	jrnl   journal.Store
	events eventstore.Store
}

// NewAggregator creates the branch aggregator.
func NewAggregator(ws workspace.Workspace, store database.Store, jrnl journal.Store, events eventstore.Store) *Aggregator {
	return &Aggregator{ws: ws, store: store, jrnl: jrnl, events: events}
}

// Aggregate produces the wave's reviewable branch. Merge conflicts abort the
// conflicting merge, continue collecting the full conflict list, and return
// a *scm.MergeConflictError; there is no automatic resolution.
func (a *Aggregator) Aggregate(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave, tasks []task.Task) (*scm.MergeResult, error) {
	branches := completedBranches(tasks)
	if len(branches) == 0 {
		return nil, ErrNoCompletedTasks
	}

	result, err := journal.Do(ctx, a.jrnl, runID, "aggregate-branches", func(ctx context.Context) (*scm.MergeResult, error) {
		return a.aggregate(ctx, proj, wv, branches)
	})
	if err != nil {
		return nil, err
	}
	if len(result.FailedBranches) > 0 {
		return result, &scm.MergeConflictError{Branches: result.FailedBranches}
	}

	if err := a.store.SetWaveBranch(ctx, wv.ID, result.BranchName); err != nil {
		slog.Error("set wave branch", "wave_id", wv.ID, "error", err)
	}
	appendEvent(ctx, a.events, &event.Event{
		ProjectID:  proj.ID,
		WaveNumber: wv.WaveNumber,
		Type:       event.TypeBranchAggregated,
		Payload:    eventPayload(result),
	})
	return result, nil
}

func (a *Aggregator) aggregate(ctx context.Context, proj *project.Project, wv *wave.Wave, branches []string) (*scm.MergeResult, error) {
	path := proj.WorkspacePath

	// A single task branch is already reviewable; skip the merge entirely.
	if len(branches) == 1 {
		return &scm.MergeResult{
			BranchName:     branches[0],
			MergedBranches: branches,
		}, nil
	}

	aggregate := scm.AggregateBranchName(wv.WaveNumber)
	if err := a.ws.CreateBranchFrom(ctx, path, aggregate, proj.MainBranch); err != nil {
		return nil, fmt.Errorf("create aggregate branch %s: %w", aggregate, err)
	}

	result := &scm.MergeResult{BranchName: aggregate}
	for _, branch := range branches {
		if err := a.ws.Merge(ctx, path, branch); err != nil {
			if errors.Is(err, scm.ErrMergeConflict) {
				result.FailedBranches = append(result.FailedBranches, branch)
				continue
			}
			return nil, fmt.Errorf("merge %s into %s: %w", branch, aggregate, err)
		}
		result.MergedBranches = append(result.MergedBranches, branch)
	}

	if len(result.FailedBranches) > 0 {
		return result, nil
	}

	if err := a.ws.Push(ctx, path, aggregate); err != nil {
		return nil, fmt.Errorf("push aggregate branch %s: %w", aggregate, err)
	}
	return result, nil
}

// completedBranches returns the branches of completed tasks in wave
// position order. The store lists tasks by priority, so the dispatch order
// is recovered from the wave-{n}-task-{k} branch names.
func completedBranches(tasks []task.Task) []string {
	var branches []string
	for i := range tasks {
		if tasks[i].Status == task.StatusCompleted && tasks[i].BranchName != "" {
			branches = append(branches, tasks[i].BranchName)
		}
	}
	sort.Slice(branches, func(i, j int) bool {
		return scm.BranchPosition(branches[i]) < scm.BranchPosition(branches[j])
	})
	return branches
}
