// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/helmsmanhq/helmsman/internal/domain/deploy"
	"github.com/helmsmanhq/helmsman/internal/domain/escalation"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/domain/task"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
)

// Store is the port interface for database operations.
type Store interface {
	// Projects
	GetProject(ctx context.Context, id string) (*project.Project, error)
	UpdateProjectStatus(ctx context.Context, id string, status project.Status) error
	SetProjectWorkspace(ctx context.Context, id, path string) error

	// Tasks
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasksByWave(ctx context.Context, projectID string, waveNumber int) ([]task.Task, error)
	// CountUnwavedPending returns the number of pending tasks not yet
	// assigned to any wave.
	CountUnwavedPending(ctx context.Context, projectID string) (int, error)
	// AssignTaskToWave records the wave number and working branch for a task.
	AssignTaskToWave(ctx context.Context, id string, waveNumber int, branch string) error
	// MarkTaskStarted transitions pending -> in_progress and stamps started_at.
	// Idempotent: a task already in progress is left untouched.
	MarkTaskStarted(ctx context.Context, id string, startedAt time.Time) error
	// CompleteTask transitions in_progress -> completed with the agent output.
	CompleteTask(ctx context.Context, id string, files []string, output string, completedAt time.Time) error
	// FailTask transitions to failed with the given reason.
	FailTask(ctx context.Context, id, reason string, failedAt time.Time) error
	// ResetTaskForRetry is the only re-entry to pending: it attaches the
	// failure context and increments the retry counter.
	ResetTaskForRetry(ctx context.Context, id, failureContext string) error
	SetTaskReview(ctx context.Context, id string, score float64, criticalIssues int) error
	SetTaskPR(ctx context.Context, id string, prNumber int, prURL string) error
	// ListStuckTasks returns in_progress tasks whose started_at is older
	// than the cutoff.
	ListStuckTasks(ctx context.Context, cutoff time.Time) ([]task.Task, error)

	// Waves
	// EnsureWave creates the wave for (projectID, waveNumber) or returns
	// the existing one; the pair is unique.
	EnsureWave(ctx context.Context, projectID string, waveNumber, taskCount int) (*wave.Wave, error)
	GetWave(ctx context.Context, projectID string, waveNumber int) (*wave.Wave, error)
	ListWaves(ctx context.Context, projectID string) ([]wave.Wave, error)
	UpdateWaveStatus(ctx context.Context, id string, status wave.Status, errMsg string) error
	// IncrementWaveCompleted atomically adds one to completed_count,
	// never exceeding task_count.
	IncrementWaveCompleted(ctx context.Context, id string) error
	SetWaveBranch(ctx context.Context, id, branch string) error
	SetWavePreviewURL(ctx context.Context, id, url string) error
	SetWaveReviewScore(ctx context.Context, id string, score float64) error
	SetWavePR(ctx context.Context, id string, prNumber int, prURL string) error

	// Critical failures (append-only)
	CreateCriticalFailure(ctx context.Context, f *escalation.CriticalFailure) error
	ListCriticalFailures(ctx context.Context, projectID string) ([]escalation.CriticalFailure, error)

	// Deployments
	CreateDeployment(ctx context.Context, d *deploy.Deployment) error
	ListDeployments(ctx context.Context, projectID string) ([]deploy.Deployment, error)
}
