// Package wave defines the Wave domain entity: the execution record for
// one phase of the plan.
package wave

import "time"

// Status represents the lifecycle state of a wave.
type Status string

const (
	StatusPending               Status = "pending"
	StatusInProgress            Status = "in_progress"
	StatusCompleted             Status = "completed"
	StatusCompletedWithWarnings Status = "completed_with_warnings"
	StatusNeedsHumanReview      Status = "needs_human_review"
	StatusFailed                Status = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithWarnings, StatusNeedsHumanReview, StatusFailed:
		return true
	}
	return false
}

// Publishable reports whether a wave in this status proceeds to branch
// aggregation, preview and PR publication.
func (s Status) Publishable() bool {
	return s == StatusCompleted || s == StatusCompletedWithWarnings
}

// Wave is the execution record for one phase. Exactly one wave exists per
// (ProjectID, WaveNumber); the store enforces the uniqueness constraint.
type Wave struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	WaveNumber       int        `json:"wave_number"`
	Status           Status     `json:"status"`
	TaskCount        int        `json:"task_count"`
	CompletedCount   int        `json:"completed_count"`
	BranchName       string     `json:"branch_name,omitempty"`
	PRNumber         int        `json:"pr_number,omitempty"`
	PRURL            string     `json:"pr_url,omitempty"`
	PreviewURL       string     `json:"preview_url,omitempty"`
	FinalReviewScore float64    `json:"final_review_score,omitempty"`
	Error            string     `json:"error,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
