// Package project defines the Project domain entity.
package project

import "time"

// Status represents the lifecycle state of a project build.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Project is one autonomous build: a repository, a plan, and the waves
// executed against it.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	RepoRef        string    `json:"repo_ref"` // owner/repo on the hosting provider
	MainBranch     string    `json:"main_branch"`
	WorkspacePath  string    `json:"workspace_path,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ProdApproved   bool      `json:"prod_approved"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
