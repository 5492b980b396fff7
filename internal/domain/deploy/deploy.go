// Package deploy defines deployment and ephemeral database branch records.
package deploy

import "time"

// Environment identifies the deployment target.
type Environment string

const (
	EnvPreview    Environment = "preview"
	EnvProduction Environment = "production"
)

// Status of a deployment.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// DatabaseBranch is an ephemeral copy-on-write database branch created for
// a wave's preview environment. Cleanup timing is an open product decision;
// the branch ID is persisted so a future reaper can act on it.
type DatabaseBranch struct {
	Provider         string `json:"provider"`
	BranchID         string `json:"branch_id"`
	ConnectionString string `json:"connection_string"`
	ParentBranchID   string `json:"parent_branch_id"`
}

// Deployment records one deployment attempt for a project.
type Deployment struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	WaveNumber  int         `json:"wave_number,omitempty"`
	Environment Environment `json:"environment"`
	Platform    string      `json:"platform"`
	URL         string      `json:"url,omitempty"`
	Status      Status      `json:"status"`
	DBBranchID  string      `json:"db_branch_id,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
