// Package event defines the append-only orchestration event used for the
// audit trail. Every state transition in the pipeline is recorded.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of orchestration event.
type Type string

const (
	TypeWaveStarted   Type = "wave.started"
	TypeWaveCompleted Type = "wave.completed"
	TypeWaveWarned    Type = "wave.completed_with_warnings"
	TypeWaveEscalated Type = "wave.escalated"
	TypeWaveFailed    Type = "wave.failed"

	TypeTaskDispatched Type = "task.dispatched"
	TypeTaskCompleted  Type = "task.completed"
	TypeTaskFailed     Type = "task.failed"
	TypeTaskTimeout    Type = "task.timeout"
	TypeTaskRetry      Type = "task.retry"
	TypeTaskZombie     Type = "task.zombie"

	TypeGateTesting     Type = "gate.testing"
	TypeGateCritic      Type = "gate.critic"
	TypeGateIntegration Type = "gate.integration"

	TypeFixAttempt   Type = "autofix.attempt"
	TypeFixSucceeded Type = "autofix.succeeded"
	TypeFixWarned    Type = "autofix.warned_proceed"
	TypeFixEscalated Type = "autofix.escalated"

	TypeBranchAggregated   Type = "branch.aggregated"
	TypePreviewProvisioned Type = "preview.provisioned"
	TypePRPublished        Type = "pr.published"
	TypeProjectCompleted   Type = "project.completed"
)

// Event is a single immutable entry in a project's orchestration trail.
type Event struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	WaveNumber int             `json:"wave_number,omitempty"`
	TaskID     string          `json:"task_id,omitempty"`
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
