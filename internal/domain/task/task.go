// Package task defines the Task domain entity: one unit of work assigned
// to a specialized execution agent.
package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// AgentType identifies the specialized worker that owns a task.
type AgentType string

const (
	AgentFrontend       AgentType = "frontend"
	AgentBackend        AgentType = "backend"
	AgentInfrastructure AgentType = "infrastructure"
	AgentDatabase       AgentType = "database"
)

// KnownAgentType reports whether t is a recognized agent type.
func KnownAgentType(t AgentType) bool {
	switch t {
	case AgentFrontend, AgentBackend, AgentInfrastructure, AgentDatabase:
		return true
	}
	return false
}

// Status represents the current state of a task. Transitions are monotonic
// (pending -> in_progress -> completed|failed); the only re-entry to pending
// is an explicit test-failure retry via ResetForRetry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the monotonic status machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusInProgress || to == StatusFailed
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Task represents a unit of work assigned to an execution agent.
type Task struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	AgentType      AgentType       `json:"agent_type"`
	Input          json.RawMessage `json:"input"`
	Priority       int             `json:"priority"`
	Status         Status          `json:"status"`
	BranchName     string          `json:"branch_name,omitempty"`
	PRNumber       int             `json:"pr_number,omitempty"`
	PRURL          string          `json:"pr_url,omitempty"`
	ReviewScore    float64         `json:"review_score,omitempty"`
	CriticalIssues int             `json:"critical_issues"`
	WaveNumber     int             `json:"wave_number,omitempty"`
	RetryCount     int             `json:"retry_count"`
	Files          []string        `json:"files,omitempty"`
	Output         string          `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// OwnsFile reports whether the task produced the given source file.
func (t *Task) OwnsFile(file string) bool {
	for _, f := range t.Files {
		if f == file {
			return true
		}
	}
	return false
}

// ExecutionError is returned when an agent reports failure for a task.
// By itself it does not fail the wave unless it was the last attempt.
type ExecutionError struct {
	TaskID string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s: agent reported failure: %s", e.TaskID, e.Reason)
}
