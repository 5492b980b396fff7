// Package plan defines the execution plan supplied by the plan store:
// an ordered list of phases, each listing task IDs in execution order.
package plan

import (
	"errors"
	"fmt"
)

var (
	ErrNoPhases        = errors.New("plan must have at least one phase")
	ErrPhaseNoTasks    = errors.New("phase must list at least one task")
	ErrPhaseNameEmpty  = errors.New("phase name is required")
	ErrDuplicateTaskID = errors.New("task id appears in more than one phase")
)

// Phase is one ordered batch of tasks processed as a unit (a "wave").
type Phase struct {
	Name    string   `json:"name"`
	TaskIDs []string `json:"task_ids"`
}

// ExecutionPlan is the full build plan for a project.
type ExecutionPlan struct {
	ProjectID string  `json:"project_id"`
	Phases    []Phase `json:"phases"`
}

// PhaseCount returns the number of phases in the plan.
func (p *ExecutionPlan) PhaseCount() int { return len(p.Phases) }

// PhaseByNumber returns the phase for a 1-indexed phase number.
func (p *ExecutionPlan) PhaseByNumber(n int) (*Phase, error) {
	if n < 1 || n > len(p.Phases) {
		return nil, fmt.Errorf("phase %d does not exist (plan has %d phases)", n, len(p.Phases))
	}
	return &p.Phases[n-1], nil
}

// Validate checks the plan for structural correctness: every phase is named
// and non-empty, and no task ID is claimed by two phases.
func (p *ExecutionPlan) Validate() error {
	if len(p.Phases) == 0 {
		return ErrNoPhases
	}

	seen := make(map[string]int)
	for i, ph := range p.Phases {
		if ph.Name == "" {
			return fmt.Errorf("phase %d: %w", i+1, ErrPhaseNameEmpty)
		}
		if len(ph.TaskIDs) == 0 {
			return fmt.Errorf("phase %d (%s): %w", i+1, ph.Name, ErrPhaseNoTasks)
		}
		for _, id := range ph.TaskIDs {
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("task %s in phases %d and %d: %w", id, prev, i+1, ErrDuplicateTaskID)
			}
			seen[id] = i + 1
		}
	}
	return nil
}
