package messagequeue

import (
	"errors"
	"fmt"

	"github.com/helmsmanhq/helmsman/internal/domain/task"
)

var (
	ErrMissingTaskID    = errors.New("dispatch payload missing task_id")
	ErrMissingProjectID = errors.New("dispatch payload missing project_id")
	ErrBadWaveNumber    = errors.New("dispatch payload wave_number must be >= 1")
)

// ValidateDispatch checks a dispatch payload against the per-agent-type
// input schema before it is published. Task inputs are a tagged union keyed
// by agent type and are never trusted as opaque data.
func ValidateDispatch(agentType task.AgentType, p *DispatchPayload) error {
	if p.TaskID == "" {
		return ErrMissingTaskID
	}
	if p.ProjectID == "" {
		return ErrMissingProjectID
	}
	if p.WaveNumber < 1 {
		return ErrBadWaveNumber
	}
	if err := task.ValidateInput(agentType, p.TaskInput); err != nil {
		return fmt.Errorf("task %s: %w", p.TaskID, err)
	}
	return nil
}

// ValidateFixDispatch checks a fix-dispatch payload before publication.
func ValidateFixDispatch(p *FixDispatchPayload) error {
	if p.TaskID == "" {
		return ErrMissingTaskID
	}
	if p.ProjectID == "" {
		return ErrMissingProjectID
	}
	if p.WaveNumber < 1 {
		return ErrBadWaveNumber
	}
	if len(p.Issues) == 0 {
		return errors.New("fix dispatch requires at least one issue")
	}
	if p.Attempt < 1 {
		return errors.New("fix dispatch attempt must be >= 1")
	}
	return nil
}
