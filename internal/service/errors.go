package service

import (
	"fmt"
	"time"
)

// PhaseTimeoutError is returned when a dispatched task produces no completion
// message within the dispatch timeout. It always fails the wave.
type PhaseTimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("task %s: no completion within %s", e.TaskID, e.Timeout)
}

// GateTimeoutError is returned when a quality gate stage produces no result
// within its timeout.
type GateTimeoutError struct {
	Gate      string
	RequestID string
	Timeout   time.Duration
}

func (e *GateTimeoutError) Error() string {
	return fmt.Sprintf("%s gate: no result for request %s within %s", e.Gate, e.RequestID, e.Timeout)
}
