// Package journal implements durable step memoization: each discrete
// side-effecting operation of a pipeline run is recorded under
// (runID, stepName) so that process restarts or at-least-once redelivery
// never re-execute a completed step.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store persists step results keyed by (runID, stepName).
type Store interface {
	// Get returns the recorded result for the step, if any.
	Get(ctx context.Context, runID, step string) ([]byte, bool, error)

	// Record persists the result for the step. Recording the same step
	// twice is a no-op (first write wins).
	Record(ctx context.Context, runID, step string, result []byte) error
}

// RunID derives the journal run identifier for one wave of a project.
func RunID(projectID string, waveNumber int) string {
	return fmt.Sprintf("%s:wave-%d", projectID, waveNumber)
}

// Do executes fn exactly once per (runID, step): if the journal already
// holds a result it is returned without re-executing fn; otherwise fn runs
// and its result is recorded before being returned. Errors are never
// journaled, so a failed step re-executes on the next run.
func Do[T any](ctx context.Context, s Store, runID, step string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	cached, ok, err := s.Get(ctx, runID, step)
	if err != nil {
		return zero, fmt.Errorf("journal get %s/%s: %w", runID, step, err)
	}
	if ok {
		var out T
		if err := json.Unmarshal(cached, &out); err != nil {
			return zero, fmt.Errorf("journal decode %s/%s: %w", runID, step, err)
		}
		return out, nil
	}

	out, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("journal encode %s/%s: %w", runID, step, err)
	}
	if err := s.Record(ctx, runID, step, data); err != nil {
		return zero, fmt.Errorf("journal record %s/%s: %w", runID, step, err)
	}
	return out, nil
}

// Step runs a side effect with no meaningful return value exactly once.
func Step(ctx context.Context, s Store, runID, step string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, s, runID, step, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
