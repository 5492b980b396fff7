// Package eventstore defines the port interface for the append-only
// orchestration event trail.
package eventstore

import (
	"context"

	"github.com/helmsmanhq/helmsman/internal/domain/event"
)

// Store is the port interface for appending and loading orchestration events.
type Store interface {
	// Append persists a new event to the store.
	Append(ctx context.Context, ev *event.Event) error

	// ListByProject returns all events for the project, oldest first.
	ListByProject(ctx context.Context, projectID string) ([]event.Event, error)

	// ListByWave returns all events for one wave of the project, oldest first.
	ListByWave(ctx context.Context, projectID string, waveNumber int) ([]event.Event, error)
}
