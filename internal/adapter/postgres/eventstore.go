package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/helmsmanhq/helmsman/internal/domain/event"
)

// AppendEvent inserts one orchestration event. The trail is append-only.
func (s *Store) Append(ctx context.Context, ev *event.Event) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO events (project_id, wave_number, task_id, type, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id::text, created_at`,
		ev.ProjectID, ev.WaveNumber, ev.TaskID, ev.Type, payload)

	if err := row.Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return notFoundWrap(err, "append event %s for project %s", ev.Type, ev.ProjectID)
	}
	return nil
}

func (s *Store) ListByProject(ctx context.Context, projectID string) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, project_id, wave_number, task_id, type, payload, created_at
		 FROM events WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, notFoundWrap(err, "list events for project %s", projectID)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) ListByWave(ctx context.Context, projectID string, waveNumber int) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, project_id, wave_number, task_id, type, payload, created_at
		 FROM events WHERE project_id = $1 AND wave_number = $2 ORDER BY id`,
		projectID, waveNumber)
	if err != nil {
		return nil, notFoundWrap(err, "list events for wave %d", waveNumber)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.WaveNumber, &ev.TaskID,
			&ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
