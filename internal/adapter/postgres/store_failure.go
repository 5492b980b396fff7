package postgres

import (
	"context"

	"github.com/helmsmanhq/helmsman/internal/domain/escalation"
)

// CreateCriticalFailure inserts an escalation record. Records are append-only.
func (s *Store) CreateCriticalFailure(ctx context.Context, f *escalation.CriticalFailure) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO critical_failures
		     (project_id, wave_number, issues_found, issues_remaining, total_attempts, status, escalated_to_human, notification_sent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		f.ProjectID, f.WaveNumber, f.IssuesFound, f.IssuesRemaining,
		f.TotalAttempts, f.Status, f.EscalatedToHuman, f.NotificationSent)

	if err := row.Scan(&f.ID, &f.CreatedAt); err != nil {
		return notFoundWrap(err, "create critical failure for project %s", f.ProjectID)
	}
	return nil
}

func (s *Store) ListCriticalFailures(ctx context.Context, projectID string) ([]escalation.CriticalFailure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, wave_number, issues_found, issues_remaining, total_attempts, status, escalated_to_human, notification_sent, created_at
		 FROM critical_failures WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, notFoundWrap(err, "list critical failures for project %s", projectID)
	}
	defer rows.Close()

	var failures []escalation.CriticalFailure
	for rows.Next() {
		var f escalation.CriticalFailure
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.WaveNumber, &f.IssuesFound,
			&f.IssuesRemaining, &f.TotalAttempts, &f.Status, &f.EscalatedToHuman,
			&f.NotificationSent, &f.CreatedAt); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
