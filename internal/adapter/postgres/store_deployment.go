package postgres

import (
	"context"

	"github.com/helmsmanhq/helmsman/internal/domain/deploy"
)

func (s *Store) CreateDeployment(ctx context.Context, d *deploy.Deployment) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO deployments (project_id, wave_number, environment, platform, url, status, db_branch_id, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		d.ProjectID, d.WaveNumber, d.Environment, d.Platform, d.URL, d.Status, d.DBBranchID, d.Error)

	if err := row.Scan(&d.ID, &d.CreatedAt); err != nil {
		return notFoundWrap(err, "create deployment for project %s", d.ProjectID)
	}
	return nil
}

func (s *Store) ListDeployments(ctx context.Context, projectID string) ([]deploy.Deployment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, wave_number, environment, platform, url, status, db_branch_id, error, created_at
		 FROM deployments WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, notFoundWrap(err, "list deployments for project %s", projectID)
	}
	defer rows.Close()

	var deployments []deploy.Deployment
	for rows.Next() {
		var d deploy.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.WaveNumber, &d.Environment,
			&d.Platform, &d.URL, &d.Status, &d.DBBranchID, &d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}
