package postgres

import (
	"context"
	"time"

	"github.com/helmsmanhq/helmsman/internal/domain/wave"
)

const waveColumns = `id, project_id, wave_number, status, task_count, completed_count,
	branch_name, pr_number, pr_url, preview_url, final_review_score, error,
	started_at, completed_at, created_at, updated_at`

func scanWave(row scannable) (wave.Wave, error) {
	var w wave.Wave
	var startedAt, completedAt *time.Time
	err := row.Scan(&w.ID, &w.ProjectID, &w.WaveNumber, &w.Status, &w.TaskCount,
		&w.CompletedCount, &w.BranchName, &w.PRNumber, &w.PRURL, &w.PreviewURL,
		&w.FinalReviewScore, &w.Error, &startedAt, &completedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return wave.Wave{}, err
	}
	w.StartedAt = startedAt
	w.CompletedAt = completedAt
	return w, nil
}

// EnsureWave creates the wave record for (projectID, waveNumber) or returns
// the existing one. The unique constraint makes concurrent callers converge
// on a single record.
func (s *Store) EnsureWave(ctx context.Context, projectID string, waveNumber, taskCount int) (*wave.Wave, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO waves (project_id, wave_number, status, task_count, started_at)
		 VALUES ($1, $2, 'in_progress', $3, now())
		 ON CONFLICT (project_id, wave_number) DO UPDATE SET updated_at = now()
		 RETURNING `+waveColumns,
		projectID, waveNumber, taskCount)

	w, err := scanWave(row)
	if err != nil {
		return nil, notFoundWrap(err, "ensure wave %d for project %s", waveNumber, projectID)
	}
	return &w, nil
}

func (s *Store) GetWave(ctx context.Context, projectID string, waveNumber int) (*wave.Wave, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+waveColumns+` FROM waves WHERE project_id = $1 AND wave_number = $2`,
		projectID, waveNumber)

	w, err := scanWave(row)
	if err != nil {
		return nil, notFoundWrap(err, "get wave %d for project %s", waveNumber, projectID)
	}
	return &w, nil
}

func (s *Store) ListWaves(ctx context.Context, projectID string) ([]wave.Wave, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+waveColumns+` FROM waves WHERE project_id = $1 ORDER BY wave_number`,
		projectID)
	if err != nil {
		return nil, notFoundWrap(err, "list waves for project %s", projectID)
	}
	defer rows.Close()

	var waves []wave.Wave
	for rows.Next() {
		w, err := scanWave(rows)
		if err != nil {
			return nil, err
		}
		waves = append(waves, w)
	}
	return waves, rows.Err()
}

func (s *Store) UpdateWaveStatus(ctx context.Context, id string, status wave.Status, errMsg string) error {
	var completedAt any
	if status.IsTerminal() {
		completedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE waves SET status = $2, error = $3, completed_at = COALESCE($4, completed_at), updated_at = now()
		 WHERE id = $1`, id, status, errMsg, completedAt)
	return execExpectOne(tag, err, "update wave %s status", id)
}

// IncrementWaveCompleted adds one to completed_count atomically. The count
// never exceeds task_count, so double counting a redelivered completion is
// impossible.
func (s *Store) IncrementWaveCompleted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE waves SET completed_count = completed_count + 1, updated_at = now()
		 WHERE id = $1 AND completed_count < task_count`, id)
	return execExpectOne(tag, err, "increment wave %s completed count", id)
}

func (s *Store) SetWaveBranch(ctx context.Context, id, branch string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE waves SET branch_name = $2, updated_at = now() WHERE id = $1`, id, branch)
	return execExpectOne(tag, err, "set wave %s branch", id)
}

func (s *Store) SetWavePreviewURL(ctx context.Context, id, url string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE waves SET preview_url = $2, updated_at = now() WHERE id = $1`, id, url)
	return execExpectOne(tag, err, "set wave %s preview url", id)
}

func (s *Store) SetWaveReviewScore(ctx context.Context, id string, score float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE waves SET final_review_score = $2, updated_at = now() WHERE id = $1`, id, score)
	return execExpectOne(tag, err, "set wave %s review score", id)
}

func (s *Store) SetWavePR(ctx context.Context, id string, prNumber int, prURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE waves SET pr_number = $2, pr_url = $3, updated_at = now() WHERE id = $1`,
		id, prNumber, prURL)
	return execExpectOne(tag, err, "set wave %s pr", id)
}
