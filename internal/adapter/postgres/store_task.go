package postgres

import (
	"context"
	"time"

	"github.com/helmsmanhq/helmsman/internal/domain/task"
)

const taskColumns = `id, project_id, agent_type, input, priority, status, branch_name,
	pr_number, pr_url, review_score, critical_issues, wave_number, retry_count,
	files, output, error, started_at, completed_at, created_at, updated_at`

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	var startedAt, completedAt *time.Time
	err := row.Scan(&t.ID, &t.ProjectID, &t.AgentType, &t.Input, &t.Priority, &t.Status,
		&t.BranchName, &t.PRNumber, &t.PRURL, &t.ReviewScore, &t.CriticalIssues,
		&t.WaveNumber, &t.RetryCount, &t.Files, &t.Output, &t.Error,
		&startedAt, &completedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	t.StartedAt = startedAt
	t.CompletedAt = completedAt
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) ListTasksByWave(ctx context.Context, projectID string, waveNumber int) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE project_id = $1 AND wave_number = $2 ORDER BY priority DESC, created_at`,
		projectID, waveNumber)
	if err != nil {
		return nil, notFoundWrap(err, "list tasks for wave %d", waveNumber)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) CountUnwavedPending(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE project_id = $1 AND status = 'pending' AND wave_number = 0`,
		projectID).Scan(&n)
	if err != nil {
		return 0, notFoundWrap(err, "count unwaved pending tasks for project %s", projectID)
	}
	return n, nil
}

func (s *Store) AssignTaskToWave(ctx context.Context, id string, waveNumber int, branch string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET wave_number = $2, branch_name = $3, updated_at = now() WHERE id = $1`,
		id, waveNumber, branch)
	return execExpectOne(tag, err, "assign task %s to wave %d", id, waveNumber)
}

// MarkTaskStarted is idempotent: redelivered dispatches find the task already
// in progress and change nothing.
func (s *Store) MarkTaskStarted(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'in_progress', started_at = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`, id, startedAt)
	if err != nil {
		return notFoundWrap(err, "mark task %s started", id)
	}
	return nil
}

func (s *Store) CompleteTask(ctx context.Context, id string, files []string, output string, completedAt time.Time) error {
	if files == nil {
		files = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'completed', files = $2, output = $3, completed_at = $4, updated_at = now()
		 WHERE id = $1 AND status = 'in_progress'`, id, files, output, completedAt)
	return execExpectOne(tag, err, "complete task %s", id)
}

func (s *Store) FailTask(ctx context.Context, id, reason string, failedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'failed', error = $2, completed_at = $3, updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`, id, reason, failedAt)
	return execExpectOne(tag, err, "fail task %s", id)
}

// ResetTaskForRetry is the only transition back to pending. The failure
// context is appended to the task input so the agent sees what broke.
func (s *Store) ResetTaskForRetry(ctx context.Context, id, failureContext string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'pending',
		        input = jsonb_set(input, '{failure_context}', to_jsonb($2::text)),
		        retry_count = retry_count + 1,
		        started_at = NULL, completed_at = NULL, error = '', updated_at = now()
		 WHERE id = $1`, id, failureContext)
	return execExpectOne(tag, err, "reset task %s for retry", id)
}

func (s *Store) SetTaskReview(ctx context.Context, id string, score float64, criticalIssues int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET review_score = $2, critical_issues = $3, updated_at = now() WHERE id = $1`,
		id, score, criticalIssues)
	return execExpectOne(tag, err, "set task %s review", id)
}

func (s *Store) SetTaskPR(ctx context.Context, id string, prNumber int, prURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET pr_number = $2, pr_url = $3, updated_at = now() WHERE id = $1`,
		id, prNumber, prURL)
	return execExpectOne(tag, err, "set task %s pr", id)
}

func (s *Store) ListStuckTasks(ctx context.Context, cutoff time.Time) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = 'in_progress' AND started_at < $1 ORDER BY started_at`, cutoff)
	if err != nil {
		return nil, notFoundWrap(err, "list stuck tasks")
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
