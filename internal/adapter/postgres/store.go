package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helmsmanhq/helmsman/internal/domain/plan"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects ---

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, repo_ref, main_branch, workspace_path, user_id, conversation_id, prod_approved, status, created_at, updated_at
		 FROM projects WHERE id = $1`, id)

	var p project.Project
	err := row.Scan(&p.ID, &p.Name, &p.RepoRef, &p.MainBranch, &p.WorkspacePath,
		&p.UserID, &p.ConversationID, &p.ProdApproved, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) UpdateProjectStatus(ctx context.Context, id string, status project.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return execExpectOne(tag, err, "update project %s status", id)
}

func (s *Store) SetProjectWorkspace(ctx context.Context, id, path string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET workspace_path = $2, updated_at = now() WHERE id = $1`, id, path)
	return execExpectOne(tag, err, "set project %s workspace", id)
}

// --- Plans ---

// GetPlan implements planstore.Store: the execution plan for a project is
// stored as a single JSONB document.
func (s *Store) GetPlan(ctx context.Context, projectID string) (*plan.ExecutionPlan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT phases FROM plans WHERE project_id = $1`, projectID)

	var phasesJSON []byte
	if err := row.Scan(&phasesJSON); err != nil {
		return nil, notFoundWrap(err, "get plan for project %s", projectID)
	}

	p := plan.ExecutionPlan{ProjectID: projectID}
	if err := json.Unmarshal(phasesJSON, &p.Phases); err != nil {
		return nil, fmt.Errorf("decode plan for project %s: %w", projectID, err)
	}
	return &p, nil
}
