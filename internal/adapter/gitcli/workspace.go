// Package gitcli implements the workspace port using local git CLI commands.
package gitcli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/helmsmanhq/helmsman/internal/domain/scm"
	"github.com/helmsmanhq/helmsman/internal/git"
)

// Workspace runs git against a shared per-project checkout. All operations
// go through the shared pool to bound concurrent git processes.
type Workspace struct {
	pool     *git.Pool
	cloneURL func(repoRef string) string
}

// NewWorkspace creates a Workspace. cloneURL maps a repository reference
// ("owner/repo") to a cloneable URL; a nil func defaults to GitHub over SSH.
func NewWorkspace(pool *git.Pool, cloneURL func(repoRef string) string) *Workspace {
	if cloneURL == nil {
		cloneURL = func(repoRef string) string {
			return fmt.Sprintf("git@github.com:%s.git", repoRef)
		}
	}
	return &Workspace{pool: pool, cloneURL: cloneURL}
}

// Ensure clones the repository into path unless a checkout already exists.
func (w *Workspace) Ensure(ctx context.Context, repoRef, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("gitcli: resolve path: %w", err)
	}

	if _, statErr := os.Stat(filepath.Join(absPath, ".git")); statErr == nil {
		return nil
	}

	return w.pool.Run(ctx, func() error {
		if _, execErr := runGit(ctx, "", "clone", w.cloneURL(repoRef), absPath); execErr != nil {
			return fmt.Errorf("gitcli: clone %s: %w", repoRef, execErr)
		}
		return nil
	})
}

// CreateBranchFrom checks out the base branch, pulls it to the remote tip,
// and creates the new branch from there. Each task branch starts from a
// fresh base, never from whatever the previous task left checked out.
func (w *Workspace) CreateBranchFrom(ctx context.Context, path, branch, base string) error {
	return w.pool.Run(ctx, func() error {
		if _, err := runGit(ctx, path, "checkout", base); err != nil {
			return fmt.Errorf("gitcli: checkout base %s: %w", base, err)
		}
		if _, err := runGit(ctx, path, "pull", "--ff-only", "origin", base); err != nil {
			return fmt.Errorf("gitcli: pull base %s: %w", base, err)
		}
		if _, err := runGit(ctx, path, "checkout", "-B", branch); err != nil {
			return fmt.Errorf("gitcli: create branch %s: %w", branch, err)
		}
		return nil
	})
}

// Checkout switches the workspace to the given branch.
func (w *Workspace) Checkout(ctx context.Context, path, branch string) error {
	return w.pool.Run(ctx, func() error {
		if _, err := runGit(ctx, path, "checkout", branch); err != nil {
			return fmt.Errorf("gitcli: checkout %s: %w", branch, err)
		}
		return nil
	})
}

// Merge merges source into the currently checked-out branch. On conflict
// the merge is aborted so the workspace stays clean, and the returned error
// wraps scm.ErrMergeConflict.
func (w *Workspace) Merge(ctx context.Context, path, source string) error {
	return w.pool.Run(ctx, func() error {
		out, err := runGit(ctx, path, "merge", "--no-ff", "--no-edit", source)
		if err == nil {
			return nil
		}
		if strings.Contains(out, "CONFLICT") || strings.Contains(err.Error(), "CONFLICT") {
			if _, abortErr := runGit(ctx, path, "merge", "--abort"); abortErr != nil {
				return fmt.Errorf("gitcli: abort conflicted merge of %s: %w", source, abortErr)
			}
			return fmt.Errorf("gitcli: merge %s: %w", source, scm.ErrMergeConflict)
		}
		return fmt.Errorf("gitcli: merge %s: %w", source, err)
	})
}

// Push pushes the branch to origin.
func (w *Workspace) Push(ctx context.Context, path, branch string) error {
	return w.pool.Run(ctx, func() error {
		if _, err := runGit(ctx, path, "push", "-u", "origin", branch); err != nil {
			return fmt.Errorf("gitcli: push %s: %w", branch, err)
		}
		return nil
	})
}

// runGit executes a git command and returns its combined stdout.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()+stdout.String()), err)
	}
	return stdout.String(), nil
}
