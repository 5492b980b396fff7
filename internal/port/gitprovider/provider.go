// Package gitprovider defines the Git hosting provider port (interface)
// and capabilities.
package gitprovider

import (
	"context"

	"github.com/helmsmanhq/helmsman/internal/domain/scm"
)

// Capabilities declares which operations a git hosting provider supports.
type Capabilities struct {
	PullRequest bool `json:"pull_request"`
	Merge       bool `json:"merge"`
}

// CreatePRRequest holds the fields for opening a pull request.
type CreatePRRequest struct {
	Branch string
	Base   string
	Title  string
	Body   string
}

// Provider is the port interface for interacting with a Git hosting platform.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g. "github").
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// FindOpenPullRequest returns the open PR whose head is the given
	// branch, or nil if none exists.
	FindOpenPullRequest(ctx context.Context, repo, branch string) (*scm.PullRequest, error)

	// CreatePullRequest opens a new pull request.
	CreatePullRequest(ctx context.Context, repo string, req CreatePRRequest) (*scm.PullRequest, error)

	// UpdatePullRequest replaces the description of an existing PR.
	UpdatePullRequest(ctx context.Context, repo string, number int, body string) error

	// MergePullRequest merges an open PR into its base branch.
	MergePullRequest(ctx context.Context, repo string, number int) error
}
