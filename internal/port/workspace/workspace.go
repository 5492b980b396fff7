// Package workspace defines the port for local git workspace operations:
// branch creation from a fresh base, merging, and pushing.
package workspace

import "context"

// Workspace is the port interface for the shared per-project checkout.
// The sequential dispatch discipline guarantees only one task executes
// inside a workspace at a time; no lock is held here.
type Workspace interface {
	// Ensure initializes the shared workspace once: clones the repository
	// if the path does not already contain a checkout. Idempotent.
	Ensure(ctx context.Context, repoRef, path string) error

	// CreateBranchFrom creates branch from a freshly-checked-out base,
	// never from whatever branch the previous task left behind.
	CreateBranchFrom(ctx context.Context, path, branch, base string) error

	// Checkout switches the workspace to the given branch.
	Checkout(ctx context.Context, path, branch string) error

	// Merge merges source into the currently checked-out branch. A
	// conflicting merge is aborted and returns an error wrapping
	// scm.ErrMergeConflict.
	Merge(ctx context.Context, path, source string) error

	// Push pushes the branch to the remote.
	Push(ctx context.Context, path, branch string) error
}
