// Package dbbranch defines the ephemeral database branching port used by
// the preview provisioner.
package dbbranch

import (
	"context"

	"github.com/helmsmanhq/helmsman/internal/domain/deploy"
)

// Provider is the port interface for copy-on-write database branching.
// A provider that cannot branch (or is not configured) reports
// Supports() == false and the provisioner degrades to the primary database.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g. "neon").
	Name() string

	// Supports reports whether ephemeral branching is available.
	Supports() bool

	// CreateBranch creates a branch off the given parent and returns its
	// connection details.
	CreateBranch(ctx context.Context, name, parentID string) (*deploy.DatabaseBranch, error)
}
