// Package planstore defines the plan store port. The execution plan is
// produced by an upstream planning stage; the control plane only reads it.
package planstore

import (
	"context"

	"github.com/helmsmanhq/helmsman/internal/domain/plan"
)

// Store is the port interface for reading execution plans.
type Store interface {
	// GetPlan returns the execution plan for a project.
	GetPlan(ctx context.Context, projectID string) (*plan.ExecutionPlan, error)
}
