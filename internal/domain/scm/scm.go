// Package scm defines source-control domain types shared by the branch
// aggregator and the PR publisher.
package scm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMergeConflict is the sentinel wrapped by workspace adapters when a
// merge cannot complete cleanly.
var ErrMergeConflict = errors.New("merge conflict")

// AggregateBranchName returns the name of the reviewable branch that
// collects all task branches of a wave.
func AggregateBranchName(waveNumber int) string {
	return fmt.Sprintf("wave-%d-merge", waveNumber)
}

// TaskBranchName returns the working branch for the i-th task (1-indexed)
// of a wave.
func TaskBranchName(waveNumber, position int) string {
	return fmt.Sprintf("wave-%d-task-%d", waveNumber, position)
}

// BranchPosition extracts the 1-indexed task position from a
// wave-{n}-task-{k} branch name. Returns 0 for any other shape.
func BranchPosition(branch string) int {
	var waveNumber, position int
	if _, err := fmt.Sscanf(branch, "wave-%d-task-%d", &waveNumber, &position); err != nil {
		return 0
	}
	return position
}

// MergeResult reports the outcome of aggregating task branches.
type MergeResult struct {
	BranchName     string   `json:"branch_name"`
	MergedBranches []string `json:"merged_branches"`
	FailedBranches []string `json:"failed_branches,omitempty"`
}

// MergeConflictError carries the full list of branches that could not be
// merged. There is no automatic resolution; a human must intervene.
type MergeConflictError struct {
	Branches []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflicts in branches: %s", strings.Join(e.Branches, ", "))
}

// PullRequest describes an open PR on the hosting provider.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	State  string `json:"state"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Branch string `json:"branch"`
}
