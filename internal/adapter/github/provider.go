// Package github implements the gitprovider.Provider port for GitHub using
// the gh CLI.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/helmsmanhq/helmsman/internal/domain/scm"
	"github.com/helmsmanhq/helmsman/internal/port/gitprovider"
)

const providerName = "github"

// Provider implements gitprovider.Provider for GitHub via the gh CLI.
type Provider struct {
	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewProvider creates a GitHub provider backed by the gh CLI.
func NewProvider() *Provider {
	return &Provider{execCommand: exec.CommandContext}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Capabilities() gitprovider.Capabilities {
	return gitprovider.Capabilities{
		PullRequest: true,
		Merge:       true,
	}
}

// ghPR mirrors the JSON output of `gh pr list/view --json`.
type ghPR struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	State       string `json:"state"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	HeadRefName string `json:"headRefName"`
}

func (pr *ghPR) toDomain() *scm.PullRequest {
	return &scm.PullRequest{
		Number: pr.Number,
		URL:    pr.URL,
		State:  strings.ToLower(pr.State),
		Title:  pr.Title,
		Body:   pr.Body,
		Branch: pr.HeadRefName,
	}
}

// FindOpenPullRequest returns the open PR whose head is branch, or nil.
func (p *Provider) FindOpenPullRequest(ctx context.Context, repo, branch string) (*scm.PullRequest, error) {
	if err := validateRepoRef(repo); err != nil {
		return nil, err
	}

	out, err := p.run(ctx, "pr", "list",
		"--repo", repo,
		"--head", branch,
		"--state", "open",
		"--json", "number,url,state,title,body,headRefName",
		"--limit", "1",
	)
	if err != nil {
		return nil, fmt.Errorf("gh pr list: %w", err)
	}

	var prs []ghPR
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0].toDomain(), nil
}

// CreatePullRequest opens a new pull request and returns its identity.
func (p *Provider) CreatePullRequest(ctx context.Context, repo string, req gitprovider.CreatePRRequest) (*scm.PullRequest, error) {
	if err := validateRepoRef(repo); err != nil {
		return nil, err
	}

	_, err := p.run(ctx, "pr", "create",
		"--repo", repo,
		"--head", req.Branch,
		"--base", req.Base,
		"--title", req.Title,
		"--body", req.Body,
	)
	if err != nil {
		return nil, fmt.Errorf("gh pr create: %w", err)
	}

	// gh pr create prints the PR URL; view gives us the full record.
	out, err := p.run(ctx, "pr", "view", req.Branch,
		"--repo", repo,
		"--json", "number,url,state,title,body,headRefName",
	)
	if err != nil {
		return nil, fmt.Errorf("gh pr view: %w", err)
	}

	var pr ghPR
	if err := json.Unmarshal(out, &pr); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}
	return pr.toDomain(), nil
}

// UpdatePullRequest replaces the description of an existing PR.
func (p *Provider) UpdatePullRequest(ctx context.Context, repo string, number int, body string) error {
	if err := validateRepoRef(repo); err != nil {
		return err
	}
	_, err := p.run(ctx, "pr", "edit", fmt.Sprintf("%d", number),
		"--repo", repo,
		"--body", body,
	)
	if err != nil {
		return fmt.Errorf("gh pr edit: %w", err)
	}
	return nil
}

// MergePullRequest merges an open PR into its base branch.
func (p *Provider) MergePullRequest(ctx context.Context, repo string, number int) error {
	if err := validateRepoRef(repo); err != nil {
		return err
	}
	_, err := p.run(ctx, "pr", "merge", fmt.Sprintf("%d", number),
		"--repo", repo,
		"--merge",
	)
	if err != nil {
		return fmt.Errorf("gh pr merge: %w", err)
	}
	return nil
}

func (p *Provider) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := p.execCommand(ctx, "gh", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

func validateRepoRef(ref string) error {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid repo ref %q: expected owner/repo", ref)
	}
	return nil
}
