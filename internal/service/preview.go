package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helmsmanhq/helmsman/internal/config"
	"github.com/helmsmanhq/helmsman/internal/domain/deploy"
	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/domain/project"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
	"github.com/helmsmanhq/helmsman/internal/journal"
	"github.com/helmsmanhq/helmsman/internal/port/database"
	"github.com/helmsmanhq/helmsman/internal/port/dbbranch"
	"github.com/helmsmanhq/helmsman/internal/port/eventstore"
	"github.com/helmsmanhq/helmsman/internal/port/messagequeue"
)

// Previewer provisions an ephemeral preview environment for a wave's
// aggregate branch. Database branching degrades softly: if the branching
// provider is unavailable the preview deploys against the primary database.
// A failed deploy is recorded but never fails the wave.
type Previewer struct {
	gates    *GateClient
	branches dbbranch.Provider
	store    database.Store
	jrnl     journal.Store
	events   eventstore.Store
	cfg      config.Pipeline
}

// NewPreviewer creates the preview provisioner.
func NewPreviewer(gates *GateClient, branches dbbranch.Provider, store database.Store, jrnl journal.Store, events eventstore.Store, cfg config.Pipeline) *Previewer {
	return &Previewer{
		gates:    gates,
		branches: branches,
		store:    store,
		jrnl:     jrnl,
		events:   events,
		cfg:      cfg,
	}
}

// previewOutcome is the journaled result of one provisioning pass.
type previewOutcome struct {
	URL        string `json:"url,omitempty"`
	DBBranchID string `json:"db_branch_id,omitempty"`
	Deployed   bool   `json:"deployed"`
	Error      string `json:"error,omitempty"`
}

// Provision deploys the branch to a preview environment and returns its URL.
// An empty URL with a nil error means the preview degraded away entirely.
func (p *Previewer) Provision(ctx context.Context, runID string, proj *project.Project, wv *wave.Wave, branch string) (string, error) {
	outcome, err := journal.Do(ctx, p.jrnl, runID, "preview-provision", func(ctx context.Context) (*previewOutcome, error) {
		return p.provision(ctx, proj, wv, branch)
	})
	if err != nil {
		return "", err
	}

	if !outcome.Deployed {
		slog.Warn("preview deploy degraded",
			"project_id", proj.ID, "wave", wv.WaveNumber, "error", outcome.Error)
		return "", nil
	}

	if err := p.store.SetWavePreviewURL(ctx, wv.ID, outcome.URL); err != nil {
		slog.Error("set wave preview url", "wave_id", wv.ID, "error", err)
	}
	appendEvent(ctx, p.events, &event.Event{
		ProjectID:  proj.ID,
		WaveNumber: wv.WaveNumber,
		Type:       event.TypePreviewProvisioned,
		Payload:    eventPayload(outcome),
	})
	return outcome.URL, nil
}

func (p *Previewer) provision(ctx context.Context, proj *project.Project, wv *wave.Wave, branch string) (*previewOutcome, error) {
	outcome := &previewOutcome{}
	envVars := map[string]string{}

	// Ephemeral database branch, soft-degrading to the primary database.
	if p.branches != nil && p.branches.Supports() {
		name := fmt.Sprintf("wave-%d-preview", wv.WaveNumber)
		dbBranch, err := p.branches.CreateBranch(ctx, name, "")
		if err != nil {
			slog.Warn("database branch creation failed, using primary database",
				"project_id", proj.ID, "wave", wv.WaveNumber, "error", err)
		} else {
			outcome.DBBranchID = dbBranch.BranchID
			envVars["DATABASE_URL"] = dbBranch.ConnectionString
		}
	}

	req := messagequeue.DeployRequestPayload{
		ProjectID:   proj.ID,
		WaveNumber:  wv.WaveNumber,
		Environment: string(deploy.EnvPreview),
		Platform:    p.cfg.DeployPlatform,
		Branch:      branch,
		EnvVars:     envVars,
		// A fresh database branch starts at the parent's schema; the
		// deploy worker migrates it before the app boots.
		RunMigrations: outcome.DBBranchID != "",
	}

	result, err := p.gates.RequestDeploy(ctx, req)
	if err != nil {
		outcome.Error = err.Error()
	} else if !result.Success {
		outcome.Error = result.Error
	} else {
		outcome.Deployed = true
		outcome.URL = result.DeploymentURL
	}

	status := deploy.StatusSucceeded
	if !outcome.Deployed {
		status = deploy.StatusFailed
	}
	record := &deploy.Deployment{
		ProjectID:   proj.ID,
		WaveNumber:  wv.WaveNumber,
		Environment: deploy.EnvPreview,
		Platform:    p.cfg.DeployPlatform,
		URL:         outcome.URL,
		Status:      status,
		DBBranchID:  outcome.DBBranchID,
		Error:       outcome.Error,
	}
	if err := p.store.CreateDeployment(ctx, record); err != nil {
		slog.Error("record preview deployment", "project_id", proj.ID, "error", err)
	}

	return outcome, nil
}
