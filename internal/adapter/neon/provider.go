// Package neon implements the dbbranch.Provider port against the Neon HTTP
// API for copy-on-write database branches.
package neon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/helmsmanhq/helmsman/internal/config"
	"github.com/helmsmanhq/helmsman/internal/domain/deploy"
	"github.com/helmsmanhq/helmsman/internal/resilience"
)

const (
	providerName = "neon"
	apiBase      = "https://console.neon.tech/api/v2"
)

// Provider creates ephemeral database branches through the Neon API.
// Calls go through a circuit breaker so a flapping API degrades previews
// instead of stalling them.
type Provider struct {
	apiKey         string
	projectID      string
	parentBranchID string
	baseURL        string
	httpClient     *http.Client
	breaker        *resilience.Breaker
}

// NewProvider creates a Neon provider from preview configuration.
func NewProvider(cfg config.Preview, breaker *resilience.Breaker) *Provider {
	return &Provider{
		apiKey:         cfg.APIKey,
		projectID:      cfg.ProjectID,
		parentBranchID: cfg.ParentBranchID,
		baseURL:        apiBase,
		httpClient:     http.DefaultClient,
		breaker:        breaker,
	}
}

func (p *Provider) Name() string { return providerName }

// Supports reports whether branching is configured. An unconfigured provider
// makes the preview provisioner fall back to the primary database.
func (p *Provider) Supports() bool {
	return p.apiKey != "" && p.projectID != ""
}

// branchRequest and branchResponse mirror the Neon branches API.
type branchRequest struct {
	Branch struct {
		Name     string `json:"name"`
		ParentID string `json:"parent_id,omitempty"`
	} `json:"branch"`
	Endpoints []struct {
		Type string `json:"type"`
	} `json:"endpoints"`
}

type branchResponse struct {
	Branch struct {
		ID       string `json:"id"`
		ParentID string `json:"parent_id"`
	} `json:"branch"`
	ConnectionURIs []struct {
		ConnectionURI string `json:"connection_uri"`
	} `json:"connection_uris"`
}

// CreateBranch creates a branch off the given parent. An empty parentID
// uses the configured default parent.
func (p *Provider) CreateBranch(ctx context.Context, name, parentID string) (*deploy.DatabaseBranch, error) {
	if !p.Supports() {
		return nil, fmt.Errorf("neon: not configured")
	}
	if parentID == "" {
		parentID = p.parentBranchID
	}

	var reqBody branchRequest
	reqBody.Branch.Name = name
	reqBody.Branch.ParentID = parentID
	reqBody.Endpoints = []struct {
		Type string `json:"type"`
	}{{Type: "read_write"}}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("neon: marshal request: %w", err)
	}

	var out branchResponse
	err = p.breaker.Execute(func() error {
		url := fmt.Sprintf("%s/projects/%s/branches", p.baseURL, p.projectID)
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if reqErr != nil {
			return fmt.Errorf("neon: request: %w", reqErr)
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := p.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("neon: create branch: %w", doErr)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("neon API %d: %s", resp.StatusCode, string(respBody))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, err
	}

	branch := &deploy.DatabaseBranch{
		Provider:       providerName,
		BranchID:       out.Branch.ID,
		ParentBranchID: out.Branch.ParentID,
	}
	if len(out.ConnectionURIs) > 0 {
		branch.ConnectionString = out.ConnectionURIs[0].ConnectionURI
	}
	return branch, nil
}
