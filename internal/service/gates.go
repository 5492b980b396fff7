package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/helmsmanhq/helmsman/internal/config"
	"github.com/helmsmanhq/helmsman/internal/port/messagequeue"
)

// GateClient runs the quality gate stages over the queue: it publishes a
// request with a fresh correlation ID and blocks until the matching result
// arrives or the gate times out.
type GateClient struct {
	queue messagequeue.Queue
	cfg   config.Pipeline

	testing     *syncWaiter[messagequeue.TestingResultPayload]
	critic      *syncWaiter[messagequeue.CriticResultPayload]
	integration *syncWaiter[messagequeue.IntegrationResultPayload]
	deploy      *syncWaiter[messagequeue.DeployResultPayload]
}

// NewGateClient creates a GateClient.
func NewGateClient(queue messagequeue.Queue, cfg config.Pipeline) *GateClient {
	return &GateClient{
		queue:       queue,
		cfg:         cfg,
		testing:     newSyncWaiter[messagequeue.TestingResultPayload]("testing gate"),
		critic:      newSyncWaiter[messagequeue.CriticResultPayload]("critic gate"),
		integration: newSyncWaiter[messagequeue.IntegrationResultPayload]("integration gate"),
		deploy:      newSyncWaiter[messagequeue.DeployResultPayload]("deploy"),
	}
}

// StartResultSubscribers subscribes to all gate result subjects. The
// returned function cancels every subscription.
func (g *GateClient) StartResultSubscribers(ctx context.Context) (func(), error) {
	cancels := make([]func(), 0, 4)
	cancelAll := func() {
		for _, c := range cancels {
			c()
		}
	}

	subs := []struct {
		subject string
		handler messagequeue.Handler
	}{
		{messagequeue.SubjectTestingResult, deliverResult(g.testing)},
		{messagequeue.SubjectCriticResult, deliverResult(g.critic)},
		{messagequeue.SubjectIntegrationResult, deliverResult(g.integration)},
		{messagequeue.SubjectDeployResult, deliverResult(g.deploy)},
	}

	for _, s := range subs {
		cancel, err := g.queue.Subscribe(ctx, s.subject, s.handler)
		if err != nil {
			cancelAll()
			return nil, fmt.Errorf("subscribe %s: %w", s.subject, err)
		}
		cancels = append(cancels, cancel)
	}
	return cancelAll, nil
}

// resultPayload constrains gate results to types carrying a correlation ID.
type resultPayload interface {
	messagequeue.TestingResultPayload |
		messagequeue.CriticResultPayload |
		messagequeue.IntegrationResultPayload |
		messagequeue.DeployResultPayload
}

func deliverResult[T resultPayload](w *syncWaiter[T]) messagequeue.Handler {
	return func(_ context.Context, subject string, data []byte) error {
		var p T
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Error("malformed gate result", "subject", subject, "error", err)
			return nil
		}
		w.deliver(requestID(&p), &p)
		return nil
	}
}

// requestID extracts the correlation ID from any gate result payload.
func requestID[T resultPayload](p *T) string {
	switch v := any(p).(type) {
	case *messagequeue.TestingResultPayload:
		return v.RequestID
	case *messagequeue.CriticResultPayload:
		return v.RequestID
	case *messagequeue.IntegrationResultPayload:
		return v.RequestID
	case *messagequeue.DeployResultPayload:
		return v.RequestID
	}
	return ""
}

// RunTesting requests the testing stage for a wave's source files.
func (g *GateClient) RunTesting(ctx context.Context, projectID string, waveNumber int, sourceFiles []string) (*messagequeue.TestingResultPayload, error) {
	req := messagequeue.TestingRequestPayload{
		RequestID:   uuid.NewString(),
		ProjectID:   projectID,
		WaveNumber:  waveNumber,
		SourceFiles: sourceFiles,
	}
	return runGate(ctx, g, g.testing, "testing", messagequeue.SubjectTestingRequest, req.RequestID, req, g.cfg.GateTimeout)
}

// RunCritic requests a code review for a wave's files.
func (g *GateClient) RunCritic(ctx context.Context, projectID string, waveNumber int, files []string) (*messagequeue.CriticResultPayload, error) {
	req := messagequeue.CriticRequestPayload{
		RequestID:     uuid.NewString(),
		ProjectID:     projectID,
		WaveNumber:    waveNumber,
		FilesToReview: files,
		StrictMode:    g.cfg.StrictReview,
	}
	return runGate(ctx, g, g.critic, "critic", messagequeue.SubjectCriticRequest, req.RequestID, req, g.cfg.GateTimeout)
}

// RunIntegration requests cross-task compatibility verification.
func (g *GateClient) RunIntegration(ctx context.Context, projectID string, waveNumber int) (*messagequeue.IntegrationResultPayload, error) {
	req := messagequeue.IntegrationRequestPayload{
		RequestID:        uuid.NewString(),
		ProjectID:        projectID,
		WaveNumber:       waveNumber,
		VerificationType: "cross_task",
	}
	return runGate(ctx, g, g.integration, "integration", messagequeue.SubjectIntegrationRequest, req.RequestID, req, g.cfg.GateTimeout)
}

// RequestDeploy publishes a deploy request and waits for the result. Deploys
// get the full agent budget rather than the gate budget.
func (g *GateClient) RequestDeploy(ctx context.Context, req messagequeue.DeployRequestPayload) (*messagequeue.DeployResultPayload, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return runGate(ctx, g, g.deploy, "deploy", messagequeue.SubjectDeployRequest, req.RequestID, req, g.cfg.AgentTimeout)
}

func runGate[T resultPayload, R any](ctx context.Context, g *GateClient, w *syncWaiter[T], gate, subject, reqID string, req R, timeout time.Duration) (*T, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", gate, err)
	}

	ch := w.register(reqID)
	defer w.unregister(reqID)

	if err := g.queue.Publish(ctx, subject, data); err != nil {
		return nil, fmt.Errorf("publish %s request: %w", gate, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result, nil
	case <-timer.C:
		return nil, &GateTimeoutError{Gate: gate, RequestID: reqID, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
