// Package messagequeue defines the message queue port (interface) and the
// wire contracts between the control plane and its external collaborators.
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for the NATS subjects used by Helmsman.
const (
	// SubjectDispatchPrefix + agent type: task dispatch to a specialized worker.
	SubjectDispatchPrefix = "tasks.dispatch."
	// SubjectFixPrefix + agent type: auto-fix re-dispatch to the originating worker.
	SubjectFixPrefix = "tasks.fix."
	// SubjectTaskCompletion: completion messages from workers.
	SubjectTaskCompletion = "tasks.completion"

	SubjectTestingRequest     = "gates.testing.request"
	SubjectTestingResult      = "gates.testing.result"
	SubjectCriticRequest      = "gates.critic.request"
	SubjectCriticResult       = "gates.critic.result"
	SubjectIntegrationRequest = "gates.integration.request"
	SubjectIntegrationResult  = "gates.integration.result"

	SubjectDeployRequest = "deploys.request"
	SubjectDeployResult  = "deploys.result"

	SubjectDocsGenerate = "docs.generate"
)

// DispatchSubject returns the dispatch subject for an agent type.
func DispatchSubject(agentType string) string {
	return SubjectDispatchPrefix + agentType
}

// FixSubject returns the fix-dispatch subject for an agent type.
func FixSubject(agentType string) string {
	return SubjectFixPrefix + agentType
}
