package messagequeue

import (
	"encoding/json"

	"github.com/helmsmanhq/helmsman/internal/domain/review"
)

// DispatchPayload is the schema for tasks.dispatch.* messages.
type DispatchPayload struct {
	TaskID         string          `json:"task_id"`
	ProjectID      string          `json:"project_id"`
	UserID         string          `json:"user_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	TaskInput      json.RawMessage `json:"task_input"`
	Priority       int             `json:"priority"`
	WaveNumber     int             `json:"wave_number"`
}

// CompletionPayload is the schema for tasks.completion messages.
type CompletionPayload struct {
	TaskID    string   `json:"task_id"`
	ProjectID string   `json:"project_id"`
	Success   bool     `json:"success"`
	Output    string   `json:"output,omitempty"`
	Files     []string `json:"files,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// FixDispatchPayload is the schema for tasks.fix.* messages.
type FixDispatchPayload struct {
	TaskID     string             `json:"task_id"`
	ProjectID  string             `json:"project_id"`
	WaveNumber int                `json:"wave_number"`
	Attempt    int                `json:"attempt"`
	Issues     []review.CodeIssue `json:"issues"`
}

// TestingRequestPayload is the schema for gates.testing.request messages.
type TestingRequestPayload struct {
	RequestID   string   `json:"request_id"`
	ProjectID   string   `json:"project_id"`
	WaveNumber  int      `json:"wave_number"`
	SourceFiles []string `json:"source_files"`
}

// TestFailure is one failing test reported by the testing stage.
type TestFailure struct {
	File    string `json:"file"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// TestingResultPayload is the schema for gates.testing.result messages.
type TestingResultPayload struct {
	RequestID   string        `json:"request_id"`
	TestsPassed int           `json:"tests_passed"`
	TestsFailed int           `json:"tests_failed"`
	Failures    []TestFailure `json:"failures,omitempty"`
}

// CriticRequestPayload is the schema for gates.critic.request messages.
type CriticRequestPayload struct {
	RequestID     string   `json:"request_id"`
	ProjectID     string   `json:"project_id"`
	WaveNumber    int      `json:"wave_number"`
	FilesToReview []string `json:"files_to_review"`
	StrictMode    bool     `json:"strict_mode"`
}

// CriticResultPayload is the schema for gates.critic.result messages.
type CriticResultPayload struct {
	RequestID string             `json:"request_id"`
	Approved  bool               `json:"approved"`
	Score     float64            `json:"score"`
	Issues    []review.CodeIssue `json:"issues,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// IntegrationRequestPayload is the schema for gates.integration.request messages.
type IntegrationRequestPayload struct {
	RequestID        string `json:"request_id"`
	ProjectID        string `json:"project_id"`
	WaveNumber       int    `json:"wave_number"`
	VerificationType string `json:"verification_type"`
}

// IntegrationResultPayload is the schema for gates.integration.result messages.
type IntegrationResultPayload struct {
	RequestID          string  `json:"request_id"`
	Compatible         bool    `json:"compatible"`
	CompatibilityScore float64 `json:"compatibility_score"`
	CriticalIssues     int     `json:"critical_issues"`
}

// DeployRequestPayload is the schema for deploys.request messages.
type DeployRequestPayload struct {
	RequestID   string            `json:"request_id"`
	ProjectID   string            `json:"project_id"`
	WaveNumber  int               `json:"wave_number,omitempty"`
	Environment string            `json:"environment"`
	Platform    string            `json:"platform"`
	Branch      string            `json:"branch"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
	// RunMigrations asks the deploy worker to apply schema migrations
	// against the DATABASE_URL in EnvVars before starting the app. Set
	// when the deployment targets a freshly created database branch.
	RunMigrations bool `json:"run_migrations,omitempty"`
}

// DeployResultPayload is the schema for deploys.result messages.
type DeployResultPayload struct {
	RequestID     string `json:"request_id"`
	Success       bool   `json:"success"`
	DeploymentURL string `json:"deployment_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

// DocsGeneratePayload is the schema for docs.generate messages.
type DocsGeneratePayload struct {
	ProjectID string `json:"project_id"`
	Waves     int    `json:"waves"`
}
