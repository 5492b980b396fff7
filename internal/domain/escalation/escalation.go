// Package escalation defines the append-only audit record created when
// auto-fix retries are exhausted on critical issues.
package escalation

import "time"

// Status of a critical failure record.
type Status string

const (
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

// CriticalFailure is the escalation audit record. Records are created only
// by the auto-fix controller and never mutated after creation.
type CriticalFailure struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	WaveNumber       int       `json:"wave_number"`
	IssuesFound      int       `json:"issues_found"`
	IssuesRemaining  int       `json:"issues_remaining"`
	TotalAttempts    int       `json:"total_attempts"`
	Status           Status    `json:"status"`
	EscalatedToHuman bool      `json:"escalated_to_human"`
	NotificationSent bool      `json:"notification_sent"`
	CreatedAt        time.Time `json:"created_at"`
}
