package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventWaveStatus = "wave.status"
	EventTaskStatus = "task.status"
	EventGateResult = "gate.result"
	EventEscalation = "wave.escalation"
)

// WaveStatusEvent is broadcast when a wave's status changes.
type WaveStatusEvent struct {
	ProjectID  string `json:"project_id"`
	WaveNumber int    `json:"wave_number"`
	Status     string `json:"status"`
	PreviewURL string `json:"preview_url,omitempty"`
	PRURL      string `json:"pr_url,omitempty"`
}

// TaskStatusEvent is broadcast when a task's status changes.
type TaskStatusEvent struct {
	TaskID     string `json:"task_id"`
	ProjectID  string `json:"project_id"`
	WaveNumber int    `json:"wave_number"`
	Status     string `json:"status"`
	AgentType  string `json:"agent_type,omitempty"`
}

// GateResultEvent is broadcast after each quality gate stage.
type GateResultEvent struct {
	ProjectID  string  `json:"project_id"`
	WaveNumber int     `json:"wave_number"`
	Gate       string  `json:"gate"` // "testing", "critic", "integration"
	Passed     bool    `json:"passed"`
	Score      float64 `json:"score,omitempty"`
}

// EscalationEvent is broadcast when a wave is escalated to a human.
type EscalationEvent struct {
	ProjectID       string `json:"project_id"`
	WaveNumber      int    `json:"wave_number"`
	IssuesRemaining int    `json:"issues_remaining"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
