package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "helmsman"

// Metrics holds all Helmsman metric instruments.
type Metrics struct {
	WavesStarted    metric.Int64Counter
	WavesCompleted  metric.Int64Counter
	WavesFailed     metric.Int64Counter
	WavesEscalated  metric.Int64Counter
	TasksDispatched metric.Int64Counter
	TaskTimeouts    metric.Int64Counter
	FixAttempts     metric.Int64Counter
	WaveDuration    metric.Float64Histogram
	GateDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.WavesStarted, err = meter.Int64Counter("helmsman.waves.started",
		metric.WithDescription("Number of waves started"))
	if err != nil {
		return nil, err
	}

	m.WavesCompleted, err = meter.Int64Counter("helmsman.waves.completed",
		metric.WithDescription("Number of waves completed"))
	if err != nil {
		return nil, err
	}

	m.WavesFailed, err = meter.Int64Counter("helmsman.waves.failed",
		metric.WithDescription("Number of waves failed"))
	if err != nil {
		return nil, err
	}

	m.WavesEscalated, err = meter.Int64Counter("helmsman.waves.escalated",
		metric.WithDescription("Number of waves escalated to human review"))
	if err != nil {
		return nil, err
	}

	m.TasksDispatched, err = meter.Int64Counter("helmsman.tasks.dispatched",
		metric.WithDescription("Number of tasks dispatched to agents"))
	if err != nil {
		return nil, err
	}

	m.TaskTimeouts, err = meter.Int64Counter("helmsman.tasks.timeouts",
		metric.WithDescription("Number of task dispatches that timed out"))
	if err != nil {
		return nil, err
	}

	m.FixAttempts, err = meter.Int64Counter("helmsman.autofix.attempts",
		metric.WithDescription("Number of auto-fix attempts dispatched"))
	if err != nil {
		return nil, err
	}

	m.WaveDuration, err = meter.Float64Histogram("helmsman.wave.duration_seconds",
		metric.WithDescription("Wave duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.GateDuration, err = meter.Float64Histogram("helmsman.gate.duration_seconds",
		metric.WithDescription("Quality gate stage duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
