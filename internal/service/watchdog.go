package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/helmsmanhq/helmsman/internal/config"
	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/domain/wave"
	"github.com/helmsmanhq/helmsman/internal/port/database"
	"github.com/helmsmanhq/helmsman/internal/port/eventstore"
)

// Watchdog periodically sweeps for zombie tasks: tasks stuck in_progress
// past the stuck threshold, typically because a worker died without
// publishing a completion. Stuck tasks are failed and their waves marked
// failed so the pipeline never hangs forever on a lost agent.
type Watchdog struct {
	store  database.Store
	events eventstore.Store
	cfg    config.Watchdog

	// now is swappable for testing.
	now func() time.Time
}

// NewWatchdog creates the zombie task watchdog.
func NewWatchdog(store database.Store, events eventstore.Store, cfg config.Watchdog) *Watchdog {
	return &Watchdog{store: store, events: events, cfg: cfg, now: time.Now}
}

// Run sweeps on the configured interval until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	slog.Info("watchdog started",
		"interval", w.cfg.SweepInterval, "threshold", w.cfg.StuckThreshold)

	for {
		select {
		case <-ctx.Done():
			slog.Info("watchdog stopped")
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				slog.Error("watchdog sweep failed", "error", err)
			}
		}
	}
}

// Sweep fails every task stuck in_progress past the threshold and marks its
// wave failed. One pass; safe to call concurrently with a running pipeline
// because FailTask only transitions non-terminal tasks.
func (w *Watchdog) Sweep(ctx context.Context) error {
	cutoff := w.now().Add(-w.cfg.StuckThreshold)
	stuck, err := w.store.ListStuckTasks(ctx, cutoff)
	if err != nil {
		return err
	}

	for i := range stuck {
		t := &stuck[i]
		slog.Warn("zombie task detected",
			"task_id", t.ID, "project_id", t.ProjectID,
			"wave", t.WaveNumber, "started_at", t.StartedAt)

		if err := w.store.FailTask(ctx, t.ID, "stuck task watchdog timeout", w.now()); err != nil {
			slog.Error("fail zombie task", "task_id", t.ID, "error", err)
			continue
		}
		appendEvent(ctx, w.events, &event.Event{
			ProjectID:  t.ProjectID,
			WaveNumber: t.WaveNumber,
			TaskID:     t.ID,
			Type:       event.TypeTaskZombie,
			Payload:    eventPayload(map[string]any{"started_at": t.StartedAt}),
		})

		wv, err := w.store.GetWave(ctx, t.ProjectID, t.WaveNumber)
		if err != nil {
			slog.Error("load wave for zombie task", "task_id", t.ID, "error", err)
			continue
		}
		if wv.Status.IsTerminal() {
			continue
		}
		if err := w.store.UpdateWaveStatus(ctx, wv.ID, wave.StatusFailed, "stuck task watchdog timeout"); err != nil {
			slog.Error("fail wave for zombie task", "wave_id", wv.ID, "error", err)
		}
	}
	return nil
}
