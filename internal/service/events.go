package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/helmsmanhq/helmsman/internal/domain/event"
	"github.com/helmsmanhq/helmsman/internal/port/eventstore"
)

// appendEvent records an orchestration event. The trail is best-effort
// observability; a failed append never fails the pipeline.
func appendEvent(ctx context.Context, store eventstore.Store, ev *event.Event) {
	if store == nil {
		return
	}
	if err := store.Append(ctx, ev); err != nil {
		slog.Error("append event", "type", ev.Type, "project_id", ev.ProjectID, "error", err)
	}
}

// eventPayload marshals an event payload, returning nil on failure.
func eventPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal event payload", "error", err)
		return nil
	}
	return data
}
