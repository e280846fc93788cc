package otel

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/taskdeck/internal/bus"
)

// BindBus subscribes to task and store lifecycle events and records them
// as metrics and debug logs. Returns once the subscription is active; the
// fan-out goroutine stops when ctx is cancelled.
func BindBus(ctx context.Context, b *bus.Bus, m *Metrics, logger *slog.Logger) {
	if b == nil || m == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	sub := b.Subscribe("")

	go func() {
		defer b.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				record(ctx, m, logger, ev)
			}
		}
	}()
}

func record(ctx context.Context, m *Metrics, logger *slog.Logger, ev bus.Event) {
	switch p := ev.Payload.(type) {
	case bus.TaskCreatedEvent:
		m.TasksCreated.Add(ctx, 1, metric.WithAttributes(AttrWorkspaceKey.String(p.WorkspaceKey)))
		logger.Debug("task created", "workspace", p.WorkspaceKey, "task_id", p.TaskID, "status", p.Status)
	case bus.TaskStateChangedEvent:
		if ev.Topic == bus.TopicTaskStateChanged {
			m.TaskTransitions.Add(ctx, 1, metric.WithAttributes(
				AttrWorkspaceKey.String(p.WorkspaceKey),
				AttrStatusFrom.String(p.OldStatus),
				AttrStatusTo.String(p.NewStatus),
			))
		}
		logger.Debug("task updated", "workspace", p.WorkspaceKey, "task_id", p.TaskID,
			"from", p.OldStatus, "to", p.NewStatus)
	case bus.TaskDeletedEvent:
		logger.Debug("task deleted", "workspace", p.WorkspaceKey, "task_id", p.TaskID)
	case bus.TaskPurgedEvent:
		logger.Debug("tombstones purged", "workspace", p.WorkspaceKey, "purged", p.Purged)
	case bus.StoreEvent:
		delta := int64(1)
		if ev.Topic == bus.TopicStoreClosed {
			delta = -1
		}
		m.OpenStores.Add(ctx, delta, metric.WithAttributes(AttrWorkspaceKey.String(p.WorkspaceKey)))
	}
}
