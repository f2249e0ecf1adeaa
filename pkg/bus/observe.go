package bus

import (
	"context"
	"log/slog"
	"time"
)

// LogEvents writes delivery events from mb to log until ctx ends or the
// broker closes. Events are dropped when the logger falls behind.
func LogEvents(ctx context.Context, mb *MemoryBroker, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	events, unsubscribe := mb.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event Event) {
	attrs := []any{
		"event_type", event.Type,
		"queue", event.Queue,
		"delivery_id", event.DeliveryID,
		"attempt", event.Attempt,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}

	switch event.Type {
	case EventDropped:
		log.Warn("Delivery event", append(attrs, "error", event.Error)...)
	case EventRequeued:
		log.Info("Delivery event", append(attrs, "error", event.Error)...)
	default:
		log.Debug("Delivery event", attrs...)
	}
}
