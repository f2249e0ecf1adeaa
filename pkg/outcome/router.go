// Package outcome publishes command outcomes and lets front-ends wait for them.
package outcome

import (
	"context"
	"fmt"
	"log/slog"

	"homevoice/pkg/bus"
	"homevoice/pkg/command"
	"homevoice/pkg/config"
)

// Router sends each outcome to exactly one queue: successes to the success
// queue, failures to the error queue.
type Router struct {
	publisher    bus.Publisher
	successQueue string
	errorQueue   string
	log          *slog.Logger
}

func NewRouter(publisher bus.Publisher, queues config.QueuesConfig, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		publisher:    publisher,
		successQueue: queues.Success,
		errorQueue:   queues.Error,
		log:          log.With("component", "outcome.router"),
	}
}

// Route performs one publish for o.
func (r *Router) Route(ctx context.Context, o command.Outcome) error {
	var queue string
	switch o.(type) {
	case command.Success:
		queue = r.successQueue
	case command.Failure:
		queue = r.errorQueue
	default:
		return fmt.Errorf("route outcome: unsupported type %T", o)
	}

	body, err := command.EncodeOutcome(o)
	if err != nil {
		return fmt.Errorf("route outcome: %w", err)
	}

	if err := r.publisher.Publish(ctx, queue, body); err != nil {
		return fmt.Errorf("publish outcome to %s: %w", queue, err)
	}

	r.log.Debug("Outcome routed", "message_id", o.CommandID(), "queue", queue)
	return nil
}
