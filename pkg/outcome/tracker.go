package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"homevoice/pkg/bus"
	"homevoice/pkg/command"
)

// recentLimit bounds how many unclaimed outcomes are remembered for callers
// that start waiting after the outcome already arrived.
const recentLimit = 512

// Listener observes every outcome the tracker consumes.
type Listener func(context.Context, command.Outcome)

// Tracker consumes outcome queues and hands each outcome to whoever awaits
// its command ID, plus any registered listeners.
type Tracker struct {
	subscriber   bus.Subscriber
	successQueue string
	errorQueue   string
	log          *slog.Logger

	mu        sync.Mutex
	waiters   map[string][]chan command.Outcome
	recent    map[string]command.Outcome
	order     []string
	listeners []Listener
}

// NewTracker watches successQueue and errorQueue. Pass an empty name to
// leave a queue to another consumer.
func NewTracker(subscriber bus.Subscriber, successQueue string, errorQueue string, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}

	return &Tracker{
		subscriber:   subscriber,
		successQueue: successQueue,
		errorQueue:   errorQueue,
		log:          log.With("component", "outcome.tracker"),
		waiters:      make(map[string][]chan command.Outcome),
		recent:       make(map[string]command.Outcome),
	}
}

// Listen registers fn for every outcome consumed after this call.
func (t *Tracker) Listen(fn Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Run consumes the watched queues until ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	type watch struct {
		queue  string
		decode func([]byte) (command.Outcome, error)
	}
	var watches []watch
	if t.successQueue != "" {
		watches = append(watches, watch{queue: t.successQueue, decode: func(b []byte) (command.Outcome, error) { return command.DecodeSuccess(b) }})
	}
	if t.errorQueue != "" {
		watches = append(watches, watch{queue: t.errorQueue, decode: func(b []byte) (command.Outcome, error) { return command.DecodeFailure(b) }})
	}
	if len(watches) == 0 {
		return errors.New("tracker has no queues to watch")
	}

	errCh := make(chan error, len(watches))
	var wg sync.WaitGroup
	for _, w := range watches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := t.subscriber.Subscribe(ctx, w.queue, 1, func(ctx context.Context, d bus.Delivery) error {
				o, err := w.decode(d.Body)
				if err != nil {
					t.log.Warn("Discarding undecodable outcome", "queue", w.queue, "error", err)
					return fmt.Errorf("%w: %v", bus.ErrReject, err)
				}
				t.Observe(ctx, o)
				return nil
			})
			if err != nil {
				errCh <- fmt.Errorf("watch %s: %w", w.queue, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	return <-errCh
}

// Observe delivers o to its waiters and listeners.
func (t *Tracker) Observe(ctx context.Context, o command.Outcome) {
	id := o.CommandID()

	t.mu.Lock()
	waiters := t.waiters[id]
	delete(t.waiters, id)
	if len(waiters) == 0 {
		t.remember(id, o)
	}
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- o
	}

	switch v := o.(type) {
	case command.Success:
		t.log.Info("Command succeeded", "message_id", id, "user_id", v.UserID)
	case command.Failure:
		t.log.Info("Command failed", "message_id", id, "user_id", v.UserID, "reason", v.Reason)
	}

	for _, fn := range listeners {
		fn(ctx, o)
	}
}

func (t *Tracker) remember(id string, o command.Outcome) {
	if _, ok := t.recent[id]; !ok {
		t.order = append(t.order, id)
	}
	t.recent[id] = o

	for len(t.order) > recentLimit {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.recent, oldest)
	}
}

// Await blocks until the outcome for id is observed or ctx ends.
func (t *Tracker) Await(ctx context.Context, id string) (command.Outcome, error) {
	t.mu.Lock()
	if o, ok := t.recent[id]; ok {
		delete(t.recent, id)
		t.mu.Unlock()
		return o, nil
	}

	ch := make(chan command.Outcome, 1)
	t.waiters[id] = append(t.waiters[id], ch)
	t.mu.Unlock()

	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		t.mu.Lock()
		remaining := t.waiters[id][:0]
		for _, waiter := range t.waiters[id] {
			if waiter != ch {
				remaining = append(remaining, waiter)
			}
		}
		if len(remaining) == 0 {
			delete(t.waiters, id)
		} else {
			t.waiters[id] = remaining
		}
		t.mu.Unlock()
		return nil, fmt.Errorf("await outcome %s: %w", id, ctx.Err())
	}
}
