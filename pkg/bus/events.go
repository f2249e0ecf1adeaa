package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventPublished EventType = "published"
	EventAcked     EventType = "acked"
	EventRequeued  EventType = "requeued"
	EventDropped   EventType = "dropped"
)

const defaultEventBuffer = 100

// Event describes one state change of a delivery on the memory broker.
type Event struct {
	Type       EventType `json:"type"`
	At         time.Time `json:"at"`
	Queue      string    `json:"queue"`
	DeliveryID string    `json:"delivery_id"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
}

func settlementEvent(s Settlement) EventType {
	switch s {
	case Requeue:
		return EventRequeued
	case Drop:
		return EventDropped
	default:
		return EventAcked
	}
}

// eventFeed fans events out to subscribers. A full subscriber channel loses
// the event; emit never blocks the delivery loop.
type eventFeed struct {
	mu     sync.Mutex
	subs   map[*chan Event]struct{}
	closed bool
}

func newEventFeed() *eventFeed {
	return &eventFeed{subs: make(map[*chan Event]struct{})}
}

func (f *eventFeed) emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs {
		select {
		case *sub <- event:
		default:
		}
	}
}

// add registers a channel. It returns false once the feed is closed.
func (f *eventFeed) add(ch *chan Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	f.subs[ch] = struct{}{}
	return true
}

func (f *eventFeed) remove(ch *chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(*ch)
	}
}

func (f *eventFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(*ch)
	}
}

// SubscribeEvents streams delivery events until ctx ends, the returned stop
// function is called, or the broker closes. The channel is closed in all
// three cases.
func (mb *MemoryBroker) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	ch := make(chan Event, buffer)
	if !mb.events.add(&ch) {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	stop := func() {
		once.Do(func() { mb.events.remove(&ch) })
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-mb.done:
		}
		stop()
	}()

	return ch, stop
}
