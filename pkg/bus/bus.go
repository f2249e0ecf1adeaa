package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxDeliveries = 5

// MemoryBroker is an in-process Broker with at-least-once semantics: a
// delivery whose handler fails goes back to the tail of its queue until it
// has been attempted maxDeliveries times.
type MemoryBroker struct {
	queues        map[string]*memoryQueue
	maxDeliveries int
	log           *slog.Logger

	events *eventFeed

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

type memoryQueue struct {
	mu      sync.Mutex
	pending []Delivery
	ready   chan struct{}
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{ready: make(chan struct{}, 1)}
}

func (q *memoryQueue) push(d Delivery) {
	q.mu.Lock()
	q.pending = append(q.pending, d)
	q.mu.Unlock()
	q.signal()
}

func (q *memoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) tryPop() (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Delivery{}, false
	}

	d := q.pending[0]
	q.pending[0] = Delivery{}
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		// Wake another consumer for the remaining backlog.
		q.signal()
	}
	return d, true
}

func (q *memoryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// NewMemoryBroker builds an empty broker. maxDeliveries <= 0 selects the default.
func NewMemoryBroker(maxDeliveries int, log *slog.Logger) *MemoryBroker {
	if maxDeliveries <= 0 {
		maxDeliveries = defaultMaxDeliveries
	}
	if log == nil {
		log = slog.Default()
	}

	return &MemoryBroker{
		queues:        make(map[string]*memoryQueue),
		maxDeliveries: maxDeliveries,
		log:           log.With("component", "bus.memory"),
		events:        newEventFeed(),
		done:          make(chan struct{}),
	}
}

func (mb *MemoryBroker) queue(name string) *memoryQueue {
	mb.mu.RLock()
	q, ok := mb.queues[name]
	mb.mu.RUnlock()
	if ok {
		return q
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	if q, ok := mb.queues[name]; ok {
		return q
	}
	q = newMemoryQueue()
	mb.queues[name] = q
	return q
}

func (mb *MemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	default:
	}

	stored := make([]byte, len(body))
	copy(stored, body)

	d := Delivery{
		ID:          uuid.NewString(),
		Queue:       queue,
		Body:        stored,
		Attempt:     1,
		PublishedAt: time.Now().UTC(),
	}
	mb.queue(queue).push(d)
	mb.events.emit(Event{Type: EventPublished, Queue: queue, DeliveryID: d.ID, Attempt: d.Attempt})

	return nil
}

func (mb *MemoryBroker) Subscribe(ctx context.Context, queue string, concurrency int, handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	select {
	case <-mb.done:
		return ErrClosed
	default:
	}

	q := mb.queue(queue)

	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mb.consume(ctx, q, handler)
		}()
	}
	wg.Wait()

	return nil
}

func (mb *MemoryBroker) consume(ctx context.Context, q *memoryQueue, handler Handler) {
	for {
		d, ok := q.tryPop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-mb.done:
				return
			case <-q.ready:
				continue
			}
		}

		err := Invoke(ctx, handler, d)
		settlement := Settle(err, d.Attempt, mb.maxDeliveries)
		if settlement == Requeue && ctx.Err() != nil {
			// Shutting down: hand the delivery back untouched so a later
			// subscriber sees the same attempt count.
			q.push(d)
			return
		}

		switch settlement {
		case Ack:
		case Requeue:
			mb.log.Warn("Delivery failed, requeueing", "queue", d.Queue, "delivery_id", d.ID, "attempt", d.Attempt, "error", err)
			next := d
			next.Attempt++
			q.push(next)
		case Drop:
			mb.log.Error("Delivery dropped", "queue", d.Queue, "delivery_id", d.ID, "attempt", d.Attempt, "error", err)
		}

		mb.events.emit(Event{
			Type:       settlementEvent(settlement),
			Queue:      d.Queue,
			DeliveryID: d.ID,
			Attempt:    d.Attempt,
			Error:      errorString(err),
		})
	}
}

// Pending reports how many deliveries wait on queue.
func (mb *MemoryBroker) Pending(queue string) int {
	return mb.queue(queue).len()
}

func (mb *MemoryBroker) Close() error {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.events.close()
	})
	return nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
