package bus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrReject tells the broker to drop a delivery instead of redelivering it.
	ErrReject = errors.New("bus: reject delivery")
	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("bus: broker closed")
)

// Delivery is one message handed to a subscriber.
type Delivery struct {
	ID          string
	Queue       string
	Body        []byte
	Attempt     int
	PublishedAt time.Time
}

// Handler processes one delivery. A nil return acknowledges it, ErrReject
// (possibly wrapped) drops it, and any other error asks for redelivery.
type Handler func(context.Context, Delivery) error

// Publisher appends messages to named queues.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Subscriber delivers queue messages to a handler. Subscribe blocks until ctx
// ends or the broker closes.
type Subscriber interface {
	Subscribe(ctx context.Context, queue string, concurrency int, handler Handler) error
}

// Broker is a Publisher and Subscriber with a lifetime.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}
