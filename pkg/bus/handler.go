package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Settlement is what a broker does with a delivery once its handler returns.
type Settlement int

const (
	Ack Settlement = iota
	Requeue
	Drop
)

func (s Settlement) String() string {
	switch s {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Drop:
		return "drop"
	default:
		return fmt.Sprintf("settlement(%d)", int(s))
	}
}

// Invoke runs handler and converts a panic into an error so one bad message
// cannot take down a consumer goroutine.
func Invoke(ctx context.Context, handler Handler, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()

	return handler(ctx, d)
}

// Settle maps a handler result to a Settlement. maxDeliveries <= 0 means
// redeliver without limit.
func Settle(err error, attempt int, maxDeliveries int) Settlement {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, ErrReject):
		return Drop
	case maxDeliveries > 0 && attempt >= maxDeliveries:
		return Drop
	default:
		return Requeue
	}
}
