// Package amqp implements bus.Broker on RabbitMQ. Queues are durable and
// addressed through the default exchange; publishes wait for a broker confirm.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"homevoice/pkg/bus"
	"homevoice/pkg/config"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dialTimeout     = 10 * time.Second
	defaultPrefetch = 8
)

// Broker owns one connection, a confirm-mode publishing channel, and one
// consuming channel per subscription.
type Broker struct {
	conn     *amqp.Connection
	prefetch int
	log      *slog.Logger

	pubMu    sync.Mutex
	pubCh    *amqp.Channel
	declared map[string]struct{}
}

// Dial connects to RabbitMQ using cfg.
func Dial(cfg config.BrokerConfig, log *slog.Logger) (*Broker, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, err := amqp.DialConfig(cfg.AMQPURL(), amqp.Config{
		Dial:       amqp.DefaultDial(dialTimeout),
		Properties: amqp.Table{"connection_name": "homevoice"},
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	return &Broker{
		conn:     conn,
		prefetch: prefetch,
		log:      log.With("component", "bus.amqp"),
		pubCh:    ch,
		declared: make(map[string]struct{}),
	}, nil
}

func declare(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// Publish sends body as a persistent message and returns once the broker
// has confirmed it.
func (b *Broker) Publish(ctx context.Context, queue string, body []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if _, ok := b.declared[queue]; !ok {
		if err := declare(b.pubCh, queue); err != nil {
			return err
		}
		b.declared[queue] = struct{}{}
	}

	confirm, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm from %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: broker nacked message", queue)
	}

	return nil
}

// Subscribe consumes queue with manual acknowledgement. Handlers run on
// concurrency goroutines; prefetch bounds unacknowledged deliveries.
func (b *Broker) Subscribe(ctx context.Context, queue string, concurrency int, handler bus.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	if err := declare(ch, queue); err != nil {
		return err
	}
	if err := ch.Qos(max(b.prefetch, concurrency), 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	b.log.Info("Consuming queue", "queue", queue, "concurrency", concurrency)

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		lostErr error
	)
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						if ctx.Err() == nil {
							errOnce.Do(func() { lostErr = fmt.Errorf("consumer for %s closed by broker", queue) })
						}
						return
					}
					b.handle(ctx, queue, handler, d)
				}
			}
		}()
	}
	wg.Wait()

	return lostErr
}

func (b *Broker) handle(ctx context.Context, queue string, handler bus.Handler, d amqp.Delivery) {
	attempt := 1
	if d.Redelivered {
		attempt = 2
	}

	err := bus.Invoke(ctx, handler, bus.Delivery{
		ID:          d.MessageId,
		Queue:       queue,
		Body:        d.Body,
		Attempt:     attempt,
		PublishedAt: d.Timestamp,
	})

	settlement := bus.Settle(err, attempt, 0)
	if settleErr := settle(d, settlement); settleErr != nil {
		b.log.Error("Failed to settle delivery", "queue", queue, "delivery_id", d.MessageId, "settlement", settlement.String(), "error", settleErr)
		return
	}

	switch settlement {
	case bus.Requeue:
		b.log.Warn("Delivery failed, requeueing", "queue", queue, "delivery_id", d.MessageId, "error", err)
	case bus.Drop:
		b.log.Error("Delivery dropped", "queue", queue, "delivery_id", d.MessageId, "error", err)
	}
}

func settle(d amqp.Delivery, s bus.Settlement) error {
	switch s {
	case bus.Ack:
		return d.Ack(false)
	case bus.Requeue:
		return d.Nack(false, true)
	default:
		return d.Nack(false, false)
	}
}

func (b *Broker) Close() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	var errs []error
	if b.pubCh != nil {
		if err := b.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
