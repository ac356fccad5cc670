package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// handlerTimeout bounds the processing of one delivery.
const handlerTimeout = 30 * time.Second

// Consume reads a queue until ctx is cancelled or the channel dies, invoking
// handler once per delivery with a bounded context. Acking is manual: a
// handler error requeues the message once, a second failure drops it so a
// poison message cannot wedge the queue. Handlers are expected to be
// idempotent under that one redelivery.
func (client *Client) Consume(
	ctx context.Context,
	queue string,
	consumerTag string,
	prefetch int,
	handler func(context.Context, amqp.Delivery) error,
) error {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return ErrNotConnected
	}

	// each consumer owns its channel so prefetch and failures stay isolated
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open consumer channel: %w", err)
	}
	defer ch.Close()

	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: set prefetch %d on %s: %w", prefetch, queue, err)
	}

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", queue, err)
	}
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			if consumerTag != "" {
				_ = ch.Cancel(consumerTag, false)
			}
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel lost while consuming %s: %w", queue, cerr)
			}
			return nil

		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			client.handleDelivery(ctx, d, handler)
		}
	}
}

func (client *Client) handleDelivery(ctx context.Context, d amqp.Delivery, handler func(context.Context, amqp.Delivery) error) {
	hCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	err := handler(hCtx, d)
	cancel()

	if err != nil {
		// first failure gets one more try; redelivered failures are dropped
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}
