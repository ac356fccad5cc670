package rabbitmq

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrNotConnected = errors.New("rabbitmq: connection is not open")
	ErrPublishNack  = errors.New("rabbitmq: broker refused the publish")
)

// publishTimeout bounds one publish including its broker confirm.
const publishTimeout = 5 * time.Second

// Publish sends one persistent JSON message and waits for the broker
// confirm. Messages are published mandatory: an unroutable message is
// returned by the broker and logged by the return listener.
//
// Publishes are serialized on the confirm stream so each waiter reads its
// own confirmation.
func (client *Client) Publish(exchange, routingKey string, body []byte) error {
	client.mu.RLock()
	conn, ch := client.conn, client.pubChan
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() || ch == nil || ch.IsClosed() {
		return ErrNotConnected
	}

	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := ch.PublishWithContext(ctx, exchange, routingKey, true, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		return err
	}
	return awaitConfirm(ctx, confirms)
}

// awaitConfirm blocks until the broker acks or nacks the publish in flight.
// On timeout it drains one confirm with a short grace so the stream stays
// aligned with later publishes.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation) error {
	select {
	case c := <-confirms:
		if !c.Ack {
			return ErrPublishNack
		}
		return nil
	case <-ctx.Done():
		select {
		case c := <-confirms:
			if !c.Ack {
				return ErrPublishNack
			}
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	}
}
