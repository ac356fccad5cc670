// Package notify delivers core events to recipients: a live websocket push
// when the recipient is connected, and a durable RabbitMQ publish always.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"
)

// Pusher is the live-connection side of delivery (the websocket hub).
type Pusher interface {
	Push(recipientID string, payload []byte) bool
}

// Publisher is the durable side of delivery (the RabbitMQ client).
type Publisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// Notification is the wire shape for the notifications queue.
type Notification struct {
	RecipientID string    `json:"recipient_id"`
	EventType   string    `json:"event_type"`
	Payload     any       `json:"payload"`
	SentAt      time.Time `json:"sent_at"`
}

// Notifier is the composite ports.Notifier: websocket push for connected
// recipients plus an MQ publish so offline recipients and other services see
// every event. Location updates also go to the location fanout exchange.
type Notifier struct {
	mu     sync.RWMutex
	pusher Pusher
	pub    Publisher
	logger *logger.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// New creates a composite notifier. pusher may be nil (MQ-only delivery).
func New(pusher Pusher, pub Publisher, log *logger.Logger) *Notifier {
	return &Notifier{pusher: pusher, pub: pub, logger: log}
}

// SetPusher installs the live-push side after construction. The hub and the
// core services reference each other, so the pusher is bound late during
// wiring.
func (n *Notifier) SetPusher(pusher Pusher) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pusher = pusher
}

// Notify delivers one event to one recipient. The MQ publish is the
// authoritative delivery; a failed live push alone is not an error.
func (n *Notifier) Notify(ctx context.Context, recipientID, eventType string, payload any) error {
	body, err := json.Marshal(Notification{
		RecipientID: recipientID,
		EventType:   eventType,
		Payload:     payload,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	n.mu.RLock()
	pusher := n.pusher
	n.mu.RUnlock()

	pushed := false
	if pusher != nil {
		pushed = pusher.Push(recipientID, body)
	}

	if err := n.pub.Publish(contracts.ExchangeNotifyTopic, contracts.RouteNotifyPrefix+recipientID, body); err != nil {
		if pushed {
			// recipient saw it live; log the durable-path failure and move on
			n.logger.Warn(ctx, "notify_publish_failed", "Notification queue publish failed after live push",
				map[string]any{"recipient": recipientID, "event": eventType, "error": err.Error()})
			return nil
		}
		return fmt.Errorf("publish notification: %w", err)
	}

	if eventType == contracts.EventDriverLocation {
		if err := n.pub.Publish(contracts.ExchangeLocationFanout, "", body); err != nil {
			n.logger.Warn(ctx, "location_fanout_failed", "Location fanout publish failed",
				map[string]any{"recipient": recipientID, "error": err.Error()})
		}
	}

	n.logger.Debug(ctx, "notification_sent", "Delivered notification",
		map[string]any{"recipient": recipientID, "event": eventType, "live_push": pushed})
	return nil
}
