// Package notify pushes lifecycle, payment and message events to connected
// principals. Delivery is at-most-once: events for principals with no live
// subscription are silently dropped, never queued or retried.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event kinds pushed to principals.
const (
	EventJoinRequest        = "join_request"
	EventMemberApproved     = "member_approved"
	EventMemberRemoved      = "member_removed"
	EventAgreementApproved  = "agreement_approved"
	EventAgreementRejected  = "agreement_rejected"
	EventAgreementFinalized = "agreement_finalized"
	EventPaymentCompleted   = "payment_completed"
	EventNewMessage         = "new_message"
)

// Event is a notification payload.
type Event struct {
	Type        string    `json:"type"`
	AgreementID string    `json:"agreement_id,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier is the push boundary.
type Notifier interface {
	Push(ctx context.Context, principalID string, event Event) error
}

// RedisNotifier publishes events on per-principal channels. Gateways holding
// live client connections subscribe to the channel of each connected
// principal; publishing to a channel nobody subscribes to drops the event.
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisNotifier constructs a RedisNotifier.
func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

// Channel returns the pub/sub channel for a principal.
func Channel(principalID string) string {
	return "notify:" + principalID
}

// Push publishes the event. Publish failures are logged and swallowed so a
// broken notification path never fails the triggering operation.
func (n *RedisNotifier) Push(ctx context.Context, principalID string, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, Channel(principalID), raw).Err(); err != nil {
		if n.logger != nil {
			n.logger.Warn("notification publish failed",
				slog.String("principal", principalID), slog.Any("error", err))
		}
	}
	return nil
}

// Broadcast pushes the event to every listed principal.
func Broadcast(ctx context.Context, n Notifier, principalIDs []string, event Event) {
	for _, id := range principalIDs {
		_ = n.Push(ctx, id, event)
	}
}
