package listener

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
)

// Subscribe receives check-in events from a Pub/Sub subscription until ctx
// is cancelled. Malformed messages are acked and dropped; a failed alert is
// nacked so Pub/Sub redelivers it.
func Subscribe(ctx context.Context, client *pubsub.Client, subscription string, alerts Alerter, logger *slog.Logger) error {
	sub := client.Subscription(subscription)
	logger.Info("Check-in subscriber started", "subscription", subscription)

	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		c, err := ParseCheckIn(msg.Data)
		if err != nil {
			logger.Warn("Failed to parse check-in message",
				"message_id", msg.ID, "error", err)
			msg.Ack()
			return
		}

		logger.Info("Check-in event received",
			"check_in_id", c.ID, "responder_id", c.ResponderID, "result", c.Result)
		if _, err := alerts.NotifyObservers(ctx, c); err != nil {
			logger.Error("Observer alert failed",
				"check_in_id", c.ID, "responder_id", c.ResponderID, "error", err)
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive %s: %w", subscription, err)
	}
	logger.Info("Check-in subscriber stopped")
	return nil
}
