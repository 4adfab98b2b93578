// Package listener consumes newly recorded check-in outcomes and hands them
// to the observer alert fan-out.
//
// With the Postgres store a trigger on check_ins fires pg_notify and a
// dedicated pgx connection (not from the pool) LISTENs on the channel. With
// the Firestore store the app publishes the same JSON payload to a Pub/Sub
// topic and Subscribe receives it.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/danoggin/notify/internal/notifications"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// Alerter is the fan-out a check-in event is delivered to.
type Alerter interface {
	NotifyObservers(ctx context.Context, c notifications.CheckIn) (notifications.AlertResult, error)
}

// ParseCheckIn decodes a check_in_recorded payload. The responder ID and
// result are required.
func ParseCheckIn(payload []byte) (notifications.CheckIn, error) {
	var c notifications.CheckIn
	if err := json.Unmarshal(payload, &c); err != nil {
		return c, fmt.Errorf("decode check-in event: %w", err)
	}
	if c.ResponderID == "" || c.Result == "" {
		return c, fmt.Errorf("check-in event missing responder_id or result")
	}
	return c, nil
}

// Start opens a dedicated connection and listens on channel. It reconnects
// automatically on connection loss. Blocks until ctx is cancelled. Intended
// to be called with `go`.
func Start(ctx context.Context, dbURL, channel string, alerts Alerter, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, channel, alerts, logger)
		if ctx.Err() != nil {
			logger.Info("Check-in listener stopped (context cancelled)")
			return
		}

		logger.Error("Check-in listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL, channel string, alerts Alerter, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Check-in listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		c, err := ParseCheckIn([]byte(notification.Payload))
		if err != nil {
			logger.Warn("Failed to parse check-in event",
				"payload", notification.Payload, "error", err)
			continue
		}

		// Process asynchronously to avoid blocking the listener
		go handleCheckIn(ctx, alerts, c, logger)
	}
}

func handleCheckIn(ctx context.Context, alerts Alerter, c notifications.CheckIn, logger *slog.Logger) {
	logger.Info("Check-in event received",
		"check_in_id", c.ID, "responder_id", c.ResponderID, "result", c.Result)

	if _, err := alerts.NotifyObservers(ctx, c); err != nil {
		logger.Error("Observer alert failed",
			"check_in_id", c.ID, "responder_id", c.ResponderID, "error", err)
	}
}
