package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

const (
	testTitle       = "Danoggin Test"
	testDefaultBody = "Test notification from the notification service"
)

// ClearBadge sends a silent badge=0 push to every device of the user and
// resets the stored badge count. Send failures are only logged.
func ClearBadge(ctx context.Context, users store.Users, gw push.Gateway, userID string, logger *slog.Logger) error {
	u, err := users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	zero := 0
	for _, t := range u.Tokens {
		if _, err := gw.Send(ctx, push.Message{Token: t.Token, Badge: &zero, Silent: true}); err != nil {
			logger.Info("clear badge send failed",
				"user_id", userID, "token_prefix", push.TokenPrefix(t.Token), "error", err)
		}
	}

	if err := users.ResetBadge(ctx, userID); err != nil {
		return fmt.Errorf("reset badge: %w", err)
	}
	logger.Info("badge cleared", "user_id", userID, "devices", len(u.Tokens))
	return nil
}

// SendTest sends a visible test notification to an arbitrary token and
// returns the gateway message ID. An empty message uses a default body.
func SendTest(ctx context.Context, gw push.Gateway, token, message string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token is required")
	}
	if message == "" {
		message = testDefaultBody
	}
	one := 1
	id, err := gw.Send(ctx, push.Message{
		Token: token,
		Title: testTitle,
		Body:  message,
		Badge: &one,
	})
	if err != nil {
		return "", fmt.Errorf("send test notification: %w", err)
	}
	return id, nil
}
