package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

// Delivery is the classified result of sending to one token.
type Delivery struct {
	UserID   string
	UserName string
	Token    string
	Context  string
	Outcome  push.Outcome
}

// Health applies the strike state machine to delivery outcomes.
//
// A token holds 0 to 2 strikes. A definitive failure adds a strike and the
// third one deletes the token. Any success clears its strikes. Transient
// failures only leave a telemetry record.
type Health struct {
	users  store.Users
	logger *slog.Logger
	now    func() time.Time
}

// NewHealth creates a Health that persists through users.
func NewHealth(users store.Users, logger *slog.Logger, now func() time.Time) *Health {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Health{users: users, logger: logger, now: now}
}

// HandleOutcome updates the token and engagement metrics for d and records
// any token event in batch. Store failures are logged and never returned.
func (h *Health) HandleOutcome(ctx context.Context, batch *Batcher, d Delivery) {
	at := h.now()
	switch d.Outcome.Kind {
	case push.Success:
		h.clearStrikes(ctx, d)
	case push.Definitive:
		h.applyStrike(ctx, batch, d, at)
	default:
		h.logger.Info("temporary token error",
			"user_id", d.UserID, "token_prefix", push.TokenPrefix(d.Token),
			"code", d.Outcome.Code, "context", d.Context)
		ev := NewTokenEvent(d.UserID, d.UserName, d.Token, store.EventError, d.Outcome.Code, d.Context,
			map[string]any{"errorMessage": d.Outcome.Message, "temporary": true})
		ev.Timestamp = at
		batch.Add(ctx, ev)
	}

	success := d.Outcome.Kind == push.Success
	if err := h.users.RecordDelivery(ctx, d.UserID, success, at); err != nil {
		h.logger.Warn("record engagement metrics", "user_id", d.UserID, "error", err)
	}
}

func (h *Health) clearStrikes(ctx context.Context, d Delivery) {
	err := h.users.UpdateTokens(ctx, d.UserID, func(tokens []store.DeviceToken) ([]store.DeviceToken, bool) {
		for i := range tokens {
			if tokens[i].Token != d.Token {
				continue
			}
			if tokens[i].Strikes == 0 && tokens[i].LastStrike == nil {
				return tokens, false
			}
			h.logger.Info("resetting token strikes after successful send",
				"user_id", d.UserID, "strikes", tokens[i].Strikes)
			tokens[i].Strikes = 0
			tokens[i].LastStrike = nil
			return tokens, true
		}
		return tokens, false
	})
	if err != nil {
		h.logger.Warn("reset token strikes", "user_id", d.UserID, "error", err)
	}
}

func (h *Health) applyStrike(ctx context.Context, batch *Batcher, d Delivery, at time.Time) {
	var (
		found   bool
		strikes int
		removed bool
	)
	err := h.users.UpdateTokens(ctx, d.UserID, func(tokens []store.DeviceToken) ([]store.DeviceToken, bool) {
		// The mutator may run more than once when a transaction retries.
		found, strikes, removed = false, 0, false
		for i := range tokens {
			if tokens[i].Token != d.Token {
				continue
			}
			found = true
			strikes = tokens[i].Strikes + 1
			if strikes >= MaxStrikes {
				removed = true
				return append(tokens[:i:i], tokens[i+1:]...), true
			}
			tokens[i].Strikes = strikes
			tokens[i].LastStrike = &store.Strike{
				ErrorCode: d.Outcome.Code,
				Timestamp: at,
				Context:   d.Context,
			}
			return tokens, true
		}
		return tokens, false
	})
	if err != nil {
		h.logger.Error("apply token strike", "user_id", d.UserID, "code", d.Outcome.Code, "error", err)
		return
	}
	if !found {
		h.logger.Info("struck token no longer registered",
			"user_id", d.UserID, "token_prefix", push.TokenPrefix(d.Token))
		return
	}

	var ev store.TokenEvent
	if removed {
		h.logger.Info("token removed after strikes", "user_id", d.UserID, "strikes", strikes)
		ev = NewTokenEvent(d.UserID, d.UserName, d.Token, store.EventRemoval, ReasonStrikeThreshold, d.Context,
			map[string]any{"strikes": strikes})
	} else {
		h.logger.Info("token strike", "user_id", d.UserID, "strikes", strikes, "code", d.Outcome.Code)
		ev = NewTokenEvent(d.UserID, d.UserName, d.Token, store.EventStrike, d.Outcome.Code, d.Context,
			map[string]any{"strikeNumber": strikes, "totalStrikes": strikes})
	}
	ev.Timestamp = at
	batch.Add(ctx, ev)
}
