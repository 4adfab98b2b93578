package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

// Alerts notifies a responder's observers of missed or incorrect check-ins.
type Alerts struct {
	store   store.Store
	gateway push.Gateway
	health  *Health
	opts    Options
	logger  *slog.Logger
}

// NewAlerts creates the observer fan-out.
func NewAlerts(st store.Store, gw push.Gateway, opts Options, logger *slog.Logger) *Alerts {
	opts = opts.withDefaults()
	return &Alerts{
		store:   st,
		gateway: gw,
		health:  NewHealth(st, logger, opts.Now),
		opts:    opts,
		logger:  logger,
	}
}

// alertTarget is one token to alert, with the badge of its owner.
type alertTarget struct {
	owner *store.User
	token string
	badge int
}

// NotifyObservers sends one alert per eligible observer token.
//
// Pipeline: load responder → increment every observer badge in one write →
// collect tokens under the age limit → send → classify → flush telemetry.
func (a *Alerts) NotifyObservers(ctx context.Context, c CheckIn) (AlertResult, error) {
	if !c.Alerting() {
		a.logger.Debug("check-in result needs no alert", "check_in_id", c.ID, "result", c.Result)
		return AlertResult{}, nil
	}

	responder, err := a.store.GetUser(ctx, c.ResponderID)
	if errors.Is(err, store.ErrNotFound) {
		a.logger.Warn("responder not found for check-in", "responder_id", c.ResponderID, "check_in_id", c.ID)
		return AlertResult{}, nil
	}
	if err != nil {
		return AlertResult{}, fmt.Errorf("load responder: %w", err)
	}

	observerIDs := responder.ObserverIDs()
	if len(observerIDs) == 0 {
		a.logger.Info("no observers to notify", "responder_id", c.ResponderID)
		return AlertResult{}, nil
	}

	batch := NewBatcher(a.store, a.opts.FlushThreshold, a.logger)
	defer flushOrLog(ctx, batch, a.logger)

	badges, err := a.store.IncrementBadges(ctx, observerIDs)
	if err != nil {
		return AlertResult{}, fmt.Errorf("increment observer badges: %w", err)
	}

	now := a.opts.Now()
	result := AlertResult{Observers: len(observerIDs)}
	targets := a.collectTargets(ctx, observerIDs, badges, now, &result)

	responderName := responder.Name
	if responderName == "" {
		responderName = unknownResponder
	}
	at := c.Timestamp
	if at.IsZero() {
		at = now
	}
	title := fmt.Sprintf(a.opts.AlertTitleFormat, c.Result)
	body := fmt.Sprintf("%s %s a check-in at %s", responderName, c.Result, at.UTC().Format("15:04"))
	data := map[string]string{
		"type":          "check_in_alert",
		"responderName": responderName,
		"result":        c.Result,
		"prompt":        c.Prompt,
		"timestamp":     at.UTC().Format(time.RFC3339),
		"checkInId":     c.ID,
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(a.opts.Workers)
	for _, t := range targets {
		g.Go(func() error {
			_, sendErr := a.gateway.Send(ctx, push.Message{
				Token: t.token,
				Title: title,
				Body:  body,
				Badge: &t.badge,
				Data:  data,
			})
			outcome := push.Classify(sendErr)
			a.health.HandleOutcome(ctx, batch, Delivery{
				UserID:   t.owner.ID,
				UserName: t.owner.DisplayName(),
				Token:    t.token,
				Context:  ContextAlert,
				Outcome:  outcome,
			})

			mu.Lock()
			defer mu.Unlock()
			if outcome.Kind == push.Success {
				result.Sent++
			} else {
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Info("observer alerts sent",
		"check_in_id", c.ID, "responder_id", c.ResponderID, "result", c.Result,
		"observers", result.Observers, "sent", result.Sent, "failed", result.Failed,
		"skipped", result.Skipped)
	return result, nil
}

// collectTargets loads observers in ID order and keeps tokens younger than
// MaxTokenAge. Older tokens are skipped here and left for the sweep.
func (a *Alerts) collectTargets(ctx context.Context, ids []string, badges map[string]int, now time.Time, result *AlertResult) []alertTarget {
	var targets []alertTarget
	for _, id := range ids {
		observer, err := a.store.GetUser(ctx, id)
		if err != nil {
			a.logger.Warn("load observer", "observer_id", id, "error", err)
			continue
		}
		badge, ok := badges[id]
		if !ok {
			badge = observer.BadgeCount
		}
		for _, t := range observer.Tokens {
			if t.Age(now) >= MaxTokenAge {
				a.logger.Info("skipping aged token",
					"observer_id", id, "token_prefix", push.TokenPrefix(t.Token))
				result.Skipped++
				continue
			}
			targets = append(targets, alertTarget{owner: observer, token: t.Token, badge: badge})
		}
	}
	return targets
}
