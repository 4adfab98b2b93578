package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

// Options tune the delivery units.
type Options struct {
	// Workers bounds concurrent users (reminders) or sends (alerts).
	Workers int
	// FlushThreshold is the Batcher auto-flush size.
	FlushThreshold int
	// AlertTitleFormat is a fmt format with one %s for the check-in result.
	AlertTitleFormat string
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.FlushThreshold < 1 {
		o.FlushThreshold = defaultFlushThreshold
	}
	if o.AlertTitleFormat == "" {
		o.AlertTitleFormat = "Danoggin Alert: %s check-in"
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Reminders sends check-in reminders to responders whose check-in is due.
type Reminders struct {
	store   store.Store
	gateway push.Gateway
	health  *Health
	opts    Options
	logger  *slog.Logger
}

// NewReminders creates the reminder scheduler.
func NewReminders(st store.Store, gw push.Gateway, opts Options, logger *slog.Logger) *Reminders {
	opts = opts.withDefaults()
	return &Reminders{
		store:   st,
		gateway: gw,
		health:  NewHealth(st, logger, opts.Now),
		opts:    opts,
		logger:  logger,
	}
}

type reminderStatus int

const (
	reminded reminderStatus = iota
	rescheduled
	failed
)

// RunCycle processes every due responder once. One user's failure never
// stops the others; only the due-user query failing aborts the cycle.
func (r *Reminders) RunCycle(ctx context.Context) (CycleResult, error) {
	now := r.opts.Now()
	due, err := r.store.DueResponders(ctx, now)
	if err != nil {
		return CycleResult{}, fmt.Errorf("query due responders: %w", err)
	}

	result := CycleResult{Due: len(due)}
	if len(due) == 0 {
		return result, nil
	}

	batch := NewBatcher(r.store, r.opts.FlushThreshold, r.logger)
	defer flushOrLog(ctx, batch, r.logger)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)
	for _, u := range due {
		g.Go(func() error {
			status, err := r.remind(ctx, batch, u, now)
			if err != nil {
				r.logger.Error("check-in reminder failed", "user_id", u.ID, "error", err)
			}
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case reminded:
				result.Succeeded++
			case rescheduled:
				result.Rescheduled++
			default:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

func (r *Reminders) remind(ctx context.Context, batch *Batcher, u store.User, now time.Time) (reminderStatus, error) {
	if !IsActive(u.ActiveHours, now) {
		next := NextActiveStart(u.ActiveHours, now)
		if err := r.store.SetNextCheckIn(ctx, u.ID, next); err != nil {
			return failed, fmt.Errorf("reschedule: %w", err)
		}
		r.logger.Info("outside active hours, rescheduled", "user_id", u.ID, "next_check_in", next)
		return rescheduled, nil
	}

	if len(u.Tokens) == 0 {
		r.logger.Info("no device tokens for responder", "user_id", u.ID)
	} else if err := r.sendReminder(ctx, batch, u, now); err != nil {
		return failed, err
	}

	interval := u.CheckInSettings.IntervalMinutes
	if interval <= 0 {
		interval = defaultIntervalMinutes
	}
	next := now.Add(time.Duration(interval) * time.Minute)
	if err := r.store.SetNextCheckIn(ctx, u.ID, next); err != nil {
		return failed, fmt.Errorf("set next check-in: %w", err)
	}
	return reminded, nil
}

// sendReminder persists the incremented badge, then sends to each token
// and routes every outcome through Health.
func (r *Reminders) sendReminder(ctx context.Context, batch *Batcher, u store.User, now time.Time) error {
	counts, err := r.store.IncrementBadges(ctx, []string{u.ID})
	if err != nil {
		return fmt.Errorf("increment badge: %w", err)
	}
	badge, ok := counts[u.ID]
	if !ok {
		return fmt.Errorf("increment badge: %w", store.ErrNotFound)
	}

	var sent, failedSends int
	for _, t := range u.Tokens {
		_, sendErr := r.gateway.Send(ctx, push.Message{
			Token: t.Token,
			Title: "Danoggin Check-In",
			Body:  "Time to answer a quick question!",
			Badge: &badge,
			Data: map[string]string{
				"type":        ContextReminder,
				"responderId": u.ID,
				"timestamp":   now.Format(time.RFC3339),
			},
		})
		outcome := push.Classify(sendErr)
		if outcome.Kind == push.Success {
			sent++
		} else {
			failedSends++
			r.logger.Info("reminder send failed",
				"user_id", u.ID, "token_prefix", push.TokenPrefix(t.Token), "code", outcome.Code)
		}
		r.health.HandleOutcome(ctx, batch, Delivery{
			UserID:   u.ID,
			UserName: u.DisplayName(),
			Token:    t.Token,
			Context:  ContextReminder,
			Outcome:  outcome,
		})
	}

	r.logger.Info("check-in reminder sent", "user_id", u.ID, "sent", sent, "failed", failedSends, "badge", badge)
	return nil
}

// StartReminderWorker runs a reminder cycle on every tick.
// Blocks until ctx is cancelled. Intended to be called with `go`.
func StartReminderWorker(ctx context.Context, r *Reminders, interval time.Duration, logger *slog.Logger) {
	logger.Info("Reminder worker started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := r.RunCycle(ctx)
			if err != nil {
				logger.Error("reminder cycle error", "error", err)
			} else if res.Due > 0 {
				logger.Info("reminder cycle",
					"due", res.Due, "succeeded", res.Succeeded,
					"failed", res.Failed, "rescheduled", res.Rescheduled)
			}
		case <-ctx.Done():
			logger.Info("Reminder worker stopped")
			return
		}
	}
}
