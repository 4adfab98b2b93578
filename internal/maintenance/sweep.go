package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danoggin/notify/internal/notifications"
	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

// sweepStrikeLimit is the strike count at which the sweep removes a token
// without testing it.
const sweepStrikeLimit = 2

// SweepOptions tune a sweep run.
type SweepOptions struct {
	BatchSize      int
	BatchPause     time.Duration
	Workers        int
	FlushThreshold int
	Now            func() time.Time
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	UsersProcessed int
	TokensChecked  int
	TokensRemoved  int
}

// RemovalRate is removed / checked, or 0 when nothing was checked.
func (r SweepResult) RemovalRate() float64 {
	if r.TokensChecked == 0 {
		return 0
	}
	return float64(r.TokensRemoved) / float64(r.TokensChecked)
}

// Sweeper removes aged, struck and invalid tokens from every user.
type Sweeper struct {
	store   store.Store
	gateway push.Gateway
	opts    SweepOptions
	logger  *slog.Logger
}

// NewSweeper creates a sweeper. Zero options fall back to 50-user batches
// with a one second pause.
func NewSweeper(st store.Store, gw push.Gateway, opts SweepOptions, logger *slog.Logger) *Sweeper {
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}
	if opts.Workers < 1 {
		opts.Workers = opts.BatchSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{store: st, gateway: gw, opts: opts, logger: logger}
}

// Run checks every token of every user holding one. For each token the
// first matching rule wins: older than the age limit, two or more strikes,
// or a dry run the gateway rejects definitively. Users without removals are
// never written. A summary is stored as a token_cleanup system metric.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	users, err := s.store.UsersWithTokens(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("query users with tokens: %w", err)
	}
	s.logger.Info("Token sweep started", "users", len(users))

	batch := notifications.NewBatcher(s.store, s.opts.FlushThreshold, s.logger)
	defer func() {
		if err := batch.Flush(ctx); err != nil {
			s.logger.Error("flush sweep events", "error", err)
		}
	}()

	now := s.opts.Now()
	var (
		mu     sync.Mutex
		result SweepResult
	)
	for start := 0; start < len(users); start += s.opts.BatchSize {
		if start > 0 && s.opts.BatchPause > 0 {
			select {
			case <-time.After(s.opts.BatchPause):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		g := new(errgroup.Group)
		g.SetLimit(s.opts.Workers)
		for _, u := range users[start:min(start+s.opts.BatchSize, len(users))] {
			g.Go(func() error {
				checked, removed, err := s.sweepUser(ctx, batch, u, now)
				if err != nil {
					s.logger.Error("sweep user", "user_id", u.ID, "error", err)
				}
				mu.Lock()
				defer mu.Unlock()
				result.UsersProcessed++
				result.TokensChecked += checked
				result.TokensRemoved += removed
				return nil
			})
		}
		_ = g.Wait()
	}

	s.logger.Info("Token sweep completed",
		"users", result.UsersProcessed,
		"checked", result.TokensChecked,
		"removed", result.TokensRemoved)

	metric := store.SystemMetric{
		Type:           notifications.ContextCleanup,
		Timestamp:      now,
		UsersProcessed: result.UsersProcessed,
		TokensChecked:  result.TokensChecked,
		TokensRemoved:  result.TokensRemoved,
		RemovalRate:    result.RemovalRate(),
	}
	if err := s.store.AddSystemMetric(ctx, metric); err != nil {
		s.logger.Error("store sweep summary", "error", err)
	}
	return result, nil
}

type removal struct {
	reason  string
	strikes int
	ageDays int
}

func (s *Sweeper) sweepUser(ctx context.Context, batch *notifications.Batcher, u store.User, now time.Time) (checked, removed int, err error) {
	planned := make(map[string]removal)
	for _, t := range u.Tokens {
		if t.Token == "" {
			continue
		}
		checked++
		if reason := s.removalReason(ctx, t, now); reason != "" {
			planned[t.Token] = removal{
				reason:  reason,
				strikes: t.Strikes,
				ageDays: int(t.Age(now).Hours() / 24),
			}
		}
	}
	if len(planned) == 0 {
		return checked, 0, nil
	}

	var gone []string
	err = s.store.UpdateTokens(ctx, u.ID, func(tokens []store.DeviceToken) ([]store.DeviceToken, bool) {
		gone = gone[:0]
		kept := make([]store.DeviceToken, 0, len(tokens))
		for _, t := range tokens {
			if _, ok := planned[t.Token]; ok {
				gone = append(gone, t.Token)
				continue
			}
			kept = append(kept, t)
		}
		return kept, len(gone) > 0
	})
	if err != nil {
		return checked, 0, fmt.Errorf("remove tokens: %w", err)
	}

	for _, tok := range gone {
		r := planned[tok]
		s.logger.Info("token removed by sweep",
			"user_id", u.ID, "token_prefix", push.TokenPrefix(tok), "reason", r.reason)
		batch.Add(ctx, notifications.NewTokenEvent(u.ID, u.DisplayName(), tok,
			store.EventRemoval, r.reason, notifications.ContextCleanup,
			map[string]any{"strikes": r.strikes, "ageDays": r.ageDays}))
	}
	return checked, len(gone), nil
}

// removalReason returns why t should be removed, or "" to keep it.
func (s *Sweeper) removalReason(ctx context.Context, t store.DeviceToken, now time.Time) string {
	if t.Age(now) > notifications.MaxTokenAge {
		return notifications.ReasonAgeLimit
	}
	if t.Strikes >= sweepStrikeLimit {
		return notifications.ReasonWeeklyCleanup
	}
	outcome := push.Classify(s.gateway.DryRun(ctx, t.Token))
	if outcome.Kind == push.Definitive {
		return outcome.Code
	}
	if outcome.Kind == push.Transient {
		s.logger.Debug("keeping token after temporary validation error",
			"token_prefix", push.TokenPrefix(t.Token), "code", outcome.Code)
	}
	return ""
}
