package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/danoggin/notify/internal/notifications"
	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

const (
	dateLayout = "2006-01-02"

	metricsRetentionDays = 90
	eventsRetentionDays  = 30
	eventDeleteBatch     = 500
	eventDeletePause     = 100 * time.Millisecond
)

// Reporter aggregates token events into daily reports and enforces
// retention on reports and raw events.
type Reporter struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewReporter creates a reporter. A nil now uses the wall clock in UTC.
func NewReporter(st store.Store, logger *slog.Logger, now func() time.Time) *Reporter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reporter{store: st, logger: logger, now: now}
}

// Yesterday returns the UTC date string for the day before now.
func (r *Reporter) Yesterday() string {
	return r.now().AddDate(0, 0, -1).Format(dateLayout)
}

// GenerateDaily builds and stores the report for date (YYYY-MM-DD).
func (r *Reporter) GenerateDaily(ctx context.Context, date string) (*store.DailyMetrics, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	from := day.UTC()
	to := from.Add(24*time.Hour - time.Millisecond)

	events, err := r.store.TokenEvents(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load token events: %w", err)
	}
	users, err := r.store.UsersWithTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users with tokens: %w", err)
	}

	m := &store.DailyMetrics{
		Date:          date,
		GeneratedAt:   r.now(),
		TokenRemovals: removalMetrics(events),
		TokenErrors:   errorMetrics(events),
		UserImpact:    userImpact(users),
		SystemSummary: systemSummary(users, r.now()),
	}
	if err := r.store.PutDailyMetrics(ctx, m); err != nil {
		return nil, fmt.Errorf("store daily metrics: %w", err)
	}

	r.logger.Info("Daily token metrics stored",
		"date", date,
		"removals", m.TokenRemovals.TotalRemovals,
		"errors", m.TokenErrors.TotalErrors,
		"strikes", m.TokenErrors.TotalStrikes,
		"users_with_issues", m.UserImpact.UsersWithTokenIssues)
	return m, nil
}

// RetentionResult counts documents deleted by one retention pass.
type RetentionResult struct {
	MetricsDeleted int
	EventsDeleted  int
}

// Retention deletes daily reports older than 90 days and token events
// older than 30 days. Events are deleted in batches of 500.
func (r *Reporter) Retention(ctx context.Context) (RetentionResult, error) {
	var res RetentionResult
	now := r.now()

	cutoffDate := now.AddDate(0, 0, -metricsRetentionDays).Format(dateLayout)
	n, err := r.store.DeleteDailyMetricsBefore(ctx, cutoffDate)
	if err != nil {
		return res, fmt.Errorf("delete old daily metrics: %w", err)
	}
	res.MetricsDeleted = n

	cutoff := now.AddDate(0, 0, -eventsRetentionDays)
	for {
		n, err := r.store.DeleteTokenEventsBefore(ctx, cutoff, eventDeleteBatch)
		res.EventsDeleted += n
		if err != nil {
			return res, fmt.Errorf("delete old token events: %w", err)
		}
		if n < eventDeleteBatch {
			break
		}
		select {
		case <-time.After(eventDeletePause):
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}

	if res.MetricsDeleted+res.EventsDeleted > 0 {
		r.logger.Info("Retention: purged old telemetry",
			"metrics", res.MetricsDeleted, "events", res.EventsDeleted)
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Aggregation
// --------------------------------------------------------------------------

func removalMetrics(events []store.TokenEvent) store.RemovalMetrics {
	m := store.RemovalMetrics{
		RemovalReasons: map[string]int{
			notifications.ReasonStrikeThreshold: 0,
			notifications.ReasonAgeLimit:        0,
			"invalid_token":                     0,
			notifications.ReasonWeeklyCleanup:   0,
			"other":                             0,
		},
		UserDetails: []store.EventDetail{},
	}
	users := make(map[string]struct{})
	for _, ev := range events {
		if ev.EventType != store.EventRemoval {
			continue
		}
		m.TotalRemovals++
		m.RemovalReasons[removalBucket(ev.Reason)]++
		users[ev.UserID] = struct{}{}
		m.UserDetails = append(m.UserDetails, detail(ev))
	}
	m.AffectedUsers = len(users)
	sortNewestFirst(m.UserDetails)
	return m
}

func removalBucket(reason string) string {
	switch {
	case reason == notifications.ReasonStrikeThreshold,
		reason == notifications.ReasonAgeLimit,
		reason == notifications.ReasonWeeklyCleanup:
		return reason
	case reason == "invalid_token", push.IsDefinitive(reason):
		return "invalid_token"
	default:
		return "other"
	}
}

func errorMetrics(events []store.TokenEvent) store.ErrorMetrics {
	m := store.ErrorMetrics{
		ErrorTypes: map[string]int{
			"temporary_network":     0,
			"temporary_service":     0,
			"temporary_unknown":     0,
			"invalid_token":         0,
			"unregistered_token":    0,
			"mismatched_credential": 0,
			"other_definitive":      0,
		},
		ErrorsByContext: map[string]int{
			notifications.ContextReminder: 0,
			notifications.ContextAlert:    0,
			"other":                       0,
		},
		UserDetails: []store.EventDetail{},
	}
	users := make(map[string]struct{})
	for _, ev := range events {
		switch ev.EventType {
		case store.EventError:
			m.TotalErrors++
			m.ErrorTypes[temporaryBucket(ev.Reason)]++
		case store.EventStrike:
			m.TotalStrikes++
			m.ErrorTypes[strikeBucket(ev.Reason)]++
		default:
			continue
		}
		if _, ok := m.ErrorsByContext[ev.Context]; ok {
			m.ErrorsByContext[ev.Context]++
		} else {
			m.ErrorsByContext["other"]++
		}
		users[ev.UserID] = struct{}{}
		m.UserDetails = append(m.UserDetails, detail(ev))
	}
	m.AffectedUsers = len(users)
	m.TotalEvents = m.TotalErrors + m.TotalStrikes
	sortNewestFirst(m.UserDetails)
	return m
}

func temporaryBucket(reason string) string {
	switch {
	case strings.Contains(reason, "network"), strings.Contains(reason, "unavailable"):
		return "temporary_network"
	case strings.Contains(reason, "service"), strings.Contains(reason, "server"),
		strings.Contains(reason, "internal"):
		return "temporary_service"
	default:
		return "temporary_unknown"
	}
}

func strikeBucket(code string) string {
	switch code {
	case push.CodeInvalidToken:
		return "invalid_token"
	case push.CodeNotRegistered:
		return "unregistered_token"
	case push.CodeMismatchedCredential:
		return "mismatched_credential"
	default:
		return "other_definitive"
	}
}

func userImpact(users []store.User) store.UserImpact {
	impact := store.UserImpact{TotalUsersAnalyzed: len(users), UserDetails: []store.UserTokenIssues{}}
	for _, u := range users {
		issues := store.UserTokenIssues{
			UserID:      u.ID,
			UserName:    u.DisplayName(),
			UserRole:    u.Role,
			TotalTokens: len(u.Tokens),
		}
		for _, t := range u.Tokens {
			if t.Strikes > 0 {
				issues.TotalStrikes += t.Strikes
				issues.TokensWithIssues++
			}
		}
		if issues.TokensWithIssues > 0 {
			impact.UserDetails = append(impact.UserDetails, issues)
		}
	}
	sort.SliceStable(impact.UserDetails, func(i, j int) bool {
		return impact.UserDetails[i].TotalStrikes > impact.UserDetails[j].TotalStrikes
	})
	impact.UsersWithTokenIssues = len(impact.UserDetails)
	return impact
}

func systemSummary(users []store.User, now time.Time) store.SystemSummary {
	s := store.SystemSummary{TotalActiveUsers: len(users)}
	for _, u := range users {
		for _, t := range u.Tokens {
			if t.Token == "" {
				continue
			}
			s.TotalTokens++
			if t.Strikes > 0 {
				s.TokensWithStrikes++
			} else {
				s.HealthyTokens++
			}
			if !t.CreatedAt.IsZero() && t.Age(now) > notifications.MaxTokenAge {
				s.OldTokens++
			}
		}
	}
	if s.TotalTokens > 0 {
		pct := float64(s.HealthyTokens) / float64(s.TotalTokens) * 100
		s.TokenHealthPercentage = math.Round(pct*10) / 10
	}
	return s
}

func detail(ev store.TokenEvent) store.EventDetail {
	name := ev.UserName
	if name == "" {
		name = "Unknown User"
	}
	return store.EventDetail{
		UserID:    ev.UserID,
		UserName:  name,
		EventType: ev.EventType,
		Reason:    ev.Reason,
		Context:   ev.Context,
		Timestamp: ev.Timestamp,
		Details:   ev.Details,
	}
}

func sortNewestFirst(details []store.EventDetail) {
	sort.SliceStable(details, func(i, j int) bool {
		return details[i].Timestamp.After(details[j].Timestamp)
	})
}
