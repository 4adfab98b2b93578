package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents in the tables created by db/schema.sql and
// queries them through the prepared statements registered by db.New.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres wraps a pool whose connections carry the prepared statements.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

func (p *Postgres) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(p.pool.QueryRow(ctx, "user_by_id", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (p *Postgres) DueResponders(ctx context.Context, now time.Time) ([]User, error) {
	return p.queryUsers(ctx, "due_responders", now)
}

func (p *Postgres) UsersWithTokens(ctx context.Context) ([]User, error) {
	return p.queryUsers(ctx, "users_with_tokens")
}

// UpdateTokens locks the user row for the read-modify-write so concurrent
// updates to the same user serialize instead of overwriting each other.
func (p *Postgres) UpdateTokens(ctx context.Context, userID string, fn TokenMutator) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, "lock_user_tokens", userID).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock tokens for %s: %w", userID, err)
		}

		var tokens []DeviceToken
		if err := json.Unmarshal(raw, &tokens); err != nil {
			return fmt.Errorf("decode tokens for %s: %w", userID, err)
		}

		updated, changed := fn(tokens)
		if !changed {
			return nil
		}

		encoded, err := json.Marshal(nonNil(updated))
		if err != nil {
			return fmt.Errorf("encode tokens for %s: %w", userID, err)
		}
		if _, err := tx.Exec(ctx, "update_user_tokens", userID, encoded); err != nil {
			return fmt.Errorf("update tokens for %s: %w", userID, err)
		}
		return nil
	})
}

func (p *Postgres) IncrementBadges(ctx context.Context, userIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}
	rows, err := p.pool.Query(ctx, "increment_badges", userIDs)
	if err != nil {
		return nil, fmt.Errorf("increment badges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func (p *Postgres) ResetBadge(ctx context.Context, userID string) error {
	return p.execUser(ctx, "reset_badge", userID)
}

func (p *Postgres) SetNextCheckIn(ctx context.Context, userID string, next time.Time) error {
	return p.execUser(ctx, "set_next_check_in", userID, next)
}

func (p *Postgres) RecordDelivery(ctx context.Context, userID string, success bool, at time.Time) error {
	stmt := "record_delivery_failure"
	if success {
		stmt = "record_delivery_success"
	}
	return p.execUser(ctx, stmt, userID, at)
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// AddTokenEvents writes all events in one transaction. Event IDs make a
// retried batch idempotent.
func (p *Postgres) AddTokenEvents(ctx context.Context, events []TokenEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}
		details, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("encode event details: %w", err)
		}
		batch.Queue("insert_token_event",
			id, ev.UserID, ev.UserName, ev.TokenPrefix, string(ev.EventType),
			ev.Reason, ev.Context, details, ev.Timestamp)
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert token events: %w", err)
		}
		return nil
	})
}

func (p *Postgres) TokenEvents(ctx context.Context, from, to time.Time) ([]TokenEvent, error) {
	rows, err := p.pool.Query(ctx, "token_events_between", from, to)
	if err != nil {
		return nil, fmt.Errorf("query token events: %w", err)
	}
	defer rows.Close()

	var events []TokenEvent
	for rows.Next() {
		var (
			ev        TokenEvent
			eventType string
			details   []byte
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.UserName, &ev.TokenPrefix,
			&eventType, &ev.Reason, &ev.Context, &details, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan token event: %w", err)
		}
		ev.EventType = EventType(eventType)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("decode event details: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *Postgres) DeleteTokenEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := p.pool.Exec(ctx, "delete_token_events_before", cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete token events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

func (p *Postgres) PutDailyMetrics(ctx context.Context, m *DailyMetrics) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode daily metrics: %w", err)
	}
	if _, err := p.pool.Exec(ctx, "upsert_daily_metrics", DailyMetricsID(m.Date), m.Date, payload); err != nil {
		return fmt.Errorf("upsert daily metrics %s: %w", m.Date, err)
	}
	return nil
}

func (p *Postgres) GetDailyMetrics(ctx context.Context, date string) (*DailyMetrics, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, "daily_metrics_by_date", date).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("daily metrics %s: %w", date, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get daily metrics %s: %w", date, err)
	}
	var m DailyMetrics
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode daily metrics %s: %w", date, err)
	}
	return &m, nil
}

func (p *Postgres) DeleteDailyMetricsBefore(ctx context.Context, date string) (int, error) {
	tag, err := p.pool.Exec(ctx, "delete_daily_metrics_before", date)
	if err != nil {
		return 0, fmt.Errorf("delete daily metrics: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) AddSystemMetric(ctx context.Context, m SystemMetric) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode system metric: %w", err)
	}
	if _, err := p.pool.Exec(ctx, "insert_system_metric", uuid.NewString(), m.Type, payload, m.Timestamp); err != nil {
		return fmt.Errorf("insert system metric: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	var n int
	return p.pool.QueryRow(ctx, "health_check").Scan(&n)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (p *Postgres) queryUsers(ctx context.Context, stmt string, args ...any) ([]User, error) {
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", stmt, err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			p.logger.Error("skipping undecodable user row", "statement", stmt, "error", err)
			continue
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (p *Postgres) execUser(ctx context.Context, stmt, userID string, args ...any) error {
	tag, err := p.pool.Exec(ctx, stmt, append([]any{userID}, args...)...)
	if err != nil {
		return fmt.Errorf("%s for %s: %w", stmt, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// scanUser reads one row in the column order of db.userColumns.
func scanUser(row pgx.Row) (*User, error) {
	var (
		u                               User
		role                            string
		tokens, activeHours, observers  []byte
		nextCheckIn, checkInLastUpdated *time.Time
	)
	em := &u.EngagementMetrics
	if err := row.Scan(
		&u.ID, &u.Name, &role, &tokens, &u.CheckInSettings.Enabled,
		&u.CheckInSettings.IntervalMinutes, &nextCheckIn, &checkInLastUpdated,
		&activeHours, &observers, &u.BadgeCount,
		&em.TokenFailureCount, &em.SuccessfulNotificationCount,
		&em.LastTokenFailure, &em.LastSuccessfulNotification, &em.LastEngagementCheck,
	); err != nil {
		return nil, err
	}

	u.Role = Role(role)
	if nextCheckIn != nil {
		u.CheckInSettings.NextCheckInTime = *nextCheckIn
	}
	if checkInLastUpdated != nil {
		u.CheckInSettings.LastUpdated = *checkInLastUpdated
	}
	var rawTokens []any
	if err := json.Unmarshal(tokens, &rawTokens); err != nil {
		return nil, fmt.Errorf("decode tokens for %s: %w", u.ID, err)
	}
	u.Tokens = decodeTokens(rawTokens)
	if len(activeHours) > 0 {
		u.ActiveHours = &ActiveHours{}
		if err := json.Unmarshal(activeHours, u.ActiveHours); err != nil {
			return nil, fmt.Errorf("decode active hours for %s: %w", u.ID, err)
		}
	}
	if len(observers) > 0 {
		if err := json.Unmarshal(observers, &u.LinkedObservers); err != nil {
			return nil, fmt.Errorf("decode linked observers for %s: %w", u.ID, err)
		}
	}
	return &u, nil
}
