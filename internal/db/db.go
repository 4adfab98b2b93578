// Package db provides a pgxpool-based connection pool with prepared statement
// registration, schema bootstrap and health checking.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danoggin/notify/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// channelPlaceholder marks where schema.sql takes the NOTIFY channel name.
const channelPlaceholder = "{{check_in_channel}}"

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// ApplySchema creates tables, indexes and the check-in NOTIFY trigger that
// announces on channel. Every statement is idempotent.
func ApplySchema(ctx context.Context, databaseURL, channel string) error {
	sql, err := renderSchema(channel)
	if err != nil {
		return err
	}

	// A plain connection: prepared statements reference tables that may
	// not exist yet.
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, sql); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// renderSchema fills the NOTIFY channel into the embedded schema as a
// quoted SQL string literal.
func renderSchema(channel string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", fmt.Errorf("check-in channel is required")
	}
	literal := "'" + strings.ReplaceAll(channel, "'", "''") + "'"
	return strings.ReplaceAll(schemaSQL, channelPlaceholder, literal), nil
}

// userColumns is the projection every user query returns, in scan order.
const userColumns = `id, name, role, fcm_tokens, check_in_enabled,
	check_in_interval_minutes, next_check_in_time, check_in_last_updated,
	active_hours, linked_observers, badge_count,
	token_failure_count, successful_notification_count,
	last_token_failure, last_successful_notification, last_engagement_check`

// registerPreparedStatements registers all statements the store layer uses.
// Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Users
		"user_by_id": "SELECT " + userColumns + " FROM users WHERE id = $1",
		"due_responders": "SELECT " + userColumns + ` FROM users
			WHERE role = 'responder' AND check_in_enabled = true
			  AND next_check_in_time <= $1
			ORDER BY next_check_in_time`,
		"users_with_tokens": "SELECT " + userColumns + ` FROM users
			WHERE jsonb_array_length(fcm_tokens) > 0 ORDER BY id`,
		"lock_user_tokens":   "SELECT fcm_tokens FROM users WHERE id = $1 FOR UPDATE",
		"update_user_tokens": "UPDATE users SET fcm_tokens = $2 WHERE id = $1",
		"increment_badges": `UPDATE users SET badge_count = badge_count + 1, last_badge_update = NOW()
			WHERE id = ANY($1) RETURNING id, badge_count`,
		"reset_badge": "UPDATE users SET badge_count = 0, last_badge_update = NOW() WHERE id = $1",
		"set_next_check_in": `UPDATE users SET next_check_in_time = $2, check_in_last_updated = NOW()
			WHERE id = $1`,
		"record_delivery_success": `UPDATE users SET
			successful_notification_count = successful_notification_count + 1,
			last_successful_notification = $2, last_engagement_check = $2
			WHERE id = $1`,
		"record_delivery_failure": `UPDATE users SET
			token_failure_count = token_failure_count + 1,
			last_token_failure = $2, last_engagement_check = $2
			WHERE id = $1`,

		// Token events
		"insert_token_event": `INSERT INTO token_events
			(id, user_id, user_name, token_prefix, event_type, reason, context, details, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
		"token_events_between": `SELECT id, user_id, user_name, token_prefix, event_type, reason, context, details, created_at
			FROM token_events WHERE created_at >= $1 AND created_at <= $2 ORDER BY created_at`,
		"delete_token_events_before": `DELETE FROM token_events WHERE id IN (
			SELECT id FROM token_events WHERE created_at < $1 LIMIT $2)`,

		// Metrics
		"upsert_daily_metrics": `INSERT INTO daily_metrics (id, date, payload, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, created_at = NOW()`,
		"daily_metrics_by_date":       "SELECT payload FROM daily_metrics WHERE date = $1",
		"delete_daily_metrics_before": "DELETE FROM daily_metrics WHERE date < $1",
		"insert_system_metric": `INSERT INTO system_metrics (id, type, payload, created_at)
			VALUES ($1, $2, $3, $4)`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
