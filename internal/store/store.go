// Package store is the document store adapter: user records with their
// device tokens, the token event log, and the metrics collections.
//
// Three backends implement Store: Postgres (pgx), Firestore, and an
// in-memory map used by tests and local runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// TokenMutator receives a user's current token list and returns the list to
// persist. Returning changed=false skips the write.
type TokenMutator func(tokens []DeviceToken) (updated []DeviceToken, changed bool)

// Users covers reads and field-level updates on user records.
type Users interface {
	GetUser(ctx context.Context, id string) (*User, error)
	// DueResponders returns enabled responders with nextCheckInTime <= now.
	DueResponders(ctx context.Context, now time.Time) ([]User, error)
	// UsersWithTokens returns every user holding at least one device token.
	UsersWithTokens(ctx context.Context) ([]User, error)
	// UpdateTokens runs fn against the stored token list and writes the
	// result back as one atomic document update.
	UpdateTokens(ctx context.Context, userID string, fn TokenMutator) error
	// IncrementBadges adds one to each user's badge in a single batched
	// write and returns the new counts. Missing users are skipped.
	IncrementBadges(ctx context.Context, userIDs []string) (map[string]int, error)
	ResetBadge(ctx context.Context, userID string) error
	SetNextCheckIn(ctx context.Context, userID string, next time.Time) error
	// RecordDelivery bumps the success or failure engagement counters.
	RecordDelivery(ctx context.Context, userID string, success bool, at time.Time) error
}

// Events is the append-only token event log.
type Events interface {
	AddTokenEvents(ctx context.Context, events []TokenEvent) error
	TokenEvents(ctx context.Context, from, to time.Time) ([]TokenEvent, error)
	DeleteTokenEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Metrics holds daily reports and per-run system summaries.
type Metrics interface {
	PutDailyMetrics(ctx context.Context, m *DailyMetrics) error
	GetDailyMetrics(ctx context.Context, date string) (*DailyMetrics, error)
	DeleteDailyMetricsBefore(ctx context.Context, date string) (int, error)
	AddSystemMetric(ctx context.Context, m SystemMetric) error
}

// Store is the full document store.
type Store interface {
	Users
	Events
	Metrics
	Ping(ctx context.Context) error
}

// nonNil keeps empty token lists stored as [] rather than null.
func nonNil(tokens []DeviceToken) []DeviceToken {
	if tokens == nil {
		return []DeviceToken{}
	}
	return tokens
}
