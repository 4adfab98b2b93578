package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Every read returns a deep copy so callers
// cannot mutate stored state behind the mutex.
type Memory struct {
	mu            sync.Mutex
	users         map[string]*User
	events        []TokenEvent
	daily         map[string]*DailyMetrics
	systemMetrics []SystemMetric
	tokenWrites   int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*User),
		daily: make(map[string]*DailyMetrics),
	}
}

// PutUser inserts or replaces a user record.
func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneUser(&u)
	m.users[u.ID] = c
}

// Events returns a copy of every logged token event.
func (m *Memory) Events() []TokenEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TokenEvent(nil), m.events...)
}

// SystemMetrics returns a copy of every recorded sweep summary.
func (m *Memory) SystemMetrics() []SystemMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SystemMetric(nil), m.systemMetrics...)
}

// TokenWrites counts committed UpdateTokens writes.
func (m *Memory) TokenWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenWrites
}

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

func (m *Memory) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return cloneUser(u), nil
}

func (m *Memory) DueResponders(_ context.Context, now time.Time) ([]User, error) {
	return m.filterUsers(func(u *User) bool {
		return u.Role == RoleResponder &&
			u.CheckInSettings.Enabled &&
			!u.CheckInSettings.NextCheckInTime.After(now)
	}), nil
}

func (m *Memory) UsersWithTokens(_ context.Context) ([]User, error) {
	return m.filterUsers(func(u *User) bool { return len(u.Tokens) > 0 }), nil
}

func (m *Memory) UpdateTokens(_ context.Context, userID string, fn TokenMutator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	updated, changed := fn(cloneTokens(u.Tokens))
	if !changed {
		return nil
	}
	u.Tokens = nonNil(cloneTokens(updated))
	m.tokenWrites++
	return nil
}

func (m *Memory) IncrementBadges(_ context.Context, userIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(userIDs))
	for _, id := range userIDs {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		u.BadgeCount++
		counts[id] = u.BadgeCount
	}
	return counts, nil
}

func (m *Memory) ResetBadge(_ context.Context, userID string) error {
	return m.update(userID, func(u *User) { u.BadgeCount = 0 })
}

func (m *Memory) SetNextCheckIn(_ context.Context, userID string, next time.Time) error {
	return m.update(userID, func(u *User) {
		u.CheckInSettings.NextCheckInTime = next
		u.CheckInSettings.LastUpdated = time.Now().UTC()
	})
}

func (m *Memory) RecordDelivery(_ context.Context, userID string, success bool, at time.Time) error {
	return m.update(userID, func(u *User) {
		em := &u.EngagementMetrics
		if success {
			em.SuccessfulNotificationCount++
			em.LastSuccessfulNotification = &at
		} else {
			em.TokenFailureCount++
			em.LastTokenFailure = &at
		}
		em.LastEngagementCheck = &at
	})
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

func (m *Memory) AddTokenEvents(_ context.Context, events []TokenEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		m.events = append(m.events, ev)
	}
	return nil
}

func (m *Memory) TokenEvents(_ context.Context, from, to time.Time) ([]TokenEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TokenEvent
	for _, ev := range m.events {
		if !ev.Timestamp.Before(from) && !ev.Timestamp.After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) DeleteTokenEventsBefore(_ context.Context, cutoff time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	deleted := 0
	for _, ev := range m.events {
		if ev.Timestamp.Before(cutoff) && deleted < limit {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return deleted, nil
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

func (m *Memory) PutDailyMetrics(_ context.Context, dm *DailyMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *dm
	m.daily[dm.Date] = &c
	return nil
}

func (m *Memory) GetDailyMetrics(_ context.Context, date string) (*DailyMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dm, ok := m.daily[date]
	if !ok {
		return nil, fmt.Errorf("daily metrics %s: %w", date, ErrNotFound)
	}
	c := *dm
	return &c, nil
}

func (m *Memory) DeleteDailyMetricsBefore(_ context.Context, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for d := range m.daily {
		if d < date {
			delete(m.daily, d)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) AddSystemMetric(_ context.Context, sm SystemMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemMetrics = append(m.systemMetrics, sm)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (m *Memory) update(userID string, fn func(u *User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	fn(u)
	return nil
}

func (m *Memory) filterUsers(keep func(u *User) bool) []User {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if keep(u) {
			out = append(out, *cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneUser(u *User) *User {
	c := *u
	c.Tokens = cloneTokens(u.Tokens)
	if u.ActiveHours != nil {
		ah := *u.ActiveHours
		c.ActiveHours = &ah
	}
	if u.LinkedObservers != nil {
		c.LinkedObservers = maps.Clone(u.LinkedObservers)
	}
	return &c
}

func cloneTokens(tokens []DeviceToken) []DeviceToken {
	if tokens == nil {
		return nil
	}
	out := make([]DeviceToken, len(tokens))
	for i, t := range tokens {
		out[i] = t
		if t.LastStrike != nil {
			ls := *t.LastStrike
			out[i].LastStrike = &ls
		}
	}
	return out
}
