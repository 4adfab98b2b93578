package notifications

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/danoggin/notify/internal/store"
)

var testNow = time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time { return testNow }

func token(id string, strikes int) store.DeviceToken {
	t := store.DeviceToken{Token: id, CreatedAt: testNow.Add(-24 * time.Hour), Strikes: strikes}
	if strikes > 0 {
		t.LastStrike = &store.Strike{ErrorCode: "messaging/invalid-registration-token", Timestamp: testNow.Add(-time.Hour), Context: ContextReminder}
	}
	return t
}

func responder(id string, tokens ...store.DeviceToken) store.User {
	return store.User{
		ID:     id,
		Name:   "Resp " + id,
		Role:   store.RoleResponder,
		Tokens: tokens,
		CheckInSettings: store.CheckInSettings{
			Enabled:         true,
			IntervalMinutes: 30,
			NextCheckInTime: testNow.Add(-time.Minute),
		},
	}
}

func mustUser(m *store.Memory, id string) *store.User {
	u, err := m.GetUser(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return u
}

func eventsOfType(events []store.TokenEvent, typ store.EventType) []store.TokenEvent {
	var out []store.TokenEvent
	for _, ev := range events {
		if ev.EventType == typ {
			out = append(out, ev)
		}
	}
	return out
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails selected writes on top of an in-memory store.
type flakyStore struct {
	*store.Memory
	failTokens     bool
	failNextFor    map[string]bool
	failDue        bool
	failEventWrite bool
}

func (f *flakyStore) UpdateTokens(ctx context.Context, id string, fn store.TokenMutator) error {
	if f.failTokens {
		return errStoreDown
	}
	return f.Memory.UpdateTokens(ctx, id, fn)
}

func (f *flakyStore) SetNextCheckIn(ctx context.Context, id string, next time.Time) error {
	if f.failNextFor[id] {
		return errStoreDown
	}
	return f.Memory.SetNextCheckIn(ctx, id, next)
}

func (f *flakyStore) DueResponders(ctx context.Context, now time.Time) ([]store.User, error) {
	if f.failDue {
		return nil, errStoreDown
	}
	return f.Memory.DueResponders(ctx, now)
}

func (f *flakyStore) AddTokenEvents(ctx context.Context, events []store.TokenEvent) error {
	if f.failEventWrite {
		return errStoreDown
	}
	return f.Memory.AddTokenEvents(ctx, events)
}
