package maintenance

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/danoggin/notify/internal/notifications"
	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/push/pushtest"
	"github.com/danoggin/notify/internal/store"
)

var testNow = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokenAged(id string, age time.Duration, strikes int) store.DeviceToken {
	return store.DeviceToken{Token: id, CreatedAt: testNow.Add(-age), Strikes: strikes}
}

func userWith(id string, tokens ...store.DeviceToken) store.User {
	return store.User{ID: id, Name: "User " + id, Role: store.RoleObserver, Tokens: tokens}
}

func newSweeper(st store.Store, gw push.Gateway, batchSize int) *Sweeper {
	return NewSweeper(st, gw, SweepOptions{
		BatchSize: batchSize,
		Workers:   2,
		Now:       func() time.Time { return testNow },
	}, testLogger())
}

func TestSweepRemovalRules(t *testing.T) {
	ctx := context.Background()
	day := 24 * time.Hour
	mem := store.NewMemory()
	mem.PutUser(userWith("u1",
		tokenAged("old", 300*day, 0),
		tokenAged("struck", 10*day, 2),
		tokenAged("invalid", 10*day, 0),
		tokenAged("flaky", 10*day, 1),
		tokenAged("healthy", 10*day, 0),
	))
	mem.PutUser(userWith("u2", tokenAged("fine", day, 0)))

	gw := pushtest.New()
	gw.Fail("invalid", push.CodeNotRegistered)
	gw.Fail("flaky", push.CodeUnavailable)
	// Rules are ordered: these would be definitive but never reach a dry run.
	gw.Fail("old", push.CodeInvalidToken)
	gw.Fail("struck", push.CodeInvalidToken)

	res, err := newSweeper(mem, gw, 50).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.UsersProcessed != 2 || res.TokensChecked != 6 || res.TokensRemoved != 3 {
		t.Errorf("result = %+v", res)
	}

	u1, _ := mem.GetUser(ctx, "u1")
	var left []string
	for _, tok := range u1.Tokens {
		left = append(left, tok.Token)
	}
	if len(left) != 2 || left[0] != "flaky" || left[1] != "healthy" {
		t.Errorf("u1 tokens = %v, want [flaky healthy]", left)
	}
	if mem.TokenWrites() != 1 {
		t.Errorf("token writes = %d, want 1", mem.TokenWrites())
	}

	dry := gw.DryRuns()
	sort.Strings(dry)
	want := []string{"fine", "flaky", "healthy", "invalid"}
	if len(dry) != len(want) {
		t.Fatalf("dry runs = %v, want %v", dry, want)
	}
	for i := range want {
		if dry[i] != want[i] {
			t.Errorf("dry runs = %v, want %v", dry, want)
			break
		}
	}

	reasons := map[string]string{}
	for _, ev := range mem.Events() {
		if ev.EventType != store.EventRemoval || ev.Context != notifications.ContextCleanup {
			t.Errorf("unexpected event %+v", ev)
		}
		reasons[ev.TokenPrefix] = ev.Reason
	}
	if reasons["old..."] != notifications.ReasonAgeLimit ||
		reasons["struck..."] != notifications.ReasonWeeklyCleanup ||
		reasons["invalid..."] != push.CodeNotRegistered {
		t.Errorf("removal reasons = %v", reasons)
	}

	metrics := mem.SystemMetrics()
	if len(metrics) != 1 {
		t.Fatalf("system metrics = %d, want 1", len(metrics))
	}
	m := metrics[0]
	if m.Type != "token_cleanup" || m.TokensRemoved != 3 || m.RemovalRate != 0.5 {
		t.Errorf("metric = %+v", m)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutUser(userWith("u1", tokenAged("struck", time.Hour, 2), tokenAged("ok", time.Hour, 0)))
	s := newSweeper(mem, pushtest.New(), 50)

	if _, err := s.Run(ctx); err != nil {
		t.Fatal(err)
	}
	writes := mem.TokenWrites()
	events := len(mem.Events())

	res, err := s.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.TokensRemoved != 0 {
		t.Errorf("second run removed %d tokens", res.TokensRemoved)
	}
	if mem.TokenWrites() != writes || len(mem.Events()) != events {
		t.Error("second run must not write to users or the event log")
	}
}

func TestSweepCleanCorpusWritesNothing(t *testing.T) {
	mem := store.NewMemory()
	for _, id := range []string{"a", "b", "c"} {
		mem.PutUser(userWith(id, tokenAged("tok-"+id, time.Hour, 0)))
	}

	res, err := newSweeper(mem, pushtest.New(), 2).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.UsersProcessed != 3 || res.TokensChecked != 3 {
		t.Errorf("result = %+v", res)
	}
	if mem.TokenWrites() != 0 || len(mem.Events()) != 0 {
		t.Errorf("writes = %d, events = %d", mem.TokenWrites(), len(mem.Events()))
	}
	if got := mem.SystemMetrics()[0].RemovalRate; got != 0 {
		t.Errorf("removal rate = %v", got)
	}
}

func TestSweepSkipsUsersWithoutTokens(t *testing.T) {
	mem := store.NewMemory()
	mem.PutUser(userWith("empty"))
	gw := pushtest.New()

	res, err := newSweeper(mem, gw, 50).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.UsersProcessed != 0 || len(gw.DryRuns()) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestSweepKeepsTokenWithUnknownRegistration(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutUser(userWith("u1", store.DeviceToken{Token: "undated"}))

	res, err := newSweeper(mem, pushtest.New(), 50).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.TokensChecked != 1 || res.TokensRemoved != 0 {
		t.Errorf("result = %+v, want 1 checked and none removed", res)
	}
	u1, _ := mem.GetUser(ctx, "u1")
	if len(u1.Tokens) != 1 {
		t.Errorf("tokens = %+v, want the undated token kept", u1.Tokens)
	}
}
