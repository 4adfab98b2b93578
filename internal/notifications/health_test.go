package notifications

import (
	"context"
	"testing"

	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

func definitive(code string) push.Outcome {
	return push.Outcome{Kind: push.Definitive, Code: code}
}

func newHealthFixture(t *testing.T, tokens ...store.DeviceToken) (*store.Memory, *Health, *Batcher) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutUser(responder("u1", tokens...))
	return mem, NewHealth(mem, testLogger(), fixedClock), NewBatcher(mem, 100, testLogger())
}

func delivery(tok string, outcome push.Outcome) Delivery {
	return Delivery{UserID: "u1", UserName: "Resp u1", Token: tok, Context: ContextReminder, Outcome: outcome}
}

func TestFirstStrike(t *testing.T) {
	ctx := context.Background()
	mem, h, batch := newHealthFixture(t, token("tokA", 0))

	h.HandleOutcome(ctx, batch, delivery("tokA", definitive(push.CodeNotRegistered)))
	if err := batch.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	tok := mustUser(mem, "u1").Tokens[0]
	if tok.Strikes != 1 {
		t.Errorf("strikes = %d, want 1", tok.Strikes)
	}
	if tok.LastStrike == nil || tok.LastStrike.ErrorCode != push.CodeNotRegistered || !tok.LastStrike.Timestamp.Equal(testNow) {
		t.Errorf("lastStrike = %+v", tok.LastStrike)
	}

	events := mem.Events()
	if len(events) != 1 || events[0].EventType != store.EventStrike {
		t.Fatalf("events = %+v, want one strike", events)
	}
	if events[0].Reason != push.CodeNotRegistered || events[0].Details["totalStrikes"] != 1 {
		t.Errorf("strike event = %+v", events[0])
	}
}

func TestThirdStrikeRemovesToken(t *testing.T) {
	ctx := context.Background()
	mem, h, batch := newHealthFixture(t, token("tokA", 2), token("tokB", 0))

	h.HandleOutcome(ctx, batch, delivery("tokA", definitive(push.CodeInvalidToken)))
	if err := batch.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	tokens := mustUser(mem, "u1").Tokens
	if len(tokens) != 1 || tokens[0].Token != "tokB" {
		t.Fatalf("tokens = %+v, want only tokB", tokens)
	}

	events := mem.Events()
	if len(eventsOfType(events, store.EventRemoval)) != 1 {
		t.Errorf("removal events = %d, want 1", len(eventsOfType(events, store.EventRemoval)))
	}
	if len(eventsOfType(events, store.EventStrike)) != 0 {
		t.Errorf("a removal must not also record a strike event")
	}
	if events[0].Reason != ReasonStrikeThreshold || events[0].Details["strikes"] != 3 {
		t.Errorf("removal event = %+v", events[0])
	}
}

func TestStrikesNeverReachThreshold(t *testing.T) {
	ctx := context.Background()
	mem, h, batch := newHealthFixture(t, token("tokA", 0))

	for i := range 5 {
		h.HandleOutcome(ctx, batch, delivery("tokA", definitive(push.CodeMismatchedCredential)))
		for _, tok := range mustUser(mem, "u1").Tokens {
			if tok.Strikes < 0 || tok.Strikes >= MaxStrikes {
				t.Fatalf("after failure %d strikes = %d", i+1, tok.Strikes)
			}
			if (tok.Strikes > 0) != (tok.LastStrike != nil) {
				t.Fatalf("after failure %d lastStrike presence disagrees with strikes=%d", i+1, tok.Strikes)
			}
		}
	}
	if n := len(mustUser(mem, "u1").Tokens); n != 0 {
		t.Errorf("token should be gone after 3 failures, have %d tokens", n)
	}
}

func TestSuccessClearsStrikes(t *testing.T) {
	ctx := context.Background()
	mem, h, batch := newHealthFixture(t, token("tokA", 2))

	h.HandleOutcome(ctx, batch, delivery("tokA", push.Outcome{Kind: push.Success}))

	u := mustUser(mem, "u1")
	if u.Tokens[0].Strikes != 0 || u.Tokens[0].LastStrike != nil {
		t.Errorf("token after success = %+v", u.Tokens[0])
	}
	if u.EngagementMetrics.SuccessfulNotificationCount != 1 {
		t.Errorf("successful count = %d", u.EngagementMetrics.SuccessfulNotificationCount)
	}
	if batch.Pending() != 0 {
		t.Errorf("success should not record events, pending = %d", batch.Pending())
	}
}

func TestSuccessOnCleanTokenSkipsWrite(t *testing.T) {
	mem, h, batch := newHealthFixture(t, token("tokA", 0))
	h.HandleOutcome(context.Background(), batch, delivery("tokA", push.Outcome{Kind: push.Success}))
	if mem.TokenWrites() != 0 {
		t.Errorf("token writes = %d, want 0", mem.TokenWrites())
	}
}

func TestTransientFailureOnlyRecordsError(t *testing.T) {
	ctx := context.Background()
	mem, h, batch := newHealthFixture(t, token("tokA", 1))

	h.HandleOutcome(ctx, batch, delivery("tokA", push.Outcome{
		Kind: push.Transient, Code: push.CodeUnavailable, Message: "backend unavailable",
	}))
	if err := batch.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	u := mustUser(mem, "u1")
	if u.Tokens[0].Strikes != 1 {
		t.Errorf("strikes changed to %d", u.Tokens[0].Strikes)
	}
	if mem.TokenWrites() != 0 {
		t.Errorf("token writes = %d, want 0", mem.TokenWrites())
	}
	if u.EngagementMetrics.TokenFailureCount != 1 {
		t.Errorf("failure count = %d", u.EngagementMetrics.TokenFailureCount)
	}

	events := mem.Events()
	if len(events) != 1 || events[0].EventType != store.EventError {
		t.Fatalf("events = %+v, want one error event", events)
	}
	if events[0].Details["temporary"] != true || events[0].Details["errorMessage"] != "backend unavailable" {
		t.Errorf("error details = %v", events[0].Details)
	}
}

func TestStoreFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutUser(responder("u1", token("tokA", 1)))
	fs := &flakyStore{Memory: mem, failTokens: true}
	h := NewHealth(fs, testLogger(), fixedClock)
	batch := NewBatcher(fs, 100, testLogger())

	h.HandleOutcome(ctx, batch, delivery("tokA", definitive(push.CodeNotRegistered)))

	if batch.Pending() != 0 {
		t.Errorf("no event should be recorded when the strike was not persisted")
	}
	if got := mustUser(mem, "u1").EngagementMetrics.TokenFailureCount; got != 1 {
		t.Errorf("failure count = %d, want 1", got)
	}
}

func TestStrikeOnUnknownToken(t *testing.T) {
	mem, h, batch := newHealthFixture(t, token("tokA", 0))
	h.HandleOutcome(context.Background(), batch, delivery("gone", definitive(push.CodeNotRegistered)))
	if batch.Pending() != 0 || mem.TokenWrites() != 0 {
		t.Errorf("pending = %d, writes = %d", batch.Pending(), mem.TokenWrites())
	}
}
