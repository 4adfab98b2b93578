package store

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestDecodeEachSkipsBadRecords(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decode := func(id string) (*User, error) {
		if id == "broken" {
			return nil, errors.New("lastStrike.timestamp: cannot set string into time.Time")
		}
		return &User{ID: id, Role: RoleResponder}, nil
	}

	users := decodeEach([]string{"r1", "broken", "r2"}, decode, logger)
	if len(users) != 2 {
		t.Fatalf("decoded %d users, want 2", len(users))
	}
	if users[0].ID != "r1" || users[1].ID != "r2" {
		t.Errorf("users = %+v", users)
	}
}

func TestDecodeTokensMixedTimeFormats(t *testing.T) {
	created := time.Date(2025, 11, 2, 8, 0, 0, 0, time.UTC)
	struck := time.Date(2026, 3, 9, 12, 30, 15, 250_000_000, time.UTC)

	raw := []any{
		// Native timestamps as the Firestore client returns them.
		map[string]any{"token": "tok-native", "createdAt": created, "strikes": int64(1),
			"lastStrike": map[string]any{"errorCode": "messaging/invalid-registration-token", "timestamp": struck, "context": "check_in_reminder"}},
		// ISO strings as written by older clients.
		map[string]any{"token": "tok-string", "createdAt": "2025-11-02T08:00:00Z", "strikes": 2.0,
			"lastStrike": map[string]any{"errorCode": "messaging/mismatched-credential", "timestamp": "2026-03-09T12:30:15.250Z", "context": "check_in_alert"}},
		map[string]any{"token": "tok-garbage-date", "createdAt": "last tuesday"},
		map[string]any{"createdAt": created},
		"not a map",
	}

	tokens := decodeTokens(raw)
	if len(tokens) != 3 {
		t.Fatalf("decoded %d tokens, want 3: %+v", len(tokens), tokens)
	}
	for _, tok := range tokens[:2] {
		if !tok.CreatedAt.Equal(created) {
			t.Errorf("%s createdAt = %s, want %s", tok.Token, tok.CreatedAt, created)
		}
		if tok.LastStrike == nil || !tok.LastStrike.Timestamp.Equal(struck) {
			t.Errorf("%s lastStrike = %+v, want timestamp %s", tok.Token, tok.LastStrike, struck)
		}
	}
	if tokens[0].Strikes != 1 || tokens[1].Strikes != 2 {
		t.Errorf("strikes = %d, %d; want 1, 2", tokens[0].Strikes, tokens[1].Strikes)
	}
	if !tokens[2].CreatedAt.IsZero() {
		t.Errorf("unreadable createdAt = %s, want zero", tokens[2].CreatedAt)
	}
}

func TestDecodeTokensFromJSON(t *testing.T) {
	payload := `[{"token":"tok-1","createdAt":"2026-01-05T10:00:00+00:00","strikes":1,
		"lastStrike":{"errorCode":"messaging/registration-token-not-registered","timestamp":"2026-03-01T00:00:00Z","context":"token_cleanup"}}]`
	var raw []any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatal(err)
	}
	tokens := decodeTokens(raw)
	if len(tokens) != 1 {
		t.Fatalf("decoded %d tokens, want 1", len(tokens))
	}
	if tokens[0].Strikes != 1 || tokens[0].LastStrike.Context != "token_cleanup" {
		t.Errorf("token = %+v", tokens[0])
	}
	if want := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC); !tokens[0].CreatedAt.Equal(want) {
		t.Errorf("createdAt = %s, want %s", tokens[0].CreatedAt, want)
	}
}

func TestAgeUnknownRegistration(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := (DeviceToken{Token: "t"}).Age(now); got != 0 {
		t.Errorf("Age with zero createdAt = %s, want 0", got)
	}
	tok := DeviceToken{Token: "t", CreatedAt: now.Add(-48 * time.Hour)}
	if got := tok.Age(now); got != 48*time.Hour {
		t.Errorf("Age = %s, want 48h", got)
	}
}
