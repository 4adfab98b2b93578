package store

import (
	"log/slog"
	"time"
)

// decodeEach decodes every item and drops the ones that fail, so a single
// malformed user record cannot hide the rest of a query.
func decodeEach[T any](items []T, decode func(T) (*User, error), logger *slog.Logger) []User {
	users := make([]User, 0, len(items))
	for _, item := range items {
		u, err := decode(item)
		if err != nil {
			logger.Error("skipping undecodable user record", "error", err)
			continue
		}
		users = append(users, *u)
	}
	return users
}

// decodeTokens reads an fcmTokens array as written by any client. Times may
// be native timestamps or RFC 3339 strings and counters any numeric type.
// Entries without a token string are dropped; an unreadable createdAt is
// left zero.
func decodeTokens(raw []any) []DeviceToken {
	tokens := make([]DeviceToken, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		tok, _ := m["token"].(string)
		if tok == "" {
			continue
		}
		t := DeviceToken{
			Token:     tok,
			CreatedAt: asTime(m["createdAt"]),
			Strikes:   int(asInt64(m["strikes"])),
		}
		if ls, ok := m["lastStrike"].(map[string]any); ok {
			code, _ := ls["errorCode"].(string)
			ctx, _ := ls["context"].(string)
			t.LastStrike = &Strike{ErrorCode: code, Timestamp: asTime(ls["timestamp"]), Context: ctx}
		}
		tokens = append(tokens, t)
	}
	return tokens
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t != nil {
			return t.UTC()
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
