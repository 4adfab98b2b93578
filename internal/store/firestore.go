package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/danoggin/notify/internal/config"
)

// maxBatchWrites is Firestore's limit on writes per batch commit.
const maxBatchWrites = 500

// Firestore keeps documents in their native collections, the layout the
// mobile app reads.
type Firestore struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewFirestore wraps an initialized Firestore client.
func NewFirestore(client *firestore.Client, logger *slog.Logger) *Firestore {
	return &Firestore{client: client, logger: logger}
}

func (f *Firestore) users() *firestore.CollectionRef {
	return f.client.Collection(config.UsersCollection)
}

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

func (f *Firestore) GetUser(ctx context.Context, id string) (*User, error) {
	snap, err := f.users().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return decodeUser(snap)
}

func (f *Firestore) DueResponders(ctx context.Context, now time.Time) ([]User, error) {
	q := f.users().
		Where("role", "==", string(RoleResponder)).
		Where("checkInSettings.enabled", "==", true).
		Where("checkInSettings.nextCheckInTime", "<=", now)
	return f.queryUsers(ctx, q)
}

func (f *Firestore) UsersWithTokens(ctx context.Context) ([]User, error) {
	users, err := f.queryUsers(ctx, f.users().Where("fcmTokens", "!=", []any{}))
	if err != nil {
		return nil, err
	}
	// Documents with a missing or null fcmTokens field can match "!=".
	out := users[:0]
	for _, u := range users {
		if len(u.Tokens) > 0 {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *Firestore) UpdateTokens(ctx context.Context, userID string, fn TokenMutator) error {
	ref := f.users().Doc(userID)
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read tokens for %s: %w", userID, err)
		}
		u, err := decodeUser(snap)
		if err != nil {
			return err
		}
		updated, changed := fn(u.Tokens)
		if !changed {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "fcmTokens", Value: nonNil(updated)},
		})
	})
}

// IncrementBadges reads and bumps every badge inside one transaction so the
// returned counts are the values actually committed.
func (f *Firestore) IncrementBadges(ctx context.Context, userIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}
	refs := make([]*firestore.DocumentRef, len(userIDs))
	for i, id := range userIDs {
		refs[i] = f.users().Doc(id)
	}

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		clear(counts)
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return fmt.Errorf("read badges: %w", err)
		}
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			current, _ := snap.DataAt("badgeCount")
			next := int(asInt64(current)) + 1
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "badgeCount", Value: next},
				{Path: "lastBadgeUpdate", Value: firestore.ServerTimestamp},
			}); err != nil {
				return err
			}
			counts[snap.Ref.ID] = next
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("increment badges: %w", err)
	}
	return counts, nil
}

func (f *Firestore) ResetBadge(ctx context.Context, userID string) error {
	return f.updateUser(ctx, userID, []firestore.Update{
		{Path: "badgeCount", Value: 0},
		{Path: "lastBadgeUpdate", Value: firestore.ServerTimestamp},
	})
}

func (f *Firestore) SetNextCheckIn(ctx context.Context, userID string, next time.Time) error {
	return f.updateUser(ctx, userID, []firestore.Update{
		{Path: "checkInSettings.nextCheckInTime", Value: next},
		{Path: "checkInSettings.lastUpdated", Value: firestore.ServerTimestamp},
	})
}

func (f *Firestore) RecordDelivery(ctx context.Context, userID string, success bool, at time.Time) error {
	updates := []firestore.Update{
		{Path: "engagementMetrics.lastEngagementCheck", Value: at},
	}
	if success {
		updates = append(updates,
			firestore.Update{Path: "engagementMetrics.successfulNotificationCount", Value: firestore.Increment(1)},
			firestore.Update{Path: "engagementMetrics.lastSuccessfulNotification", Value: at},
		)
	} else {
		updates = append(updates,
			firestore.Update{Path: "engagementMetrics.tokenFailureCount", Value: firestore.Increment(1)},
			firestore.Update{Path: "engagementMetrics.lastTokenFailure", Value: at},
		)
	}
	return f.updateUser(ctx, userID, updates)
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// AddTokenEvents commits events in batches of at most 500 writes. Documents
// are keyed by event ID so a retried flush overwrites instead of duplicating.
func (f *Firestore) AddTokenEvents(ctx context.Context, events []TokenEvent) error {
	col := f.client.Collection(config.TokenEventsCollection)
	for start := 0; start < len(events); start += maxBatchWrites {
		end := min(start+maxBatchWrites, len(events))
		batch := f.client.Batch()
		for _, ev := range events[start:end] {
			ref := col.NewDoc()
			if ev.ID != "" {
				ref = col.Doc(ev.ID)
			}
			batch.Set(ref, ev)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("commit token events: %w", err)
		}
	}
	return nil
}

func (f *Firestore) TokenEvents(ctx context.Context, from, to time.Time) ([]TokenEvent, error) {
	snaps, err := f.client.Collection(config.TokenEventsCollection).
		Where("timestamp", ">=", from).
		Where("timestamp", "<=", to).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query token events: %w", err)
	}
	events := make([]TokenEvent, 0, len(snaps))
	for _, snap := range snaps {
		var ev TokenEvent
		if err := snap.DataTo(&ev); err != nil {
			return nil, fmt.Errorf("decode token event %s: %w", snap.Ref.ID, err)
		}
		ev.ID = snap.Ref.ID
		events = append(events, ev)
	}
	return events, nil
}

func (f *Firestore) DeleteTokenEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	snaps, err := f.client.Collection(config.TokenEventsCollection).
		Where("timestamp", "<", cutoff).
		Limit(min(limit, maxBatchWrites)).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("query old token events: %w", err)
	}
	return f.deleteAll(ctx, snaps)
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

func (f *Firestore) PutDailyMetrics(ctx context.Context, m *DailyMetrics) error {
	ref := f.client.Collection(config.DailyMetricsCollection).Doc(DailyMetricsID(m.Date))
	if _, err := ref.Set(ctx, m); err != nil {
		return fmt.Errorf("set daily metrics %s: %w", m.Date, err)
	}
	return nil
}

func (f *Firestore) GetDailyMetrics(ctx context.Context, date string) (*DailyMetrics, error) {
	snap, err := f.client.Collection(config.DailyMetricsCollection).Doc(DailyMetricsID(date)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("daily metrics %s: %w", date, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get daily metrics %s: %w", date, err)
	}
	var m DailyMetrics
	if err := snap.DataTo(&m); err != nil {
		return nil, fmt.Errorf("decode daily metrics %s: %w", date, err)
	}
	return &m, nil
}

func (f *Firestore) DeleteDailyMetricsBefore(ctx context.Context, date string) (int, error) {
	snaps, err := f.client.Collection(config.DailyMetricsCollection).
		Where("date", "<", date).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("query old daily metrics: %w", err)
	}
	deleted := 0
	for start := 0; start < len(snaps); start += maxBatchWrites {
		n, err := f.deleteAll(ctx, snaps[start:min(start+maxBatchWrites, len(snaps))])
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (f *Firestore) AddSystemMetric(ctx context.Context, m SystemMetric) error {
	if _, _, err := f.client.Collection(config.SystemMetricsCollection).Add(ctx, m); err != nil {
		return fmt.Errorf("add system metric: %w", err)
	}
	return nil
}

func (f *Firestore) Ping(ctx context.Context) error {
	_, err := f.users().Limit(1).Documents(ctx).GetAll()
	return err
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (f *Firestore) queryUsers(ctx context.Context, q firestore.Query) ([]User, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return decodeEach(snaps, decodeUser, f.logger), nil
}

func (f *Firestore) updateUser(ctx context.Context, userID string, updates []firestore.Update) error {
	_, err := f.users().Doc(userID).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update user %s: %w", userID, err)
	}
	return nil
}

func (f *Firestore) deleteAll(ctx context.Context, snaps []*firestore.DocumentSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	batch := f.client.Batch()
	for _, snap := range snaps {
		batch.Delete(snap.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit deletes: %w", err)
	}
	return len(snaps), nil
}

// userDocument shadows fcmTokens so token entries written with string
// timestamps still decode.
type userDocument struct {
	User
	RawTokens []any `firestore:"fcmTokens"`
}

func decodeUser(snap *firestore.DocumentSnapshot) (*User, error) {
	var doc userDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", snap.Ref.ID, err)
	}
	u := doc.User
	u.ID = snap.Ref.ID
	u.Tokens = decodeTokens(doc.RawTokens)
	return &u, nil
}
