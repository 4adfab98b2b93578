package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

// EventSink persists token events. store.Events satisfies it.
type EventSink interface {
	AddTokenEvents(ctx context.Context, events []store.TokenEvent) error
}

// Batcher buffers token events for one processing unit and writes them in
// batches. It is safe for concurrent use. The owner must call Flush when
// the unit ends, including on error paths.
type Batcher struct {
	mu        sync.Mutex
	sink      EventSink
	threshold int
	pending   []store.TokenEvent
	logger    *slog.Logger
}

// NewBatcher creates a batcher that flushes automatically once threshold
// events are pending. A threshold below 1 uses the default of 100.
func NewBatcher(sink EventSink, threshold int, logger *slog.Logger) *Batcher {
	if threshold < 1 {
		threshold = defaultFlushThreshold
	}
	return &Batcher{sink: sink, threshold: threshold, logger: logger}
}

// Add buffers ev, assigning its ID and timestamp when unset. The ID makes a
// retried write of the same event idempotent. Reaching the threshold
// triggers a flush whose failure is logged and leaves the events buffered.
func (b *Batcher) Add(ctx context.Context, ev store.TokenEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, ev)
	if len(b.pending) >= b.threshold {
		if err := b.flushLocked(ctx); err != nil {
			b.logger.Error("auto-flush token events failed", "pending", len(b.pending), "error", err)
		}
	}
}

// Flush writes every pending event. On failure the events stay buffered.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// Pending returns the number of buffered events.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) flushLocked(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.sink.AddTokenEvents(ctx, b.pending); err != nil {
		return fmt.Errorf("write %d token events: %w", len(b.pending), err)
	}
	b.logger.Debug("token events flushed", "count", len(b.pending))
	b.pending = nil
	return nil
}

// flushOrLog is the deferred end-of-unit flush.
func flushOrLog(ctx context.Context, b *Batcher, logger *slog.Logger) {
	if err := b.Flush(ctx); err != nil {
		logger.Error("flush token events", "pending", b.Pending(), "error", err)
	}
}

// NewTokenEvent builds an event for token. Only the token prefix is kept.
func NewTokenEvent(userID, userName, token string, typ store.EventType, reason, context string, details map[string]any) store.TokenEvent {
	return store.TokenEvent{
		UserID:      userID,
		UserName:    userName,
		TokenPrefix: push.TokenPrefix(token),
		EventType:   typ,
		Reason:      reason,
		Context:     context,
		Details:     details,
	}
}
