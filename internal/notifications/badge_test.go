package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/push/pushtest"
	"github.com/danoggin/notify/internal/store"
)

func TestClearBadge(t *testing.T) {
	mem := store.NewMemory()
	u := observer("o1", 7, token("tokA", 0), token("tokB", 0))
	mem.PutUser(u)
	gw := pushtest.New()
	gw.Fail("tokB", push.CodeUnavailable)

	if err := ClearBadge(context.Background(), mem, gw, "o1", testLogger()); err != nil {
		t.Fatal(err)
	}
	if got := mustUser(mem, "o1").BadgeCount; got != 0 {
		t.Errorf("badge = %d, want 0", got)
	}

	sent := gw.Sent()
	if len(sent) != 2 {
		t.Fatalf("sends = %d, want 2", len(sent))
	}
	for _, m := range sent {
		if !m.Silent || m.Badge == nil || *m.Badge != 0 {
			t.Errorf("message = %+v, want silent badge 0", m)
		}
	}
}

func TestClearBadgeUnknownUser(t *testing.T) {
	err := ClearBadge(context.Background(), store.NewMemory(), pushtest.New(), "ghost", testLogger())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSendTest(t *testing.T) {
	gw := pushtest.New()
	id, err := SendTest(context.Background(), gw, "tokA", "")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("empty message ID")
	}
	m := gw.Sent()[0]
	if m.Title != testTitle || m.Body != testDefaultBody {
		t.Errorf("message = %+v", m)
	}

	if _, err := SendTest(context.Background(), gw, "", "hi"); err == nil {
		t.Error("missing token should fail")
	}
}
