package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/danoggin/notify/internal/cache"
	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/push/pushtest"
	"github.com/danoggin/notify/internal/store"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, gw push.Gateway) (*Handler, *store.Memory, http.Handler) {
	t.Helper()
	mem := store.NewMemory()
	h := New(mem, gw, cache.New(false), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return testNow }

	r := chi.NewRouter()
	r.Get("/health/store", h.HealthCheckStore)
	r.Post("/notifications/test", h.SendTestNotification)
	r.Get("/notifications/test", h.SendTestNotification)
	r.Post("/badges/clear", h.ClearBadge)
	r.Get("/metrics/daily/{date}", h.GetDailyMetrics)
	return h, mem, r
}

func do(r http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error.Code
}

func TestSendTestNotification(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		fail     bool
		noPush   bool
		wantCode int
		wantErr  string
	}{
		{name: "post", method: http.MethodPost, target: "/notifications/test", body: `{"token":"tok-abcdefghij","message":"hi"}`, wantCode: http.StatusOK},
		{name: "get", method: http.MethodGet, target: "/notifications/test?token=tok-abcdefghij", wantCode: http.StatusOK},
		{name: "missing token", method: http.MethodPost, target: "/notifications/test", body: `{"message":"hi"}`, wantCode: http.StatusBadRequest, wantErr: "MISSING_TOKEN"},
		{name: "bad json", method: http.MethodPost, target: "/notifications/test", body: `{`, wantCode: http.StatusBadRequest, wantErr: "INVALID_BODY"},
		{name: "push disabled", method: http.MethodPost, target: "/notifications/test", body: `{"token":"tok-abcdefghij"}`, noPush: true, wantCode: http.StatusServiceUnavailable, wantErr: "PUSH_DISABLED"},
		{name: "gateway error", method: http.MethodPost, target: "/notifications/test", body: `{"token":"tok-abcdefghij"}`, fail: true, wantCode: http.StatusInternalServerError, wantErr: "SEND_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := pushtest.New()
			if tt.fail {
				fake.Fail("tok-abcdefghij", push.CodeNotRegistered)
			}
			var gw push.Gateway = fake
			if tt.noPush {
				gw = nil
			}
			_, _, r := newTestHandler(t, gw)

			rec := do(r, tt.method, tt.target, tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" {
				if got := errorCode(t, rec); got != tt.wantErr {
					t.Errorf("error code = %q, want %q", got, tt.wantErr)
				}
				return
			}

			sent := fake.Sent()
			if len(sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(sent))
			}
			if sent[0].Title != "Danoggin Test" {
				t.Errorf("title = %q", sent[0].Title)
			}
		})
	}
}

func TestClearBadge(t *testing.T) {
	fake := pushtest.New()
	_, mem, r := newTestHandler(t, fake)
	mem.PutUser(store.User{
		ID:         "obs-1",
		Role:       store.RoleObserver,
		BadgeCount: 4,
		Tokens: []store.DeviceToken{
			{Token: "tok-1", CreatedAt: testNow},
			{Token: "tok-2", CreatedAt: testNow},
		},
	})

	rec := do(r, http.MethodPost, "/badges/clear", `{"userId":"obs-1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	u, err := mem.GetUser(context.Background(), "obs-1")
	if err != nil {
		t.Fatal(err)
	}
	if u.BadgeCount != 0 {
		t.Errorf("badge = %d, want 0", u.BadgeCount)
	}
	if got := len(fake.Sent()); got != 2 {
		t.Errorf("sent %d silent pushes, want 2", got)
	}

	t.Run("unknown user", func(t *testing.T) {
		rec := do(r, http.MethodPost, "/badges/clear", `{"userId":"nobody"}`, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("missing user id", func(t *testing.T) {
		rec := do(r, http.MethodPost, "/badges/clear", `{}`, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if got := errorCode(t, rec); got != "MISSING_USER_ID" {
			t.Errorf("error code = %q", got)
		}
	})
}

func TestGetDailyMetrics(t *testing.T) {
	_, mem, r := newTestHandler(t, pushtest.New())
	report := &store.DailyMetrics{
		Date:        "2026-03-01",
		GeneratedAt: testNow,
		SystemSummary: store.SystemSummary{
			TotalTokens:           10,
			HealthyTokens:         9,
			TokenHealthPercentage: 90,
		},
	}
	if err := mem.PutDailyMetrics(context.Background(), report); err != nil {
		t.Fatal(err)
	}

	rec := do(r, http.MethodGet, "/metrics/daily/2026-03-01", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got store.DailyMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.SystemSummary.TokenHealthPercentage != 90 {
		t.Errorf("health = %v, want 90", got.SystemSummary.TokenHealthPercentage)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age=21600") {
		t.Errorf("Cache-Control = %q, want past-report TTL", cc)
	}

	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	rec = do(r, http.MethodGet, "/metrics/daily/2026-03-01", "", map[string]string{"If-None-Match": etag})
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", rec.Code)
	}

	t.Run("invalid date", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/metrics/daily/03-01-2026", "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing report", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/metrics/daily/2026-02-01", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestReportTTL(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	tests := []struct {
		date string
		want time.Duration
	}{
		{"2026-03-08", cache.TTLPastReport},
		{"2026-03-09", cache.TTLFreshReport},
		{"2026-03-10", cache.TTLFreshReport},
	}
	for _, tt := range tests {
		day, _ := time.Parse(time.DateOnly, tt.date)
		if got := h.reportTTL(day); got != tt.want {
			t.Errorf("reportTTL(%s) = %v, want %v", tt.date, got, tt.want)
		}
	}
}

func TestHealthCheckStore(t *testing.T) {
	_, _, r := newTestHandler(t, nil)
	rec := do(r, http.MethodGet, "/health/store", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
