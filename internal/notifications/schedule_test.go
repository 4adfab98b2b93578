package notifications

import (
	"testing"
	"time"

	"github.com/danoggin/notify/internal/store"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestIsActive(t *testing.T) {
	overnight := &store.ActiveHours{StartHour: "22:00", EndHour: "06:00"}
	daytime := &store.ActiveHours{StartHour: "08:00", EndHour: "20:00"}

	tests := []struct {
		name   string
		policy *store.ActiveHours
		now    time.Time
		want   bool
	}{
		{"no policy", nil, at(3, 0), true},
		{"overnight late evening", overnight, at(23, 0), true},
		{"overnight midday", overnight, at(12, 0), false},
		{"overnight after midnight", overnight, at(0, 30), true},
		{"overnight end inclusive", overnight, at(6, 0), true},
		{"overnight just after end", overnight, at(6, 1), false},
		{"daytime start inclusive", daytime, at(8, 0), true},
		{"daytime end inclusive", daytime, at(20, 0), true},
		{"daytime just after end", daytime, at(20, 1), false},
		{"daytime just before start", daytime, at(7, 59), false},
		{"malformed start", &store.ActiveHours{StartHour: "8am", EndHour: "20:00"}, at(3, 0), true},
		{"out of range hour", &store.ActiveHours{StartHour: "08:00", EndHour: "25:00"}, at(3, 0), true},
		{"empty policy outside default window", &store.ActiveHours{}, at(3, 0), false},
		{"empty policy inside default window", &store.ActiveHours{}, at(12, 0), true},
		{"missing end defaults to 20:00", &store.ActiveHours{StartHour: "09:00"}, at(21, 0), false},
		{"missing end default inclusive", &store.ActiveHours{StartHour: "09:00"}, at(20, 0), true},
		{"missing start defaults to 08:00", &store.ActiveHours{EndHour: "22:00"}, at(7, 30), false},
		{"non-UTC input", daytime, time.Date(2026, 3, 10, 4, 0, 0, 0, time.FixedZone("EST", -5*3600)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsActive(tt.policy, tt.now); got != tt.want {
				t.Errorf("IsActive(%v, %s) = %v, want %v", tt.policy, tt.now.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestNextActiveStart(t *testing.T) {
	tests := []struct {
		name   string
		policy *store.ActiveHours
		now    time.Time
		want   time.Time
	}{
		{
			"late evening to next morning",
			&store.ActiveHours{StartHour: "08:00", EndHour: "20:00"},
			time.Date(2026, 3, 10, 23, 0, 45, 500_000_000, time.UTC),
			time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
		},
		{
			"default start hour",
			nil,
			time.Date(2026, 3, 10, 2, 15, 0, 0, time.UTC),
			time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
		},
		{
			"minutes kept",
			&store.ActiveHours{StartHour: "21:30", EndHour: "05:00"},
			time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 11, 21, 30, 0, 0, time.UTC),
		},
		{
			"month rollover",
			&store.ActiveHours{StartHour: "07:15", EndHour: "19:00"},
			time.Date(2026, 1, 31, 22, 0, 0, 0, time.UTC),
			time.Date(2026, 2, 1, 7, 15, 0, 0, time.UTC),
		},
		{
			"malformed start uses default",
			&store.ActiveHours{StartHour: "soon", EndHour: "19:00"},
			time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextActiveStart(tt.policy, tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("NextActiveStart = %s, want %s", got, tt.want)
			}
		})
	}
}
