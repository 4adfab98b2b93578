package notifications

import (
	"strconv"
	"strings"
	"time"

	"github.com/danoggin/notify/internal/store"
)

// IsActive reports whether now falls inside the user's active-hours window.
// Times are compared as minutes since midnight UTC and both ends are
// inclusive. A window whose start is after its end wraps past midnight.
// An empty start or end falls back to 08:00 or 20:00. A missing policy,
// or one that does not parse, counts as always active.
func IsActive(policy *store.ActiveHours, now time.Time) bool {
	if policy == nil {
		return true
	}
	start, ok1 := parseClock(orDefault(policy.StartHour, defaultStartClock))
	end, ok2 := parseClock(orDefault(policy.EndHour, defaultEndClock))
	if !ok1 || !ok2 {
		return true
	}

	now = now.UTC()
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// NextActiveStart returns the start of the active window on the UTC day
// after now. Seconds and sub-seconds are zero. Without a usable start hour
// the window is assumed to open at 08:00.
func NextActiveStart(policy *store.ActiveHours, now time.Time) time.Time {
	start, ok := -1, false
	if policy != nil {
		start, ok = parseClock(policy.StartHour)
	}
	if !ok {
		start, _ = parseClock(defaultStartClock)
	}

	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, start/60, start%60, 0, 0, time.UTC)
}

func orDefault(clock, fallback string) string {
	if strings.TrimSpace(clock) == "" {
		return fallback
	}
	return clock
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, bool) {
	h, m, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
