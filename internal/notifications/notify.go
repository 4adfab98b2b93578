// Package notifications delivers check-in reminders and observer alerts and
// maintains the health of every device token they are sent to.
//
// Flow: a trigger selects users → one send per device token → the gateway
// error is classified once → Health updates the token list and records a
// token event through the unit's Batcher.
package notifications

import "time"

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// MaxStrikes is the strike count at which a token is deleted.
	MaxStrikes = 3
	// MaxTokenAge is the age beyond which a token is never sent to.
	MaxTokenAge = 270 * 24 * time.Hour

	defaultIntervalMinutes = 5
	defaultStartClock      = "08:00"
	defaultEndClock        = "20:00"
	defaultFlushThreshold  = 100
	unknownResponder       = "Unknown Responder"
)

// Delivery contexts recorded on strikes and token events.
const (
	ContextReminder = "check_in_reminder"
	ContextAlert    = "observer_alert"
	ContextCleanup  = "token_cleanup"
)

// Removal reasons that are not gateway codes.
const (
	ReasonStrikeThreshold = "strike_threshold"
	ReasonAgeLimit        = "age_limit"
	ReasonWeeklyCleanup   = "weekly_cleanup"
)

// Check-in results. Only missed and incorrect alert observers.
const (
	ResultMissed    = "missed"
	ResultIncorrect = "incorrect"
	ResultCorrect   = "correct"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// CheckIn is a recorded check-in outcome for a responder.
type CheckIn struct {
	ID          string    `json:"check_in_id"`
	ResponderID string    `json:"responder_id"`
	Result      string    `json:"result"`
	Prompt      string    `json:"prompt"`
	Timestamp   time.Time `json:"timestamp"`
}

// Alerting reports whether the result should reach observers.
func (c CheckIn) Alerting() bool {
	return c.Result == ResultMissed || c.Result == ResultIncorrect
}

// CycleResult tallies one reminder cycle.
type CycleResult struct {
	Due         int
	Succeeded   int
	Failed      int
	Rescheduled int
}

// AlertResult tallies one observer fan-out.
type AlertResult struct {
	Observers int
	Sent      int
	Failed    int
	Skipped   int
}
