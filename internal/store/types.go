package store

import (
	"sort"
	"time"
)

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

// Role is the part a user plays in a check-in relationship.
type Role string

const (
	RoleResponder Role = "responder"
	RoleObserver  Role = "observer"
)

// User is the subset of the user document this service reads and mutates.
type User struct {
	ID                string            `json:"id" firestore:"-"`
	Name              string            `json:"name" firestore:"name"`
	Role              Role              `json:"role" firestore:"role"`
	Tokens            []DeviceToken     `json:"fcmTokens" firestore:"fcmTokens"`
	CheckInSettings   CheckInSettings   `json:"checkInSettings" firestore:"checkInSettings"`
	ActiveHours       *ActiveHours      `json:"activeHours,omitempty" firestore:"activeHours,omitempty"`
	LinkedObservers   map[string]any    `json:"linkedObservers,omitempty" firestore:"linkedObservers,omitempty"`
	BadgeCount        int               `json:"badgeCount" firestore:"badgeCount"`
	EngagementMetrics EngagementMetrics `json:"engagementMetrics" firestore:"engagementMetrics"`
}

// DisplayName returns the user's name or a placeholder for unnamed users.
func (u *User) DisplayName() string {
	if u.Name == "" {
		return "Unknown User"
	}
	return u.Name
}

// ObserverIDs returns the linked observer IDs in a stable order.
func (u *User) ObserverIDs() []string {
	ids := make([]string, 0, len(u.LinkedObservers))
	for id := range u.LinkedObservers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeviceToken is one registered push handle on a user record.
// Strikes stays in [0, 2]; LastStrike is set iff Strikes > 0.
type DeviceToken struct {
	Token      string    `json:"token" firestore:"token"`
	CreatedAt  time.Time `json:"createdAt" firestore:"createdAt"`
	Strikes    int       `json:"strikes,omitempty" firestore:"strikes,omitempty"`
	LastStrike *Strike   `json:"lastStrike,omitempty" firestore:"lastStrike,omitempty"`
}

// Age returns how long ago the token was registered. A token with no
// readable registration time has age 0 and is never aged out.
func (t DeviceToken) Age(now time.Time) time.Duration {
	if t.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(t.CreatedAt)
}

// Strike records the most recent gateway rejection of a token.
type Strike struct {
	ErrorCode string    `json:"errorCode" firestore:"errorCode"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
	Context   string    `json:"context" firestore:"context"`
}

// CheckInSettings controls when a responder is reminded.
type CheckInSettings struct {
	Enabled         bool      `json:"enabled" firestore:"enabled"`
	IntervalMinutes int       `json:"intervalMinutes" firestore:"intervalMinutes"`
	NextCheckInTime time.Time `json:"nextCheckInTime" firestore:"nextCheckInTime"`
	LastUpdated     time.Time `json:"lastUpdated" firestore:"lastUpdated"`
}

// ActiveHours is a daily UTC window expressed as "HH:MM" strings.
type ActiveHours struct {
	StartHour string `json:"startHour" firestore:"startHour"`
	EndHour   string `json:"endHour" firestore:"endHour"`
}

// EngagementMetrics are delivery counters maintained by this service only.
type EngagementMetrics struct {
	TokenFailureCount           int64      `json:"tokenFailureCount" firestore:"tokenFailureCount"`
	SuccessfulNotificationCount int64      `json:"successfulNotificationCount" firestore:"successfulNotificationCount"`
	LastTokenFailure            *time.Time `json:"lastTokenFailure,omitempty" firestore:"lastTokenFailure,omitempty"`
	LastSuccessfulNotification  *time.Time `json:"lastSuccessfulNotification,omitempty" firestore:"lastSuccessfulNotification,omitempty"`
	LastEngagementCheck         *time.Time `json:"lastEngagementCheck,omitempty" firestore:"lastEngagementCheck,omitempty"`
}

// --------------------------------------------------------------------------
// Token events
// --------------------------------------------------------------------------

// EventType classifies a token event.
type EventType string

const (
	EventRemoval EventType = "removal"
	EventError   EventType = "error"
	EventStrike  EventType = "strike"
)

// TokenEvent is an immutable telemetry record. Only a token prefix is kept.
type TokenEvent struct {
	ID          string         `json:"id" firestore:"-"`
	UserID      string         `json:"userId" firestore:"userId"`
	UserName    string         `json:"userName" firestore:"userName"`
	TokenPrefix string         `json:"token" firestore:"token"`
	EventType   EventType      `json:"eventType" firestore:"eventType"`
	Reason      string         `json:"reason" firestore:"reason"`
	Context     string         `json:"context" firestore:"context"`
	Details     map[string]any `json:"details,omitempty" firestore:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp" firestore:"timestamp"`
}

// --------------------------------------------------------------------------
// Metrics documents
// --------------------------------------------------------------------------

// SystemMetric is the summary record written once per sweep run.
type SystemMetric struct {
	Type           string    `json:"type" firestore:"type"`
	Timestamp      time.Time `json:"timestamp" firestore:"timestamp"`
	UsersProcessed int       `json:"usersProcessed" firestore:"usersProcessed"`
	TokensChecked  int       `json:"tokensChecked" firestore:"tokensChecked"`
	TokensRemoved  int       `json:"tokensRemoved" firestore:"tokensRemoved"`
	RemovalRate    float64   `json:"removalRate" firestore:"removalRate"`
}

// DailyMetrics is the aggregated token health report for one UTC day.
type DailyMetrics struct {
	Date          string         `json:"date" firestore:"date"`
	GeneratedAt   time.Time      `json:"timestamp" firestore:"timestamp"`
	TokenRemovals RemovalMetrics `json:"tokenRemovals" firestore:"tokenRemovals"`
	TokenErrors   ErrorMetrics   `json:"tokenErrors" firestore:"tokenErrors"`
	UserImpact    UserImpact     `json:"userImpact" firestore:"userImpact"`
	SystemSummary SystemSummary  `json:"systemSummary" firestore:"systemSummary"`
}

// DailyMetricsID is the document ID a day's report is stored under.
func DailyMetricsID(date string) string {
	return "token_metrics_" + date
}

type RemovalMetrics struct {
	TotalRemovals  int            `json:"totalRemovals" firestore:"totalRemovals"`
	RemovalReasons map[string]int `json:"removalReasons" firestore:"removalReasons"`
	AffectedUsers  int            `json:"affectedUsers" firestore:"affectedUsers"`
	UserDetails    []EventDetail  `json:"userDetails" firestore:"userDetails"`
}

type ErrorMetrics struct {
	TotalErrors     int            `json:"totalErrors" firestore:"totalErrors"`
	TotalStrikes    int            `json:"totalStrikes" firestore:"totalStrikes"`
	TotalEvents     int            `json:"totalEvents" firestore:"totalEvents"`
	ErrorTypes      map[string]int `json:"errorTypes" firestore:"errorTypes"`
	ErrorsByContext map[string]int `json:"errorsByContext" firestore:"errorsByContext"`
	AffectedUsers   int            `json:"affectedUsers" firestore:"affectedUsers"`
	UserDetails     []EventDetail  `json:"userDetails" firestore:"userDetails"`
}

// EventDetail is a token event flattened for a daily report.
type EventDetail struct {
	UserID    string         `json:"userId" firestore:"userId"`
	UserName  string         `json:"userName" firestore:"userName"`
	EventType EventType      `json:"eventType,omitempty" firestore:"eventType,omitempty"`
	Reason    string         `json:"reason" firestore:"reason"`
	Context   string         `json:"context" firestore:"context"`
	Timestamp time.Time      `json:"timestamp" firestore:"timestamp"`
	Details   map[string]any `json:"details,omitempty" firestore:"details,omitempty"`
}

type UserImpact struct {
	UsersWithTokenIssues int               `json:"usersWithTokenIssues" firestore:"usersWithTokenIssues"`
	TotalUsersAnalyzed   int               `json:"totalUsersAnalyzed" firestore:"totalUsersAnalyzed"`
	UserDetails          []UserTokenIssues `json:"userDetails" firestore:"userDetails"`
}

type UserTokenIssues struct {
	UserID           string `json:"userId" firestore:"userId"`
	UserName         string `json:"userName" firestore:"userName"`
	UserRole         Role   `json:"userRole" firestore:"userRole"`
	TotalStrikes     int    `json:"totalStrikes" firestore:"totalStrikes"`
	TokensWithIssues int    `json:"tokensWithIssues" firestore:"tokensWithIssues"`
	TotalTokens      int    `json:"totalTokens" firestore:"totalTokens"`
}

type SystemSummary struct {
	TotalActiveUsers      int     `json:"totalActiveUsers" firestore:"totalActiveUsers"`
	TotalTokens           int     `json:"totalTokens" firestore:"totalTokens"`
	HealthyTokens         int     `json:"healthyTokens" firestore:"healthyTokens"`
	TokensWithStrikes     int     `json:"tokensWithStrikes" firestore:"tokensWithStrikes"`
	OldTokens             int     `json:"oldTokens" firestore:"oldTokens"`
	TokenHealthPercentage float64 `json:"tokenHealthPercentage" firestore:"tokenHealthPercentage"`
}
