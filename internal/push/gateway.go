// Package push delivers notifications to device tokens and classifies
// gateway failures into the outcomes the token health logic acts on.
package push

import "context"

// Gateway error codes. The first three mean the token itself is unusable.
const (
	CodeInvalidToken         = "messaging/invalid-registration-token"
	CodeNotRegistered        = "messaging/registration-token-not-registered"
	CodeMismatchedCredential = "messaging/mismatched-credential"

	CodeInvalidArgument = "messaging/invalid-argument"
	CodeUnavailable     = "messaging/server-unavailable"
	CodeInternal        = "messaging/internal-error"
	CodeQuotaExceeded   = "messaging/message-rate-exceeded"
	CodeThirdPartyAuth  = "messaging/third-party-auth-error"
	CodeUnknown         = "messaging/unknown-error"
)

// Message is one notification addressed to a single device token.
type Message struct {
	Token string
	Title string
	Body  string
	// Badge is the app icon badge to display; nil leaves it unchanged.
	Badge *int
	Data  map[string]string
	// Silent sends a content-available push with no visible alert.
	Silent bool
}

// Gateway sends messages to devices. Failures should be *Error values so
// Classify can tell an unusable token from a transient failure.
type Gateway interface {
	// Send delivers msg and returns the gateway's message ID.
	Send(ctx context.Context, msg Message) (string, error)
	// DryRun validates a token without delivering anything.
	DryRun(ctx context.Context, token string) error
}

// Error is a gateway rejection carrying its error code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// TokenPrefix returns the first 10 characters of a token followed by "...",
// the only form of a token that is logged or persisted in telemetry.
func TokenPrefix(token string) string {
	if len(token) <= 10 {
		return token + "..."
	}
	return token[:10] + "..."
}
