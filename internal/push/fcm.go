package push

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// androidChannel is the notification channel the mobile app registers.
const androidChannel = "danoggin_alerts"

// FCM is a Gateway backed by Firebase Cloud Messaging.
type FCM struct {
	client *messaging.Client
	logger *slog.Logger
}

// NewFCM builds a messaging client from an initialized Firebase app.
func NewFCM(ctx context.Context, app *firebase.App, logger *slog.Logger) (*FCM, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	logger.Info("FCM client initialized")
	return &FCM{client: client, logger: logger}, nil
}

func (f *FCM) Send(ctx context.Context, msg Message) (string, error) {
	id, err := f.client.Send(ctx, buildMessage(msg))
	if err != nil {
		return "", translate(err)
	}
	f.logger.Debug("FCM message sent", "token_prefix", TokenPrefix(msg.Token), "message_id", id)
	return id, nil
}

// DryRun validates a token by sending a fully formed message in dry-run
// mode. Nothing reaches the device.
func (f *FCM) DryRun(ctx context.Context, token string) error {
	_, err := f.client.SendDryRun(ctx, buildMessage(Message{
		Token: token,
		Title: "Test",
		Body:  "Token validation test",
	}))
	if err != nil {
		return translate(err)
	}
	return nil
}

func buildMessage(m Message) *messaging.Message {
	msg := &messaging.Message{Token: m.Token, Data: m.Data}
	aps := &messaging.Aps{Badge: m.Badge}

	if m.Silent {
		aps.ContentAvailable = true
		data := map[string]string{}
		if m.Badge != nil {
			data["badgeCount"] = strconv.Itoa(*m.Badge)
		}
		msg.Android = &messaging.AndroidConfig{Data: data}
	} else {
		msg.Notification = &messaging.Notification{Title: m.Title, Body: m.Body}
		aps.Sound = "default"
		aps.Alert = &messaging.ApsAlert{Title: m.Title, Body: m.Body}
		msg.Android = &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				ChannelID: androidChannel,
			},
		}
	}

	msg.APNS = &messaging.APNSConfig{Payload: &messaging.APNSPayload{Aps: aps}}
	return msg
}

// translate maps SDK errors onto gateway codes.
func translate(err error) *Error {
	code := CodeUnknown
	switch {
	case messaging.IsUnregistered(err):
		code = CodeNotRegistered
	case messaging.IsSenderIDMismatch(err):
		code = CodeMismatchedCredential
	case messaging.IsInvalidArgument(err):
		// INVALID_ARGUMENT covers malformed payloads as well as bad tokens.
		code = CodeInvalidArgument
		if strings.Contains(strings.ToLower(err.Error()), "registration token") {
			code = CodeInvalidToken
		}
	case messaging.IsQuotaExceeded(err):
		code = CodeQuotaExceeded
	case messaging.IsUnavailable(err):
		code = CodeUnavailable
	case messaging.IsInternal(err):
		code = CodeInternal
	case messaging.IsThirdPartyAuthError(err):
		code = CodeThirdPartyAuth
	}
	return &Error{Code: code, Message: err.Error()}
}
