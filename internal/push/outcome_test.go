package push

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantCode string
	}{
		{"nil is success", nil, Success, ""},
		{"invalid token", &Error{Code: CodeInvalidToken}, Definitive, CodeInvalidToken},
		{"not registered", &Error{Code: CodeNotRegistered}, Definitive, CodeNotRegistered},
		{"mismatched credential", &Error{Code: CodeMismatchedCredential}, Definitive, CodeMismatchedCredential},
		{"wrapped definitive", fmt.Errorf("send: %w", &Error{Code: CodeNotRegistered}), Definitive, CodeNotRegistered},
		{"unavailable", &Error{Code: CodeUnavailable}, Transient, CodeUnavailable},
		{"invalid argument", &Error{Code: CodeInvalidArgument}, Transient, CodeInvalidArgument},
		{"plain error", errors.New("connection reset"), Transient, CodeUnknown},
		{"deadline", context.DeadlineExceeded, Transient, CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestTokenPrefix(t *testing.T) {
	if got := TokenPrefix("abcdefghijklmnop"); got != "abcdefghij..." {
		t.Errorf("TokenPrefix = %q", got)
	}
	if got := TokenPrefix("short"); got != "short..." {
		t.Errorf("TokenPrefix(short) = %q", got)
	}
}

func TestBuildMessageSilent(t *testing.T) {
	zero := 0
	msg := buildMessage(Message{Token: "tok", Badge: &zero, Silent: true})
	if msg.Notification != nil {
		t.Error("silent message should carry no notification")
	}
	if !msg.APNS.Payload.Aps.ContentAvailable {
		t.Error("silent message should be content-available")
	}
	if msg.Android.Data["badgeCount"] != "0" {
		t.Errorf("android badgeCount = %q, want 0", msg.Android.Data["badgeCount"])
	}
}

func TestBuildMessageAlert(t *testing.T) {
	badge := 3
	msg := buildMessage(Message{Token: "tok", Title: "T", Body: "B", Badge: &badge})
	if msg.Notification == nil || msg.Notification.Title != "T" {
		t.Fatalf("notification = %+v", msg.Notification)
	}
	if got := *msg.APNS.Payload.Aps.Badge; got != 3 {
		t.Errorf("badge = %d, want 3", got)
	}
	if msg.Android.Notification.ChannelID != androidChannel {
		t.Errorf("channel = %q", msg.Android.Notification.ChannelID)
	}
}
