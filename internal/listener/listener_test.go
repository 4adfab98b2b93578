package listener

import (
	"testing"
	"time"
)

func TestParseCheckIn(t *testing.T) {
	payload := `{"check_in_id":"9b2f","responder_id":"r1","result":"missed","prompt":"Which day?","timestamp":"2026-03-10T09:05:00.123456+00:00"}`

	c, err := ParseCheckIn([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "9b2f" || c.ResponderID != "r1" || c.Result != "missed" || c.Prompt != "Which day?" {
		t.Errorf("check-in = %+v", c)
	}
	want := time.Date(2026, 3, 10, 9, 5, 0, 123456000, time.UTC)
	if !c.Timestamp.Equal(want) {
		t.Errorf("timestamp = %s, want %s", c.Timestamp, want)
	}
}

func TestParseCheckInRejectsIncomplete(t *testing.T) {
	for _, payload := range []string{
		`{"responder_id":"r1"}`,
		`{"result":"missed"}`,
		`not json`,
	} {
		if _, err := ParseCheckIn([]byte(payload)); err == nil {
			t.Errorf("ParseCheckIn(%s) should fail", payload)
		}
	}
}
