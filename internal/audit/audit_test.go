// SPDX-License-Identifier: MIT

package audit

import (
	"testing"
	"time"
)

type memSink struct {
	events []Event
}

func (m *memSink) Append(e Event) error { m.events = append(m.events, e); return nil }
func (m *memSink) Close() error         { return nil }

func TestLogSetsTimestamp(t *testing.T) {
	sink := &memSink{}
	trail := New(sink)

	trail.Log(Event{Type: EventSessionCreated, Actor: "system", Action: "created session", Result: "success"})

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if sink.events[0].Timestamp.IsZero() {
		t.Error("timestamp must be set")
	}
}

func TestRedaction(t *testing.T) {
	sink := &memSink{}
	trail := New(sink)

	trail.Log(Event{
		Type:   EventAuthFailure,
		Actor:  "1.2.3.4",
		Action: "authentication failed",
		Result: "failure",
		Details: map[string]string{
			"token":      "deadbeef",
			"auth_token": "cafebabe",
			"reason":     "expired",
		},
	})

	got := sink.events[0].Details
	if got["token"] != "***redacted***" || got["auth_token"] != "***redacted***" {
		t.Errorf("token details must be redacted: %v", got)
	}
	if got["reason"] != "expired" {
		t.Errorf("non-sensitive detail mangled: %v", got)
	}
}

func TestHelpers(t *testing.T) {
	sink := &memSink{}
	trail := New(sink)

	trail.SessionCreated("host1", "s1", "ABC123")
	trail.StateChanged("host1", "s1", "LOBBY", "ACTIVE_QUESTION")
	trail.ParticipantJoined("s1", "p1", "Ana", "1.2.3.4")
	trail.QuestionVoided("host1", "s1", "q1", 7)
	trail.AnswerRejected("s1", "p1", "q1", "TOO_LATE")

	if len(sink.events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(sink.events))
	}
	if sink.events[1].Details["new_state"] != "ACTIVE_QUESTION" {
		t.Errorf("state change detail: %v", sink.events[1].Details)
	}
	if sink.events[3].Details["answers_reverted"] != "7" {
		t.Errorf("void detail: %v", sink.events[3].Details)
	}
}

func TestBadgerSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewBadgerSink(dir)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}

	trail := New(sink)
	trail.SessionCreated("host1", "s1", "ABC123")
	time.Sleep(time.Millisecond) // distinct nanos keeps key order deterministic
	trail.ParticipantJoined("s1", "p1", "Ana", "1.2.3.4")

	// Close drains the write queue
	if err := trail.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewBadgerSink(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close() //nolint:errcheck

	events, err := reopened.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventSessionCreated || events[1].Type != EventParticipantJoined {
		t.Errorf("chronological order lost: %+v", events)
	}
}
