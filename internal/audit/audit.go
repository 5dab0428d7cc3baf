// SPDX-License-Identifier: MIT

// Package audit provides structured audit logging for security-sensitive
// operations. It follows the WHO/WHAT/WHEN pattern: every event names an
// actor, an action and a timestamp. Events are mirrored to the structured
// log and, when a sink is configured, appended to a durable badger log.
package audit

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/quizwire/quizwire/internal/log"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Session lifecycle
	EventSessionCreated      EventType = "session.created"
	EventSessionStateChanged EventType = "session.state_changed"
	EventSessionEnded        EventType = "session.ended"
	EventSessionRecovered    EventType = "session.recovered"

	// Participant lifecycle
	EventParticipantJoined     EventType = "participant.joined"
	EventParticipantKicked     EventType = "participant.kicked"
	EventParticipantBanned     EventType = "participant.banned"
	EventParticipantEliminated EventType = "participant.eliminated"

	// Question control
	EventQuestionVoided  EventType = "question.voided"
	EventQuestionSkipped EventType = "question.skipped"

	// Answers
	EventAnswerRejected EventType = "answer.rejected"

	// Authentication
	EventAuthSuccess EventType = "auth.success"
	EventAuthFailure EventType = "auth.failure"

	// Rate limiting
	EventRateLimitExceeded EventType = "ratelimit.exceeded"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor"`             // WHO: participant id, controller id, IP, or "system"
	Action     string            `json:"action"`            // WHAT: human-readable action description
	SessionID  string            `json:"session_id"`        // Session affected
	Resource   string            `json:"resource"`          // Resource affected (question id, participant id)
	Result     string            `json:"result"`            // success, failure, denied
	RemoteAddr string            `json:"remote_addr"`       // Client IP address
	Details    map[string]string `json:"details,omitempty"` // Additional context
}

// Sink receives finalized audit events for durable storage. Append must be
// safe for concurrent use.
type Sink interface {
	Append(Event) error
	Close() error
}

// Trail writes audit events to the structured log and an optional sink.
type Trail struct {
	logger zerolog.Logger
	sink   Sink
}

// New creates an audit trail with a dedicated "audit" component. sink may be
// nil; events then only go to the structured log.
func New(sink Sink) *Trail {
	auditLogger := xglog.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()

	return &Trail{logger: auditLogger, sink: sink}
}

// redactedDetailKeys never reach the log or the sink verbatim.
var redactedDetailKeys = []string{"token", "password", "secret"}

func redact(details map[string]string) map[string]string {
	if details == nil {
		return nil
	}
	out := make(map[string]string, len(details))
	for k, v := range details {
		lower := strings.ToLower(k)
		redacted := false
		for _, bad := range redactedDetailKeys {
			if strings.Contains(lower, bad) {
				redacted = true
				break
			}
		}
		if redacted {
			out[k] = "***redacted***"
		} else {
			out[k] = v
		}
	}
	return out
}

// Log writes an audit event.
func (t *Trail) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Details = redact(event.Details)

	logEvent := t.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("result", event.Result)

	if event.SessionID != "" {
		logEvent = logEvent.Str(xglog.FieldSessionID, event.SessionID)
	}
	if event.Resource != "" {
		logEvent = logEvent.Str("resource", event.Resource)
	}
	if event.RemoteAddr != "" {
		logEvent = logEvent.Str("remote_addr", event.RemoteAddr)
	}
	for key, value := range event.Details {
		logEvent = logEvent.Str(key, value)
	}
	logEvent.Msg("audit event")

	if t.sink != nil {
		if err := t.sink.Append(event); err != nil {
			t.logger.Error().Err(err).
				Str("event_type", string(event.Type)).
				Msg("audit sink append failed")
		}
	}
}

// Close flushes and closes the sink, if any.
func (t *Trail) Close() error {
	if t.sink == nil {
		return nil
	}
	return t.sink.Close()
}

// SessionCreated logs a new session.
func (t *Trail) SessionCreated(actor, sessionID, joinCode string) {
	t.Log(Event{
		Type:      EventSessionCreated,
		Actor:     actor,
		Action:    "created session",
		SessionID: sessionID,
		Result:    "success",
		Details:   map[string]string{"join_code": joinCode},
	})
}

// StateChanged logs a session state transition.
func (t *Trail) StateChanged(actor, sessionID, oldState, newState string) {
	t.Log(Event{
		Type:      EventSessionStateChanged,
		Actor:     actor,
		Action:    "changed session state",
		SessionID: sessionID,
		Result:    "success",
		Details:   map[string]string{"old_state": oldState, "new_state": newState},
	})
}

// SessionRecovered logs a controller recovery after a crash or restart.
func (t *Trail) SessionRecovered(actor, sessionID, source string, participants int) {
	t.Log(Event{
		Type:      EventSessionRecovered,
		Actor:     actor,
		Action:    "recovered session state",
		SessionID: sessionID,
		Result:    "success",
		Details: map[string]string{
			"source":       source,
			"participants": strconv.Itoa(participants),
		},
	})
}

// ParticipantJoined logs a successful join.
func (t *Trail) ParticipantJoined(sessionID, participantID, nickname, remoteAddr string) {
	t.Log(Event{
		Type:       EventParticipantJoined,
		Actor:      participantID,
		Action:     "joined session",
		SessionID:  sessionID,
		Result:     "success",
		RemoteAddr: remoteAddr,
		Details:    map[string]string{"nickname": nickname},
	})
}

// ParticipantKicked logs a controller-initiated removal.
func (t *Trail) ParticipantKicked(actor, sessionID, participantID, reason string) {
	t.Log(Event{
		Type:      EventParticipantKicked,
		Actor:     actor,
		Action:    "kicked participant",
		SessionID: sessionID,
		Resource:  participantID,
		Result:    "success",
		Details:   map[string]string{"reason": reason},
	})
}

// ParticipantBanned logs a ban. The IP is recorded so the ban list can be
// reconstructed from the trail.
func (t *Trail) ParticipantBanned(actor, sessionID, participantID, remoteAddr string) {
	t.Log(Event{
		Type:       EventParticipantBanned,
		Actor:      actor,
		Action:     "banned participant",
		SessionID:  sessionID,
		Resource:   participantID,
		Result:     "success",
		RemoteAddr: remoteAddr,
	})
}

// QuestionVoided logs a question void with its score impact.
func (t *Trail) QuestionVoided(actor, sessionID, questionID string, answersReverted int) {
	t.Log(Event{
		Type:      EventQuestionVoided,
		Actor:     actor,
		Action:    "voided question",
		SessionID: sessionID,
		Resource:  questionID,
		Result:    "success",
		Details:   map[string]string{"answers_reverted": strconv.Itoa(answersReverted)},
	})
}

// AnswerRejected logs a rejected submission.
func (t *Trail) AnswerRejected(sessionID, participantID, questionID, reason string) {
	t.Log(Event{
		Type:      EventAnswerRejected,
		Actor:     participantID,
		Action:    "answer rejected",
		SessionID: sessionID,
		Resource:  questionID,
		Result:    "denied",
		Details:   map[string]string{"reason": reason},
	})
}

// AuthFailure logs a failed authentication attempt.
func (t *Trail) AuthFailure(remoteAddr, sessionID, reason string) {
	t.Log(Event{
		Type:       EventAuthFailure,
		Actor:      remoteAddr,
		Action:     "authentication failed",
		SessionID:  sessionID,
		Result:     "failure",
		RemoteAddr: remoteAddr,
		Details:    map[string]string{"reason": reason},
	})
}

// RateLimitExceeded logs a rate limit violation.
func (t *Trail) RateLimitExceeded(remoteAddr, scope, identifier string) {
	t.Log(Event{
		Type:       EventRateLimitExceeded,
		Actor:      remoteAddr,
		Action:     "rate limit exceeded",
		Resource:   scope,
		Result:     "denied",
		RemoteAddr: remoteAddr,
		Details:    map[string]string{"identifier": identifier},
	})
}
