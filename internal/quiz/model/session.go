// SPDX-License-Identifier: MIT

// Package model defines the entities, states, event payloads and error codes
// shared by the quiz engine components.
package model

import "time"

// SessionState is the lifecycle phase of a session. Transitions are strictly
// forward; ENDED is terminal.
type SessionState string

const (
	StateLobby          SessionState = "LOBBY"
	StateActiveQuestion SessionState = "ACTIVE_QUESTION"
	StateReveal         SessionState = "REVEAL"
	StateEnded          SessionState = "ENDED"
)

// IsTerminal reports whether no further transitions are permitted.
func (s SessionState) IsTerminal() bool {
	return s == StateEnded
}

// Valid reports whether s is a known state.
func (s SessionState) Valid() bool {
	switch s {
	case StateLobby, StateActiveQuestion, StateReveal, StateEnded:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from s to
// next. Self-transitions are not transitions and return false.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case StateLobby:
		return next == StateActiveQuestion || next == StateEnded
	case StateActiveQuestion:
		return next == StateReveal || next == StateEnded
	case StateReveal:
		return next == StateActiveQuestion || next == StateEnded
	case StateEnded:
		return false
	}
	return false
}

// ExamSettings holds the optional exam-mode policy toggles for a session.
type ExamSettings struct {
	NegativeMarkingEnabled    bool    `json:"negativeMarkingEnabled"`
	NegativeMarkingPercentage float64 `json:"negativeMarkingPercentage"`
	FocusMonitoringEnabled    bool    `json:"focusMonitoringEnabled"`
	SkipReveal                bool    `json:"skipReveal"`
}

// Session is one live run of a quiz. The ephemeral store is authoritative for
// its state while the session runs; the durable record is written on every
// transition.
type Session struct {
	SessionID            string       `json:"sessionId"`
	JoinCode             string       `json:"joinCode"`
	QuizID               string       `json:"quizId"`
	HostID               string       `json:"hostId"`
	State                SessionState `json:"state"`
	CurrentQuestionIndex int          `json:"currentQuestionIndex"` // -1 before the first question
	CurrentQuestionID    string       `json:"currentQuestionId,omitempty"`
	QuestionStartTime    int64        `json:"questionStartTime,omitempty"` // unix millis
	TimerEndTime         int64        `json:"timerEndTime,omitempty"`      // unix millis
	ParticipantCount     int          `json:"participantCount"`
	AllowLateJoiners     bool         `json:"allowLateJoiners"`
	ExamSettings         ExamSettings `json:"examSettings"`
	VoidedQuestions      []string     `json:"voidedQuestions,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	EndedAt              *time.Time   `json:"endedAt,omitempty"`
}

// IsVoided reports whether the given question has been voided.
func (s *Session) IsVoided(questionID string) bool {
	for _, id := range s.VoidedQuestions {
		if id == questionID {
			return true
		}
	}
	return false
}

// Void records a question as voided. Idempotent.
func (s *Session) Void(questionID string) {
	if !s.IsVoided(questionID) {
		s.VoidedQuestions = append(s.VoidedQuestions, questionID)
	}
}
