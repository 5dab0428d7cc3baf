// SPDX-License-Identifier: MIT

package model

import "encoding/json"

// EventType tags every frame on the wire. Inbound and outbound types share
// one namespace; dispatch is by tag.
type EventType string

// Inbound event types.
const (
	EvAuthenticate     EventType = "authenticate"
	EvReconnectSession EventType = "reconnect_session"
	EvSubmitAnswer     EventType = "submit_answer"
	EvFocusLost        EventType = "focus_lost"
	EvFocusRegained    EventType = "focus_regained"
	EvStartQuiz        EventType = "start_quiz"
	EvNextQuestion     EventType = "next_question"
	EvEndQuiz          EventType = "end_quiz"
	EvVoidQuestion     EventType = "void_question"
	EvSkipQuestion     EventType = "skip_question"
	EvPauseTimer       EventType = "pause_timer"
	EvResumeTimer      EventType = "resume_timer"
	EvResetTimer       EventType = "reset_timer"
	EvKickParticipant  EventType = "kick_participant"
	EvBanParticipant   EventType = "ban_participant"
	EvToggleLateJoin   EventType = "toggle_late_joiners"
)

// Outbound event types.
const (
	EvAuthenticated       EventType = "authenticated"
	EvAuthError           EventType = "auth_error"
	EvLobbyState          EventType = "lobby_state"
	EvQuizStarted         EventType = "quiz_started"
	EvQuestionStarted     EventType = "question_started"
	EvTimerTick           EventType = "timer_tick"
	EvRevealAnswers       EventType = "reveal_answers"
	EvAnswerAccepted      EventType = "answer_accepted"
	EvAnswerRejected      EventType = "answer_rejected"
	EvAnswerResult        EventType = "answer_result"
	EvLeaderboardUpdated  EventType = "leaderboard_updated"
	EvScoreUpdated        EventType = "score_updated"
	EvEliminated          EventType = "eliminated"
	EvParticipantJoined   EventType = "participant_joined"
	EvParticipantLeft     EventType = "participant_left"
	EvParticipantKicked   EventType = "participant_kicked"
	EvKicked              EventType = "kicked"
	EvBanned              EventType = "banned"
	EvAnswerCountUpdated  EventType = "answer_count_updated"
	EvParticipantStatus   EventType = "participant_status_changed"
	EvParticipantFocus    EventType = "participant_focus_changed"
	EvQuestionVoided      EventType = "question_voided"
	EvVoidQuestionAck     EventType = "void_question_ack"
	EvQuestionSkipped     EventType = "question_skipped"
	EvTimerExpired        EventType = "timer_expired"
	EvSessionRecovered    EventType = "session_recovered"
	EvRecoveryFailed      EventType = "recovery_failed"
	EvRateLimitExceeded   EventType = "rate_limit_exceeded"
	EvError               EventType = "error"
	EvSessionEnded        EventType = "session_ended"
	EvLateJoinersToggled  EventType = "late_joiners_toggled"
	EvTimerPaused         EventType = "timer_paused"
	EvTimerResumed        EventType = "timer_resumed"
	EvTimerReset          EventType = "timer_reset"
)

// Envelope is the wire frame: a tag plus a type-specific payload.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. Marshal failures are
// programming errors and surface as an empty payload.
func NewEnvelope(t EventType, payload any) Envelope {
	if payload == nil {
		return Envelope{Type: t}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{Type: t}
	}
	return Envelope{Type: t, Payload: raw}
}

// --- Inbound payloads ---

type AuthenticatePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
	Role      Role   `json:"role"`
}

type ReconnectPayload struct {
	SessionID           string `json:"sessionId"`
	ParticipantID       string `json:"participantId"`
	LastKnownQuestionID string `json:"lastKnownQuestionId,omitempty"`
}

type FocusLostPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type FocusRegainedPayload struct {
	Timestamp  int64 `json:"timestamp"`
	DurationMs int64 `json:"durationMs"`
}

type VoidQuestionPayload struct {
	QuestionID string `json:"questionId"`
	Reason     string `json:"reason"`
}

type SkipQuestionPayload struct {
	Reason string `json:"reason,omitempty"`
}

type ResetTimerPayload struct {
	NewTimeLimit int `json:"newTimeLimit"` // seconds
}

type KickPayload struct {
	ParticipantID string `json:"participantId"`
	Reason        string `json:"reason"`
}

type ToggleLateJoinPayload struct {
	AllowLateJoiners bool `json:"allowLateJoiners"`
}

// --- Outbound payloads ---

type QuestionStartedPayload struct {
	QuestionIndex  int       `json:"questionIndex"`
	TotalQuestions int       `json:"totalQuestions"`
	Question       *Question `json:"question"` // sanitized, no isCorrect
	StartTime      int64     `json:"startTime"`
	EndTime        int64     `json:"endTime"`
}

type TimerTickPayload struct {
	QuestionID       string `json:"questionId"`
	RemainingSeconds int    `json:"remainingSeconds"`
	ServerTime       int64  `json:"serverTime"`
}

// OptionStat is the per-option answer distribution shown on reveal.
type OptionStat struct {
	OptionID string `json:"optionId"`
	Count    int    `json:"count"`
}

type AnswerStatistics struct {
	Answered int          `json:"answered"`
	Total    int          `json:"total"`
	Options  []OptionStat `json:"options,omitempty"`
}

type RevealPayload struct {
	QuestionID      string           `json:"questionId"`
	CorrectOptions  []string         `json:"correctOptions,omitempty"`
	ExplanationText string           `json:"explanationText,omitempty"`
	Statistics      AnswerStatistics `json:"statistics"`
}

type AnswerAcceptedPayload struct {
	QuestionID     string `json:"questionId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

type AnswerRejectedPayload struct {
	QuestionID string `json:"questionId"`
	Reason     Code   `json:"reason"`
	RetryAfter int    `json:"retryAfter,omitempty"` // seconds, RATE_LIMITED only
}

type AnswerResultPayload struct {
	QuestionID   string `json:"questionId"`
	IsCorrect    bool   `json:"isCorrect"`
	PointsEarned int    `json:"pointsEarned"`
	SpeedBonus   int    `json:"speedBonus"`
	StreakBonus  int    `json:"streakBonus"`
	TotalScore   int    `json:"totalScore"`
	StreakCount  int    `json:"streakCount"`
}

// LeaderboardEntry is the derived ranked view of one participant.
type LeaderboardEntry struct {
	ParticipantID     string `json:"participantId"`
	Nickname          string `json:"nickname"`
	TotalScore        int    `json:"totalScore"`
	TotalTimeMs       int64  `json:"totalTimeMs"`
	StreakCount       int    `json:"streakCount"`
	Rank              int    `json:"rank"`
	LastQuestionScore int    `json:"lastQuestionScore"`
}

type LeaderboardPayload struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	TopN        int                `json:"topN"`
	Sequence    uint64             `json:"sequence"`
}

type AnswerCountPayload struct {
	QuestionID string `json:"questionId"`
	Answered   int    `json:"answered"`
	Total      int    `json:"total"`
}

type ParticipantEventPayload struct {
	ParticipantID    string `json:"participantId"`
	Nickname         string `json:"nickname"`
	ParticipantCount int    `json:"participantCount"`
	Reason           string `json:"reason,omitempty"`
}

type FocusChangedPayload struct {
	ParticipantID   string `json:"participantId"`
	Nickname        string `json:"nickname"`
	Focused         bool   `json:"focused"`
	Count           int    `json:"count"`
	TotalLostTimeMs int64  `json:"totalLostTimeMs"`
}

type QuestionVoidedPayload struct {
	QuestionID string `json:"questionId"`
	Reason     string `json:"reason"`
}

// RecoverySnapshot reconstructs a participant's view after reconnect.
type RecoverySnapshot struct {
	CurrentState       SessionState       `json:"currentState"`
	CurrentQuestion    *Question          `json:"currentQuestion,omitempty"` // sanitized
	RemainingTime      int                `json:"remainingTime"`             // seconds
	TotalScore         int                `json:"totalScore"`
	Rank               int                `json:"rank"`
	Leaderboard        []LeaderboardEntry `json:"leaderboard"`
	StreakCount        int                `json:"streakCount"`
	IsEliminated       bool               `json:"isEliminated"`
	IsSpectator        bool               `json:"isSpectator"`
	HasAnsweredCurrent bool               `json:"hasAnsweredCurrentQuestion"`
}

type RecoveryFailedPayload struct {
	Reason Code `json:"reason"`
}

type AuthenticatedPayload struct {
	SessionID     string `json:"sessionId"`
	Role          Role   `json:"role"`
	ParticipantID string `json:"participantId,omitempty"`
}

// LobbyParticipant is the roster row sent in lobby_state.
type LobbyParticipant struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	IsActive      bool   `json:"isActive"`
}

type LobbyStatePayload struct {
	SessionID        string             `json:"sessionId"`
	JoinCode         string             `json:"joinCode"`
	State            SessionState       `json:"state"`
	AllowLateJoiners bool               `json:"allowLateJoiners"`
	Participants     []LobbyParticipant `json:"participants"`
}

type QuestionSkippedPayload struct {
	QuestionID string `json:"questionId"`
	Reason     string `json:"reason,omitempty"`
}

// TimerControlPayload announces pause/resume/reset outcomes.
type TimerControlPayload struct {
	QuestionID       string `json:"questionId"`
	RemainingSeconds int    `json:"remainingSeconds"`
	EndTime          int64  `json:"endTime,omitempty"` // unix millis, absent while paused
}

type ScoreUpdatedPayload struct {
	TotalScore  int `json:"totalScore"`
	Rank        int `json:"rank"`
	StreakCount int `json:"streakCount"`
}

type SessionEndedPayload struct {
	Reason      string             `json:"reason,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type ErrorPayload struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}
