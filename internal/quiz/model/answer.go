// SPDX-License-Identifier: MIT

package model

// Submission is the raw inbound answer from a participant, before
// validation and scoring.
type Submission struct {
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptions"`
	AnswerText        string   `json:"answerText,omitempty"`
	AnswerNumber      *float64 `json:"answerNumber,omitempty"`
	ClientTimestamp   int64    `json:"clientTimestamp"`
}

// Answer is a scored submission. At most one non-voided scored Answer exists
// per (session, participant, question).
type Answer struct {
	AnswerID          string   `json:"answerId"`
	SessionID         string   `json:"sessionId"`
	ParticipantID     string   `json:"participantId"`
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptionIds"`
	AnswerText        string   `json:"answerText,omitempty"`
	AnswerNumber      *float64 `json:"answerNumber,omitempty"`
	ClientTimestamp   int64    `json:"clientTimestamp"`
	ServerReceivedAt  int64    `json:"serverReceivedAt"`
	ResponseTimeMs    int64    `json:"responseTimeMs"`
	IsCorrect         bool     `json:"isCorrect"`
	PointsEarned      int      `json:"pointsEarned"` // may be negative under negative marking
	SpeedBonus        int      `json:"speedBonus"`
	StreakBonus       int      `json:"streakBonus"`
}
