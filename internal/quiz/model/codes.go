// SPDX-License-Identifier: MIT

package model

import (
	"errors"
	"fmt"
)

// Code is the stable, client-visible error taxonomy.
type Code string

const (
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeSessionEnded        Code = "SESSION_ENDED"
	CodeSessionExpired      Code = "SESSION_EXPIRED"
	CodeSessionStarted      Code = "SESSION_STARTED"
	CodeParticipantNotFound Code = "PARTICIPANT_NOT_FOUND"
	CodeParticipantBanned   Code = "PARTICIPANT_BANNED"
	CodeInvalidJoinCode     Code = "INVALID_JOIN_CODE"
	CodeProfanityDetected   Code = "PROFANITY_DETECTED"
	CodeNicknameTaken       Code = "NICKNAME_TAKEN"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeMissingToken        Code = "MISSING_TOKEN"
	CodeExpiredToken        Code = "EXPIRED_TOKEN"
	CodeInvalidRole         Code = "INVALID_ROLE"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalid             Code = "INVALID"
	CodeTimeExpired         Code = "TIME_EXPIRED"
	CodeAlreadySubmitted    Code = "ALREADY_SUBMITTED"
	CodeInvalidQuestion     Code = "INVALID_QUESTION"
	CodeInternal            Code = "INTERNAL"
)

// Error pairs a taxonomy code with a human-readable message. It is the only
// error shape emitted to clients.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a coded error.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, defaulting to INTERNAL.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}
