// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/quizwire/quizwire/internal/quiz/engine"
	"github.com/quizwire/quizwire/internal/quiz/model"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform error envelope for every non-2xx response.
type errorBody struct {
	Code    model.Code `json:"code"`
	Message string     `json:"message"`
}

// writeCoded maps an engine error onto an HTTP status plus the taxonomy body.
// Rate-limited errors additionally carry a Retry-After header.
func writeCoded(w http.ResponseWriter, err error) {
	var rl *engine.RateLimitedError
	if errors.As(err, &rl) {
		secs := int((rl.RetryAfter + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	code := model.CodeOf(err)
	msg := err.Error()
	var coded *model.Error
	if errors.As(err, &coded) {
		msg = coded.Message
	}
	writeJSON(w, statusFor(code), errorBody{Code: code, Message: msg})
}

// writeBadRequest writes a plain INVALID response for malformed input.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: model.CodeInvalid, Message: msg})
}

// writeServiceUnavailable writes a 503 response.
func writeServiceUnavailable(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: model.CodeInternal, Message: err.Error()})
}

// statusFor maps the taxonomy onto HTTP semantics.
func statusFor(code model.Code) int {
	switch code {
	case model.CodeSessionNotFound, model.CodeParticipantNotFound, model.CodeInvalidQuestion:
		return http.StatusNotFound
	case model.CodeSessionEnded, model.CodeSessionExpired:
		return http.StatusGone
	case model.CodeSessionStarted, model.CodeNicknameTaken, model.CodeAlreadySubmitted:
		return http.StatusConflict
	case model.CodeRateLimited:
		return http.StatusTooManyRequests
	case model.CodeMissingToken, model.CodeExpiredToken:
		return http.StatusUnauthorized
	case model.CodeUnauthorized, model.CodeInvalidRole, model.CodeParticipantBanned:
		return http.StatusForbidden
	case model.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
