// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/quiz/model"
)

const requestTimeout = 5 * time.Second

type createSessionRequest struct {
	QuizID           string             `json:"quizId"`
	HostID           string             `json:"hostId"`
	AllowLateJoiners bool               `json:"allowLateJoiners"`
	ExamSettings     model.ExamSettings `json:"examSettings"`
}

type createSessionResponse struct {
	SessionID string             `json:"sessionId"`
	JoinCode  string             `json:"joinCode"`
	State     model.SessionState `json:"state"`
	HostToken string             `json:"hostToken"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	if req.QuizID == "" || req.HostID == "" {
		writeBadRequest(w, "quizId and hostId are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	sess, hostToken, err := s.engine.CreateSession(ctx, req.QuizID, req.HostID, req.ExamSettings, req.AllowLateJoiners)
	if err != nil {
		writeCoded(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.SessionID,
		JoinCode:  sess.JoinCode,
		State:     sess.State,
		HostToken: hostToken,
	})
}

type joinRequest struct {
	JoinCode string `json:"joinCode"`
	Nickname string `json:"nickname"`
}

type joinResponse struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	Token         string `json:"token"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	p, token, err := s.engine.Join(ctx, req.JoinCode, req.Nickname, clientIP(r))
	if err != nil {
		writeCoded(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, joinResponse{
		SessionID:     p.SessionID,
		ParticipantID: p.ParticipantID,
		Nickname:      p.Nickname,
		Token:         token,
	})
}

// handleCreateQuiz stores an authored quiz. Authoring is write-once here;
// editing happens in whatever tool produced the quiz.
func (s *Server) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var quiz model.Quiz
	if err := json.NewDecoder(r.Body).Decode(&quiz); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	if err := validateQuiz(&quiz); err != nil {
		writeCoded(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.durable.PutQuiz(ctx, &quiz); err != nil {
		s.logger.Error().Err(err).Str("quiz_id", quiz.QuizID).Msg("quiz store failed")
		writeCoded(w, model.NewError(model.CodeInternal, "could not store quiz"))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"quizId": quiz.QuizID})
}

func validateQuiz(quiz *model.Quiz) error {
	if quiz.QuizID == "" {
		return model.NewError(model.CodeInvalid, "quizId is required")
	}
	if len(quiz.Questions) == 0 {
		return model.NewError(model.CodeInvalid, "a quiz needs at least one question")
	}
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		if q.QuestionID == "" || q.QuestionText == "" {
			return model.NewError(model.CodeInvalid, "question %d is missing id or text", i)
		}
		if q.TimeLimit <= 0 {
			return model.NewError(model.CodeInvalid, "question %s needs a positive time limit", q.QuestionID)
		}
		switch q.QuestionType {
		case model.MultipleChoice, model.MultipleChoiceMulti, model.TrueFalse:
			if len(q.Options) < 2 {
				return model.NewError(model.CodeInvalid, "question %s needs at least two options", q.QuestionID)
			}
			if len(q.CorrectOptionIDs()) == 0 {
				return model.NewError(model.CodeInvalid, "question %s has no correct option", q.QuestionID)
			}
		case model.NumberInput, model.OpenEnded:
			if len(q.Options) == 0 {
				return model.NewError(model.CodeInvalid, "question %s needs an answer key option", q.QuestionID)
			}
		default:
			return model.NewError(model.CodeInvalid, "question %s has unknown type %q", q.QuestionID, q.QuestionType)
		}
	}
	return nil
}

// handleHealthz reports liveness of the ephemeral store. The durable store
// has no ping; a failed write surfaces through the error taxonomy instead.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ephemeral.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "health.redis_down").Msg("health check failed")
		writeServiceUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
