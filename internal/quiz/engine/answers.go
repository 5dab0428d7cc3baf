// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"strings"
	"time"

	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/metrics"
	"github.com/quizwire/quizwire/internal/quiz/model"
	"github.com/quizwire/quizwire/internal/quiz/scorer"
	"github.com/quizwire/quizwire/internal/store"
)

// SubmitAnswer runs the submission pipeline on the session actor. Outcomes
// are delivered to the participant as private events; the returned error is
// only for transport-level failures.
func (c *Coordinator) SubmitAnswer(ctx context.Context, participantID string, sub model.Submission) error {
	return c.call(func() error {
		c.processAnswer(ctx, participantID, sub)
		return nil
	})
}

// processAnswer is the ordered validation and scoring pipeline. Every exit
// before scoring emits answer_rejected with a taxonomy code.
func (c *Coordinator) processAnswer(ctx context.Context, participantID string, sub model.Submission) {
	started := time.Now()

	reject := func(code model.Code, retryAfter time.Duration) {
		payload := model.AnswerRejectedPayload{QuestionID: sub.QuestionID, Reason: code}
		if retryAfter > 0 {
			payload.RetryAfter = int((retryAfter + time.Second - 1) / time.Second)
		}
		c.sendTo(participantID, model.NewEnvelope(model.EvAnswerRejected, payload))
		c.eng.deps.Trail.AnswerRejected(c.sess.SessionID, participantID, sub.QuestionID, string(code))
		metrics.IncAnswer(string(code))
	}

	p, ok := c.participants[participantID]
	if !ok {
		reject(model.CodeParticipantNotFound, 0)
		return
	}
	// eliminated participants stay connected as spectators
	if p.IsEliminated {
		reject(model.CodeInvalid, 0)
		return
	}

	// timing: server receive time against the deadline plus grace. An
	// answer inside the grace window is accepted even if the deadline
	// already flipped the session to REVEAL.
	nowMs := c.eng.deps.Clock.Now().UnixMilli()
	inGrace := c.sess.TimerEndTime > 0 && nowMs <= c.sess.TimerEndTime+c.eng.cfg.AnswerGrace.Milliseconds()

	switch c.sess.State {
	case model.StateActiveQuestion:
	case model.StateReveal:
		if !inGrace {
			reject(model.CodeTimeExpired, 0)
			return
		}
	default:
		reject(model.CodeInvalidQuestion, 0)
		return
	}
	if sub.QuestionID != c.sess.CurrentQuestionID {
		reject(model.CodeInvalidQuestion, 0)
		return
	}
	if c.sess.IsVoided(sub.QuestionID) {
		reject(model.CodeInvalidQuestion, 0)
		return
	}
	q := c.quiz.QuestionAt(c.sess.CurrentQuestionIndex)

	if !inGrace {
		reject(model.CodeTimeExpired, 0)
		return
	}

	// duplicate guard: actor-local set first, the fixed window in the
	// ephemeral store backs it across reconnects
	if c.answered[participantID] {
		reject(model.CodeAlreadySubmitted, 0)
		return
	}
	if res := c.eng.deps.Limiter.CheckAnswer(ctx, participantID, sub.QuestionID); !res.Allowed {
		reject(model.CodeAlreadySubmitted, res.RetryAfter)
		return
	}

	if !validShape(q, sub) {
		reject(model.CodeInvalid, 0)
		return
	}

	responseTime := nowMs - c.sess.QuestionStartTime
	if responseTime < 0 {
		responseTime = 0
	}
	if max := int64(q.TimeLimit) * 1000; responseTime > max {
		responseTime = max
	}

	result := scorer.Score(scorer.Input{
		Question:       q,
		SelectedIDs:    sub.SelectedOptionIDs,
		AnswerText:     sub.AnswerText,
		AnswerNumber:   sub.AnswerNumber,
		ResponseTimeMs: responseTime,
		StreakBefore:   p.StreakCount,
		Settings:       c.sess.ExamSettings,
	})

	answer := &model.Answer{
		AnswerID:          newID(),
		SessionID:         c.sess.SessionID,
		ParticipantID:     participantID,
		QuestionID:        q.QuestionID,
		SelectedOptionIDs: sub.SelectedOptionIDs,
		AnswerText:        sub.AnswerText,
		AnswerNumber:      sub.AnswerNumber,
		ClientTimestamp:   sub.ClientTimestamp,
		ServerReceivedAt:  nowMs,
		ResponseTimeMs:    responseTime,
		IsCorrect:         result.IsCorrect,
		PointsEarned:      result.PointsEarned,
		SpeedBonus:        result.SpeedBonus,
		StreakBonus:       result.StreakBonus,
	}

	dctx, cancel := context.WithTimeout(ctx, durableTimeout)
	err := c.eng.deps.Durable.UpsertAnswer(dctx, answer)
	cancel()
	if err != nil {
		// the answer window is released so the client may retry
		_ = c.eng.deps.Limiter.ResetAnswer(ctx, participantID, sub.QuestionID)
		c.logger.Error().Err(err).
			Str(xglog.FieldParticipantID, participantID).
			Str(xglog.FieldQuestionID, q.QuestionID).
			Msg("answer persist failed")
		reject(model.CodeInternal, 0)
		return
	}

	// aggregates: the answer is committed, everything from here is applied
	p.TotalScore += result.PointsEarned
	if p.TotalScore < 0 {
		p.TotalScore = 0
	}
	p.TotalTimeMs += responseTime
	if result.IsCorrect {
		p.StreakCount++
	} else {
		p.StreakCount = 0
	}
	c.lastScore[participantID] = result.PointsEarned
	if err := c.persistParticipant(ctx, p); err != nil {
		c.logger.Warn().Err(err).Msg("aggregate persist failed")
	}

	c.answered[participantID] = true
	ectx, cancel := context.WithTimeout(ctx, ephemeralTimeout)
	if err := c.eng.deps.Ephemeral.SAdd(ectx, store.AnsweredSetKey(c.sess.SessionID, q.QuestionID), participantID); err != nil {
		c.logger.Warn().Err(err).Msg("answered set update failed")
	}
	cancel()

	if _, err := c.eng.board.Update(ctx, c.sess.SessionID, participantID, p.TotalScore, p.TotalTimeMs); err != nil {
		c.logger.Warn().Err(err).Msg("leaderboard update failed")
	}

	// emit order: receipt, result, aggregate counters
	c.sendTo(participantID, model.NewEnvelope(model.EvAnswerAccepted, model.AnswerAcceptedPayload{
		QuestionID:     q.QuestionID,
		ResponseTimeMs: responseTime,
	}))
	c.sendTo(participantID, model.NewEnvelope(model.EvAnswerResult, model.AnswerResultPayload{
		QuestionID:   q.QuestionID,
		IsCorrect:    result.IsCorrect,
		PointsEarned: result.PointsEarned,
		SpeedBonus:   result.SpeedBonus,
		StreakBonus:  result.StreakBonus,
		TotalScore:   p.TotalScore,
		StreakCount:  p.StreakCount,
	}))
	c.broadcastRoles(model.NewEnvelope(model.EvAnswerCountUpdated, model.AnswerCountPayload{
		QuestionID: q.QuestionID,
		Answered:   len(c.answered),
		Total:      c.sess.ParticipantCount,
	}), model.RoleController, model.RoleBigscreen)
	c.eng.coal.Trigger(c.sess.SessionID)

	metrics.IncAnswer("accepted")
	metrics.ObserveAnswerProcessing(time.Since(started))
}

// validShape checks that the submission matches the question type before any
// scoring happens.
func validShape(q *model.Question, sub model.Submission) bool {
	switch q.QuestionType {
	case model.MultipleChoice, model.TrueFalse:
		if len(sub.SelectedOptionIDs) != 1 {
			return false
		}
		return q.HasOption(sub.SelectedOptionIDs[0])

	case model.MultipleChoiceMulti:
		if len(sub.SelectedOptionIDs) == 0 || len(sub.SelectedOptionIDs) > len(q.Options) {
			return false
		}
		for _, id := range sub.SelectedOptionIDs {
			if !q.HasOption(id) {
				return false
			}
		}
		return true

	case model.NumberInput:
		return sub.AnswerNumber != nil

	case model.OpenEnded:
		return strings.TrimSpace(sub.AnswerText) != ""
	}
	return false
}

// VoidQuestion retroactively removes a question from scoring: every stored
// answer's contribution is reverted, streaks are recomputed without it, and
// the leaderboard is rebuilt.
func (c *Coordinator) VoidQuestion(ctx context.Context, actor, questionID, reason string) error {
	return c.call(func() error {
		if c.sess.State == model.StateEnded {
			return model.NewError(model.CodeSessionEnded, "session has ended")
		}
		var q *model.Question
		for i := range c.quiz.Questions {
			if c.quiz.Questions[i].QuestionID == questionID {
				q = &c.quiz.Questions[i]
				break
			}
		}
		if q == nil {
			return model.NewError(model.CodeInvalidQuestion, "unknown question %s", questionID)
		}
		if c.sess.IsVoided(questionID) {
			return model.NewError(model.CodeInvalid, "question already voided")
		}

		dctx, cancel := context.WithTimeout(ctx, durableTimeout)
		answers, err := c.eng.deps.Durable.ListAnswers(dctx, c.sess.SessionID, questionID)
		cancel()
		if err != nil {
			return model.NewError(model.CodeInternal, "answers could not be loaded")
		}

		c.sess.Void(questionID)
		if err := c.persistSession(ctx); err != nil {
			return model.NewError(model.CodeInternal, "void could not be persisted")
		}
		c.mirrorSessionState(ctx)

		for _, a := range answers {
			p, ok := c.participants[a.ParticipantID]
			if !ok {
				continue // kicked since answering; durable record stays as history
			}
			p.TotalScore -= a.PointsEarned
			if p.TotalScore < 0 {
				p.TotalScore = 0
			}
			p.TotalTimeMs -= a.ResponseTimeMs
			if p.TotalTimeMs < 0 {
				p.TotalTimeMs = 0
			}
			p.StreakCount = c.recomputeStreak(ctx, p.ParticipantID)

			if err := c.persistParticipant(ctx, p); err != nil {
				c.logger.Warn().Err(err).Msg("void aggregate persist failed")
			}
			if _, err := c.eng.board.Update(ctx, c.sess.SessionID, p.ParticipantID, p.TotalScore, p.TotalTimeMs); err != nil {
				c.logger.Warn().Err(err).Msg("void leaderboard update failed")
			}
			delete(c.lastScore, p.ParticipantID)

			rank, err := c.eng.board.Rank(ctx, c.sess.SessionID, p.ParticipantID)
			if err != nil {
				rank = 0
			}
			c.sendTo(p.ParticipantID, model.NewEnvelope(model.EvScoreUpdated, model.ScoreUpdatedPayload{
				TotalScore:  p.TotalScore,
				Rank:        rank,
				StreakCount: p.StreakCount,
			}))
		}

		c.broadcast(model.NewEnvelope(model.EvQuestionVoided, model.QuestionVoidedPayload{
			QuestionID: questionID,
			Reason:     reason,
		}))
		c.sendVoidAck(questionID)
		c.eng.coal.Trigger(c.sess.SessionID)

		c.eng.deps.Trail.QuestionVoided(actor, c.sess.SessionID, questionID, len(answers))
		return nil
	})
}

func (c *Coordinator) sendVoidAck(questionID string) {
	c.broadcastRoles(model.NewEnvelope(model.EvVoidQuestionAck, model.QuestionVoidedPayload{
		QuestionID: questionID,
	}), model.RoleController)
}

// recomputeStreak rebuilds a participant's streak from their answer history
// in quiz order, skipping voided questions.
func (c *Coordinator) recomputeStreak(ctx context.Context, participantID string) int {
	dctx, cancel := context.WithTimeout(ctx, durableTimeout)
	answers, err := c.eng.deps.Durable.ListParticipantAnswers(dctx, c.sess.SessionID, participantID)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).
			Str(xglog.FieldParticipantID, participantID).
			Msg("streak recompute failed, keeping zero")
		return 0
	}

	byQuestion := make(map[string]*model.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	// walk answered questions in quiz order; the streak is the run of
	// correct answers ending at the most recent scored question
	streak := 0
	for i := 0; i <= c.sess.CurrentQuestionIndex && i < len(c.quiz.Questions); i++ {
		q := &c.quiz.Questions[i]
		if c.sess.IsVoided(q.QuestionID) {
			continue
		}
		a, ok := byQuestion[q.QuestionID]
		if !ok {
			if i == c.sess.CurrentQuestionIndex && c.sess.State == model.StateActiveQuestion {
				continue // still answerable, no verdict yet
			}
			streak = 0
			continue
		}
		if !a.IsCorrect {
			streak = 0
			continue
		}
		streak++
	}
	return streak
}
