// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"encoding/json"
	"errors"

	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/metrics"
	"github.com/quizwire/quizwire/internal/quiz/model"
	"github.com/quizwire/quizwire/internal/store"
)

// Recover restores a participant's session view after a reconnect. The
// lookup falls back from actor memory to the ephemeral mirror to the durable
// record, so a restarted ephemeral store does not strand players. Scoring
// aggregates always come from the most authoritative copy found.
func (c *Coordinator) Recover(ctx context.Context, participantID, socketID string) (model.RecoverySnapshot, error) {
	var snap model.RecoverySnapshot
	err := c.call(func() error {
		if c.sess.State == model.StateEnded {
			metrics.IncRecovery("failed")
			return model.NewError(model.CodeSessionEnded, "session has ended")
		}

		p, source, err := c.locateParticipant(ctx, participantID)
		if err != nil {
			metrics.IncRecovery("failed")
			return err
		}
		if p.IsBanned {
			metrics.IncRecovery("failed")
			return model.NewError(model.CodeParticipantBanned, "participant is banned")
		}
		if !p.IsActive && c.eng.deps.Clock.Now().Sub(p.LastConnected) > c.eng.cfg.RecoveryGrace {
			metrics.IncRecovery("failed")
			return model.NewError(model.CodeSessionExpired, "reconnect window has passed")
		}

		// re-admit and refresh: memory is authoritative again from here
		c.participants[participantID] = p
		c.nicknames[model.NormalizeNickname(p.Nickname)] = participantID
		p.IsActive = true
		p.SocketID = socketID
		p.LastConnected = c.eng.deps.Clock.Now()
		if err := c.persistParticipant(ctx, p); err != nil {
			c.logger.Warn().Err(err).Msg("recovery persist failed")
		}

		snap = c.buildSnapshot(ctx, p)
		metrics.IncRecovery(source)

		c.logger.Info().
			Str(xglog.FieldEvent, "session.participant_recovered").
			Str(xglog.FieldParticipantID, participantID).
			Str("source", source).
			Msg("participant recovered")

		c.broadcastRoles(model.NewEnvelope(model.EvParticipantStatus, model.ParticipantEventPayload{
			ParticipantID:    p.ParticipantID,
			Nickname:         p.Nickname,
			ParticipantCount: c.sess.ParticipantCount,
		}), model.RoleController, model.RoleBigscreen)
		return nil
	})
	return snap, err
}

// locateParticipant resolves the participant record, reporting which store
// answered.
func (c *Coordinator) locateParticipant(ctx context.Context, participantID string) (*model.Participant, string, error) {
	if p, ok := c.participants[participantID]; ok {
		return p, "ephemeral", nil
	}

	// ephemeral mirror: survives an engine restart within the TTL
	ectx, cancel := context.WithTimeout(ctx, ephemeralTimeout)
	raw, err := c.eng.deps.Ephemeral.Get(ectx, store.ParticipantKey(participantID))
	cancel()
	if err == nil {
		var p model.Participant
		if jerr := json.Unmarshal([]byte(raw), &p); jerr == nil && p.SessionID == c.sess.SessionID {
			return &p, "ephemeral", nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn().Err(err).Msg("ephemeral participant lookup failed, trying durable")
	}

	dctx, cancel := context.WithTimeout(ctx, durableTimeout)
	p, err := c.eng.deps.Durable.GetParticipant(dctx, c.sess.SessionID, participantID)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", model.NewError(model.CodeParticipantNotFound, "unknown participant")
		}
		return nil, "", model.NewError(model.CodeInternal, "participant lookup failed")
	}
	return p, "durable", nil
}

// buildSnapshot assembles the client-facing view of the current state.
func (c *Coordinator) buildSnapshot(ctx context.Context, p *model.Participant) model.RecoverySnapshot {
	snap := model.RecoverySnapshot{
		CurrentState: c.sess.State,
		TotalScore:   p.TotalScore,
		StreakCount:  p.StreakCount,
		IsEliminated: p.IsEliminated,
		IsSpectator:  p.IsEliminated,
		Leaderboard:  c.leaderboardRows(ctx, c.eng.cfg.LeaderboardTopN),
	}

	if rank, err := c.eng.board.Rank(ctx, c.sess.SessionID, p.ParticipantID); err == nil {
		snap.Rank = rank
	}

	if c.sess.State == model.StateActiveQuestion {
		if q := c.quiz.QuestionAt(c.sess.CurrentQuestionIndex); q != nil {
			snap.CurrentQuestion = q.Sanitized()
		}
		nowMs := c.eng.deps.Clock.Now().UnixMilli()
		if c.pausedAtMs != 0 {
			nowMs = c.pausedAtMs
		}
		snap.RemainingTime = c.remainingSeconds(nowMs)
		snap.HasAnsweredCurrent = c.hasAnswered(ctx, p.ParticipantID)
	}
	return snap
}

// hasAnswered consults the actor set first, then the answered set in the
// ephemeral store for participants restored from the durable record.
func (c *Coordinator) hasAnswered(ctx context.Context, participantID string) bool {
	if c.answered[participantID] {
		return true
	}
	ectx, cancel := context.WithTimeout(ctx, ephemeralTimeout)
	defer cancel()
	ok, err := c.eng.deps.Ephemeral.SIsMember(ectx, store.AnsweredSetKey(c.sess.SessionID, c.sess.CurrentQuestionID), participantID)
	if err != nil {
		return false
	}
	if ok {
		c.answered[participantID] = true
	}
	return ok
}
