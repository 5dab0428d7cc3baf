// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quizwire/quizwire/internal/audit"
	"github.com/quizwire/quizwire/internal/clock"
	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/metrics"
	"github.com/quizwire/quizwire/internal/quiz/leaderboard"
	"github.com/quizwire/quizwire/internal/quiz/model"
	"github.com/quizwire/quizwire/internal/quiz/timer"
	"github.com/quizwire/quizwire/internal/store"
)

// actionQueueSize bounds the actor mailbox. Commands block when full; a full
// mailbox means the session is overloaded, not that work may be dropped.
const actionQueueSize = 256

func newID() string { return uuid.NewString() }

// Coordinator is the single writer for one session. Every mutation of
// session, participant and timer state runs on its goroutine, so handlers
// never race and broadcasts follow their durable commit.
type Coordinator struct {
	eng    *Engine
	logger zerolog.Logger

	actions chan func()
	stopped chan struct{}

	// actor-owned state below; only the run goroutine touches it
	sess         *model.Session
	quiz         *model.Quiz
	participants map[string]*model.Participant
	nicknames    map[string]string // normalized nickname -> participant id
	answered     map[string]bool   // current question, participant ids
	timer        *timer.QuestionTimer
	pausedAtMs   int64
	lastScore    map[string]int // last question points, for leaderboard rows
}

func newCoordinator(eng *Engine, sess *model.Session, quiz *model.Quiz) *Coordinator {
	c := &Coordinator{
		eng: eng,
		logger: xglog.WithComponent("coordinator").With().
			Str(xglog.FieldSessionID, sess.SessionID).Logger(),
		actions:      make(chan func(), actionQueueSize),
		stopped:      make(chan struct{}),
		sess:         sess,
		quiz:         quiz,
		participants: make(map[string]*model.Participant),
		nicknames:    make(map[string]string),
		answered:     make(map[string]bool),
		lastScore:    make(map[string]int),
	}
	go c.run()
	return c
}

func (c *Coordinator) run() {
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.stopped:
			// drain what was already queued so callers waiting in call()
			// are released
			for {
				select {
				case fn := <-c.actions:
					fn()
				default:
					return
				}
			}
		}
	}
}

// do enqueues fn on the actor without waiting for it.
func (c *Coordinator) do(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.stopped:
	}
}

// call runs fn on the actor and waits for its result.
func (c *Coordinator) call(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case c.actions <- func() { errCh <- fn() }:
	case <-c.stopped:
		return model.NewError(model.CodeSessionEnded, "session is closed")
	}
	select {
	case err := <-errCh:
		return err
	case <-c.stopped:
		select {
		case err := <-errCh:
			return err
		default:
			return model.NewError(model.CodeSessionEnded, "session is closed")
		}
	}
}

func (c *Coordinator) stop() {
	select {
	case <-c.stopped:
	default:
		close(c.stopped)
	}
}

func (c *Coordinator) sessionID() string { return c.sess.SessionID }

// Snapshot returns a copy of the session record.
func (c *Coordinator) Snapshot() model.Session {
	var out model.Session
	_ = c.call(func() error {
		out = *c.sess
		return nil
	})
	return out
}

// --- persistence helpers (actor only) ---

func (c *Coordinator) persistSession(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, durableTimeout)
	defer cancel()
	return c.eng.deps.Durable.PutSession(dctx, c.sess)
}

// mirrorSessionState writes the hot session fields into the ephemeral hash.
// Best effort; the durable record is the authority across restarts.
func (c *Coordinator) mirrorSessionState(ctx context.Context) {
	ectx, cancel := context.WithTimeout(ctx, ephemeralTimeout)
	defer cancel()

	key := store.SessionStateKey(c.sess.SessionID)
	fields := map[string]string{
		"state":             string(c.sess.State),
		"quizId":            c.sess.QuizID,
		"joinCode":          c.sess.JoinCode,
		"currentQuestionId": c.sess.CurrentQuestionID,
		"questionStartTime": formatInt(c.sess.QuestionStartTime),
		"timerEndTime":      formatInt(c.sess.TimerEndTime),
		"participantCount":  formatInt(int64(c.sess.ParticipantCount)),
	}
	if err := c.eng.deps.Ephemeral.HSet(ectx, key, fields); err != nil {
		c.logger.Warn().Err(err).Msg("session state mirror failed")
		return
	}
	if err := c.eng.deps.Ephemeral.Expire(ectx, key, c.eng.cfg.SessionTTL); err != nil {
		c.logger.Warn().Err(err).Msg("session state TTL refresh failed")
	}
}

// persistParticipant writes the durable record and refreshes the ephemeral
// mirror with the activity TTL.
func (c *Coordinator) persistParticipant(ctx context.Context, p *model.Participant) error {
	dctx, cancel := context.WithTimeout(ctx, durableTimeout)
	err := c.eng.deps.Durable.PutParticipant(dctx, p)
	cancel()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ectx, cancel := context.WithTimeout(ctx, ephemeralTimeout)
	defer cancel()
	if err := c.eng.deps.Ephemeral.Set(ectx, store.ParticipantKey(p.ParticipantID), string(raw), c.eng.cfg.ParticipantTTL); err != nil {
		c.logger.Warn().Err(err).
			Str(xglog.FieldParticipantID, p.ParticipantID).
			Msg("participant mirror failed")
	}
	return nil
}

// --- broadcast helpers (actor only) ---

func (c *Coordinator) broadcast(env model.Envelope) {
	c.eng.deps.Hub.BroadcastSession(c.sess.SessionID, env)
	c.publish(env)
}

func (c *Coordinator) broadcastRoles(env model.Envelope, roles ...model.Role) {
	c.eng.deps.Hub.BroadcastRoles(c.sess.SessionID, env, roles...)
	c.publish(env)
}

// publish mirrors session events onto the pub/sub channel for external
// observers (dashboards, test harnesses).
func (c *Coordinator) publish(env model.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ephemeralTimeout)
	defer cancel()
	_ = c.eng.deps.Ephemeral.Publish(ctx, store.SessionEventsChannel(c.sess.SessionID), raw)
}

func (c *Coordinator) sendTo(participantID string, env model.Envelope) {
	c.eng.deps.Hub.SendToParticipant(participantID, env)
}

// --- state machine (actor only) ---

func (c *Coordinator) transition(ctx context.Context, to model.SessionState, actor string) error {
	if !c.sess.State.CanTransition(to) {
		return model.NewError(model.CodeInvalid, "cannot transition %s -> %s", c.sess.State, to)
	}
	old := c.sess.State
	c.sess.State = to

	if err := c.persistSession(ctx); err != nil {
		c.sess.State = old
		c.logger.Error().Err(err).
			Str(xglog.FieldOldState, string(old)).
			Str(xglog.FieldNewState, string(to)).
			Msg("state transition persist failed")
		return model.NewError(model.CodeInternal, "state change could not be persisted")
	}
	c.mirrorSessionState(ctx)

	c.eng.deps.Trail.StateChanged(actor, c.sess.SessionID, string(old), string(to))
	metrics.IncStateTransition(string(to))
	c.logger.Info().
		Str(xglog.FieldEvent, "session.state_changed").
		Str(xglog.FieldOldState, string(old)).
		Str(xglog.FieldNewState, string(to)).
		Msg("state changed")
	return nil
}

// StartQuiz moves LOBBY -> ACTIVE_QUESTION with the first question.
func (c *Coordinator) StartQuiz(ctx context.Context, actor string) error {
	return c.call(func() error {
		if c.sess.State != model.StateLobby {
			return model.NewError(model.CodeInvalid, "quiz already started")
		}
		c.broadcast(model.NewEnvelope(model.EvQuizStarted, nil))
		return c.startQuestion(ctx, 0, actor)
	})
}

// NextQuestion advances REVEAL -> ACTIVE_QUESTION, or ends the quiz after
// the last question.
func (c *Coordinator) NextQuestion(ctx context.Context, actor string) error {
	return c.call(func() error {
		if c.sess.State != model.StateReveal {
			return model.NewError(model.CodeInvalid, "next question only allowed from reveal")
		}
		next := c.sess.CurrentQuestionIndex + 1
		if c.quiz.QuestionAt(next) == nil {
			return c.endQuiz(ctx, actor, "quiz completed")
		}
		return c.startQuestion(ctx, next, actor)
	})
}

// startQuestion runs on the actor: sets question fields, transitions, arms
// the countdown and broadcasts after the durable commit.
func (c *Coordinator) startQuestion(ctx context.Context, index int, actor string) error {
	q := c.quiz.QuestionAt(index)
	if q == nil {
		return model.NewError(model.CodeInvalidQuestion, "no question at index %d", index)
	}

	nowMs := clock.NowMillis(c.eng.deps.Clock)
	prev := *c.sess
	c.sess.CurrentQuestionIndex = index
	c.sess.CurrentQuestionID = q.QuestionID
	c.sess.QuestionStartTime = nowMs
	c.sess.TimerEndTime = nowMs + int64(q.TimeLimit)*1000

	if err := c.transition(ctx, model.StateActiveQuestion, actor); err != nil {
		*c.sess = prev
		return err
	}

	c.answered = make(map[string]bool)
	c.stopTimer()
	c.timer = timer.Start(c.eng.deps.Clock, q.QuestionID, time.Duration(q.TimeLimit)*time.Second, c.timerCallbacks())

	c.broadcast(model.NewEnvelope(model.EvQuestionStarted, model.QuestionStartedPayload{
		QuestionIndex:  index,
		TotalQuestions: len(c.quiz.Questions),
		Question:       q.Sanitized(),
		StartTime:      c.sess.QuestionStartTime,
		EndTime:        c.sess.TimerEndTime,
	}))
	return nil
}

// timerCallbacks bridges the timer goroutine into the actor. The deadline is
// re-queued through a fresh goroutine so a full mailbox can never deadlock
// the timer against a synchronous timer command.
func (c *Coordinator) timerCallbacks() timer.Callbacks {
	sessionID := c.sess.SessionID
	return timer.Callbacks{
		OnTick: func(questionID string, remaining int, serverTime int64) {
			c.eng.deps.Hub.BroadcastSession(sessionID, model.NewEnvelope(model.EvTimerTick, model.TimerTickPayload{
				QuestionID:       questionID,
				RemainingSeconds: remaining,
				ServerTime:       serverTime,
			}))
		},
		OnDeadline: func(questionID string) {
			go c.do(func() {
				c.handleDeadline(context.Background(), questionID)
			})
		},
	}
}

func (c *Coordinator) handleDeadline(ctx context.Context, questionID string) {
	if c.sess.State != model.StateActiveQuestion || c.sess.CurrentQuestionID != questionID {
		return
	}
	c.broadcast(model.NewEnvelope(model.EvTimerExpired, model.TimerTickPayload{
		QuestionID: questionID,
		ServerTime: clock.NowMillis(c.eng.deps.Clock),
	}))
	if err := c.reveal(ctx, "system"); err != nil {
		c.logger.Error().Err(err).
			Str(xglog.FieldQuestionID, questionID).
			Msg("deadline reveal failed")
	}
}

// reveal moves ACTIVE_QUESTION -> REVEAL and publishes the answer
// distribution. With skipReveal enabled the statistics still go out but the
// correct options stay hidden until the session ends.
func (c *Coordinator) reveal(ctx context.Context, actor string) error {
	q := c.quiz.QuestionAt(c.sess.CurrentQuestionIndex)
	if q == nil {
		return model.NewError(model.CodeInvalidQuestion, "no active question")
	}

	c.stopTimer()
	stats := c.answerStatistics(ctx, q)

	if err := c.transition(ctx, model.StateReveal, actor); err != nil {
		return err
	}

	payload := model.RevealPayload{
		QuestionID: q.QuestionID,
		Statistics: stats,
	}
	if !c.sess.ExamSettings.SkipReveal {
		payload.CorrectOptions = q.CorrectOptionIDs()
		payload.ExplanationText = q.ExplanationText
	}
	c.broadcast(model.NewEnvelope(model.EvRevealAnswers, payload))

	c.eng.coal.Trigger(c.sess.SessionID)
	return nil
}

// answerStatistics builds the per-option distribution from the durable
// answer set for this question.
func (c *Coordinator) answerStatistics(ctx context.Context, q *model.Question) model.AnswerStatistics {
	stats := model.AnswerStatistics{Total: c.sess.ParticipantCount}

	dctx, cancel := context.WithTimeout(ctx, durableTimeout)
	answers, err := c.eng.deps.Durable.ListAnswers(dctx, c.sess.SessionID, q.QuestionID)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).
			Str(xglog.FieldQuestionID, q.QuestionID).
			Msg("answer statistics unavailable")
		stats.Answered = len(c.answered)
		return stats
	}

	stats.Answered = len(answers)
	counts := make(map[string]int)
	for _, a := range answers {
		for _, id := range a.SelectedOptionIDs {
			counts[id]++
		}
	}
	for _, opt := range q.Options {
		stats.Options = append(stats.Options, model.OptionStat{OptionID: opt.OptionID, Count: counts[opt.OptionID]})
	}
	return stats
}

// SkipQuestion abandons the active question without rewarding anyone:
// straight to REVEAL with statistics only.
func (c *Coordinator) SkipQuestion(ctx context.Context, actor, reason string) error {
	return c.call(func() error {
		if c.sess.State != model.StateActiveQuestion {
			return model.NewError(model.CodeInvalid, "no active question to skip")
		}
		questionID := c.sess.CurrentQuestionID
		c.stopTimer()

		q := c.quiz.QuestionAt(c.sess.CurrentQuestionIndex)
		stats := c.answerStatistics(ctx, q)

		if err := c.transition(ctx, model.StateReveal, actor); err != nil {
			return err
		}

		c.broadcast(model.NewEnvelope(model.EvQuestionSkipped, model.QuestionSkippedPayload{
			QuestionID: questionID,
			Reason:     reason,
		}))
		// skipped questions never disclose correctness
		c.broadcast(model.NewEnvelope(model.EvRevealAnswers, model.RevealPayload{
			QuestionID: questionID,
			Statistics: stats,
		}))

		c.eng.deps.Trail.Log(auditSkip(actor, c.sess.SessionID, questionID, reason))
		return nil
	})
}

// EndQuiz terminates the session from any non-ENDED state.
func (c *Coordinator) EndQuiz(ctx context.Context, actor string) error {
	return c.call(func() error {
		return c.endQuiz(ctx, actor, "ended by controller")
	})
}

func (c *Coordinator) endQuiz(ctx context.Context, actor, reason string) error {
	if c.sess.State == model.StateEnded {
		return model.NewError(model.CodeSessionEnded, "session already ended")
	}
	c.stopTimer()

	now := c.eng.deps.Clock.Now()
	c.sess.EndedAt = &now
	if err := c.transition(ctx, model.StateEnded, actor); err != nil {
		c.sess.EndedAt = nil
		return err
	}

	entries := c.leaderboardRows(ctx, c.eng.cfg.LeaderboardTopN)
	c.broadcast(model.NewEnvelope(model.EvSessionEnded, model.SessionEndedPayload{
		Reason:      reason,
		Leaderboard: entries,
	}))

	c.eng.deps.Trail.Log(auditEnd(actor, c.sess.SessionID, reason))
	c.eng.deps.Hub.CloseSession(c.sess.SessionID, websocket.StatusNormalClosure, "session ended")
	c.eng.removeSession(c.sess.SessionID, c.sess.JoinCode)
	c.stop()
	return nil
}

// --- timer control (actor only) ---

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pausedAtMs = 0
}

// PauseTimer freezes the active countdown.
func (c *Coordinator) PauseTimer(ctx context.Context) error {
	return c.call(func() error {
		if c.sess.State != model.StateActiveQuestion || c.timer == nil {
			return model.NewError(model.CodeInvalid, "no active question timer")
		}
		if c.pausedAtMs != 0 {
			return model.NewError(model.CodeInvalid, "timer already paused")
		}
		c.timer.Pause()
		c.pausedAtMs = clock.NowMillis(c.eng.deps.Clock)

		c.broadcast(model.NewEnvelope(model.EvTimerPaused, model.TimerControlPayload{
			QuestionID:       c.sess.CurrentQuestionID,
			RemainingSeconds: c.remainingSeconds(c.pausedAtMs),
		}))
		return nil
	})
}

// ResumeTimer continues a paused countdown; the deadline moves out by the
// paused interval.
func (c *Coordinator) ResumeTimer(ctx context.Context) error {
	return c.call(func() error {
		if c.sess.State != model.StateActiveQuestion || c.timer == nil || c.pausedAtMs == 0 {
			return model.NewError(model.CodeInvalid, "timer is not paused")
		}
		nowMs := clock.NowMillis(c.eng.deps.Clock)
		c.sess.TimerEndTime += nowMs - c.pausedAtMs
		c.pausedAtMs = 0
		c.timer.Resume()

		if err := c.persistSession(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("timer resume persist failed")
		}
		c.mirrorSessionState(ctx)

		c.broadcast(model.NewEnvelope(model.EvTimerResumed, model.TimerControlPayload{
			QuestionID:       c.sess.CurrentQuestionID,
			RemainingSeconds: c.remainingSeconds(nowMs),
			EndTime:          c.sess.TimerEndTime,
		}))
		return nil
	})
}

// ResetTimer restarts the active countdown with a new limit from now.
func (c *Coordinator) ResetTimer(ctx context.Context, seconds int) error {
	return c.call(func() error {
		if c.sess.State != model.StateActiveQuestion || c.timer == nil {
			return model.NewError(model.CodeInvalid, "no active question timer")
		}
		if seconds <= 0 {
			return model.NewError(model.CodeInvalid, "new time limit must be positive")
		}
		nowMs := clock.NowMillis(c.eng.deps.Clock)
		c.sess.TimerEndTime = nowMs + int64(seconds)*1000
		c.pausedAtMs = 0
		c.timer.Reset(time.Duration(seconds) * time.Second)

		if err := c.persistSession(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("timer reset persist failed")
		}
		c.mirrorSessionState(ctx)

		c.broadcast(model.NewEnvelope(model.EvTimerReset, model.TimerControlPayload{
			QuestionID:       c.sess.CurrentQuestionID,
			RemainingSeconds: seconds,
			EndTime:          c.sess.TimerEndTime,
		}))
		return nil
	})
}

// remainingSeconds rounds the time left up to whole seconds, matching what
// the tick stream reports.
func (c *Coordinator) remainingSeconds(nowMs int64) int {
	remMs := c.sess.TimerEndTime - nowMs
	if remMs <= 0 {
		return 0
	}
	return int((remMs + 999) / 1000)
}

// --- participants (actor entry points) ---

// join admits a new participant. Runs validation and persistence on the
// actor so nickname uniqueness has no window.
func (c *Coordinator) join(ctx context.Context, nickname, ip string) (*model.Participant, error) {
	var out *model.Participant
	err := c.call(func() error {
		switch c.sess.State {
		case model.StateEnded:
			return model.NewError(model.CodeSessionEnded, "session has ended")
		case model.StateLobby:
			// always open
		default:
			if !c.sess.AllowLateJoiners {
				return model.NewError(model.CodeSessionStarted, "session no longer accepts joins")
			}
		}

		if c.eng.ipBanned(ctx, c.sess.SessionID, ip) {
			return model.NewError(model.CodeParticipantBanned, "address is banned from this session")
		}
		if !model.ValidNickname(nickname) {
			return model.NewError(model.CodeInvalid, "nickname must be 3-20 characters")
		}
		if c.eng.deps.Filter.Contains(nickname) {
			return model.NewError(model.CodeProfanityDetected, "nickname rejected")
		}
		norm := model.NormalizeNickname(nickname)
		if _, taken := c.nicknames[norm]; taken {
			return model.NewError(model.CodeNicknameTaken, "nickname already in use")
		}

		now := c.eng.deps.Clock.Now()
		p := &model.Participant{
			ParticipantID: newID(),
			SessionID:     c.sess.SessionID,
			Nickname:      nickname,
			IPAddress:     ip,
			IsActive:      false,
			JoinedAt:      now,
			LastConnected: now,
		}
		if err := c.persistParticipant(ctx, p); err != nil {
			return model.NewError(model.CodeInternal, "participant could not be saved")
		}

		c.participants[p.ParticipantID] = p
		c.nicknames[norm] = p.ParticipantID
		c.sess.ParticipantCount = len(c.participants)
		if err := c.persistSession(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("participant count persist failed")
		}
		c.mirrorSessionState(ctx)

		if _, err := c.eng.board.Update(ctx, c.sess.SessionID, p.ParticipantID, 0, 0); err != nil {
			c.logger.Warn().Err(err).Msg("leaderboard seed failed")
		}

		c.broadcast(model.NewEnvelope(model.EvParticipantJoined, model.ParticipantEventPayload{
			ParticipantID:    p.ParticipantID,
			Nickname:         p.Nickname,
			ParticipantCount: c.sess.ParticipantCount,
		}))
		c.eng.deps.Trail.ParticipantJoined(c.sess.SessionID, p.ParticipantID, p.Nickname, ip)

		out = p
		return nil
	})
	return out, err
}

// setToken records the issued bearer token on the durable participant row.
func (c *Coordinator) setToken(participantID, token string) {
	c.do(func() {
		p, ok := c.participants[participantID]
		if !ok {
			return
		}
		p.Token = token
		if err := c.persistParticipant(context.Background(), p); err != nil {
			c.logger.Warn().Err(err).
				Str(xglog.FieldParticipantID, participantID).
				Msg("token persist failed")
		}
	})
}

// markConnected binds a live socket to the participant.
func (c *Coordinator) markConnected(ctx context.Context, participantID, socketID string) error {
	return c.call(func() error {
		p, ok := c.participants[participantID]
		if !ok {
			return model.NewError(model.CodeParticipantNotFound, "unknown participant")
		}
		p.IsActive = true
		p.SocketID = socketID
		p.LastConnected = c.eng.deps.Clock.Now()
		if err := c.persistParticipant(ctx, p); err != nil {
			c.logger.Warn().Err(err).Msg("participant connect persist failed")
		}
		c.broadcastRoles(model.NewEnvelope(model.EvParticipantStatus, model.ParticipantEventPayload{
			ParticipantID:    p.ParticipantID,
			Nickname:         p.Nickname,
			ParticipantCount: c.sess.ParticipantCount,
		}), model.RoleController, model.RoleBigscreen)
		return nil
	})
}

// markDisconnected releases the socket binding but keeps the participant for
// the recovery window.
func (c *Coordinator) markDisconnected(participantID, socketID string) {
	c.do(func() {
		p, ok := c.participants[participantID]
		if !ok || p.SocketID != socketID {
			return
		}
		p.IsActive = false
		p.SocketID = ""
		p.LastConnected = c.eng.deps.Clock.Now()
		if err := c.persistParticipant(context.Background(), p); err != nil {
			c.logger.Warn().Err(err).Msg("participant disconnect persist failed")
		}
		c.broadcastRoles(model.NewEnvelope(model.EvParticipantLeft, model.ParticipantEventPayload{
			ParticipantID:    p.ParticipantID,
			Nickname:         p.Nickname,
			ParticipantCount: c.sess.ParticipantCount,
		}), model.RoleController, model.RoleBigscreen)
	})
}

// Kick removes a participant from the session.
func (c *Coordinator) Kick(ctx context.Context, actor, participantID, reason string) error {
	return c.call(func() error {
		return c.removeParticipant(ctx, actor, participantID, reason, false)
	})
}

// Ban removes a participant and blocks the source address for the rest of
// the session.
func (c *Coordinator) Ban(ctx context.Context, actor, participantID, reason string) error {
	return c.call(func() error {
		return c.removeParticipant(ctx, actor, participantID, reason, true)
	})
}

func (c *Coordinator) removeParticipant(ctx context.Context, actor, participantID, reason string, ban bool) error {
	p, ok := c.participants[participantID]
	if !ok {
		return model.NewError(model.CodeParticipantNotFound, "unknown participant")
	}

	if ban {
		p.IsBanned = true
		ectx, cancel := context.WithTimeout(ctx, ephemeralTimeout)
		if err := c.eng.deps.Ephemeral.SAdd(ectx, store.BannedIPKey(c.sess.SessionID), p.IPAddress); err != nil {
			c.logger.Warn().Err(err).Msg("ban list update failed")
		}
		cancel()
		c.eng.markBanned(c.sess.SessionID, p.IPAddress)
	}
	p.IsActive = false
	if err := c.persistParticipant(ctx, p); err != nil {
		c.logger.Warn().Err(err).Msg("removal persist failed")
	}

	delete(c.participants, participantID)
	delete(c.nicknames, model.NormalizeNickname(p.Nickname))
	delete(c.answered, participantID)
	c.sess.ParticipantCount = len(c.participants)
	if err := c.persistSession(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("participant count persist failed")
	}
	c.mirrorSessionState(ctx)

	if err := c.eng.board.Remove(ctx, c.sess.SessionID, participantID); err != nil {
		c.logger.Warn().Err(err).Msg("leaderboard removal failed")
	}

	// private notice first so it lands before the socket closes
	if ban {
		c.sendTo(participantID, model.NewEnvelope(model.EvBanned, model.ParticipantEventPayload{
			ParticipantID: participantID, Nickname: p.Nickname, Reason: reason,
		}))
		c.eng.deps.Trail.ParticipantBanned(actor, c.sess.SessionID, participantID, p.IPAddress)
	} else {
		c.sendTo(participantID, model.NewEnvelope(model.EvKicked, model.ParticipantEventPayload{
			ParticipantID: participantID, Nickname: p.Nickname, Reason: reason,
		}))
		c.eng.deps.Trail.ParticipantKicked(actor, c.sess.SessionID, participantID, reason)
	}

	c.broadcast(model.NewEnvelope(model.EvParticipantKicked, model.ParticipantEventPayload{
		ParticipantID:    participantID,
		Nickname:         p.Nickname,
		ParticipantCount: c.sess.ParticipantCount,
		Reason:           reason,
	}))

	if conn, ok := c.eng.deps.Hub.ConnByParticipant(participantID); ok {
		c.eng.deps.Hub.Detach(conn, websocket.StatusNormalClosure, "removed from session")
	}

	c.eng.coal.Trigger(c.sess.SessionID)
	return nil
}

// ToggleLateJoiners flips the late-join policy.
func (c *Coordinator) ToggleLateJoiners(ctx context.Context, allow bool) error {
	return c.call(func() error {
		if c.sess.State == model.StateEnded {
			return model.NewError(model.CodeSessionEnded, "session has ended")
		}
		c.sess.AllowLateJoiners = allow
		if err := c.persistSession(ctx); err != nil {
			return model.NewError(model.CodeInternal, "setting could not be persisted")
		}
		c.mirrorSessionState(ctx)
		c.broadcastRoles(model.NewEnvelope(model.EvLateJoinersToggled, model.ToggleLateJoinPayload{
			AllowLateJoiners: allow,
		}), model.RoleController, model.RoleBigscreen)
		return nil
	})
}

// HandleFocusLost records an advisory focus-loss event. The counters and the
// controller notification are always kept; examSettings.focusMonitoringEnabled
// only gates enforcement policy, which is moderator configuration.
func (c *Coordinator) HandleFocusLost(participantID string) {
	c.do(func() {
		p, ok := c.participants[participantID]
		if !ok {
			return
		}
		p.FocusLost.Count++
		if err := c.persistParticipant(context.Background(), p); err != nil {
			c.logger.Warn().Err(err).Msg("focus stats persist failed")
		}
		c.notifyFocus(p, false)
	})
}

// HandleFocusRegained records the end of a focus-loss interval.
func (c *Coordinator) HandleFocusRegained(participantID string, durationMs int64) {
	c.do(func() {
		p, ok := c.participants[participantID]
		if !ok {
			return
		}
		if durationMs > 0 {
			p.FocusLost.TotalLostTimeMs += durationMs
		}
		if err := c.persistParticipant(context.Background(), p); err != nil {
			c.logger.Warn().Err(err).Msg("focus stats persist failed")
		}
		c.notifyFocus(p, true)
	})
}

func (c *Coordinator) notifyFocus(p *model.Participant, focused bool) {
	c.broadcastRoles(model.NewEnvelope(model.EvParticipantFocus, model.FocusChangedPayload{
		ParticipantID:   p.ParticipantID,
		Nickname:        p.Nickname,
		Focused:         focused,
		Count:           p.FocusLost.Count,
		TotalLostTimeMs: p.FocusLost.TotalLostTimeMs,
	}), model.RoleController)
}

// --- leaderboard (actor only) ---

func (c *Coordinator) nicknameOf(participantID string) string {
	if p, ok := c.participants[participantID]; ok {
		return p.Nickname
	}
	return ""
}

func (c *Coordinator) streakOf(participantID string) int {
	if p, ok := c.participants[participantID]; ok {
		return p.StreakCount
	}
	return 0
}

func (c *Coordinator) leaderboardRows(ctx context.Context, n int) []model.LeaderboardEntry {
	entries, err := c.eng.board.TopN(ctx, c.sess.SessionID, n)
	if err != nil {
		c.logger.Warn().Err(err).Msg("leaderboard read failed")
		return nil
	}
	seq, err := c.eng.board.Sequence(ctx, c.sess.SessionID)
	if err != nil {
		seq = 0
	}
	payload := leaderboard.Payload(entries, seq, c.nicknameOf, c.streakOf)
	for i := range payload.Leaderboard {
		payload.Leaderboard[i].LastQuestionScore = c.lastScore[payload.Leaderboard[i].ParticipantID]
	}
	return payload.Leaderboard
}

// emitLeaderboard broadcasts the current top-N to controller and bigscreen.
// Invoked through the coalescer, never directly from the answer pipeline.
func (c *Coordinator) emitLeaderboard() {
	ctx, cancel := context.WithTimeout(context.Background(), ephemeralTimeout)
	defer cancel()

	entries, err := c.eng.board.TopN(ctx, c.sess.SessionID, c.eng.cfg.LeaderboardTopN)
	if err != nil {
		c.logger.Warn().Err(err).Msg("leaderboard read failed")
		return
	}
	seq, err := c.eng.board.Sequence(ctx, c.sess.SessionID)
	if err != nil {
		seq = 0
	}
	payload := leaderboard.Payload(entries, seq, c.nicknameOf, c.streakOf)
	for i := range payload.Leaderboard {
		payload.Leaderboard[i].LastQuestionScore = c.lastScore[payload.Leaderboard[i].ParticipantID]
	}
	c.broadcastRoles(model.NewEnvelope(model.EvLeaderboardUpdated, payload), model.RoleController, model.RoleBigscreen)
}

// --- misc helpers ---

// lobbyState snapshots the roster for a freshly authenticated client.
func (c *Coordinator) lobbyState() model.LobbyStatePayload {
	var out model.LobbyStatePayload
	_ = c.call(func() error {
		roster := make([]model.LobbyParticipant, 0, len(c.participants))
		for _, p := range c.participants {
			roster = append(roster, model.LobbyParticipant{
				ParticipantID: p.ParticipantID,
				Nickname:      p.Nickname,
				IsActive:      p.IsActive,
			})
		}
		sort.Slice(roster, func(i, j int) bool { return roster[i].Nickname < roster[j].Nickname })
		out = model.LobbyStatePayload{
			SessionID:        c.sess.SessionID,
			JoinCode:         c.sess.JoinCode,
			State:            c.sess.State,
			AllowLateJoiners: c.sess.AllowLateJoiners,
			Participants:     roster,
		}
		return nil
	})
	return out
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func auditSkip(actor, sessionID, questionID, reason string) audit.Event {
	return audit.Event{
		Type:      audit.EventQuestionSkipped,
		Actor:     actor,
		Action:    "skipped question",
		SessionID: sessionID,
		Resource:  questionID,
		Result:    "success",
		Details:   map[string]string{"reason": reason},
	}
}

func auditEnd(actor, sessionID, reason string) audit.Event {
	return audit.Event{
		Type:      audit.EventSessionEnded,
		Actor:     actor,
		Action:    "ended session",
		SessionID: sessionID,
		Result:    "success",
		Details:   map[string]string{"reason": reason},
	}
}
