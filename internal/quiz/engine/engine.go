// SPDX-License-Identifier: MIT

// Package engine hosts the per-session coordinators: the session registry,
// the single-writer session actor, the answer pipeline and the recovery
// service. One Engine serves every session in the process; each session is
// pinned to exactly one coordinator.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/quizwire/quizwire/internal/audit"
	"github.com/quizwire/quizwire/internal/auth"
	"github.com/quizwire/quizwire/internal/clock"
	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/metrics"
	"github.com/quizwire/quizwire/internal/profanity"
	"github.com/quizwire/quizwire/internal/quiz/leaderboard"
	"github.com/quizwire/quizwire/internal/quiz/model"
	"github.com/quizwire/quizwire/internal/ratelimit"
	"github.com/quizwire/quizwire/internal/store"
	"github.com/quizwire/quizwire/internal/ws"
)

// I/O deadlines per store class. Handlers never stall past these.
const (
	ephemeralTimeout = 200 * time.Millisecond
	durableTimeout   = time.Second
)

// Config holds the engine-wide tunables.
type Config struct {
	AnswerGrace         time.Duration // slack past timerEndTime for in-flight answers
	RecoveryGrace       time.Duration // reconnect window after disconnect
	SessionTTL          time.Duration // ephemeral session state TTL
	ParticipantTTL      time.Duration // ephemeral participant TTL, refreshed on activity
	LeaderboardTopN     int
	LeaderboardInterval time.Duration // broadcast coalescing window
	MaxMessageBytes     int64
	BanCacheTTL         time.Duration // bounded staleness of the shared ban cache
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AnswerGrace:         250 * time.Millisecond,
		RecoveryGrace:       5 * time.Minute,
		SessionTTL:          8 * time.Hour,
		ParticipantTTL:      5 * time.Minute,
		LeaderboardTopN:     20,
		LeaderboardInterval: 250 * time.Millisecond,
		MaxMessageBytes:     4096,
		BanCacheTTL:         30 * time.Second,
	}
}

// Deps are the collaborators an Engine is wired with.
type Deps struct {
	Ephemeral store.Ephemeral
	Durable   store.Durable
	Trail     *audit.Trail
	Limiter   *ratelimit.Limiter
	Hub       *ws.Hub
	Filter    *profanity.Filter
	Issuer    *auth.Issuer
	Clock     clock.Clock
}

// Engine is the session registry plus the shared infrastructure every
// coordinator uses.
type Engine struct {
	cfg    Config
	deps   Deps
	board  *leaderboard.Board
	coal   *leaderboard.Coalescer
	logger zerolog.Logger

	// banned IPs, key sessionID+"|"+ip. Shared read path with bounded
	// staleness; the authoritative set lives in the ephemeral store.
	bans *ttlcache.Cache[string, bool]

	mu         sync.RWMutex
	sessions   map[string]*Coordinator
	byJoinCode map[string]string
	closed     bool
}

// New creates an Engine.
func New(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:        cfg,
		deps:       deps,
		board:      leaderboard.New(deps.Ephemeral),
		logger:     xglog.WithComponent("engine"),
		sessions:   make(map[string]*Coordinator),
		byJoinCode: make(map[string]string),
		bans: ttlcache.New[string, bool](
			ttlcache.WithTTL[string, bool](cfg.BanCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, bool](),
		),
	}
	e.coal = leaderboard.NewCoalescer(cfg.LeaderboardInterval, e.broadcastLeaderboard)
	go e.bans.Start()
	return e
}

// CreateSession sets up a new LOBBY session for a stored quiz and returns it
// with the controller token.
func (e *Engine) CreateSession(ctx context.Context, quizID, hostID string, settings model.ExamSettings, allowLateJoiners bool) (*model.Session, string, error) {
	dctx, cancel := context.WithTimeout(ctx, durableTimeout)
	quiz, err := e.deps.Durable.GetQuiz(dctx, quizID)
	cancel()
	if err != nil {
		return nil, "", model.NewError(model.CodeInvalid, "quiz %s not found", quizID)
	}
	if len(quiz.Questions) == 0 {
		return nil, "", model.NewError(model.CodeInvalid, "quiz %s has no questions", quizID)
	}

	sess := &model.Session{
		SessionID:            newID(),
		QuizID:               quizID,
		HostID:               hostID,
		State:                model.StateLobby,
		CurrentQuestionIndex: -1,
		AllowLateJoiners:     allowLateJoiners,
		ExamSettings:         settings,
		CreatedAt:            e.deps.Clock.Now(),
	}

	code, err := e.claimJoinCode(ctx, sess.SessionID)
	if err != nil {
		return nil, "", err
	}
	sess.JoinCode = code

	dctx, cancel = context.WithTimeout(ctx, durableTimeout)
	err = e.deps.Durable.PutSession(dctx, sess)
	cancel()
	if err != nil {
		return nil, "", fmt.Errorf("persist session: %w", err)
	}

	hostToken, err := e.deps.Issuer.Issue(ctx, sess.SessionID, hostID, model.RoleController)
	if err != nil {
		return nil, "", fmt.Errorf("issue host token: %w", err)
	}

	co := newCoordinator(e, sess, quiz)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		co.stop()
		return nil, "", model.NewError(model.CodeInternal, "engine shutting down")
	}
	e.sessions[sess.SessionID] = co
	e.byJoinCode[code] = sess.SessionID
	e.mu.Unlock()

	co.do(func() { co.mirrorSessionState(context.Background()) })
	e.deps.Trail.SessionCreated(hostID, sess.SessionID, code)
	metrics.IncSessionCreated()
	metrics.IncSessionsActive()

	e.logger.Info().
		Str(xglog.FieldSessionID, sess.SessionID).
		Str(xglog.FieldJoinCode, code).
		Msg("session created")

	return sess, hostToken, nil
}

// claimJoinCode generates codes until one is free among non-ENDED sessions.
// Uniqueness is enforced with SetNX in the ephemeral store.
func (e *Engine) claimJoinCode(ctx context.Context, sessionID string) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code := model.NewJoinCode()
		ectx, cancel := context.WithTimeout(ctx, ephemeralTimeout)
		ok, err := e.deps.Ephemeral.SetNX(ectx, store.JoinCodeKey(code), sessionID, e.cfg.SessionTTL)
		cancel()
		if err != nil {
			return "", fmt.Errorf("claim join code: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", model.NewError(model.CodeInternal, "could not allocate a unique join code")
}

// Lookup returns the coordinator for a session id.
func (e *Engine) Lookup(sessionID string) (*Coordinator, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	co, ok := e.sessions[sessionID]
	return co, ok
}

// LookupByJoinCode resolves a join code to its live coordinator.
func (e *Engine) LookupByJoinCode(code string) (*Coordinator, bool) {
	e.mu.RLock()
	sessionID, ok := e.byJoinCode[code]
	var co *Coordinator
	if ok {
		co = e.sessions[sessionID]
	}
	e.mu.RUnlock()
	return co, co != nil
}

// Join admits a participant to the session behind joinCode and returns the
// participant record plus its bearer token. Scenario: POST /api/join.
func (e *Engine) Join(ctx context.Context, joinCode, nickname, ip string) (*model.Participant, string, error) {
	code, ok := model.ValidJoinCode(joinCode)
	if !ok {
		return nil, "", model.NewError(model.CodeInvalidJoinCode, "malformed join code")
	}

	if res := e.deps.Limiter.CheckJoin(ctx, ip); !res.Allowed {
		e.deps.Trail.RateLimitExceeded(ip, string(ratelimit.ScopeJoin), ip)
		return nil, "", &RateLimitedError{RetryAfter: res.RetryAfter}
	}

	co, ok := e.LookupByJoinCode(code)
	if !ok {
		return nil, "", model.NewError(model.CodeSessionNotFound, "no session for code %s", code)
	}

	p, err := co.join(ctx, nickname, ip)
	if err != nil {
		return nil, "", err
	}

	token, err := e.deps.Issuer.Issue(ctx, co.sessionID(), p.ParticipantID, model.RoleParticipant)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	// the durable record carries the token so reconnects survive an
	// ephemeral store restart
	co.setToken(p.ParticipantID, token)

	return p, token, nil
}

// RateLimitedError carries the retry hint alongside the taxonomy code.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry in %s", model.CodeRateLimited, e.RetryAfter)
}

// As exposes the taxonomy code through errors.As.
func (e *RateLimitedError) As(target any) bool {
	if coded, ok := target.(**model.Error); ok {
		*coded = model.NewError(model.CodeRateLimited, "rate limited, retry in %s", e.RetryAfter)
		return true
	}
	return false
}

// ipBanned consults the shared ban cache, falling back to the ephemeral set.
func (e *Engine) ipBanned(ctx context.Context, sessionID, ip string) bool {
	key := sessionID + "|" + ip
	if item := e.bans.Get(key); item != nil {
		return item.Value()
	}

	ectx, cancel := context.WithTimeout(ctx, ephemeralTimeout)
	banned, err := e.deps.Ephemeral.SIsMember(ectx, store.BannedIPKey(sessionID), ip)
	cancel()
	if err != nil {
		// unreadable ban list fails open, same policy as the rate limiter
		return false
	}
	e.bans.Set(key, banned, ttlcache.DefaultTTL)
	return banned
}

func (e *Engine) markBanned(sessionID, ip string) {
	e.bans.Set(sessionID+"|"+ip, true, ttlcache.DefaultTTL)
}

// broadcastLeaderboard is the coalescer callback: reads the latest top-N and
// fans it out to controller and bigscreen channels.
func (e *Engine) broadcastLeaderboard(sessionID string) {
	co, ok := e.Lookup(sessionID)
	if !ok {
		return
	}
	co.do(func() {
		co.emitLeaderboard()
	})
}

// removeSession drops an ended session from the registry.
func (e *Engine) removeSession(sessionID, joinCode string) {
	e.mu.Lock()
	if _, ok := e.sessions[sessionID]; ok {
		delete(e.sessions, sessionID)
		delete(e.byJoinCode, joinCode)
		metrics.DecSessionsActive()
	}
	e.mu.Unlock()

	e.coal.Forget(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), ephemeralTimeout)
	defer cancel()
	_ = e.deps.Ephemeral.Del(ctx, store.JoinCodeKey(joinCode))
}

// Shutdown ends every live session with a final durable write and stops the
// shared caches.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	cos := make([]*Coordinator, 0, len(e.sessions))
	for _, co := range e.sessions {
		cos = append(cos, co)
	}
	e.mu.Unlock()

	for _, co := range cos {
		if err := co.EndQuiz(ctx, "system"); err != nil {
			e.logger.Warn().Err(err).
				Str(xglog.FieldSessionID, co.sessionID()).
				Msg("session end during shutdown failed")
		}
	}

	e.bans.Stop()
	return nil
}
