// SPDX-License-Identifier: MIT

// Package ratelimit implements fixed-window counters on the ephemeral store.
// The limiter fails open: when the backend is unreachable the request is
// allowed and the error logged, so a degraded Redis never cascades into a
// full outage.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/quizwire/quizwire/internal/store"
)

var (
	rateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quizwire",
			Name:      "ratelimit_denied_total",
			Help:      "Total rate limit rejections",
		},
		[]string{"scope"},
	)
	rateLimitFailOpen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quizwire",
			Name:      "ratelimit_failopen_total",
			Help:      "Requests allowed because the limiter backend errored",
		},
		[]string{"scope"},
	)
)

// Scope names a limited operation class.
type Scope string

const (
	ScopeJoin     Scope = "join"
	ScopeAnswer   Scope = "answer"
	ScopeMessages Scope = "messages"
)

// Result is the limiter decision. RetryAfter is only set on denial.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	Count      int64
}

// Config holds the per-scope windows and caps.
type Config struct {
	JoinWindow     time.Duration
	JoinMax        int64
	AnswerWindow   time.Duration
	AnswerMax      int64
	MessagesWindow time.Duration
	MessagesMax    int64
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		JoinWindow:     60 * time.Second,
		JoinMax:        5,
		AnswerWindow:   300 * time.Second,
		AnswerMax:      1,
		MessagesWindow: 1 * time.Second,
		MessagesMax:    10,
	}
}

// Limiter enforces the three fixed-window scopes of the engine.
type Limiter struct {
	store  store.Ephemeral
	cfg    Config
	logger zerolog.Logger
}

// New creates a limiter backed by the given ephemeral store.
func New(st store.Ephemeral, cfg Config, logger zerolog.Logger) *Limiter {
	return &Limiter{store: st, cfg: cfg, logger: logger}
}

// CheckJoin limits join attempts per client IP.
func (l *Limiter) CheckJoin(ctx context.Context, ip string) Result {
	return l.check(ctx, ScopeJoin, ip, l.cfg.JoinWindow, l.cfg.JoinMax)
}

// CheckAnswer is the duplicate guard: exactly one answer per
// (participant, question) per window.
func (l *Limiter) CheckAnswer(ctx context.Context, participantID, questionID string) Result {
	return l.check(ctx, ScopeAnswer, participantID+":"+questionID, l.cfg.AnswerWindow, l.cfg.AnswerMax)
}

// CheckMessage limits inbound messages per socket.
func (l *Limiter) CheckMessage(ctx context.Context, socketID string) Result {
	return l.check(ctx, ScopeMessages, socketID, l.cfg.MessagesWindow, l.cfg.MessagesMax)
}

func (l *Limiter) check(ctx context.Context, scope Scope, identifier string, window time.Duration, max int64) Result {
	key := store.RateLimitKey(string(scope), identifier)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		l.logger.Warn().Err(err).Str("scope", string(scope)).Msg("rate limiter backend error, failing open")
		rateLimitFailOpen.WithLabelValues(string(scope)).Inc()
		return Result{Allowed: true}
	}

	// TTL is set on the first increment only so the window is fixed, not
	// sliding.
	if count == 1 {
		if err := l.store.Expire(ctx, key, window); err != nil {
			l.logger.Warn().Err(err).Str("scope", string(scope)).Msg("failed to set rate limit window TTL")
		}
	}

	if count > max {
		retryAfter := window
		if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		rateLimitDenied.WithLabelValues(string(scope)).Inc()
		return Result{Allowed: false, RetryAfter: retryAfter, Count: count}
	}

	return Result{Allowed: true, Count: count}
}

// Status returns the current count and remaining TTL for a window. A TTL of
// -2 means the key does not exist.
func (l *Limiter) Status(ctx context.Context, scope Scope, identifier string) (int64, time.Duration, error) {
	key := store.RateLimitKey(string(scope), identifier)

	val, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, -2 * time.Second, nil
		}
		return 0, 0, err
	}

	count, _ := strconv.ParseInt(val, 10, 64)

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return count, 0, err
	}
	return count, ttl, nil
}

// ResetJoin clears the join window for an IP.
func (l *Limiter) ResetJoin(ctx context.Context, ip string) error {
	return l.store.Del(ctx, store.RateLimitKey(string(ScopeJoin), ip))
}

// ResetAnswer clears the duplicate guard for one (participant, question)
// pair. The question id is required: resetting all answer windows for a
// participant would defeat the dedup invariant.
func (l *Limiter) ResetAnswer(ctx context.Context, participantID, questionID string) error {
	return l.store.Del(ctx, store.RateLimitKey(string(ScopeAnswer), participantID+":"+questionID))
}

// ResetMessages clears the message window for a socket.
func (l *Limiter) ResetMessages(ctx context.Context, socketID string) error {
	return l.store.Del(ctx, store.RateLimitKey(string(ScopeMessages), socketID))
}
