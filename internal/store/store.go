// SPDX-License-Identifier: MIT

// Package store declares the ephemeral (Redis) and durable (SQLite) storage
// contracts consumed by the quiz engine. The ephemeral store is the fast
// path and authoritative while a session runs; the durable store is the
// authority across restarts and evictions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/quizwire/quizwire/internal/quiz/model"
)

// ErrNotFound is returned when a key or record does not exist.
var ErrNotFound = errors.New("store: not found")

// ZMember is a sorted-set member with its composite score.
type ZMember struct {
	Member string
	Score  float64
}

// Ephemeral is a KV store with TTLs, atomic counters, hashes, sorted sets,
// plain sets and pub/sub. All operations carry a context; implementations
// bound each call with a short deadline.
type Ephemeral interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr atomically increments key and returns the new value. The caller
	// sets the TTL on first increment (when the returned value is 1).
	Incr(ctx context.Context, key string) (int64, error)

	// TTL returns the remaining lifetime. -1 means no expiry, -2 means the
	// key does not exist (Redis semantics, surfaced unchanged).
	TTL(ctx context.Context, key string) (time.Duration, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key, member string) error
	ZScore(ctx context.Context, key, member string) (float64, error)
	// ZRevRank returns the 0-based rank by descending score.
	ZRevRank(ctx context.Context, key, member string) (int64, error)
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)
	ZCard(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	Publish(ctx context.Context, channel string, payload []byte) error

	Ping(ctx context.Context) error
	Close() error
}

// Durable is the document store holding sessions, participants, answers and
// quizzes. Writes are idempotent by primary key; answer writes are upserts
// on (sessionID, participantID, questionID).
type Durable interface {
	PutSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)

	PutParticipant(ctx context.Context, p *model.Participant) error
	GetParticipant(ctx context.Context, sessionID, participantID string) (*model.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error)

	UpsertAnswer(ctx context.Context, a *model.Answer) error
	GetAnswer(ctx context.Context, sessionID, participantID, questionID string) (*model.Answer, error)
	ListAnswers(ctx context.Context, sessionID, questionID string) ([]*model.Answer, error)
	ListParticipantAnswers(ctx context.Context, sessionID, participantID string) ([]*model.Answer, error)

	PutQuiz(ctx context.Context, q *model.Quiz) error
	GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error)

	Close() error
}
