// SPDX-License-Identifier: MIT

// Package redisstore implements the ephemeral store contract on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizwire/quizwire/internal/store"
)

// opTimeout bounds every single Redis call. Handlers must not stall on a
// degraded ephemeral store; callers decide fail-open vs fail-fast.
const opTimeout = 200 * time.Millisecond

// Config holds Redis connection configuration.
type Config struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// Store is a Redis-backed implementation of store.Ephemeral.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to redis")

	return &Store{client: client, logger: logger}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client, logger zerolog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

func (s *Store) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	return val, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Incr(ctx, key).Result()
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis surfaces the Redis sentinels -1 (no expiry) and -2 (no such
	// key) as raw negative nanoseconds; normalize to seconds.
	if d == -1 || d == -2 {
		d *= time.Second
	}
	return d, nil
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.client.HSet(ctx, key, args...).Err()
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	val, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	return val, err
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.HGetAll(ctx, key).Result()
}

func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.ZAdd(ctx, key, redis.Z{Member: member, Score: score}).Err()
}

func (s *Store) ZRem(ctx context.Context, key, member string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.ZRem(ctx, key, member).Err()
}

func (s *Store) ZScore(ctx context.Context, key, member string) (float64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	score, err := s.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	return score, err
}

func (s *Store) ZRevRank(ctx context.Context, key, member string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	rank, err := s.client.ZRevRank(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	return rank, err
}

func (s *Store) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]store.ZMember, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	zs, err := s.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	members := make([]store.ZMember, 0, len(zs))
	for _, z := range zs {
		m, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, store.ZMember{Member: m, Score: z.Score})
	}
	return members, nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.ZCard(ctx, key).Result()
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, key, args...).Err()
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.SIsMember(ctx, key, member).Result()
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.SCard(ctx, key).Result()
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.SMembers(ctx, key).Result()
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
