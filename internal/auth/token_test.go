// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizwire/quizwire/internal/quiz/model"
	"github.com/quizwire/quizwire/internal/store/redisstore"
	"github.com/quizwire/quizwire/internal/store/sqlitestore"
)

func setup(t *testing.T) (*miniredis.Miniredis, *sqlitestore.Store, *Issuer) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	eph := redisstore.NewWithClient(client, zerolog.Nop())

	db, err := sqlitestore.New(filepath.Join(t.TempDir(), "quiz.db"))
	if err != nil {
		t.Fatalf("open durable store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return mr, db, NewIssuer(eph, db, time.Hour)
}

func TestIssueVerify(t *testing.T) {
	_, _, issuer := setup(t)
	ctx := context.Background()

	token, err := issuer.Issue(ctx, "s1", "p1", model.RoleParticipant)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length: %d", len(token))
	}

	b, err := issuer.Verify(ctx, token, "s1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if b.ParticipantID != "p1" || b.Role != model.RoleParticipant {
		t.Errorf("binding mismatch: %+v", b)
	}
}

func TestVerifyWrongSession(t *testing.T) {
	_, _, issuer := setup(t)
	ctx := context.Background()

	token, _ := issuer.Issue(ctx, "s1", "p1", model.RoleParticipant)
	if _, err := issuer.Verify(ctx, token, "s2"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for cross-session token, got %v", err)
	}
}

func TestVerifyUnknownToken(t *testing.T) {
	_, _, issuer := setup(t)
	if _, err := issuer.Verify(context.Background(), "deadbeef", "s1"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	mr, _, issuer := setup(t)
	ctx := context.Background()

	token, _ := issuer.Issue(ctx, "s1", "p1", model.RoleParticipant)
	mr.FastForward(2 * time.Hour)

	if _, err := issuer.Verify(ctx, token, "s1"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after TTL, got %v", err)
	}
}

func TestDurableFallback(t *testing.T) {
	mr, db, issuer := setup(t)
	ctx := context.Background()

	token, err := issuer.Issue(ctx, "s1", "p1", model.RoleParticipant)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	p := &model.Participant{
		ParticipantID: "p1", SessionID: "s1", Nickname: "Ana",
		Token: token, JoinedAt: time.Now(),
	}
	if err := db.PutParticipant(ctx, p); err != nil {
		t.Fatalf("put participant: %v", err)
	}

	// wipe the ephemeral store; the durable record must carry the reconnect
	mr.FlushAll()

	b, err := issuer.Verify(ctx, token, "s1")
	if err != nil {
		t.Fatalf("verify after flush: %v", err)
	}
	if b.ParticipantID != "p1" || b.Role != model.RoleParticipant {
		t.Errorf("binding mismatch: %+v", b)
	}
}

func TestRevoke(t *testing.T) {
	_, _, issuer := setup(t)
	ctx := context.Background()

	token, _ := issuer.Issue(ctx, "s1", "p1", model.RoleController)
	if err := issuer.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := issuer.Verify(ctx, token, "s1"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after revoke, got %v", err)
	}
}
