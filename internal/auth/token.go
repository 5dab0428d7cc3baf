// SPDX-License-Identifier: MIT

// Package auth issues and verifies the opaque session tokens that bind a
// connection to a participant identity.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/quiz/model"
	"github.com/quizwire/quizwire/internal/store"
)

// ErrInvalidToken is returned when a token is unknown, expired or bound to a
// different session.
var ErrInvalidToken = errors.New("invalid token")

// Binding is what a token resolves to.
type Binding struct {
	SessionID     string     `json:"sessionId"`
	ParticipantID string     `json:"participantId"`
	Role          model.Role `json:"role"`
}

// Issuer creates tokens in the ephemeral store and falls back to the durable
// participant record when the ephemeral entry is gone (Redis restart).
type Issuer struct {
	eph     store.Ephemeral
	durable store.Durable
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewIssuer creates an Issuer. ttl bounds how long a token stays resolvable
// in the ephemeral store; the durable fallback outlives it.
func NewIssuer(eph store.Ephemeral, durable store.Durable, ttl time.Duration) *Issuer {
	return &Issuer{
		eph:     eph,
		durable: durable,
		ttl:     ttl,
		logger:  xglog.WithComponent("auth"),
	}
}

// Issue mints a 256-bit random token bound to (session, participant, role).
func (i *Issuer) Issue(ctx context.Context, sessionID, participantID string, role model.Role) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	b, err := json.Marshal(Binding{SessionID: sessionID, ParticipantID: participantID, Role: role})
	if err != nil {
		return "", fmt.Errorf("marshal binding: %w", err)
	}
	if err := i.eph.Set(ctx, store.TokenKey(token), string(b), i.ttl); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Verify resolves a token to its binding. sessionID scopes the lookup: a
// token issued for another session is invalid here even if it resolves.
//
// When the ephemeral entry is missing the durable participant records for the
// session are consulted, so reconnects survive an ephemeral store restart.
func (i *Issuer) Verify(ctx context.Context, token, sessionID string) (*Binding, error) {
	if token == "" || sessionID == "" {
		return nil, ErrInvalidToken
	}

	val, err := i.eph.Get(ctx, store.TokenKey(token))
	switch {
	case err == nil:
		var b Binding
		if err := json.Unmarshal([]byte(val), &b); err != nil {
			return nil, fmt.Errorf("unmarshal binding: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(b.SessionID), []byte(sessionID)) != 1 {
			return nil, ErrInvalidToken
		}
		return &b, nil

	case errors.Is(err, store.ErrNotFound):
		return i.verifyDurable(ctx, token, sessionID)

	default:
		// Ephemeral store down. Tokens must still verify or every client
		// drops; the durable path is authoritative enough.
		i.logger.Warn().Err(err).Msg("token lookup failed, trying durable fallback")
		return i.verifyDurable(ctx, token, sessionID)
	}
}

func (i *Issuer) verifyDurable(ctx context.Context, token, sessionID string) (*Binding, error) {
	if i.durable == nil {
		return nil, ErrInvalidToken
	}

	participants, err := i.durable.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("durable token lookup: %w", err)
	}
	for _, p := range participants {
		if p.Token != "" && subtle.ConstantTimeCompare([]byte(p.Token), []byte(token)) == 1 {
			// Only participants have durable records; controller and
			// bigscreen tokens live in the ephemeral store alone.
			return &Binding{SessionID: sessionID, ParticipantID: p.ParticipantID, Role: model.RoleParticipant}, nil
		}
	}
	return nil, ErrInvalidToken
}

// Revoke removes a token from the ephemeral store. Durable fallback entries
// are invalidated by clearing participant.Token upstream.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	return i.eph.Del(ctx, store.TokenKey(token))
}
