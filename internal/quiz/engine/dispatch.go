// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/quizwire/quizwire/internal/auth"
	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/quiz/model"
	"github.com/quizwire/quizwire/internal/ws"
)

// In-process message throttle per socket. The store-backed window behind it
// stays authoritative across instances.
const (
	localMessageRate  rate.Limit = 25
	localMessageBurst            = 50
)

// ServeConn owns a websocket for its whole life: the authenticate handshake,
// the inbound message loop and the final detach. It blocks until the peer
// goes away or the session removes it.
func (e *Engine) ServeConn(ctx context.Context, c *ws.Conn, remoteAddr string) {
	c.SetReadLimit(e.cfg.MaxMessageBytes)

	co, binding, ok := e.handshake(ctx, c, remoteAddr)
	if !ok {
		e.deps.Hub.Detach(c, websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	if binding.Role == model.RoleParticipant {
		if err := co.markConnected(ctx, binding.ParticipantID, c.ID); err != nil {
			c.Enqueue(model.NewEnvelope(model.EvAuthError, model.ErrorPayload{
				Code: model.CodeOf(err), Message: "participant not admitted",
			}))
			e.deps.Hub.Detach(c, websocket.StatusPolicyViolation, "unknown participant")
			return
		}
	}

	c.Enqueue(model.NewEnvelope(model.EvAuthenticated, model.AuthenticatedPayload{
		SessionID:     binding.SessionID,
		Role:          c.Role,
		ParticipantID: binding.ParticipantID,
	}))
	c.Enqueue(model.NewEnvelope(model.EvLobbyState, co.lobbyState()))

	e.readLoop(ctx, c, co, binding)

	if c.Role == model.RoleParticipant && binding.ParticipantID != "" {
		co.markDisconnected(binding.ParticipantID, c.ID)
	}
	e.deps.Hub.Detach(c, websocket.StatusNormalClosure, "")
}

// handshake reads and verifies the first frame, which must be authenticate,
// within the handshake timeout.
func (e *Engine) handshake(ctx context.Context, c *ws.Conn, remoteAddr string) (*Coordinator, *auth.Binding, bool) {
	reject := func(code model.Code, msg, sessionID string) {
		c.Enqueue(model.NewEnvelope(model.EvAuthError, model.ErrorPayload{Code: code, Message: msg}))
		e.deps.Trail.AuthFailure(remoteAddr, sessionID, string(code))
	}

	hctx, cancel := context.WithTimeout(ctx, ws.HandshakeTimeout)
	env, _, err := c.Read(hctx)
	cancel()
	if err != nil {
		return nil, nil, false
	}
	if env.Type != model.EvAuthenticate {
		reject(model.CodeMissingToken, "first frame must be authenticate", "")
		return nil, nil, false
	}

	var payload model.AuthenticatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		reject(model.CodeInvalid, "malformed authenticate payload", "")
		return nil, nil, false
	}
	if payload.Token == "" {
		reject(model.CodeMissingToken, "token required", payload.SessionID)
		return nil, nil, false
	}
	if !payload.Role.Valid() {
		reject(model.CodeInvalidRole, "unknown role", payload.SessionID)
		return nil, nil, false
	}

	binding, err := e.deps.Issuer.Verify(ctx, payload.Token, payload.SessionID)
	if err != nil {
		reject(model.CodeExpiredToken, "token rejected", payload.SessionID)
		return nil, nil, false
	}
	if !roleAllowed(binding.Role, payload.Role) {
		reject(model.CodeInvalidRole, "token does not grant this role", payload.SessionID)
		return nil, nil, false
	}

	co, ok := e.Lookup(binding.SessionID)
	if !ok {
		reject(model.CodeSessionNotFound, "session is gone", payload.SessionID)
		return nil, nil, false
	}

	participantID := ""
	if payload.Role == model.RoleParticipant {
		participantID = binding.ParticipantID
	}
	e.deps.Hub.Attach(c, binding.SessionID, payload.Role, participantID)

	e.logger.Debug().
		Str(xglog.FieldSessionID, binding.SessionID).
		Str(xglog.FieldRole, string(payload.Role)).
		Str(xglog.FieldConnectionID, c.ID).
		Msg("connection authenticated")
	return co, binding, true
}

// roleAllowed maps token bindings to connectable roles. A controller token
// also drives bigscreen and tester views.
func roleAllowed(bound, requested model.Role) bool {
	if bound == requested {
		return true
	}
	return bound == model.RoleController &&
		(requested == model.RoleBigscreen || requested == model.RoleTester)
}

// readLoop routes inbound frames until the socket dies. Excess messages are
// rejected per socket by the message window; malformed frames get an error
// event without closing the connection.
func (e *Engine) readLoop(ctx context.Context, c *ws.Conn, co *Coordinator, binding *auth.Binding) {
	// local token bucket in front of the shared fixed window, so a flooding
	// socket burns no store round-trips
	bucket := rate.NewLimiter(localMessageRate, localMessageBurst)

	for {
		env, _, err := c.Read(ctx)
		if err != nil {
			if ws.IsMalformed(err) {
				c.Enqueue(model.NewEnvelope(model.EvError, model.ErrorPayload{
					Code: model.CodeInvalid, Message: "malformed frame",
				}))
				continue
			}
			return
		}

		if !bucket.Allow() {
			c.Enqueue(model.NewEnvelope(model.EvRateLimitExceeded, model.AnswerRejectedPayload{
				Reason:     model.CodeRateLimited,
				RetryAfter: 1,
			}))
			continue
		}

		if res := e.deps.Limiter.CheckMessage(ctx, c.ID); !res.Allowed {
			c.Enqueue(model.NewEnvelope(model.EvRateLimitExceeded, model.AnswerRejectedPayload{
				Reason:     model.CodeRateLimited,
				RetryAfter: int((res.RetryAfter + time.Second - 1) / time.Second),
			}))
			continue
		}

		e.route(ctx, c, co, binding, env)
	}
}

func (e *Engine) route(ctx context.Context, c *ws.Conn, co *Coordinator, binding *auth.Binding, env model.Envelope) {
	sendErr := func(err error) {
		if err == nil {
			return
		}
		c.Enqueue(model.NewEnvelope(model.EvError, model.ErrorPayload{
			Code:    model.CodeOf(err),
			Message: err.Error(),
		}))
	}

	isController := c.Role == model.RoleController

	switch env.Type {
	case model.EvSubmitAnswer:
		if c.Role != model.RoleParticipant {
			sendErr(model.NewError(model.CodeUnauthorized, "only participants submit answers"))
			return
		}
		var sub model.Submission
		if err := json.Unmarshal(env.Payload, &sub); err != nil {
			sendErr(model.NewError(model.CodeInvalid, "malformed submission"))
			return
		}
		sendErr(co.SubmitAnswer(ctx, binding.ParticipantID, sub))

	case model.EvReconnectSession:
		var payload model.ReconnectPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.ParticipantID != binding.ParticipantID {
			c.Enqueue(model.NewEnvelope(model.EvRecoveryFailed, model.RecoveryFailedPayload{
				Reason: model.CodeUnauthorized,
			}))
			return
		}
		snap, err := co.Recover(ctx, binding.ParticipantID, c.ID)
		if err != nil {
			c.Enqueue(model.NewEnvelope(model.EvRecoveryFailed, model.RecoveryFailedPayload{
				Reason: model.CodeOf(err),
			}))
			return
		}
		c.Enqueue(model.NewEnvelope(model.EvSessionRecovered, snap))

	case model.EvFocusLost:
		if c.Role == model.RoleParticipant {
			co.HandleFocusLost(binding.ParticipantID)
		}

	case model.EvFocusRegained:
		if c.Role == model.RoleParticipant {
			var payload model.FocusRegainedPayload
			if err := json.Unmarshal(env.Payload, &payload); err == nil {
				co.HandleFocusRegained(binding.ParticipantID, payload.DurationMs)
			}
		}

	case model.EvStartQuiz:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		sendErr(co.StartQuiz(ctx, binding.ParticipantID))

	case model.EvNextQuestion:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		sendErr(co.NextQuestion(ctx, binding.ParticipantID))

	case model.EvEndQuiz:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		sendErr(co.EndQuiz(ctx, binding.ParticipantID))

	case model.EvVoidQuestion:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		var payload model.VoidQuestionPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			sendErr(model.NewError(model.CodeInvalid, "malformed void request"))
			return
		}
		sendErr(co.VoidQuestion(ctx, binding.ParticipantID, payload.QuestionID, payload.Reason))

	case model.EvSkipQuestion:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		var payload model.SkipQuestionPayload
		_ = json.Unmarshal(env.Payload, &payload)
		sendErr(co.SkipQuestion(ctx, binding.ParticipantID, payload.Reason))

	case model.EvPauseTimer:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		sendErr(co.PauseTimer(ctx))

	case model.EvResumeTimer:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		sendErr(co.ResumeTimer(ctx))

	case model.EvResetTimer:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		var payload model.ResetTimerPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			sendErr(model.NewError(model.CodeInvalid, "malformed reset request"))
			return
		}
		sendErr(co.ResetTimer(ctx, payload.NewTimeLimit))

	case model.EvKickParticipant:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		var payload model.KickPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			sendErr(model.NewError(model.CodeInvalid, "malformed kick request"))
			return
		}
		sendErr(co.Kick(ctx, binding.ParticipantID, payload.ParticipantID, payload.Reason))

	case model.EvBanParticipant:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		var payload model.KickPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			sendErr(model.NewError(model.CodeInvalid, "malformed ban request"))
			return
		}
		sendErr(co.Ban(ctx, binding.ParticipantID, payload.ParticipantID, payload.Reason))

	case model.EvToggleLateJoin:
		if !isController {
			sendErr(model.NewError(model.CodeUnauthorized, "controller only"))
			return
		}
		var payload model.ToggleLateJoinPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			sendErr(model.NewError(model.CodeInvalid, "malformed toggle request"))
			return
		}
		sendErr(co.ToggleLateJoiners(ctx, payload.AllowLateJoiners))

	default:
		sendErr(model.NewError(model.CodeInvalid, "unknown event type %q", env.Type))
	}
}
