// SPDX-License-Identifier: MIT

// Package ws is the connection fan-out layer: typed event routing to
// role-scoped socket sets with per-connection ordering and backpressure.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/metrics"
	"github.com/quizwire/quizwire/internal/quiz/model"
)

const (
	// writeTimeout bounds a single frame write to one client.
	writeTimeout = 5 * time.Second

	// sendQueueSize bounds the per-connection outbound queue.
	sendQueueSize = 64
)

// Delivery classes. Coalescable events are high-frequency snapshots where
// only the latest matters; droppable events are advisory; everything else is
// critical and a saturated queue disconnects the client rather than lose the
// event.
var (
	coalescable = map[model.EventType]bool{
		model.EvTimerTick:          true,
		model.EvLeaderboardUpdated: true,
		model.EvAnswerCountUpdated: true,
	}
	droppable = map[model.EventType]bool{
		model.EvParticipantJoined: true,
		model.EvParticipantLeft:   true,
		model.EvParticipantStatus: true,
		model.EvParticipantFocus:  true,
	}
)

type queued struct {
	env      model.Envelope
	coalesce model.EventType // when set, read the latest pending instead
}

// Conn is one client socket with a dedicated writer goroutine. Enqueue is
// safe for concurrent use; frames to one connection go out in enqueue order.
type Conn struct {
	ID            string
	SessionID     string
	Role          model.Role
	ParticipantID string

	sock   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	queue  chan queued
	latest map[model.EventType]model.Envelope
	closed bool

	done chan struct{}
}

func newConn(id string, sock *websocket.Conn) *Conn {
	c := &Conn{
		ID:     id,
		sock:   sock,
		queue:  make(chan queued, sendQueueSize),
		latest: make(map[model.EventType]model.Envelope),
		logger: xglog.WithComponent("ws").With().Str(xglog.FieldConnectionID, id).Logger(),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)

func (c *Conn) trySend(q queued) sendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return sendClosed
	}
	select {
	case c.queue <- q:
		return sendOK
	default:
		return sendFull
	}
}

// Enqueue queues an envelope according to its delivery class.
func (c *Conn) Enqueue(env model.Envelope) {
	switch {
	case coalescable[env.Type]:
		c.enqueueCoalesced(env)

	case droppable[env.Type]:
		if c.trySend(queued{env: env}) == sendFull {
			metrics.IncBroadcastDrop(string(env.Type))
		}

	default:
		// Critical: results, state changes, private errors. Never silently
		// dropped; a consumer too slow for these is disconnected and comes
		// back through recovery.
		if c.trySend(queued{env: env}) == sendFull {
			metrics.IncBroadcastDrop(string(env.Type))
			c.logger.Warn().
				Str("type", string(env.Type)).
				Msg("send queue saturated on critical event, disconnecting")
			c.Close(websocket.StatusPolicyViolation, "slow consumer")
		}
	}
}

// enqueueCoalesced stores env as the latest of its type and puts one marker
// in the queue. Further envelopes of the same type before the marker drains
// replace the pending payload: latest wins.
func (c *Conn) enqueueCoalesced(env model.Envelope) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	_, pending := c.latest[env.Type]
	c.latest[env.Type] = env
	if pending {
		c.mu.Unlock()
		metrics.IncBroadcastDrop(string(env.Type))
		return
	}
	select {
	case c.queue <- queued{coalesce: env.Type}:
		c.mu.Unlock()
	default:
		// Marker lost on a full queue; drop the payload too so a stale
		// snapshot cannot surface later without a fresh marker.
		delete(c.latest, env.Type)
		c.mu.Unlock()
		metrics.IncBroadcastDrop(string(env.Type))
	}
}

func (c *Conn) writeLoop() {
	defer close(c.done)

	for q := range c.queue {
		env := q.env
		if q.coalesce != "" {
			c.mu.Lock()
			var ok bool
			env, ok = c.latest[q.coalesce]
			delete(c.latest, q.coalesce)
			c.mu.Unlock()
			if !ok {
				continue
			}
		}

		data, err := json.Marshal(env)
		if err != nil {
			c.logger.Error().Err(err).Str("type", string(env.Type)).Msg("marshal outbound event")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err = c.sock.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			c.logger.Debug().Err(err).Msg("write failed, stopping writer")
			c.Close(websocket.StatusAbnormalClosure, "write failed")
			return
		}
		metrics.IncBroadcast(string(env.Type))
	}
}

// SetReadLimit caps the size of inbound frames. Oversized frames fail the
// pending Read and close the connection.
func (c *Conn) SetReadLimit(n int64) {
	c.sock.SetReadLimit(n)
}

// Read blocks for the next inbound envelope and returns it with the raw
// frame size. A malformed frame is an error; the connection stays open.
func (c *Conn) Read(ctx context.Context) (model.Envelope, int, error) {
	_, data, err := c.sock.Read(ctx)
	if err != nil {
		return model.Envelope{}, 0, err
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, len(data), errMalformedFrame
	}
	return env, len(data), nil
}

// errMalformedFrame marks an undecodable inbound frame.
var errMalformedFrame = errors.New("ws: malformed frame")

// IsMalformed reports whether err is a decode failure rather than a dead
// socket.
func IsMalformed(err error) bool { return errors.Is(err, errMalformedFrame) }

// Close shuts the socket and stops the writer. Idempotent.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	_ = c.sock.Close(code, reason)
}

// Done is closed once the writer goroutine has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }
