// SPDX-License-Identifier: MIT

package ws

import (
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/metrics"
	"github.com/quizwire/quizwire/internal/quiz/model"
)

// HandshakeTimeout bounds how long a fresh socket may take to authenticate
// before it is dropped.
const HandshakeTimeout = 5 * time.Second

// Hub tracks every open connection and its session/role attachment. One Hub
// serves all sessions in the process.
type Hub struct {
	mu sync.RWMutex

	// connection id -> conn, for direct sends
	conns map[string]*Conn

	// session id -> role -> set of connection ids
	sessions map[string]map[model.Role]map[string]*Conn

	// participant id -> connection id, for private events
	participants map[string]string

	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:        make(map[string]*Conn),
		sessions:     make(map[string]map[model.Role]map[string]*Conn),
		participants: make(map[string]string),
		logger:       xglog.WithComponent("ws"),
	}
}

// Adopt wraps an accepted socket into a managed Conn. The connection is
// tracked but belongs to no session until Attach.
func (h *Hub) Adopt(sock *websocket.Conn) *Conn {
	c := newConn(uuid.NewString(), sock)
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	return c
}

// Attach binds an authenticated connection to a session and role. For
// participants, participantID routes private events.
func (h *Hub) Attach(c *Conn, sessionID string, role model.Role, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.SessionID = sessionID
	c.Role = role
	c.ParticipantID = participantID

	roles, ok := h.sessions[sessionID]
	if !ok {
		roles = make(map[model.Role]map[string]*Conn)
		h.sessions[sessionID] = roles
	}
	set, ok := roles[role]
	if !ok {
		set = make(map[string]*Conn)
		roles[role] = set
	}
	set[c.ID] = c

	if participantID != "" {
		h.participants[participantID] = c.ID
	}

	metrics.IncConnection(string(role))
}

// Detach removes a connection from the hub and closes it. Safe to call for
// never-attached or already-detached connections.
func (h *Hub) Detach(c *Conn, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, tracked := h.conns[c.ID]
	delete(h.conns, c.ID)
	if roles, ok := h.sessions[c.SessionID]; ok {
		if set, ok := roles[c.Role]; ok {
			delete(set, c.ID)
			if len(set) == 0 {
				delete(roles, c.Role)
			}
		}
		if len(roles) == 0 {
			delete(h.sessions, c.SessionID)
		}
	}
	if c.ParticipantID != "" && h.participants[c.ParticipantID] == c.ID {
		delete(h.participants, c.ParticipantID)
	}
	h.mu.Unlock()

	if tracked && c.Role != "" {
		metrics.DecConnection(string(c.Role))
	}
	c.Close(code, reason)
}

// BroadcastSession fans an envelope out to every connection of a session.
func (h *Hub) BroadcastSession(sessionID string, env model.Envelope) {
	for _, c := range h.sessionConns(sessionID, nil) {
		c.Enqueue(env)
	}
}

// BroadcastRoles fans an envelope out to the given roles of a session only.
func (h *Hub) BroadcastRoles(sessionID string, env model.Envelope, roles ...model.Role) {
	for _, c := range h.sessionConns(sessionID, roles) {
		c.Enqueue(env)
	}
}

// SendToParticipant delivers a private event. Returns false when the
// participant has no live connection.
func (h *Hub) SendToParticipant(participantID string, env model.Envelope) bool {
	h.mu.RLock()
	connID, ok := h.participants[participantID]
	var c *Conn
	if ok {
		c = h.conns[connID]
	}
	h.mu.RUnlock()

	if c == nil {
		return false
	}
	c.Enqueue(env)
	return true
}

// ConnByParticipant returns the live connection for a participant, if any.
func (h *Hub) ConnByParticipant(participantID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	connID, ok := h.participants[participantID]
	if !ok {
		return nil, false
	}
	c, ok := h.conns[connID]
	return c, ok
}

// SessionConnCount returns the number of live connections for a session,
// optionally filtered by role.
func (h *Hub) SessionConnCount(sessionID string, roles ...model.Role) int {
	return len(h.sessionConns(sessionID, roles))
}

// CloseSession detaches every connection of a session, e.g. on session end.
func (h *Hub) CloseSession(sessionID string, code websocket.StatusCode, reason string) {
	for _, c := range h.sessionConns(sessionID, nil) {
		h.Detach(c, code, reason)
	}
}

// sessionConns snapshots connection pointers under the read lock so slow
// writes never stall attach/detach.
func (h *Hub) sessionConns(sessionID string, roles []model.Role) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	byRole, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}

	var out []*Conn
	if roles == nil {
		for _, set := range byRole {
			for _, c := range set {
				out = append(out, c)
			}
		}
		return out
	}
	for _, role := range roles {
		for _, c := range byRole[role] {
			out = append(out, c)
		}
	}
	return out
}
