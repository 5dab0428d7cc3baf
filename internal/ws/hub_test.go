// SPDX-License-Identifier: MIT

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/quizwire/quizwire/internal/quiz/model"
)

type client struct {
	conn *Conn
	sock *websocket.Conn
}

// dial spins up a server socket adopted by the hub plus the client side.
func dial(t *testing.T, h *Hub) *client {
	t.Helper()

	adopted := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		c := h.Adopt(sock)
		adopted <- c
		<-c.Done()
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sock, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):], nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.CloseNow() })

	select {
	case c := <-adopted:
		return &client{conn: c, sock: sock}
	case <-time.After(5 * time.Second):
		t.Fatal("server never adopted the connection")
		return nil
	}
}

func (cl *client) read(t *testing.T) model.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := cl.sock.Read(ctx)
	require.NoError(t, err)

	var env model.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestBroadcastSession(t *testing.T) {
	h := NewHub()
	a := dial(t, h)
	b := dial(t, h)
	other := dial(t, h)

	h.Attach(a.conn, "s1", model.RoleParticipant, "p1")
	h.Attach(b.conn, "s1", model.RoleController, "")
	h.Attach(other.conn, "s2", model.RoleParticipant, "p9")

	h.BroadcastSession("s1", model.NewEnvelope(model.EvQuizStarted, nil))

	if got := a.read(t); got.Type != model.EvQuizStarted {
		t.Errorf("participant got %q", got.Type)
	}
	if got := b.read(t); got.Type != model.EvQuizStarted {
		t.Errorf("controller got %q", got.Type)
	}

	// the other session must receive nothing
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, _, err := other.sock.Read(ctx); err == nil {
		t.Error("cross-session leak")
	}
}

func TestBroadcastRoles(t *testing.T) {
	h := NewHub()
	part := dial(t, h)
	ctrl := dial(t, h)

	h.Attach(part.conn, "s1", model.RoleParticipant, "p1")
	h.Attach(ctrl.conn, "s1", model.RoleController, "")

	h.BroadcastRoles("s1", model.NewEnvelope(model.EvLeaderboardUpdated, model.LeaderboardPayload{}), model.RoleController, model.RoleBigscreen)

	if got := ctrl.read(t); got.Type != model.EvLeaderboardUpdated {
		t.Errorf("controller got %q", got.Type)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, _, err := part.sock.Read(ctx); err == nil {
		t.Error("participant received role-scoped event")
	}
}

func TestSendToParticipant(t *testing.T) {
	h := NewHub()
	a := dial(t, h)
	h.Attach(a.conn, "s1", model.RoleParticipant, "p1")

	ok := h.SendToParticipant("p1", model.NewEnvelope(model.EvAnswerResult, model.AnswerResultPayload{QuestionID: "q1", IsCorrect: true}))
	require.True(t, ok)

	env := a.read(t)
	require.Equal(t, model.EvAnswerResult, env.Type)

	var payload model.AnswerResultPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.True(t, payload.IsCorrect)

	if h.SendToParticipant("ghost", model.NewEnvelope(model.EvAnswerResult, nil)) {
		t.Error("send to unknown participant must report false")
	}
}

func TestPerConnectionOrdering(t *testing.T) {
	h := NewHub()
	a := dial(t, h)
	h.Attach(a.conn, "s1", model.RoleParticipant, "p1")

	for i := 0; i < 20; i++ {
		h.SendToParticipant("p1", model.NewEnvelope(model.EvAnswerCountUpdated, model.AnswerCountPayload{QuestionID: "q1", Answered: i}))
		h.SendToParticipant("p1", model.NewEnvelope(model.EvAnswerAccepted, model.AnswerAcceptedPayload{QuestionID: "q1", ResponseTimeMs: int64(i)}))
	}

	// all 20 critical events arrive, in order
	var seen []int64
	deadline := time.Now().Add(5 * time.Second)
	for len(seen) < 20 && time.Now().Before(deadline) {
		env := a.read(t)
		if env.Type != model.EvAnswerAccepted {
			continue
		}
		var p model.AnswerAcceptedPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		seen = append(seen, p.ResponseTimeMs)
	}
	require.Len(t, seen, 20)
	for i, v := range seen {
		if v != int64(i) {
			t.Fatalf("order broken at %d: %v", i, seen)
		}
	}
}

func TestCoalescingKeepsLatest(t *testing.T) {
	h := NewHub()
	a := dial(t, h)
	h.Attach(a.conn, "s1", model.RoleParticipant, "p1")

	// burst of ticks: markers collapse, the drained payload is the latest
	for i := 1; i <= 50; i++ {
		a.conn.Enqueue(model.NewEnvelope(model.EvTimerTick, model.TimerTickPayload{QuestionID: "q1", RemainingSeconds: i}))
	}
	// a critical sentinel flushes behind the coalesced tick
	a.conn.Enqueue(model.NewEnvelope(model.EvQuestionStarted, nil))

	ticks := 0
	for {
		env := a.read(t)
		if env.Type == model.EvQuestionStarted {
			break
		}
		require.Equal(t, model.EvTimerTick, env.Type)
		ticks++
		var p model.TimerTickPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		require.Greater(t, p.RemainingSeconds, 0)
	}
	require.LessOrEqual(t, ticks, 2, "burst must coalesce to at most a couple of ticks")
}

func TestDetachCleansUp(t *testing.T) {
	h := NewHub()
	a := dial(t, h)
	h.Attach(a.conn, "s1", model.RoleParticipant, "p1")

	require.Equal(t, 1, h.SessionConnCount("s1"))

	h.Detach(a.conn, websocket.StatusNormalClosure, "bye")
	require.Equal(t, 0, h.SessionConnCount("s1"))
	if _, ok := h.ConnByParticipant("p1"); ok {
		t.Error("participant index must be cleared")
	}

	// double detach is harmless
	h.Detach(a.conn, websocket.StatusNormalClosure, "bye")
}
