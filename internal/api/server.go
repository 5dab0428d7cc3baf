// SPDX-License-Identifier: MIT

// Package api is the HTTP ingress of quizd: the REST surface for session
// creation and joining, the websocket upgrade endpoint, and the operational
// endpoints (health, metrics).
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/quiz/engine"
	"github.com/quizwire/quizwire/internal/store"
	"github.com/quizwire/quizwire/internal/ws"
)

// Options tunes the HTTP surface. Zero values fall back to sane defaults.
type Options struct {
	// JoinPerMinute caps POST /api/join per client IP at the HTTP layer,
	// in front of the engine's own store-backed limiter.
	JoinPerMinute int
	// AllowedOrigins is the websocket origin allowlist. Empty allows any
	// origin, which is the right default behind a reverse proxy.
	AllowedOrigins []string
}

// Server wires the engine into chi.
type Server struct {
	opts      Options
	engine    *engine.Engine
	hub       *ws.Hub
	ephemeral store.Ephemeral
	durable   store.Durable
	logger    zerolog.Logger
}

// New creates the HTTP server facade.
func New(opts Options, eng *engine.Engine, hub *ws.Hub, eph store.Ephemeral, durable store.Durable) *Server {
	if opts.JoinPerMinute <= 0 {
		opts.JoinPerMinute = 5
	}
	return &Server{
		opts:      opts,
		engine:    eng,
		hub:       hub,
		ephemeral: eph,
		durable:   durable,
		logger:    xglog.WithComponent("api"),
	}
}

// Handler builds the routed handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/quizzes", s.handleCreateQuiz)
		r.Post("/sessions", s.handleCreateSession)
		r.Group(func(r chi.Router) {
			r.Use(joinRateLimit(s.opts.JoinPerMinute, time.Minute))
			r.Post("/join", s.handleJoin)
		})
	})

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
