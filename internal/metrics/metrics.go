// SPDX-License-Identifier: MIT

// Package metrics exposes the engine's Prometheus metrics. All metric names
// carry the quizwire_ prefix; registration happens once at package init via
// promauto.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizwire_sessions_active",
		Help: "Number of sessions currently resident in memory",
	})

	sessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizwire_sessions_created_total",
		Help: "Total number of sessions created",
	})

	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizwire_state_transitions_total",
		Help: "Session state transitions by target state",
	}, []string{"to"}) // to=LOBBY|ACTIVE_QUESTION|REVEAL|ENDED

	// Connection metrics
	connectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quizwire_connections_active",
		Help: "Open websocket connections by role",
	}, []string{"role"}) // role=participant|controller|bigscreen|tester

	connectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizwire_connections_total",
		Help: "Websocket connections accepted by role",
	}, []string{"role"})

	// Answer pipeline metrics
	answersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizwire_answers_total",
		Help: "Answer submissions by outcome",
	}, []string{"outcome"}) // outcome=accepted|TOO_LATE|ALREADY_ANSWERED|...

	answerProcessingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quizwire_answer_processing_duration_seconds",
		Help:    "Time from dequeue to scored answer",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})

	// Broadcast metrics
	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizwire_broadcasts_total",
		Help: "Events fanned out to clients by type",
	}, []string{"type"})

	broadcastDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizwire_broadcast_drops_total",
		Help: "Events coalesced or dropped on saturated client queues",
	}, []string{"type"})

	// Timer metrics
	tickLagSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quizwire_tick_lag_seconds",
		Help:    "Lag between the scheduled and actual tick time",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1},
	})

	// Recovery metrics
	recoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizwire_recoveries_total",
		Help: "Session recoveries by source store",
	}, []string{"source"}) // source=ephemeral|durable|failed
)

func IncSessionsActive()         { sessionsActive.Inc() }
func DecSessionsActive()         { sessionsActive.Dec() }
func IncSessionCreated()         { sessionsCreatedTotal.Inc() }
func IncStateTransition(to string) {
	stateTransitionsTotal.WithLabelValues(to).Inc()
}

func IncConnection(role string) {
	connectionsTotal.WithLabelValues(role).Inc()
	connectionsActive.WithLabelValues(role).Inc()
}
func DecConnection(role string) { connectionsActive.WithLabelValues(role).Dec() }

func IncAnswer(outcome string) { answersTotal.WithLabelValues(outcome).Inc() }
func ObserveAnswerProcessing(d time.Duration) {
	answerProcessingSeconds.Observe(d.Seconds())
}

func IncBroadcast(eventType string)     { broadcastsTotal.WithLabelValues(eventType).Inc() }
func IncBroadcastDrop(eventType string) { broadcastDropsTotal.WithLabelValues(eventType).Inc() }

func ObserveTickLag(d time.Duration) {
	if d < 0 {
		d = 0
	}
	tickLagSeconds.Observe(d.Seconds())
}

func IncRecovery(source string) { recoveriesTotal.WithLabelValues(source).Inc() }
