// Package metrics holds the Prometheus collectors of the server. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gamesCreated  *prometheus.CounterVec
	gamesFinished *prometheus.CounterVec
	moves         *prometheus.CounterVec
	aiTurns       *prometheus.CounterVec
	proposals     *prometheus.CounterVec
	queueSize     prometheus.Gauge
	sessions      prometheus.Gauge
	connections   prometheus.Gauge
	gatherer      prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		gamesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goban", Name: "games_created_total", Help: "Games created, by opponent kind.",
		}, []string{"kind"}),
		gamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goban", Name: "games_finished_total", Help: "Games finished, by end reason.",
		}, []string{"reason"}),
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goban", Name: "game_actions_total", Help: "Move, pass and resign attempts, by outcome.",
		}, []string{"action", "outcome"}),
		aiTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goban", Name: "ai_turns_total", Help: "Computer turns, by result.",
		}, []string{"result"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goban", Name: "match_proposals_total", Help: "Match proposals, by resolution.",
		}, []string{"resolution"}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goban", Name: "matchmaking_queue_size", Help: "Participants waiting in the queue.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goban", Name: "game_sessions", Help: "Game sessions held in memory.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goban", Name: "stream_connections", Help: "Open websocket and SSE streams.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.gamesCreated, m.gamesFinished, m.moves, m.aiTurns, m.proposals, m.queueSize, m.sessions, m.connections)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) GameCreated(kind string) {
	if m != nil {
		m.gamesCreated.WithLabelValues(kind).Inc()
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionRestored() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) GameFinished(reason string) {
	if m != nil {
		m.gamesFinished.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Action(action string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.moves.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) AITurn(result string) {
	if m != nil {
		m.aiTurns.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Proposal(resolution string) {
	if m != nil {
		m.proposals.WithLabelValues(resolution).Inc()
	}
}

func (m *Metrics) QueueSize(n int) {
	if m != nil {
		m.queueSize.Set(float64(n))
	}
}

func (m *Metrics) StreamOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.connections.Dec()
	}
}
