// Package metrics exposes battle and API counters to Prometheus.
package metrics

import (
	"net/http"

	"example.com/word-battle/internal/battle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests and multiple apps never collide on the
// global default.
type Metrics struct {
	reg *prometheus.Registry

	actions         *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	oracleFallbacks *prometheus.CounterVec

	RLRequests *prometheus.CounterVec
	RLBlocked  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_actions_total",
				Help: "Battle operations by action and result code (ok for success)",
			},
			[]string{"action", "code"},
		),
		timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_phase_timeouts_total",
				Help: "Phase defaults applied because the phase budget ran out",
			},
			[]string{"phase"},
		),
		oracleFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_oracle_fallbacks_total",
				Help: "Similarity oracle calls replaced by the fallback",
			},
			[]string{"op"},
		),
		RLRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limiter_requests_total",
				Help: "Total requests seen by the rate limiter",
			},
			[]string{"endpoint"},
		),
		RLBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limiter_blocked_total",
				Help: "Total requests blocked by the rate limiter",
			},
			[]string{"endpoint"},
		),
	}
	m.reg.MustRegister(
		m.actions, m.timeouts, m.oracleFallbacks, m.RLRequests, m.RLBlocked,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Action(action string, code battle.Code) {
	label := string(code)
	if label == "" {
		label = "ok"
	}
	m.actions.WithLabelValues(action, label).Inc()
}

func (m *Metrics) Timeout(p battle.Phase) {
	m.timeouts.WithLabelValues(p.String()).Inc()
}

func (m *Metrics) OracleFallback(op string) {
	m.oracleFallbacks.WithLabelValues(op).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

var _ battle.Observer = (*Metrics)(nil)
