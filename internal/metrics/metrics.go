// Package metrics exposes the bot's Prometheus counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solana-custody-bot/internal/confirm"
)

// Registry holds the bot's collectors on a private registry
type Registry struct {
	registry         *prometheus.Registry
	transfersTotal   *prometheus.CounterVec
	submissionsTotal prometheus.Counter
	pollsTotal       *prometheus.CounterVec
	tradesTotal      *prometheus.CounterVec
	actionsTotal     *prometheus.CounterVec
	transferDuration prometheus.Histogram
	activeSessions   prometheus.Gauge
}

// New creates and registers all collectors
func New() *Registry {
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodybot_transfers_total",
		Help: "Transfers by final result",
	}, []string{"result"})

	submissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custodybot_transfer_submissions_total",
		Help: "Signed transactions broadcast for transfers",
	})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodybot_confirm_polls_total",
		Help: "Confirmation lookups by outcome",
	}, []string{"outcome"})

	trades := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodybot_trades_total",
		Help: "Buy and sell requests forwarded to the trade API",
	}, []string{"side", "status"})

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodybot_actions_total",
		Help: "Chat actions dispatched, by registered action id",
	}, []string{"action", "result"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "custodybot_transfer_duration_seconds",
		Help:    "Wall time of transfers from validation to final result",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "custodybot_active_sessions",
		Help: "Chat sessions currently held in memory",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(transfers, submissions, polls, trades, actions, duration, sessions)

	return &Registry{
		registry:         r,
		transfersTotal:   transfers,
		submissionsTotal: submissions,
		pollsTotal:       polls,
		tradesTotal:      trades,
		actionsTotal:     actions,
		transferDuration: duration,
		activeSessions:   sessions,
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Registry) Submitted() {
	m.submissionsTotal.Inc()
}

func (m *Registry) PollOutcome(outcome confirm.Outcome) {
	m.pollsTotal.WithLabelValues(outcome.String()).Inc()
}

func (m *Registry) Finished(result string, elapsed time.Duration) {
	m.transfersTotal.WithLabelValues(result).Inc()
	m.transferDuration.Observe(elapsed.Seconds())
}

func (m *Registry) IncTrade(side, status string) {
	m.tradesTotal.WithLabelValues(side, status).Inc()
}

func (m *Registry) IncAction(action, result string) {
	m.actionsTotal.WithLabelValues(action, result).Inc()
}

func (m *Registry) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}
