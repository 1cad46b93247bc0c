package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"qbt/internal/strategy/backtest"
)

// Metrics holds the Prometheus metrics exposed by the engine. It
// implements backtest.EventSink so it can be injected directly.
type Metrics struct {
	runsStarted    *prometheus.CounterVec
	runsCompleted  *prometheus.CounterVec
	runsFailed     prometheus.Counter
	tradesExecuted *prometheus.CounterVec
	riskTriggers   *prometheus.CounterVec
	windowsTotal   prometheus.Counter
	runDuration    prometheus.Histogram

	runStart time.Time
}

// NewMetrics creates the metric bundle and registers it with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_runs_started_total",
				Help: "Total number of backtest runs started",
			},
			[]string{"strategy"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_runs_completed_total",
				Help: "Total number of backtest runs completed",
			},
			[]string{"strategy"},
		),
		runsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backtest_runs_failed_total",
				Help: "Total number of backtest runs that failed",
			},
		),
		tradesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_trades_executed_total",
				Help: "Total number of simulated trades executed",
			},
			[]string{"symbol", "side"},
		),
		riskTriggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_risk_triggers_total",
				Help: "Total number of risk policy triggers",
			},
			[]string{"reason"},
		),
		windowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backtest_walkforward_windows_total",
				Help: "Total number of walk-forward windows evaluated",
			},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backtest_run_duration_seconds",
				Help:    "Wall-clock duration of backtest runs",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.runsStarted,
			m.runsCompleted,
			m.runsFailed,
			m.tradesExecuted,
			m.riskTriggers,
			m.windowsTotal,
			m.runDuration,
		)
	}
	return m
}

// RunStarted implements backtest.EventSink
func (m *Metrics) RunStarted(strategy string, steps int) {
	m.runStart = time.Now()
	m.runsStarted.WithLabelValues(strategy).Inc()
}

// RunCompleted implements backtest.EventSink
func (m *Metrics) RunCompleted(results *backtest.Results) {
	m.runsCompleted.WithLabelValues(results.Strategy).Inc()
	if !m.runStart.IsZero() {
		m.runDuration.Observe(time.Since(m.runStart).Seconds())
	}
}

// RunFailed implements backtest.EventSink
func (m *Metrics) RunFailed(error) {
	m.runsFailed.Inc()
}

// Progress implements backtest.EventSink
func (m *Metrics) Progress(int, int) {}

// TradeExecuted implements backtest.EventSink
func (m *Metrics) TradeExecuted(trade *backtest.Trade) {
	m.tradesExecuted.WithLabelValues(trade.Symbol, string(trade.Side)).Inc()
}

// RiskTriggered implements backtest.EventSink
func (m *Metrics) RiskTriggered(reason string, _ time.Time) {
	m.riskTriggers.WithLabelValues(reason).Inc()
}

// WindowCompleted implements backtest.EventSink
func (m *Metrics) WindowCompleted(*backtest.WindowReport) {
	m.windowsTotal.Inc()
}

// MonteCarloProgress implements backtest.EventSink
func (m *Metrics) MonteCarloProgress(int, int) {}
