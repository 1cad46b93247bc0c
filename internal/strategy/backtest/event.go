package backtest

import (
	"time"

	"github.com/sirupsen/logrus"

	"qbt/internal/logger"
)

// EventSink receives engine notifications. Callbacks are invoked
// synchronously from the run loop; implementations must not block and
// cannot influence engine state.
type EventSink interface {
	RunStarted(strategy string, steps int)
	RunCompleted(results *Results)
	RunFailed(err error)
	Progress(step, total int)
	TradeExecuted(trade *Trade)
	RiskTriggered(reason string, ts time.Time)
	WindowCompleted(window *WindowReport)
	MonteCarloProgress(done, total int)
}

// NopSink discards all events
type NopSink struct{}

func (NopSink) RunStarted(string, int)          {}
func (NopSink) RunCompleted(*Results)           {}
func (NopSink) RunFailed(error)                 {}
func (NopSink) Progress(int, int)               {}
func (NopSink) TradeExecuted(*Trade)            {}
func (NopSink) RiskTriggered(string, time.Time) {}
func (NopSink) WindowCompleted(*WindowReport)   {}
func (NopSink) MonteCarloProgress(int, int)     {}

// LogSink writes events to the structured logger
type LogSink struct {
	entry *logrus.Entry
}

// NewLogSink creates a sink logging under the given component field
func NewLogSink(component string) *LogSink {
	return &LogSink{entry: logger.WithField("component", component)}
}

func (s *LogSink) RunStarted(strategy string, steps int) {
	s.entry.WithFields(logrus.Fields{"strategy": strategy, "steps": steps}).Info("backtest started")
}

func (s *LogSink) RunCompleted(results *Results) {
	s.entry.WithFields(logrus.Fields{
		"total_return": results.Performance.TotalReturn,
		"sharpe":       results.Performance.SharpeRatio,
		"max_drawdown": results.Performance.MaxDrawdown,
		"trades":       results.TradeStats.TotalTrades,
	}).Info("backtest completed")
}

func (s *LogSink) RunFailed(err error) {
	s.entry.WithError(err).Error("backtest failed")
}

func (s *LogSink) Progress(step, total int) {
	s.entry.WithFields(logrus.Fields{"step": step, "total": total}).Debug("backtest progress")
}

func (s *LogSink) TradeExecuted(trade *Trade) {
	s.entry.WithFields(logrus.Fields{
		"symbol":   trade.Symbol,
		"side":     trade.Side,
		"quantity": trade.Quantity,
		"price":    trade.EntryPrice,
	}).Debug("trade executed")
}

func (s *LogSink) RiskTriggered(reason string, ts time.Time) {
	s.entry.WithFields(logrus.Fields{"reason": reason, "time": ts}).Warn("risk limit triggered")
}

func (s *LogSink) WindowCompleted(window *WindowReport) {
	s.entry.WithFields(logrus.Fields{
		"out_sample_start": window.OutSampleStart,
		"efficiency":       window.Efficiency,
	}).Info("walk-forward window completed")
}

func (s *LogSink) MonteCarloProgress(done, total int) {
	s.entry.WithFields(logrus.Fields{"done": done, "total": total}).Debug("monte carlo progress")
}

// MultiSink fans events out to several sinks in order
type MultiSink []EventSink

func (m MultiSink) RunStarted(strategy string, steps int) {
	for _, s := range m {
		s.RunStarted(strategy, steps)
	}
}

func (m MultiSink) RunCompleted(results *Results) {
	for _, s := range m {
		s.RunCompleted(results)
	}
}

func (m MultiSink) RunFailed(err error) {
	for _, s := range m {
		s.RunFailed(err)
	}
}

func (m MultiSink) Progress(step, total int) {
	for _, s := range m {
		s.Progress(step, total)
	}
}

func (m MultiSink) TradeExecuted(trade *Trade) {
	for _, s := range m {
		s.TradeExecuted(trade)
	}
}

func (m MultiSink) RiskTriggered(reason string, ts time.Time) {
	for _, s := range m {
		s.RiskTriggered(reason, ts)
	}
}

func (m MultiSink) WindowCompleted(window *WindowReport) {
	for _, s := range m {
		s.WindowCompleted(window)
	}
}

func (m MultiSink) MonteCarloProgress(done, total int) {
	for _, s := range m {
		s.MonteCarloProgress(done, total)
	}
}
