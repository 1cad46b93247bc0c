package backtest

import (
	"math"
	"time"

	"qbt/internal/config"
	"qbt/internal/strategy/sdk"
)

const (
	// kellyCap bounds the effective Kelly fraction of available capital.
	kellyCap = 0.25
	// defaultStopDistance is assumed when a signal carries no stop-loss.
	defaultStopDistance = 0.02
	// highCorrelation is the fixed floor below which positions are never
	// pruned, regardless of the configured correlation limit.
	highCorrelation = 0.7
	// minCorrelationSamples is the history length required before the
	// correlation check is meaningful.
	minCorrelationSamples = 10
)

// RiskManager evaluates per-step risk policy: position sizing, the
// drawdown kill-switch, correlation pruning and trailing-stop upkeep.
type RiskManager struct {
	cfg  *config.Config
	sink EventSink

	halted     bool
	pnlHistory map[string][]float64
}

// NewRiskManager creates a risk manager reporting triggers to sink
func NewRiskManager(cfg *config.Config, sink EventSink) *RiskManager {
	if sink == nil {
		sink = NopSink{}
	}
	return &RiskManager{
		cfg:        cfg,
		sink:       sink,
		pnlHistory: make(map[string][]float64),
	}
}

// Reset clears kill-switch and correlation state between runs
func (r *RiskManager) Reset() {
	r.halted = false
	r.pnlHistory = make(map[string][]float64)
}

// Halted reports whether the drawdown kill-switch is blocking new trades
func (r *RiskManager) Halted() bool { return r.halted }

// PositionSize computes the notional to commit for a signal. Signals
// carrying a win probability and win/loss ratio are Kelly-sized; all
// others are risk-based. Explicit quantity/notional hints are honored
// but still capped by the position-size constraint.
func (r *RiskManager) PositionSize(signal *sdk.Signal, price, capital float64) float64 {
	maxNotional := capital * r.cfg.Constraints.MaxPositionSize

	if signal.Notional > 0 {
		return math.Min(signal.Notional, maxNotional)
	}
	if signal.Quantity > 0 {
		return math.Min(signal.Quantity*price, maxNotional)
	}

	if signal.WinProbability > 0 && signal.WinLossRatio > 0 {
		return math.Min(r.kellySize(signal, capital), maxNotional)
	}
	return math.Min(r.riskBasedSize(signal, price, capital), maxNotional)
}

// kellySize computes f* = (p·b − (1−p)) / b scaled by the configured
// multiplier and clamped to [0, kellyCap] of capital.
func (r *RiskManager) kellySize(signal *sdk.Signal, capital float64) float64 {
	p := signal.WinProbability
	b := signal.WinLossRatio

	fraction := (p*b - (1 - p)) / b
	fraction *= r.cfg.Risk.KellyFraction
	fraction = math.Max(0, math.Min(kellyCap, fraction))

	return capital * fraction
}

// riskBasedSize commits riskPerTrade of capital against the distance to
// the stop-loss price, assuming a 2% stop when the signal has none.
func (r *RiskManager) riskBasedSize(signal *sdk.Signal, price, capital float64) float64 {
	if price <= 0 {
		return 0
	}
	stopDistance := price * defaultStopDistance
	if signal.StopLoss > 0 {
		stopDistance = math.Abs(price - signal.StopLoss)
	}
	if stopDistance <= 0 {
		return 0
	}
	quantity := (capital * r.cfg.Risk.RiskPerTrade) / stopDistance
	return quantity * price
}

// Evaluate runs the per-step policies against the portfolio. Called once
// per timestamp after signal execution.
func (r *RiskManager) Evaluate(p *Portfolio, ts time.Time) {
	r.maintainStops(p, ts)
	r.recordPnL(p)
	r.pruneCorrelated(p, ts)
	r.checkDrawdown(p, ts)
}

// maintainStops ratchets trailing stops in the favorable direction only
// and closes positions whose stop or take-profit level is breached.
func (r *RiskManager) maintainStops(p *Portfolio, ts time.Time) {
	trailing := r.cfg.Constraints.TrailingStop

	for symbol, pos := range p.Positions() {
		if trailing > 0 {
			if pos.Side == sdk.SideBuy {
				candidate := pos.MarkPrice * (1 - trailing)
				if candidate > pos.TrailingStop {
					pos.TrailingStop = candidate
				}
			} else {
				candidate := pos.MarkPrice * (1 + trailing)
				if pos.TrailingStop == 0 || candidate < pos.TrailingStop {
					pos.TrailingStop = candidate
				}
			}
		}

		if reason := stopBreached(pos); reason != "" {
			p.ClosePosition(symbol, ts, reason)
			r.sink.RiskTriggered(reason, ts)
		}
	}
}

func stopBreached(pos *Position) string {
	if pos.Side == sdk.SideBuy {
		if pos.TrailingStop > 0 && pos.MarkPrice <= pos.TrailingStop {
			return "trailing_stop"
		}
		if pos.StopLoss > 0 && pos.MarkPrice <= pos.StopLoss {
			return "stop_loss"
		}
		if pos.TakeProfit > 0 && pos.MarkPrice >= pos.TakeProfit {
			return "take_profit"
		}
		return ""
	}
	if pos.TrailingStop > 0 && pos.MarkPrice >= pos.TrailingStop {
		return "trailing_stop"
	}
	if pos.StopLoss > 0 && pos.MarkPrice >= pos.StopLoss {
		return "stop_loss"
	}
	if pos.TakeProfit > 0 && pos.MarkPrice <= pos.TakeProfit {
		return "take_profit"
	}
	return ""
}

// checkDrawdown force-closes everything when drawdown exceeds the limit
// and blocks new trades until it recovers. Closing rebases the peak so
// drawdown is measured against the new, lower equity.
func (r *RiskManager) checkDrawdown(p *Portfolio, ts time.Time) {
	equity := p.Equity()
	drawdown := p.Drawdown(equity)

	if drawdown > r.cfg.Risk.MaxDrawdown {
		p.CloseAllPositions(ts, "risk_limit")
		r.halted = true
		p.ResetPeak(p.Equity())
		r.sink.RiskTriggered("max_drawdown", ts)
		return
	}
	if r.halted && drawdown <= r.cfg.Risk.MaxDrawdown {
		r.halted = false
	}
}

// recordPnL appends each open position's normalized unrealized P&L to
// its history and drops histories of closed positions.
func (r *RiskManager) recordPnL(p *Portfolio) {
	open := p.Positions()
	for symbol := range r.pnlHistory {
		if _, ok := open[symbol]; !ok {
			delete(r.pnlHistory, symbol)
		}
	}
	for symbol, pos := range open {
		notional := pos.Notional()
		if notional <= 0 {
			continue
		}
		r.pnlHistory[symbol] = append(r.pnlHistory[symbol], pos.UnrealizedPnL/notional)
	}
}

// pruneCorrelated closes the worst-performing position when two open
// positions' P&L series move together beyond both the configured limit
// and the fixed high-correlation floor.
func (r *RiskManager) pruneCorrelated(p *Portfolio, ts time.Time) {
	open := p.Positions()
	if len(open) < 2 {
		return
	}

	symbols := make([]string, 0, len(open))
	for symbol := range open {
		symbols = append(symbols, symbol)
	}

	maxCorr := 0.0
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			c := lag1Correlation(r.pnlHistory[symbols[i]], r.pnlHistory[symbols[j]])
			if c > maxCorr {
				maxCorr = c
			}
		}
	}

	if maxCorr <= r.cfg.Risk.CorrelationLimit || maxCorr <= highCorrelation {
		return
	}

	worst := ""
	worstPnL := math.MaxFloat64
	for symbol, pos := range open {
		if pos.UnrealizedPnL < worstPnL {
			worstPnL = pos.UnrealizedPnL
			worst = symbol
		}
	}
	if worst != "" {
		p.ClosePosition(worst, ts, "correlation_limit")
		r.sink.RiskTriggered("correlation_limit", ts)
	}
}

// lag1Correlation computes a simplified lag-1 correlation between two
// P&L series, aligning one series a step behind the other.
func lag1Correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < minCorrelationSamples {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	x := a[1:]
	y := b[:n-1]
	m := len(x)

	var meanX, meanY float64
	for i := 0; i < m; i++ {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(m)
	meanY /= float64(m)

	var cov, varX, varY float64
	for i := 0; i < m; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
