package backtest

import (
	"time"

	"github.com/google/uuid"

	"qbt/internal/config"
	"qbt/internal/market/kline"
	"qbt/internal/strategy/sdk"
)

// Portfolio owns cash, open positions and the append-only trade ledger.
// It is not safe for concurrent use; every walk-forward window gets its
// own instance.
type Portfolio struct {
	cfg *config.Config

	cash       float64
	positions  map[string]*Position
	trades     []*Trade
	peakEquity float64
	lastMark   time.Time
}

// NewPortfolio creates a portfolio seeded with the configured capital
func NewPortfolio(cfg *config.Config) *Portfolio {
	return &Portfolio{
		cfg:        cfg,
		cash:       cfg.InitialCapital,
		positions:  make(map[string]*Position),
		peakEquity: cfg.InitialCapital,
	}
}

// Reset restores the portfolio to its initial state
func (p *Portfolio) Reset() {
	p.cash = p.cfg.InitialCapital
	p.positions = make(map[string]*Position)
	p.trades = nil
	p.peakEquity = p.cfg.InitialCapital
	p.lastMark = time.Time{}
}

// Cash returns the current cash balance
func (p *Portfolio) Cash() float64 { return p.cash }

// Positions returns the open positions map. Callers must not mutate it.
func (p *Portfolio) Positions() map[string]*Position { return p.positions }

// Trades returns the trade ledger
func (p *Portfolio) Trades() []*Trade { return p.trades }

// PositionViews builds the read-only view handed to strategies
func (p *Portfolio) PositionViews() map[string]sdk.PositionInfo {
	views := make(map[string]sdk.PositionInfo, len(p.positions))
	for symbol, pos := range p.positions {
		views[symbol] = sdk.PositionInfo{
			Symbol:        pos.Symbol,
			Side:          pos.Side,
			Quantity:      pos.Quantity,
			EntryPrice:    pos.EntryPrice,
			MarkPrice:     pos.MarkPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
			EntryTime:     pos.EntryTime,
		}
	}
	return views
}

// ShouldExecute is the hard execution gate: rejected signals are skipped
// for the step, never retried.
func (p *Portfolio) ShouldExecute(notional, capital float64) bool {
	if notional <= 0 || notional < p.cfg.Constraints.MinTradeSize {
		return false
	}
	if notional > capital*p.cfg.Constraints.MaxPositionSize {
		return false
	}
	if len(p.positions) >= p.cfg.Constraints.MaxOpenPositions {
		return false
	}
	if lev := p.cfg.Constraints.MaxLeverage; lev > 0 {
		gross := notional
		for _, pos := range p.positions {
			gross += pos.Notional()
		}
		if gross > capital*lev {
			return false
		}
	}
	// Cash is allowed to go negative; the risk manager, not the gate,
	// is what keeps capital above water.
	return true
}

// ExecuteTrade opens a position for the signal at the given notional.
// Slippage worsens the fill price; commission is deducted from cash on
// top of the notional. Returns nil when the gate rejects the trade or no
// bar is available for the symbol.
func (p *Portfolio) ExecuteTrade(signal *sdk.Signal, notional float64, snapshot kline.Snapshot, ts time.Time) *Trade {
	bar, ok := snapshot[signal.Symbol]
	if !ok {
		return nil
	}
	if _, open := p.positions[signal.Symbol]; open {
		return nil
	}
	if !p.ShouldExecute(notional, p.Equity()) {
		return nil
	}

	price := bar.Close
	fillPrice := price * (1 + p.cfg.Costs.Slippage)
	if signal.Side == sdk.SideSell {
		fillPrice = price * (1 - p.cfg.Costs.Slippage)
	}

	quantity := notional / fillPrice
	commission := notional * p.cfg.Costs.Commission
	slippagePaid := notional * p.cfg.Costs.Slippage

	p.cash -= notional + commission

	trade := &Trade{
		ID:         uuid.NewString(),
		Symbol:     signal.Symbol,
		Side:       signal.Side,
		EntryPrice: fillPrice,
		EntryTime:  ts,
		Quantity:   quantity,
		Commission: commission,
		Slippage:   slippagePaid,
	}
	p.trades = append(p.trades, trade)

	p.positions[signal.Symbol] = &Position{
		Symbol:     signal.Symbol,
		Side:       signal.Side,
		Quantity:   quantity,
		EntryPrice: fillPrice,
		EntryTime:  ts,
		MarkPrice:  fillPrice,
		StopLoss:   p.stopLevel(signal, fillPrice),
		TakeProfit: p.takeProfitLevel(signal, fillPrice),
		tradeID:    trade.ID,
	}

	return trade
}

// stopLevel resolves the stop price for a new position: the signal's
// absolute level when set, else the configured fraction off the fill.
func (p *Portfolio) stopLevel(signal *sdk.Signal, fillPrice float64) float64 {
	if signal.StopLoss > 0 {
		return signal.StopLoss
	}
	if frac := p.cfg.Constraints.StopLoss; frac > 0 {
		if signal.Side == sdk.SideSell {
			return fillPrice * (1 + frac)
		}
		return fillPrice * (1 - frac)
	}
	return 0
}

func (p *Portfolio) takeProfitLevel(signal *sdk.Signal, fillPrice float64) float64 {
	if signal.TakeProfit > 0 {
		return signal.TakeProfit
	}
	if frac := p.cfg.Constraints.TakeProfit; frac > 0 {
		if signal.Side == sdk.SideSell {
			return fillPrice * (1 - frac)
		}
		return fillPrice * (1 + frac)
	}
	return 0
}

// UpdatePositions marks every open position to the snapshot, recomputes
// cost-inclusive unrealized P&L and accrues borrowing/funding charges.
// A symbol missing from the snapshot keeps its last known mark price.
func (p *Portfolio) UpdatePositions(snapshot kline.Snapshot, ts time.Time) {
	var dt time.Duration
	if !p.lastMark.IsZero() && ts.After(p.lastMark) {
		dt = ts.Sub(p.lastMark)
	}
	p.lastMark = ts

	for _, pos := range p.positions {
		if bar, ok := snapshot[pos.Symbol]; ok {
			pos.MarkPrice = bar.Close
		}

		gross := (pos.MarkPrice - pos.EntryPrice) * pos.Quantity
		if pos.Side == sdk.SideSell {
			gross = -gross
		}

		// Estimated exit costs keep the displayed P&L cost-inclusive.
		roundTrip := pos.Notional() * (p.cfg.Costs.Commission + p.cfg.Costs.Slippage + p.cfg.Costs.Spread)
		pos.UnrealizedPnL = gross - roundTrip

		if dt > 0 {
			years := dt.Hours() / (24 * 365)
			if pos.Side == sdk.SideSell && p.cfg.Costs.BorrowingRate > 0 {
				p.cash -= pos.Notional() * p.cfg.Costs.BorrowingRate * years
			}
			if p.cfg.Costs.FundingRate != 0 {
				// Funding is quoted per 8h interval; longs pay positive rates.
				intervals := dt.Hours() / 8
				charge := pos.Notional() * p.cfg.Costs.FundingRate * intervals
				if pos.Side == sdk.SideSell {
					charge = -charge
				}
				p.cash -= charge
			}
		}

		if trade := p.findTrade(pos.tradeID); trade != nil {
			if pos.UnrealizedPnL < trade.MAE {
				trade.MAE = pos.UnrealizedPnL
			}
			if pos.UnrealizedPnL > trade.MFE {
				trade.MFE = pos.UnrealizedPnL
			}
		}
	}
}

// ClosePosition realizes P&L for one position at its current mark price
// and finalizes its ledger entry. Returns the finalized trade, or nil if
// no position is open for the symbol.
func (p *Portfolio) ClosePosition(symbol string, ts time.Time, reason string) *Trade {
	pos, ok := p.positions[symbol]
	if !ok {
		return nil
	}

	exitFill := pos.MarkPrice * (1 - p.cfg.Costs.Slippage)
	if pos.Side == sdk.SideSell {
		exitFill = pos.MarkPrice * (1 + p.cfg.Costs.Slippage)
	}

	gross := (exitFill - pos.EntryPrice) * pos.Quantity
	if pos.Side == sdk.SideSell {
		gross = -gross
	}

	exitNotional := exitFill * pos.Quantity
	exitCommission := exitNotional * p.cfg.Costs.Commission
	exitSlippage := pos.MarkPrice * pos.Quantity * p.cfg.Costs.Slippage

	p.cash += pos.Notional() + gross - exitCommission

	trade := p.findTrade(pos.tradeID)
	if trade != nil {
		trade.Closed = true
		trade.ExitPrice = exitFill
		trade.ExitTime = ts
		trade.ExitReason = reason
		trade.Commission += exitCommission
		trade.Slippage += exitSlippage
		trade.PnL = gross - trade.Commission
		if pos.Notional() > 0 {
			trade.PnLPercent = trade.PnL / pos.Notional()
		}
		trade.HoldingPeriod = ts.Sub(trade.EntryTime)
	}

	delete(p.positions, symbol)
	return trade
}

// CloseAllPositions force-closes every open position at its current mark.
// Used at the end of a run and as the risk kill-switch action.
func (p *Portfolio) CloseAllPositions(ts time.Time, reason string) []*Trade {
	var closed []*Trade
	for symbol := range p.positions {
		if t := p.ClosePosition(symbol, ts, reason); t != nil {
			closed = append(closed, t)
		}
	}
	return closed
}

// Equity returns cash plus the mark-to-market value of open positions
func (p *Portfolio) Equity() float64 {
	equity := p.cash
	for _, pos := range p.positions {
		equity += pos.Notional() + pos.UnrealizedPnL
	}
	return equity
}

// Drawdown updates the running peak and returns the retracement from it
func (p *Portfolio) Drawdown(equity float64) float64 {
	if equity > p.peakEquity {
		p.peakEquity = equity
		return 0
	}
	if p.peakEquity == 0 {
		return 0
	}
	return (p.peakEquity - equity) / p.peakEquity
}

// PeakEquity returns the running equity high-water mark
func (p *Portfolio) PeakEquity() float64 { return p.peakEquity }

// ResetPeak rebases the high-water mark, letting drawdown recover after
// a kill-switch liquidation.
func (p *Portfolio) ResetPeak(equity float64) {
	p.peakEquity = equity
}

func (p *Portfolio) findTrade(id string) *Trade {
	for i := len(p.trades) - 1; i >= 0; i-- {
		if p.trades[i].ID == id {
			return p.trades[i]
		}
	}
	return nil
}
