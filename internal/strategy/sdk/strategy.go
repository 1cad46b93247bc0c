package sdk

import (
	"context"
	"time"

	"qbt/internal/market/kline"
)

// Side represents the direction of a signal or position
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Signal is the trading decision a strategy hands to the engine. A nil
// signal means hold. Quantity and Notional are alternative sizing hints;
// when both are zero the engine sizes the trade itself.
type Signal struct {
	Symbol     string
	Side       Side
	Quantity   float64
	Notional   float64
	StopLoss   float64 // absolute price, 0 disables
	TakeProfit float64 // absolute price, 0 disables

	// Optional edge estimates. When both are set the engine uses
	// Kelly-fraction sizing instead of risk-based sizing.
	WinProbability float64
	WinLossRatio   float64
}

// PositionInfo is the read-only view of an open position passed to strategies
type PositionInfo struct {
	Symbol        string
	Side          Side
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	EntryTime     time.Time
}

// Strategy is the contract every strategy must implement to be backtested
type Strategy interface {
	// Name identifies the strategy in logs and reports
	Name() string

	// GenerateSignal produces at most one trading decision for the
	// current step. Returning (nil, nil) holds.
	GenerateSignal(ctx context.Context, snapshot kline.Snapshot, positions map[string]PositionInfo, capital float64) (*Signal, error)
}

// Parameterized is implemented by strategies that expose tunable parameters
// for walk-forward optimization.
type Parameterized interface {
	Strategy

	// ParameterSpace declares candidate values per named parameter. The
	// optimizer grid-searches the cartesian product of these arrays.
	ParameterSpace() map[string][]float64

	// UpdateParameters applies a parameter combination chosen by the
	// optimizer.
	UpdateParameters(params map[string]float64) error
}
