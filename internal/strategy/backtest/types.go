package backtest

import (
	"time"

	"qbt/internal/strategy/sdk"
)

// Position represents an open position. Exactly one position exists per
// symbol at a time; it is created when a trade opens exposure, marked to
// market every step, and destroyed when closed.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          sdk.Side  `json:"side"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	EntryTime     time.Time `json:"entry_time"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	TrailingStop  float64   `json:"trailing_stop,omitempty"` // ratcheted stop level

	tradeID string
}

// Notional returns the position's entry notional value
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}

// Trade represents one entry in the append-only trade ledger. Entry fields
// are immutable once created; exit fields are filled exactly once when the
// matching position closes.
type Trade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       sdk.Side  `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	Quantity   float64   `json:"quantity"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`

	Closed        bool          `json:"closed"`
	ExitPrice     float64       `json:"exit_price,omitempty"`
	ExitTime      time.Time     `json:"exit_time,omitempty"`
	PnL           float64       `json:"pnl"`
	PnLPercent    float64       `json:"pnl_percent"`
	HoldingPeriod time.Duration `json:"holding_period"`
	ExitReason    string        `json:"exit_reason,omitempty"`
	MAE           float64       `json:"mae"` // worst unrealized P&L seen before exit
	MFE           float64       `json:"mfe"` // best unrealized P&L seen before exit
}

// EquityPoint represents one point of the equity curve
type EquityPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Equity        float64   `json:"equity"`
	Drawdown      float64   `json:"drawdown"`
	PeriodReturn  float64   `json:"period_return"`
	OpenPositions int       `json:"open_positions"`
}

// PerformanceStats is the return- and trade-derived performance block
type PerformanceStats struct {
	TotalReturn         float64       `json:"total_return"`
	AnnualizedReturn    float64       `json:"annualized_return"`
	Volatility          float64       `json:"volatility"`
	SharpeRatio         float64       `json:"sharpe_ratio"`
	SortinoRatio        float64       `json:"sortino_ratio"`
	CalmarRatio         float64       `json:"calmar_ratio"`
	MaxDrawdown         float64       `json:"max_drawdown"`
	MaxDrawdownDuration time.Duration `json:"max_drawdown_duration"`
	WinRate             float64       `json:"win_rate"`
	AvgWin              float64       `json:"avg_win"`
	AvgLoss             float64       `json:"avg_loss"`
	ProfitFactor        float64       `json:"profit_factor"`
	Expectancy          float64       `json:"expectancy"`
	PayoffRatio         float64       `json:"payoff_ratio"`
	RecoveryFactor      float64       `json:"recovery_factor"`
	UlcerIndex          float64       `json:"ulcer_index"`
	SerenityRatio       float64       `json:"serenity_ratio"`
}

// RiskStats is the downside/benchmark-relative risk block
type RiskStats struct {
	VaR95             float64 `json:"var_95"`
	CVaR95            float64 `json:"cvar_95"`
	DownsideDeviation float64 `json:"downside_deviation"`
	Beta              float64 `json:"beta"`
	Alpha             float64 `json:"alpha"`
	TreynorRatio      float64 `json:"treynor_ratio"`
	InformationRatio  float64 `json:"information_ratio"`
	TrackingError     float64 `json:"tracking_error"`
	OmegaRatio        float64 `json:"omega_ratio"`
	KappaRatio        float64 `json:"kappa_ratio"`
}

// TradeStats is the ledger-derived statistics block
type TradeStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	MaxWinStreak  int     `json:"max_win_streak"`
	MaxLossStreak int     `json:"max_loss_streak"`
	AvgMAE        float64 `json:"avg_mae"`
	AvgMFE        float64 `json:"avg_mfe"`
	EdgeRatio     float64 `json:"edge_ratio"`
}

// PeriodPnL buckets realized equity changes by calendar period
type PeriodPnL struct {
	Daily   map[string]float64 `json:"daily"`
	Weekly  map[string]float64 `json:"weekly"`
	Monthly map[string]float64 `json:"monthly"`
	Yearly  map[string]float64 `json:"yearly"`
}

// WindowReport represents one walk-forward window
type WindowReport struct {
	InSampleStart  time.Time          `json:"in_sample_start"`
	InSampleEnd    time.Time          `json:"in_sample_end"`
	OutSampleStart time.Time          `json:"out_sample_start"`
	OutSampleEnd   time.Time          `json:"out_sample_end"`
	InSample       *Results           `json:"in_sample"`
	OutSample      *Results           `json:"out_sample"`
	Parameters     map[string]float64 `json:"parameters"`

	// Efficiency is winRate × totalReturn of the out-of-sample window.
	// It is a fidelity proxy, not an out/in-sample return ratio.
	Efficiency float64 `json:"efficiency"`
}

// WalkForwardReport aggregates all walk-forward windows
type WalkForwardReport struct {
	Windows        []*WindowReport `json:"windows"`
	CombinedReturn float64         `json:"combined_return"` // out-sample returns compounded
	MaxDrawdown    float64         `json:"max_drawdown"`    // worst window drawdown
	AvgEfficiency  float64         `json:"avg_efficiency"`
	Stability      float64         `json:"stability"`
	Robustness     float64         `json:"robustness"`
}

// Interval represents a two-sided confidence interval
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// MonteCarloReport holds bootstrap-derived distribution statistics
type MonteCarloReport struct {
	Simulations         int              `json:"simulations"`
	ReturnPercentiles   map[int]float64  `json:"return_percentiles"` // keys 5, 25, 50, 75, 95
	ReturnCI            Interval         `json:"return_ci"`
	DrawdownCI          Interval         `json:"drawdown_ci"`
	SharpeCI            Interval         `json:"sharpe_ci"`
	ProbabilityOfRuin   float64          `json:"probability_of_ruin"`
	ExpectedMaxDrawdown float64          `json:"expected_max_drawdown"`
}

// Results is the externally consumed artifact of a run. It is a plain
// nested record with no behavior so callers can serialize it as-is.
type Results struct {
	Strategy    string             `json:"strategy"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Performance PerformanceStats   `json:"performance"`
	Risk        RiskStats          `json:"risk"`
	TradeStats  TradeStats         `json:"trade_stats"`
	WalkForward *WalkForwardReport `json:"walk_forward,omitempty"`
	MonteCarlo  *MonteCarloReport  `json:"monte_carlo,omitempty"`
	EquityCurve []EquityPoint      `json:"equity_curve"`
	Trades      []*Trade           `json:"trades"`
	PeriodPnL   PeriodPnL          `json:"period_pnl"`
}

// Returns extracts the per-step return series from the equity curve
func (r *Results) Returns() []float64 {
	if len(r.EquityCurve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(r.EquityCurve)-1)
	for i := 1; i < len(r.EquityCurve); i++ {
		out = append(out, r.EquityCurve[i].PeriodReturn)
	}
	return out
}
