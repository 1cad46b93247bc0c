package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func TestSharpeRatio_KnownValues(t *testing.T) {
	// mean = 0.011, sample std over n-1 = sqrt(0.00092/4)
	returns := []float64{0.01, 0.02, -0.01, 0.03, 0.005}

	mean := 0.011
	variance := (math.Pow(0.01-mean, 2) + math.Pow(0.02-mean, 2) +
		math.Pow(-0.01-mean, 2) + math.Pow(0.03-mean, 2) +
		math.Pow(0.005-mean, 2)) / 4
	expected := mean * 252 / (math.Sqrt(variance) * math.Sqrt(252))

	assert.InDelta(t, expected, SharpeRatio(returns), 1e-9)
}

func TestSharpeRatio_Degenerate(t *testing.T) {
	assert.Equal(t, 0.0, SharpeRatio(nil))
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01}))
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01, 0.01, 0.01}), "constant returns have zero std")
}

func TestSortinoRatio_OnlyNegativesContribute(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, -0.01, 0.02}

	mean := 0.006
	downDev := math.Sqrt((0.0004 + 0.0001) / 4)
	expected := mean * 252 / (downDev * math.Sqrt(252))

	assert.InDelta(t, expected, SortinoRatio(returns), 1e-9)
	assert.Equal(t, 0.0, SortinoRatio([]float64{0.01, 0.02, 0.03}), "no downside means Sortino=0")
}

func TestVaRCVaR(t *testing.T) {
	returns := []float64{-0.05, -0.02, 0.01, 0.02, 0.03, -0.01, 0.005, 0.015, -0.03, 0.025}

	v := VaR(returns, 0.95)
	// 10 elements: index int(0.05*10)=0 of the sorted series.
	assert.Equal(t, -0.05, v)

	cv := CVaR(returns, 0.95)
	assert.Equal(t, -0.05, cv, "only the single worst return sits at or below the cutoff")
}

func TestVaRCVaR_SingleElement(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Equal(t, -0.01, VaR([]float64{-0.01}, 0.95))
		assert.Equal(t, -0.01, CVaR([]float64{-0.01}, 0.95))
	})
	assert.Equal(t, 0.0, VaR(nil, 0.95))
	assert.Equal(t, 0.0, CVaR(nil, 0.95))
}

func TestOmegaRatio_Sentinel(t *testing.T) {
	assert.True(t, math.IsInf(OmegaRatio([]float64{0.01, 0.02}, 0), 1), "no losses yields +Inf")
	assert.Equal(t, 0.0, OmegaRatio(nil, 0))

	// gains = 0.03, losses = 0.015
	omega := OmegaRatio([]float64{0.01, 0.02, -0.015}, 0)
	assert.InDelta(t, 2.0, omega, 1e-9)
}

func TestKappaRatio_Sentinel(t *testing.T) {
	assert.True(t, math.IsInf(KappaRatio([]float64{0.01, 0.02}, 0), 1))
	assert.Equal(t, 0.0, KappaRatio(nil, 0))

	returns := []float64{0.02, -0.01, 0.01}
	lpm := 0.0001 / 3
	expected := Mean(returns) / math.Sqrt(lpm)
	assert.InDelta(t, expected, KappaRatio(returns, 0), 1e-9)
}

func TestBetaAlpha_SelfBenchmark(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, 0.005, -0.01}

	assert.InDelta(t, 1.0, Beta(returns, returns), 1e-9)
	assert.InDelta(t, 0.0, Alpha(returns, returns), 1e-9)
	assert.InDelta(t, 0.0, TrackingError(returns, returns), 1e-9)
	assert.Equal(t, 0.0, InformationRatio(returns, returns), "zero tracking error is neutral")
}

func TestBeta_FlatBenchmark(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03}
	flat := []float64{0.01, 0.01, 0.01}
	assert.Equal(t, 0.0, Beta(returns, flat), "benchmark without variance")
}

func TestMaxDrawdown(t *testing.T) {
	curve := []EquityPoint{
		{Timestamp: day(0), Equity: 100},
		{Timestamp: day(1), Equity: 110},
		{Timestamp: day(2), Equity: 99},
		{Timestamp: day(3), Equity: 104.5},
		{Timestamp: day(4), Equity: 120},
	}

	dd, duration := MaxDrawdown(curve)
	assert.InDelta(t, 0.1, dd, 1e-9, "worst retracement is 110 -> 99")
	assert.Equal(t, 2*24*time.Hour, duration, "underwater from the day 1 peak through day 3")
}

func TestUlcerIndex(t *testing.T) {
	curve := []EquityPoint{
		{Drawdown: 0},
		{Drawdown: 0.1},
		{Drawdown: 0.2},
	}
	expected := math.Sqrt((0 + 0.01 + 0.04) / 3)
	assert.InDelta(t, expected, UlcerIndex(curve), 1e-9)
	assert.Equal(t, 0.0, UlcerIndex(nil))
}

func TestProfitFactor_Sentinel(t *testing.T) {
	wins := []*Trade{
		{Closed: true, PnL: 10},
		{Closed: true, PnL: 5},
	}
	assert.True(t, math.IsInf(ProfitFactor(wins), 1))
	assert.Equal(t, 0.0, ProfitFactor(nil))

	mixed := append(wins, &Trade{Closed: true, PnL: -5})
	assert.InDelta(t, 3.0, ProfitFactor(mixed), 1e-9)
}

func TestCalculateResults_TradeBlocks(t *testing.T) {
	trades := []*Trade{
		{Closed: true, PnL: 10, MAE: -2, MFE: 12},
		{Closed: true, PnL: 20, MAE: -1, MFE: 25},
		{Closed: true, PnL: -6, MAE: -8, MFE: 1},
		{Closed: true, PnL: 14, MAE: -3, MFE: 16},
		{PnL: 999}, // still open, must be ignored
	}
	curve := []EquityPoint{
		{Timestamp: day(0), Equity: 1000},
		{Timestamp: day(1), Equity: 1010, PeriodReturn: 0.01},
		{Timestamp: day(2), Equity: 1038, PeriodReturn: 1038.0/1010 - 1},
	}

	res := CalculateResults(curve, trades, 1000, nil)
	require.NotNil(t, res)

	assert.Equal(t, 4, res.TradeStats.TotalTrades)
	assert.Equal(t, 3, res.TradeStats.WinningTrades)
	assert.Equal(t, 1, res.TradeStats.LosingTrades)
	assert.Equal(t, 2, res.TradeStats.MaxWinStreak, "streak broken by the loss, then one more win")
	assert.Equal(t, 1, res.TradeStats.MaxLossStreak)

	assert.InDelta(t, 0.75, res.Performance.WinRate, 1e-9)
	avgWin := (10.0 + 20 + 14) / 3
	assert.InDelta(t, avgWin, res.Performance.AvgWin, 1e-9)
	assert.InDelta(t, -6.0, res.Performance.AvgLoss, 1e-9)
	assert.InDelta(t, avgWin/6, res.Performance.PayoffRatio, 1e-9)
	assert.InDelta(t, 0.75*avgWin+0.25*(-6), res.Performance.Expectancy, 1e-9)

	avgMAE := (-2.0 - 1 - 8 - 3) / 4
	avgMFE := (12.0 + 25 + 1 + 16) / 4
	assert.InDelta(t, avgMAE, res.TradeStats.AvgMAE, 1e-9)
	assert.InDelta(t, avgMFE, res.TradeStats.AvgMFE, 1e-9)
	assert.InDelta(t, avgMFE/math.Abs(avgMAE), res.TradeStats.EdgeRatio, 1e-9)

	assert.InDelta(t, 0.038, res.Performance.TotalReturn, 1e-9)
	// Self-benchmark fallback.
	assert.InDelta(t, 1.0, res.Risk.Beta, 1e-9)
	assert.InDelta(t, 0.0, res.Risk.Alpha, 1e-9)
}

func TestCalculateResults_EmptyInputs(t *testing.T) {
	res := CalculateResults(nil, nil, 1000, nil)
	require.NotNil(t, res)
	assert.Equal(t, 0.0, res.Performance.TotalReturn)
	assert.Equal(t, 0.0, res.Performance.SharpeRatio)
	assert.Equal(t, 0, res.TradeStats.TotalTrades)
}

func TestBucketPnL(t *testing.T) {
	curve := []EquityPoint{
		{Timestamp: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), Equity: 1000},
		{Timestamp: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Equity: 1010},
		{Timestamp: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC), Equity: 1005},
		{Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Equity: 1105},
	}

	pnl := bucketPnL(curve)
	assert.InDelta(t, 10.0, pnl.Daily["2025-02-01"], 1e-9)
	assert.InDelta(t, -5.0, pnl.Daily["2025-02-02"], 1e-9)
	assert.InDelta(t, 5.0, pnl.Monthly["2025-02"], 1e-9)
	assert.InDelta(t, 5.0, pnl.Yearly["2025"], 1e-9)
	assert.InDelta(t, 100.0, pnl.Yearly["2026"], 1e-9)
}
