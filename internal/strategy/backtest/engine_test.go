package backtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbt/internal/config"
	"qbt/internal/market/kline"
	"qbt/internal/strategy/sdk"
)

// stubStrategy emits a fixed signal sequence through the strategy hook
type stubStrategy struct {
	name    string
	signals []*sdk.Signal
	step    int
	err     error
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) GenerateSignal(_ context.Context, _ kline.Snapshot, _ map[string]sdk.PositionInfo, _ float64) (*sdk.Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.step >= len(s.signals) {
		return nil, nil
	}
	sig := s.signals[s.step]
	s.step++
	return sig, nil
}

func flatSeries(symbol string, bars int, close float64) kline.Series {
	series := make([]*kline.Kline, bars)
	for i := 0; i < bars; i++ {
		series[i] = &kline.Kline{Symbol: symbol, OpenTime: day(i), Open: close, High: close, Low: close, Close: close, Volume: 1}
	}
	return kline.Series{symbol: series}
}

func engineConfig() *config.Config {
	cfg := config.Default()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.Constraints.MaxPositionSize = 1
	cfg.Costs = config.CostConfig{Commission: 0.001, Slippage: 0.0005}
	return cfg
}

func TestEngineRun_FlatMarketRoundTrip(t *testing.T) {
	cfg := engineConfig()
	strat := &stubStrategy{name: "stub"}
	engine := NewEngine(cfg, strat, nil)

	signals := make([]*sdk.Signal, 10)
	signals[0] = &sdk.Signal{Symbol: "BTCUSDT", Side: sdk.SideBuy, Notional: 10000}
	engine.SetSignals(signals)

	results, err := engine.Run(context.Background(), flatSeries("BTCUSDT", 10, 100))
	require.NoError(t, err)
	require.NotNil(t, results)

	assert.Equal(t, "stub", results.Strategy)
	assert.Len(t, results.EquityCurve, 11, "seed point plus one per bar")
	assert.Equal(t, 1, results.TradeStats.TotalTrades)

	// With flat prices the only loss is the round-trip cost: commission
	// and slippage on both fills, about 0.3% of notional.
	require.Len(t, results.Trades, 1)
	trade := results.Trades[0]
	assert.True(t, trade.Closed)
	assert.Equal(t, "end_of_backtest", trade.ExitReason)
	assert.InDelta(t, -29.985, trade.PnL, 1e-2)
	assert.InDelta(t, -0.003, results.Performance.TotalReturn, 1e-4)
	assert.InDelta(t, 9970.015, results.EquityCurve[10].Equity, 1e-2)

	// Self-benchmark fallback when none is injected.
	assert.InDelta(t, 1.0, results.Risk.Beta, 1e-9)
}

func TestEngineRun_CurveStrictlyOrdered(t *testing.T) {
	cfg := engineConfig()
	engine := NewEngine(cfg, &stubStrategy{name: "stub"}, nil)

	results, err := engine.Run(context.Background(), flatSeries("BTCUSDT", 10, 100))
	require.NoError(t, err)

	curve := results.EquityCurve
	require.Len(t, curve, 11)
	assert.Equal(t, day(-1), curve[0].Timestamp, "seed point sits one bar before the first step")
	for i := 1; i < len(curve); i++ {
		assert.True(t, curve[i].Timestamp.After(curve[i-1].Timestamp),
			"curve timestamps must strictly increase")
	}
	assert.Equal(t, day(0), results.StartTime, "reported period starts at the first bar")
}

func TestEngineRun_OppositeSignalClosesPosition(t *testing.T) {
	cfg := engineConfig()
	cfg.Costs = config.CostConfig{}
	engine := NewEngine(cfg, &stubStrategy{name: "stub"}, nil)

	signals := make([]*sdk.Signal, 6)
	signals[0] = &sdk.Signal{Symbol: "BTCUSDT", Side: sdk.SideBuy, Notional: 1000}
	signals[3] = &sdk.Signal{Symbol: "BTCUSDT", Side: sdk.SideSell}
	engine.SetSignals(signals)

	results, err := engine.Run(context.Background(), flatSeries("BTCUSDT", 6, 100))
	require.NoError(t, err)

	require.Len(t, results.Trades, 1)
	assert.Equal(t, "signal", results.Trades[0].ExitReason)
	assert.Equal(t, day(3), results.Trades[0].ExitTime)
	assert.Equal(t, 0, results.EquityCurve[4].OpenPositions)
}

func TestEngineRun_KillSwitchSkipsNextSignal(t *testing.T) {
	cfg := engineConfig()
	cfg.Costs = config.CostConfig{}
	cfg.Risk.MaxDrawdown = 0.05
	sink := &recordingSink{}
	engine := NewEngine(cfg, &stubStrategy{name: "stub"}, sink)

	closes := []float64{100, 100, 88, 88, 88, 88}
	bars := make([]*kline.Kline, len(closes))
	for i, c := range closes {
		bars[i] = &kline.Kline{Symbol: "BTCUSDT", OpenTime: day(i), Close: c}
	}

	signals := make([]*sdk.Signal, len(closes))
	signals[0] = &sdk.Signal{Symbol: "BTCUSDT", Side: sdk.SideBuy, Notional: 10000}
	signals[3] = &sdk.Signal{Symbol: "BTCUSDT", Side: sdk.SideBuy, Notional: 1000}
	engine.SetSignals(signals)

	results, err := engine.Run(context.Background(), kline.Series{"BTCUSDT": bars})
	require.NoError(t, err)

	// The 12% drop at step 2 trips the 5% kill-switch: the position is
	// liquidated and the halt swallows the signal at step 3.
	require.Len(t, results.Trades, 1)
	assert.Equal(t, "risk_limit", results.Trades[0].ExitReason)
	assert.Contains(t, sink.triggers, "max_drawdown")
	assert.Equal(t, 0, results.EquityCurve[4].OpenPositions)
}

func TestEngineRun_StrategyErrorIsFatal(t *testing.T) {
	cfg := engineConfig()
	boom := errors.New("boom")
	engine := NewEngine(cfg, &stubStrategy{name: "stub", err: boom}, nil)
	engine.SetPhase(PhaseWalkForward)

	results, err := engine.Run(context.Background(), flatSeries("BTCUSDT", 5, 100))
	assert.Nil(t, results)
	require.Error(t, err)

	var be *ErrBacktest
	require.ErrorAs(t, err, &be)
	assert.Equal(t, PhaseWalkForward, be.Phase)

	var se *ErrStrategy
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "generate_signal", se.Op)
	assert.ErrorIs(t, err, boom)
}

func TestEngineRun_ConfigErrorFailsFast(t *testing.T) {
	cfg := engineConfig()
	cfg.InitialCapital = -1
	engine := NewEngine(cfg, &stubStrategy{name: "stub"}, nil)

	_, err := engine.Run(context.Background(), flatSeries("BTCUSDT", 5, 100))
	require.Error(t, err)
	var inv *config.ErrInvalidConfig
	assert.ErrorAs(t, err, &inv)
}

func TestEngineRun_NoData(t *testing.T) {
	cfg := engineConfig()
	engine := NewEngine(cfg, &stubStrategy{name: "stub"}, nil)

	_, err := engine.Run(context.Background(), kline.Series{})
	require.Error(t, err)
	var be *ErrBacktest
	assert.ErrorAs(t, err, &be)
}

func TestEngineRun_DateRangeSlicing(t *testing.T) {
	cfg := engineConfig()
	cfg.StartTime = day(2)
	cfg.EndTime = day(7)
	engine := NewEngine(cfg, &stubStrategy{name: "stub"}, nil)

	results, err := engine.Run(context.Background(), flatSeries("BTCUSDT", 10, 100))
	require.NoError(t, err)

	// End-exclusive slicing keeps bars at days 2 through 6.
	assert.Len(t, results.EquityCurve, 6)
	assert.Equal(t, day(2), results.StartTime)
	assert.Equal(t, day(6), results.EndTime)
}

func TestEngineRun_Canceled(t *testing.T) {
	cfg := engineConfig()
	engine := NewEngine(cfg, &stubStrategy{name: "stub"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, flatSeries("BTCUSDT", 5, 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineRun_StrategyHookDrivesTrades(t *testing.T) {
	cfg := engineConfig()
	cfg.Costs = config.CostConfig{}
	strat := &stubStrategy{
		name: "stub",
		signals: []*sdk.Signal{
			{Symbol: "BTCUSDT", Side: sdk.SideBuy, Notional: 1000},
		},
	}
	engine := NewEngine(cfg, strat, nil)

	results, err := engine.Run(context.Background(), flatSeries("BTCUSDT", 5, 100))
	require.NoError(t, err)
	assert.Equal(t, 1, results.TradeStats.TotalTrades)
	assert.InDelta(t, 10000.0, results.EquityCurve[4].Equity, 1e-9, "no costs, flat prices")
}
