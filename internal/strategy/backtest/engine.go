package backtest

import (
	"context"
	"sort"
	"time"

	"qbt/internal/config"
	"qbt/internal/market/kline"
	"qbt/internal/strategy/sdk"
)

// progressInterval is the step cadence for progress events.
const progressInterval = 100

// maxTime stands in for an unset end date when slicing the series.
var maxTime = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// Engine drives one backtest run: it steps the portfolio and risk
// manager across the timeline, collects the equity curve and hands the
// outcome to the metrics library. The run is strictly sequential; each
// step carries equity and drawdown state into the next.
type Engine struct {
	cfg       *config.Config
	strategy  sdk.Strategy
	portfolio *Portfolio
	risk      *RiskManager
	sink      EventSink
	phase     Phase

	signals   []*sdk.Signal // optional pre-supplied signals, one per step
	benchmark []float64     // optional benchmark return series
}

// NewEngine creates an engine for one strategy. A nil sink discards all
// events.
func NewEngine(cfg *config.Config, strategy sdk.Strategy, sink EventSink) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		cfg:       cfg,
		strategy:  strategy,
		portfolio: NewPortfolio(cfg),
		risk:      NewRiskManager(cfg, sink),
		sink:      sink,
		phase:     PhaseSimple,
	}
}

// SetSignals pre-supplies one signal slot per timeline step, bypassing
// the strategy's signal hook.
func (e *Engine) SetSignals(signals []*sdk.Signal) { e.signals = signals }

// SetBenchmark injects a benchmark return series for beta/alpha. Without
// it the strategy's own returns serve as benchmark.
func (e *Engine) SetBenchmark(benchmark []float64) { e.benchmark = benchmark }

// SetPhase tags errors from this engine with the given run phase
func (e *Engine) SetPhase(phase Phase) { e.phase = phase }

// Portfolio exposes the engine's portfolio, mainly for tests
func (e *Engine) Portfolio() *Portfolio { return e.portfolio }

// Run replays the bar series through the strategy and returns the
// completed results record. Configuration errors fail fast; strategy
// errors are fatal to the run and never retried.
func (e *Engine) Run(ctx context.Context, data kline.Series) (*Results, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, &ErrBacktest{Phase: e.phase, Message: "configuration rejected", Err: err}
	}

	if !e.cfg.StartTime.IsZero() || !e.cfg.EndTime.IsZero() {
		start, end := e.cfg.StartTime, e.cfg.EndTime
		if end.IsZero() {
			end = maxTime
		}
		data = data.SliceRange(start, end)
	}

	primary := e.primarySymbol(data)
	if primary == "" || len(data[primary]) == 0 {
		return nil, &ErrBacktest{Phase: e.phase, Message: "no market data for any configured symbol"}
	}
	timeline := kline.Timeline(data[primary])

	e.portfolio.Reset()
	e.risk.Reset()
	e.sink.RunStarted(e.strategy.Name(), len(timeline))

	// The seed point sits one bar interval before the first step so the
	// curve stays strictly ordered by timestamp.
	curve := make([]EquityPoint, 0, len(timeline)+1)
	curve = append(curve, EquityPoint{
		Timestamp: timeline[0].Add(-barInterval(timeline)),
		Equity:    e.cfg.InitialCapital,
	})
	prevEquity := e.cfg.InitialCapital

	for i, ts := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, &ErrBacktest{Phase: e.phase, Message: "run canceled", Err: err}
		}

		snapshot := data.SnapshotAt(ts)
		e.portfolio.UpdatePositions(snapshot, ts)

		signal, err := e.nextSignal(ctx, i, snapshot)
		if err != nil {
			wrapped := &ErrBacktest{Phase: e.phase, Message: "strategy failed", Err: err}
			e.sink.RunFailed(wrapped)
			return nil, wrapped
		}
		if signal != nil && !e.risk.Halted() {
			e.handleSignal(signal, snapshot, ts)
		}

		e.risk.Evaluate(e.portfolio, ts)

		equity := e.portfolio.Equity()
		periodReturn := 0.0
		if prevEquity != 0 {
			periodReturn = (equity - prevEquity) / prevEquity
		}
		curve = append(curve, EquityPoint{
			Timestamp:     ts,
			Equity:        equity,
			Drawdown:      e.portfolio.Drawdown(equity),
			PeriodReturn:  periodReturn,
			OpenPositions: len(e.portfolio.Positions()),
		})
		prevEquity = equity

		if (i+1)%progressInterval == 0 {
			e.sink.Progress(i+1, len(timeline))
		}
	}

	// Close out so every ledger entry is finalized before metrics run.
	lastTS := timeline[len(timeline)-1]
	e.portfolio.CloseAllPositions(lastTS, "end_of_backtest")

	finalEquity := e.portfolio.Equity()
	last := &curve[len(curve)-1]
	last.Equity = finalEquity
	last.Drawdown = e.portfolio.Drawdown(finalEquity)
	last.OpenPositions = 0
	if prev := curve[len(curve)-2].Equity; prev != 0 {
		last.PeriodReturn = (finalEquity - prev) / prev
	}

	results := CalculateResults(curve, e.portfolio.Trades(), e.cfg.InitialCapital, e.benchmark)
	results.Strategy = e.strategy.Name()
	results.StartTime = timeline[0]
	e.sink.RunCompleted(results)
	return results, nil
}

// nextSignal returns the signal for step i: a pre-supplied one when
// configured, otherwise whatever the strategy produces.
func (e *Engine) nextSignal(ctx context.Context, i int, snapshot kline.Snapshot) (*sdk.Signal, error) {
	if e.signals != nil {
		if i < len(e.signals) {
			return e.signals[i], nil
		}
		return nil, nil
	}
	signal, err := e.strategy.GenerateSignal(ctx, snapshot, e.portfolio.PositionViews(), e.portfolio.Equity())
	if err != nil {
		return nil, &ErrStrategy{Op: "generate_signal", Err: err}
	}
	return signal, nil
}

// handleSignal routes a signal: an opposite-side signal closes the open
// position, otherwise the risk manager sizes a new one and the gate
// decides whether it executes. Rejected trades are skipped silently.
func (e *Engine) handleSignal(signal *sdk.Signal, snapshot kline.Snapshot, ts time.Time) {
	if pos, open := e.portfolio.Positions()[signal.Symbol]; open {
		if pos.Side != signal.Side {
			e.portfolio.ClosePosition(signal.Symbol, ts, "signal")
		}
		return
	}

	bar, ok := snapshot[signal.Symbol]
	if !ok {
		return
	}
	notional := e.risk.PositionSize(signal, bar.Close, e.portfolio.Equity())
	if trade := e.portfolio.ExecuteTrade(signal, notional, snapshot, ts); trade != nil {
		e.sink.TradeExecuted(trade)
	}
}

// barInterval infers the bar spacing from the timeline, defaulting to a
// day when only one bar exists.
func barInterval(timeline []time.Time) time.Duration {
	if len(timeline) > 1 {
		return timeline[1].Sub(timeline[0])
	}
	return 24 * time.Hour
}

func (e *Engine) primarySymbol(data kline.Series) string {
	for _, symbol := range e.cfg.Symbols {
		if len(data[symbol]) > 0 {
			return symbol
		}
	}
	symbols := make([]string, 0, len(data))
	for symbol := range data {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	if len(symbols) == 0 {
		return ""
	}
	return symbols[0]
}
