package optimizer

import (
	"context"
	"math"
	"sort"
	"time"

	"qbt/internal/config"
	"qbt/internal/market/kline"
	"qbt/internal/strategy/backtest"
	"qbt/internal/strategy/sdk"
)

// WalkForward re-fits strategy parameters on rolling in-sample windows
// and validates them on the paired out-of-sample windows. Windows run
// sequentially because the strategy instance is shared and stateful.
type WalkForward struct {
	cfg      *config.Config
	strategy sdk.Parameterized
	sink     backtest.EventSink
}

// NewWalkForward creates a walk-forward optimizer. A nil sink discards
// all events.
func NewWalkForward(cfg *config.Config, strategy sdk.Parameterized, sink backtest.EventSink) *WalkForward {
	if sink == nil {
		sink = backtest.NopSink{}
	}
	return &WalkForward{cfg: cfg, strategy: strategy, sink: sink}
}

// Run slides the window across the full timestamp index, grid-searching
// parameters per window and aggregating the out-of-sample results.
func (o *WalkForward) Run(ctx context.Context, data kline.Series) (*backtest.Results, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, &backtest.ErrBacktest{Phase: backtest.PhaseWalkForward, Message: "configuration rejected", Err: err}
	}

	primary := o.primarySymbol(data)
	if primary == "" || len(data[primary]) == 0 {
		return nil, &backtest.ErrBacktest{Phase: backtest.PhaseWalkForward, Message: "no market data for any configured symbol"}
	}
	timeline := kline.Timeline(data[primary])

	wf := o.cfg.WalkForward
	n := len(timeline)
	if wf.WindowSize <= 0 || wf.StepSize <= 0 {
		return nil, &backtest.ErrBacktest{
			Phase:   backtest.PhaseWalkForward,
			Message: "window size and step size must be positive",
		}
	}
	if wf.WindowSize > n {
		return nil, &backtest.ErrBacktest{
			Phase:   backtest.PhaseWalkForward,
			Message: "window size exceeds available history; no windows would run",
		}
	}
	inSize := int(float64(wf.WindowSize) * wf.InSampleRatio)
	if inSize < 1 || inSize >= wf.WindowSize {
		return nil, &backtest.ErrBacktest{
			Phase:   backtest.PhaseWalkForward,
			Message: "in-sample ratio leaves no usable in/out-of-sample split",
		}
	}

	numWindows := (n-wf.WindowSize)/wf.StepSize + 1
	report := &backtest.WalkForwardReport{}

	// Window runs use a config copy without the date filter: the slices
	// already carry the window bounds.
	runCfg := *o.cfg
	runCfg.StartTime = time.Time{}
	runCfg.EndTime = time.Time{}

	for w := 0; w < numWindows; w++ {
		start := w * wf.StepSize
		winEnd := start + wf.WindowSize
		inStart := start
		if wf.Anchored {
			inStart = 0
		}
		inEnd := start + inSize

		inData := data.SliceRange(timeline[inStart], boundAfter(timeline, inEnd))
		outData := data.SliceRange(timeline[inEnd], boundAfter(timeline, winEnd))

		bestParams, err := o.fitWindow(ctx, &runCfg, inData)
		if err != nil {
			return nil, err
		}

		if err := o.strategy.UpdateParameters(bestParams); err != nil {
			return nil, &backtest.ErrBacktest{
				Phase:   backtest.PhaseWalkForward,
				Message: "applying optimized parameters",
				Err:     &backtest.ErrStrategy{Op: "update_parameters", Err: err},
			}
		}
		inResult, err := o.runSlice(ctx, &runCfg, inData)
		if err != nil {
			return nil, err
		}
		outResult, err := o.runSlice(ctx, &runCfg, outData)
		if err != nil {
			return nil, err
		}

		window := &backtest.WindowReport{
			InSampleStart:  timeline[inStart],
			InSampleEnd:    timeline[inEnd-1],
			OutSampleStart: timeline[inEnd],
			OutSampleEnd:   timeline[winEnd-1],
			InSample:       inResult,
			OutSample:      outResult,
			Parameters:     bestParams,
			Efficiency:     outResult.Performance.WinRate * outResult.Performance.TotalReturn,
		}
		report.Windows = append(report.Windows, window)
		o.sink.WindowCompleted(window)
	}

	results := o.aggregate(report)
	o.sink.RunCompleted(results)
	return results, nil
}

// fitWindow grid-searches the strategy's parameter space over the
// in-sample slice, selecting the combination with the best in-sample
// Sharpe ratio.
func (o *WalkForward) fitWindow(ctx context.Context, cfg *config.Config, inData kline.Series) (map[string]float64, error) {
	combos := Combinations(o.strategy.ParameterSpace())

	bestScore := math.Inf(-1)
	var bestParams map[string]float64

	for _, combo := range combos {
		if err := o.strategy.UpdateParameters(combo); err != nil {
			return nil, &backtest.ErrBacktest{
				Phase:   backtest.PhaseWalkForward,
				Message: "applying candidate parameters",
				Err:     &backtest.ErrStrategy{Op: "update_parameters", Err: err},
			}
		}
		result, err := o.runSlice(ctx, cfg, inData)
		if err != nil {
			return nil, err
		}
		if result.Performance.SharpeRatio > bestScore {
			bestScore = result.Performance.SharpeRatio
			bestParams = combo
		}
	}
	return bestParams, nil
}

func (o *WalkForward) runSlice(ctx context.Context, cfg *config.Config, data kline.Series) (*backtest.Results, error) {
	engine := backtest.NewEngine(cfg, o.strategy, backtest.NopSink{})
	engine.SetPhase(backtest.PhaseWalkForward)
	return engine.Run(ctx, data)
}

// aggregate compounds the out-of-sample window results into a combined
// record: returns multiply through, drawdown is the worst window's, and
// ledgers and equity curves concatenate.
func (o *WalkForward) aggregate(report *backtest.WalkForwardReport) *backtest.Results {
	var (
		allEquity  []backtest.EquityPoint
		allTrades  []*backtest.Trade
		outReturns []float64
		combined   = 1.0
		sumEff     float64
	)

	for _, w := range report.Windows {
		out := w.OutSample
		combined *= 1 + out.Performance.TotalReturn
		outReturns = append(outReturns, out.Performance.TotalReturn)
		if out.Performance.MaxDrawdown > report.MaxDrawdown {
			report.MaxDrawdown = out.Performance.MaxDrawdown
		}
		allEquity = append(allEquity, out.EquityCurve...)
		allTrades = append(allTrades, out.Trades...)
		sumEff += w.Efficiency
	}

	report.CombinedReturn = combined - 1
	if len(report.Windows) > 0 {
		report.AvgEfficiency = sumEff / float64(len(report.Windows))
	}
	report.Stability = stabilityScore(outReturns)
	report.Robustness = robustnessScore(report.Windows)

	results := backtest.CalculateResults(allEquity, allTrades, o.cfg.InitialCapital, nil)
	results.Strategy = o.strategy.Name()
	results.WalkForward = report
	return results
}

// stabilityScore maps window-to-window variance into (0, 1]: identical
// windows score 1, dispersed ones approach 0.
func stabilityScore(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values) - 1)

	return 1 / (1 + math.Sqrt(variance))
}

// robustnessScore is the median out/in-sample Sharpe ratio weighted by
// the fraction of windows retaining at least 70% of in-sample Sharpe.
func robustnessScore(windows []*backtest.WindowReport) float64 {
	var ratios []float64
	for _, w := range windows {
		in := w.InSample.Performance.SharpeRatio
		out := w.OutSample.Performance.SharpeRatio
		if in > 0 && out > 0 {
			ratios = append(ratios, out/in)
		}
	}
	if len(ratios) == 0 {
		return 0
	}

	sort.Float64s(ratios)
	median := ratios[len(ratios)/2]

	consistent := 0.0
	for _, r := range ratios {
		if r >= 0.7 {
			consistent++
		}
	}
	return median * consistent / float64(len(ratios))
}

// boundAfter returns an exclusive slice bound just past index idx−1
func boundAfter(timeline []time.Time, idx int) time.Time {
	if idx < len(timeline) {
		return timeline[idx]
	}
	return timeline[len(timeline)-1].Add(time.Nanosecond)
}

func (o *WalkForward) primarySymbol(data kline.Series) string {
	for _, symbol := range o.cfg.Symbols {
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
