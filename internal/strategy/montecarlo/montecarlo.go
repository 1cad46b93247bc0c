// Package montecarlo builds bootstrap distributions of backtest outcomes
// by resampling the realized daily-return series with replacement.
package montecarlo

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"qbt/internal/config"
	"qbt/internal/strategy/backtest"
)

// Simulator resamples a completed run's return series. Trials are
// independent and fan out across a worker pool; a configured seed makes
// every trial deterministic regardless of scheduling.
type Simulator struct {
	cfg  config.MonteCarloConfig
	sink backtest.EventSink
}

// New creates a simulator. A nil sink discards progress events.
func New(cfg config.MonteCarloConfig, sink backtest.EventSink) *Simulator {
	if sink == nil {
		sink = backtest.NopSink{}
	}
	return &Simulator{cfg: cfg, sink: sink}
}

// Run draws bootstrap samples of the return series, reconstructs a
// synthetic equity curve per trial and reduces the resulting terminal
// return, max drawdown and Sharpe distributions.
func (s *Simulator) Run(ctx context.Context, returns []float64, initialCapital float64) (*backtest.MonteCarloReport, error) {
	if len(returns) == 0 {
		return nil, &backtest.ErrBacktest{
			Phase:   backtest.PhaseMonteCarlo,
			Message: "empty daily-return series",
		}
	}
	sims := s.cfg.Simulations
	if sims <= 0 {
		return nil, &backtest.ErrBacktest{
			Phase:   backtest.PhaseMonteCarlo,
			Message: "simulation count must be positive",
		}
	}

	seed := s.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	terminal := make([]float64, sims)
	drawdowns := make([]float64, sims)
	sharpes := make([]float64, sims)

	workers := runtime.GOMAXPROCS(0)
	if workers > sims {
		workers = sims
	}
	trials := make(chan int)
	var done int64
	var wg sync.WaitGroup

	stride := sims / 10
	if stride < 1 {
		stride = 1
	}

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range trials {
				// Per-trial seeding keeps results independent of
				// worker scheduling.
				rng := rand.New(rand.NewSource(seed + int64(i)))
				terminal[i], drawdowns[i], sharpes[i] = trial(rng, returns, initialCapital)

				if n := atomic.AddInt64(&done, 1); n%int64(stride) == 0 {
					s.sink.MonteCarloProgress(int(n), sims)
				}
			}
		}()
	}

	for i := 0; i < sims; i++ {
		select {
		case <-ctx.Done():
			close(trials)
			wg.Wait()
			return nil, &backtest.ErrBacktest{
				Phase:   backtest.PhaseMonteCarlo,
				Message: "simulation canceled",
				Err:     ctx.Err(),
			}
		case trials <- i:
		}
	}
	close(trials)
	wg.Wait()

	sort.Float64s(terminal)
	sort.Float64s(drawdowns)
	sort.Float64s(sharpes)

	alpha := 1 - s.cfg.Confidence
	report := &backtest.MonteCarloReport{
		Simulations: sims,
		ReturnPercentiles: map[int]float64{
			5:  percentile(terminal, 5),
			25: percentile(terminal, 25),
			50: percentile(terminal, 50),
			75: percentile(terminal, 75),
			95: percentile(terminal, 95),
		},
		ReturnCI: backtest.Interval{
			Lower: percentile(terminal, alpha/2*100),
			Upper: percentile(terminal, (1-alpha/2)*100),
		},
		DrawdownCI: backtest.Interval{
			Lower: percentile(drawdowns, alpha/2*100),
			Upper: percentile(drawdowns, (1-alpha/2)*100),
		},
		SharpeCI: backtest.Interval{
			Lower: percentile(sharpes, alpha/2*100),
			Upper: percentile(sharpes, (1-alpha/2)*100),
		},
		ProbabilityOfRuin:   probabilityOfRuin(returns, initialCapital),
		ExpectedMaxDrawdown: backtest.Mean(drawdowns),
	}
	return report, nil
}

// trial runs one bootstrap resample and compounds it into a synthetic
// equity curve.
func trial(rng *rand.Rand, returns []float64, capital float64) (terminalReturn, maxDrawdown, sharpe float64) {
	n := len(returns)
	sample := make([]float64, n)

	equity := capital
	peak := capital
	for k := 0; k < n; k++ {
		r := returns[rng.Intn(n)]
		sample[k] = r
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	if capital > 0 {
		terminalReturn = (equity - capital) / capital
	}
	return terminalReturn, maxDrawdown, backtest.SharpeRatio(sample)
}

// probabilityOfRuin uses the gambler's-ruin approximation over the
// original return series: min(1, exp(−2·mean·capital / variance)) for a
// positive edge, else certain ruin.
func probabilityOfRuin(returns []float64, capital float64) float64 {
	mean := backtest.Mean(returns)
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	if mean <= 0 || variance == 0 {
		return 1
	}
	return math.Min(1, math.Exp(-2*mean*capital/variance))
}

// percentile interpolates the pth percentile of an ascending series
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return sorted[lower]
	}
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
