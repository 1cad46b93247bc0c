package montecarlo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbt/internal/config"
	"qbt/internal/strategy/backtest"
)

func mcConfig(sims int, seed int64) config.MonteCarloConfig {
	return config.MonteCarloConfig{
		Enabled:     true,
		Simulations: sims,
		Confidence:  0.95,
		Seed:        seed,
	}
}

func TestRun_ZeroReturns(t *testing.T) {
	sim := New(mcConfig(200, 42), nil)

	returns := make([]float64, 50)
	report, err := sim.Run(context.Background(), returns, 10000)
	require.NoError(t, err)

	// Resampling zeros in any order produces a flat curve every trial.
	for _, p := range []int{5, 25, 50, 75, 95} {
		assert.InDelta(t, 0.0, report.ReturnPercentiles[p], 1e-12)
	}
	assert.InDelta(t, 0.0, report.ReturnCI.Lower, 1e-12)
	assert.InDelta(t, 0.0, report.ReturnCI.Upper, 1e-12)
	assert.InDelta(t, 0.0, report.ExpectedMaxDrawdown, 1e-12)
	assert.InDelta(t, 1.0, report.ProbabilityOfRuin, 1e-12, "no positive edge means certain ruin")
	assert.Equal(t, 200, report.Simulations)
}

func TestRun_SeedReproducibility(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, -0.01, 0.02, 0.005, -0.015, 0.025}

	first, err := New(mcConfig(500, 7), nil).Run(context.Background(), returns, 10000)
	require.NoError(t, err)
	second, err := New(mcConfig(500, 7), nil).Run(context.Background(), returns, 10000)
	require.NoError(t, err)

	assert.Equal(t, first.ReturnPercentiles, second.ReturnPercentiles)
	assert.Equal(t, first.ReturnCI, second.ReturnCI)
	assert.Equal(t, first.DrawdownCI, second.DrawdownCI)
	assert.Equal(t, first.SharpeCI, second.SharpeCI)
	assert.Equal(t, first.ExpectedMaxDrawdown, second.ExpectedMaxDrawdown)
}

func TestRun_DistributionShape(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.015, -0.005, 0.01, -0.02, 0.03, 0.005}
	report, err := New(mcConfig(1000, 99), nil).Run(context.Background(), returns, 10000)
	require.NoError(t, err)

	p := report.ReturnPercentiles
	assert.LessOrEqual(t, p[5], p[25])
	assert.LessOrEqual(t, p[25], p[50])
	assert.LessOrEqual(t, p[50], p[75])
	assert.LessOrEqual(t, p[75], p[95])

	assert.LessOrEqual(t, report.ReturnCI.Lower, report.ReturnCI.Upper)
	assert.GreaterOrEqual(t, report.DrawdownCI.Lower, 0.0)
	assert.GreaterOrEqual(t, report.ExpectedMaxDrawdown, 0.0)

	// The series has a positive mean, so ruin is strictly inside (0, 1).
	assert.Greater(t, report.ProbabilityOfRuin, 0.0)
	assert.Less(t, report.ProbabilityOfRuin, 1.0)
}

func TestRun_InputValidation(t *testing.T) {
	sim := New(mcConfig(100, 1), nil)
	_, err := sim.Run(context.Background(), nil, 10000)
	require.Error(t, err)
	var be *backtest.ErrBacktest
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backtest.PhaseMonteCarlo, be.Phase)

	sim = New(mcConfig(0, 1), nil)
	_, err = sim.Run(context.Background(), []float64{0.01}, 10000)
	require.Error(t, err)
	assert.ErrorAs(t, err, &be)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	returns := []float64{0.01, -0.01}
	_, err := New(mcConfig(100000, 3), nil).Run(ctx, returns, 10000)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPercentile_Interpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	assert.InDelta(t, 1.0, percentile(sorted, 0), 1e-12)
	assert.InDelta(t, 4.0, percentile(sorted, 100), 1e-12)
	assert.InDelta(t, 2.5, percentile(sorted, 50), 1e-12)
	assert.InDelta(t, 1.75, percentile(sorted, 25), 1e-12)
	assert.Equal(t, 0.0, percentile(nil, 50))
}

func TestProbabilityOfRuin(t *testing.T) {
	assert.Equal(t, 1.0, probabilityOfRuin([]float64{-0.01, -0.02}, 10000), "negative edge")
	assert.Equal(t, 1.0, probabilityOfRuin([]float64{0.01, 0.01}, 10000), "zero variance")

	// Positive edge with variance: min(1, exp(-2*mean*capital/variance)).
	p := probabilityOfRuin([]float64{0.5, -0.4}, 1)
	assert.Greater(t, p, 0.0)
	assert.Less(t, p, 1.0)
}
