package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// tradingDaysPerYear is the annualization basis for return statistics.
const tradingDaysPerYear = 252

// Mean returns the arithmetic mean, or 0 for an empty series
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation, or 0 below two elements
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	sumSq := 0.0
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// DownsideDeviation returns the semi-deviation of returns below zero.
// Only negative returns contribute; the full series length is the
// denominator.
func DownsideDeviation(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
		}
	}
	return math.Sqrt(sumSq / float64(len(returns)-1))
}

// SharpeRatio computes the annualized Sharpe ratio of a periodic return
// series. Degenerate inputs (empty series, zero deviation) yield 0.
func SharpeRatio(returns []float64) float64 {
	std := StdDev(returns)
	if std == 0 {
		return 0
	}
	return Mean(returns) * tradingDaysPerYear / (std * math.Sqrt(tradingDaysPerYear))
}

// SortinoRatio substitutes downside deviation for total deviation
func SortinoRatio(returns []float64) float64 {
	dd := DownsideDeviation(returns)
	if dd == 0 {
		return 0
	}
	return Mean(returns) * tradingDaysPerYear / (dd * math.Sqrt(tradingDaysPerYear))
}

// CalmarRatio is annualized return over max drawdown, 0 when flat
func CalmarRatio(annualizedReturn, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return annualizedReturn / maxDrawdown
}

// AnnualizedReturn compounds a total return over the elapsed years
func AnnualizedReturn(totalReturn float64, start, end time.Time) float64 {
	years := end.Sub(start).Hours() / (24 * 365)
	if years <= 0 {
		return totalReturn
	}
	if totalReturn <= -1 {
		return -1
	}
	return math.Pow(1+totalReturn, 1/years) - 1
}

// MaxDrawdown returns the deepest retracement in the equity curve and
// the longest period spent under a previous peak.
func MaxDrawdown(curve []EquityPoint) (float64, time.Duration) {
	if len(curve) == 0 {
		return 0, 0
	}

	peak := curve[0].Equity
	peakTime := curve[0].Timestamp
	maxDD := 0.0
	var maxDuration time.Duration

	for _, pt := range curve {
		if pt.Equity >= peak {
			peak = pt.Equity
			peakTime = pt.Timestamp
			continue
		}
		if peak > 0 {
			dd := (peak - pt.Equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
		if under := pt.Timestamp.Sub(peakTime); under > maxDuration {
			maxDuration = under
		}
	}
	return maxDD, maxDuration
}

// UlcerIndex is the root-mean-square of the drawdown series
func UlcerIndex(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, pt := range curve {
		sumSq += pt.Drawdown * pt.Drawdown
	}
	return math.Sqrt(sumSq / float64(len(curve)))
}

// SerenityRatio is annualized return over the Ulcer Index, 0 when flat
func SerenityRatio(annualizedReturn, ulcer float64) float64 {
	if ulcer == 0 {
		return 0
	}
	return annualizedReturn / ulcer
}

// VaR returns the (1−confidence) lower empirical percentile of returns.
// Safe on any non-empty series, including a single element.
func VaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	idx := int((1 - confidence) * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// CVaR is the mean of all returns at or below the VaR cutoff
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	cutoff := VaR(returns, confidence)
	var sum float64
	var count int
	for _, r := range returns {
		if r <= cutoff {
			sum += r
			count++
		}
	}
	if count == 0 {
		return cutoff
	}
	return sum / float64(count)
}

// OmegaRatio is the probability-weighted gain/loss ratio around a
// threshold. With no losses it returns +Inf when gains exist (documented
// sentinel), else 0.
func OmegaRatio(returns []float64, threshold float64) float64 {
	var gains, losses float64
	for _, r := range returns {
		if r > threshold {
			gains += r - threshold
		} else {
			losses += threshold - r
		}
	}
	if losses == 0 {
		if gains > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return gains / losses
}

// KappaRatio is mean excess return over the square root of the second
// lower partial moment. Shares Omega's +Inf sentinel when the downside
// is empty.
func KappaRatio(returns []float64, threshold float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var lpm float64
	for _, r := range returns {
		if d := threshold - r; d > 0 {
			lpm += d * d
		}
	}
	lpm /= float64(len(returns))
	excess := Mean(returns) - threshold
	if lpm == 0 {
		if excess > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return excess / math.Sqrt(lpm)
}

// Beta regresses returns against the benchmark, 0 when the benchmark
// has no variance.
func Beta(returns, benchmark []float64) float64 {
	n := len(returns)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	if n < 2 {
		return 0
	}
	r := returns[:n]
	b := benchmark[:n]

	meanR := Mean(r)
	meanB := Mean(b)

	var cov, varB float64
	for i := 0; i < n; i++ {
		cov += (r[i] - meanR) * (b[i] - meanB)
		varB += (b[i] - meanB) * (b[i] - meanB)
	}
	if varB == 0 {
		return 0
	}
	return cov / varB
}

// Alpha is the annualized excess return over the beta-scaled benchmark
func Alpha(returns, benchmark []float64) float64 {
	beta := Beta(returns, benchmark)
	return (Mean(returns) - beta*Mean(benchmark)) * tradingDaysPerYear
}

// TreynorRatio is annualized return per unit of beta, 0 when beta is 0
func TreynorRatio(annualizedReturn, beta float64) float64 {
	if beta == 0 {
		return 0
	}
	return annualizedReturn / beta
}

// TrackingError is the annualized deviation of active returns
func TrackingError(returns, benchmark []float64) float64 {
	n := len(returns)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	if n < 2 {
		return 0
	}
	active := make([]float64, n)
	for i := 0; i < n; i++ {
		active[i] = returns[i] - benchmark[i]
	}
	return StdDev(active) * math.Sqrt(tradingDaysPerYear)
}

// InformationRatio is annualized active return over tracking error
func InformationRatio(returns, benchmark []float64) float64 {
	te := TrackingError(returns, benchmark)
	if te == 0 {
		return 0
	}
	n := len(returns)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	active := make([]float64, n)
	for i := 0; i < n; i++ {
		active[i] = returns[i] - benchmark[i]
	}
	return Mean(active) * tradingDaysPerYear / te
}

// tradeSummary reduces the closed trades of a ledger
type tradeSummary struct {
	wins        int
	losses      int
	grossProfit float64
	grossLoss   float64
	sumWin      float64
	sumLoss     float64
	maxWinRun   int
	maxLossRun  int
	sumMAE      float64
	sumMFE      float64
	closed      int
}

func summarizeTrades(trades []*Trade) tradeSummary {
	var s tradeSummary
	winRun, lossRun := 0, 0
	for _, t := range trades {
		if !t.Closed {
			continue
		}
		s.closed++
		s.sumMAE += t.MAE
		s.sumMFE += t.MFE
		if t.PnL > 0 {
			s.wins++
			s.grossProfit += t.PnL
			s.sumWin += t.PnL
			winRun++
			lossRun = 0
		} else if t.PnL < 0 {
			s.losses++
			s.grossLoss += -t.PnL
			s.sumLoss += t.PnL
			lossRun++
			winRun = 0
		} else {
			winRun, lossRun = 0, 0
		}
		if winRun > s.maxWinRun {
			s.maxWinRun = winRun
		}
		if lossRun > s.maxLossRun {
			s.maxLossRun = lossRun
		}
	}
	return s
}

// ProfitFactor is gross profit over gross loss. With winners and no
// losers it returns +Inf (documented sentinel); otherwise 0 when
// undefined.
func ProfitFactor(trades []*Trade) float64 {
	s := summarizeTrades(trades)
	if s.grossLoss == 0 {
		if s.grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return s.grossProfit / s.grossLoss
}

// CalculateResults reduces an equity curve and trade ledger into the
// full results record. The benchmark series is optional; when nil the
// strategy's own returns serve as the benchmark, which trivially yields
// beta ≈ 1 and alpha ≈ 0.
func CalculateResults(curve []EquityPoint, trades []*Trade, initialCapital float64, benchmark []float64) *Results {
	res := &Results{
		EquityCurve: curve,
		Trades:      trades,
		PeriodPnL:   bucketPnL(curve),
	}
	if len(curve) > 0 {
		res.StartTime = curve[0].Timestamp
		res.EndTime = curve[len(curve)-1].Timestamp
	}

	returns := res.Returns()
	if benchmark == nil {
		benchmark = returns
	}

	totalReturn := 0.0
	if initialCapital > 0 && len(curve) > 0 {
		totalReturn = (curve[len(curve)-1].Equity - initialCapital) / initialCapital
	}
	annReturn := AnnualizedReturn(totalReturn, res.StartTime, res.EndTime)
	maxDD, ddDuration := MaxDrawdown(curve)
	ulcer := UlcerIndex(curve)

	s := summarizeTrades(trades)

	winRate := 0.0
	if s.closed > 0 {
		winRate = float64(s.wins) / float64(s.closed)
	}
	avgWin := 0.0
	if s.wins > 0 {
		avgWin = s.sumWin / float64(s.wins)
	}
	avgLoss := 0.0
	if s.losses > 0 {
		avgLoss = s.sumLoss / float64(s.losses)
	}
	payoff := 0.0
	if avgLoss != 0 {
		payoff = avgWin / math.Abs(avgLoss)
	}
	recovery := 0.0
	if maxDD != 0 {
		recovery = totalReturn / maxDD
	}

	res.Performance = PerformanceStats{
		TotalReturn:         totalReturn,
		AnnualizedReturn:    annReturn,
		Volatility:          StdDev(returns) * math.Sqrt(tradingDaysPerYear),
		SharpeRatio:         SharpeRatio(returns),
		SortinoRatio:        SortinoRatio(returns),
		CalmarRatio:         CalmarRatio(annReturn, maxDD),
		MaxDrawdown:         maxDD,
		MaxDrawdownDuration: ddDuration,
		WinRate:             winRate,
		AvgWin:              avgWin,
		AvgLoss:             avgLoss,
		ProfitFactor:        ProfitFactor(trades),
		Expectancy:          winRate*avgWin + (1-winRate)*avgLoss,
		PayoffRatio:         payoff,
		RecoveryFactor:      recovery,
		UlcerIndex:          ulcer,
		SerenityRatio:       SerenityRatio(annReturn, ulcer),
	}

	beta := Beta(returns, benchmark)
	res.Risk = RiskStats{
		VaR95:             VaR(returns, 0.95),
		CVaR95:            CVaR(returns, 0.95),
		DownsideDeviation: DownsideDeviation(returns) * math.Sqrt(tradingDaysPerYear),
		Beta:              beta,
		Alpha:             Alpha(returns, benchmark),
		TreynorRatio:      TreynorRatio(annReturn, beta),
		InformationRatio:  InformationRatio(returns, benchmark),
		TrackingError:     TrackingError(returns, benchmark),
		OmegaRatio:        OmegaRatio(returns, 0),
		KappaRatio:        KappaRatio(returns, 0),
	}

	avgMAE := 0.0
	avgMFE := 0.0
	if s.closed > 0 {
		avgMAE = s.sumMAE / float64(s.closed)
		avgMFE = s.sumMFE / float64(s.closed)
	}
	edge := 0.0
	if avgMAE != 0 {
		edge = avgMFE / math.Abs(avgMAE)
	}
	res.TradeStats = TradeStats{
		TotalTrades:   s.closed,
		WinningTrades: s.wins,
		LosingTrades:  s.losses,
		MaxWinStreak:  s.maxWinRun,
		MaxLossStreak: s.maxLossRun,
		AvgMAE:        avgMAE,
		AvgMFE:        avgMFE,
		EdgeRatio:     edge,
	}

	return res
}

// bucketPnL accumulates step-over-step equity changes into calendar
// buckets keyed by day, ISO week, month and year.
func bucketPnL(curve []EquityPoint) PeriodPnL {
	pnl := PeriodPnL{
		Daily:   make(map[string]float64),
		Weekly:  make(map[string]float64),
		Monthly: make(map[string]float64),
		Yearly:  make(map[string]float64),
	}
	for i := 1; i < len(curve); i++ {
		delta := curve[i].Equity - curve[i-1].Equity
		ts := curve[i].Timestamp

		pnl.Daily[ts.Format("2006-01-02")] += delta
		year, week := ts.ISOWeek()
		pnl.Weekly[fmt.Sprintf("%d-W%02d", year, week)] += delta
		pnl.Monthly[ts.Format("2006-01")] += delta
		pnl.Yearly[ts.Format("2006")] += delta
	}
	return pnl
}
