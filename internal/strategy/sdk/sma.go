package sdk

import (
	"context"
	"fmt"
	"sort"

	"qbt/internal/market/kline"
)

// SMACross is a moving-average crossover strategy. It keeps a rolling
// close-price window per symbol and goes long when the fast average
// crosses above the slow one, selling when it crosses back below.
type SMACross struct {
	fast int
	slow int

	closes map[string][]float64
}

// NewSMACross creates a crossover strategy with the given window lengths
func NewSMACross(fast, slow int) *SMACross {
	if fast <= 0 {
		fast = 10
	}
	if slow <= fast {
		slow = fast * 3
	}
	return &SMACross{
		fast:   fast,
		slow:   slow,
		closes: make(map[string][]float64),
	}
}

// Name implements Strategy
func (s *SMACross) Name() string {
	return fmt.Sprintf("sma_cross_%d_%d", s.fast, s.slow)
}

// GenerateSignal implements Strategy
func (s *SMACross) GenerateSignal(ctx context.Context, snapshot kline.Snapshot, positions map[string]PositionInfo, capital float64) (*Signal, error) {
	// Sorted iteration keeps multi-symbol runs reproducible.
	symbols := make([]string, 0, len(snapshot))
	for symbol := range snapshot {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		bar := snapshot[symbol]
		window := append(s.closes[symbol], bar.Close)
		if len(window) > s.slow+1 {
			window = window[len(window)-s.slow-1:]
		}
		s.closes[symbol] = window

		if len(window) < s.slow+1 {
			continue
		}

		fastNow := sma(window[len(window)-s.fast:])
		slowNow := sma(window[len(window)-s.slow:])
		fastPrev := sma(window[len(window)-s.fast-1 : len(window)-1])
		slowPrev := sma(window[len(window)-s.slow-1 : len(window)-1])

		_, open := positions[symbol]

		if !open && fastPrev <= slowPrev && fastNow > slowNow {
			return &Signal{
				Symbol:   symbol,
				Side:     SideBuy,
				StopLoss: bar.Close * 0.98,
			}, nil
		}
		if open && fastPrev >= slowPrev && fastNow < slowNow {
			return &Signal{
				Symbol:   symbol,
				Side:     SideSell,
				Quantity: positions[symbol].Quantity,
			}, nil
		}
	}
	return nil, nil
}

// ParameterSpace implements Parameterized
func (s *SMACross) ParameterSpace() map[string][]float64 {
	return map[string][]float64{
		"fast": {5, 10, 20},
		"slow": {30, 50, 100},
	}
}

// UpdateParameters implements Parameterized
func (s *SMACross) UpdateParameters(params map[string]float64) error {
	if v, ok := params["fast"]; ok {
		if v < 1 {
			return fmt.Errorf("fast window must be >= 1, got %v", v)
		}
		s.fast = int(v)
	}
	if v, ok := params["slow"]; ok {
		if int(v) <= s.fast {
			return fmt.Errorf("slow window %v must exceed fast window %d", v, s.fast)
		}
		s.slow = int(v)
	}
	// New windows invalidate the accumulated history.
	s.closes = make(map[string][]float64)
	return nil
}

func sma(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
