package kline

import (
	"sort"
	"time"
)

// Kline represents a candlestick bar
type Kline struct {
	Symbol    string    `json:"symbol"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Snapshot maps each symbol to its bar active as of the current timestamp.
// A symbol with no bar yet simply has no entry.
type Snapshot map[string]*Kline

// Series holds per-symbol bar histories keyed by symbol
type Series map[string][]*Kline

// Timeline builds the ordered, deduplicated list of open times from a
// single symbol's bar series.
func Timeline(bars []*Kline) []time.Time {
	seen := make(map[int64]bool, len(bars))
	out := make([]time.Time, 0, len(bars))
	for _, b := range bars {
		key := b.OpenTime.UnixNano()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, b.OpenTime)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// SnapshotAt returns the bar active "as of" ts for every symbol: the latest
// bar with OpenTime <= ts. Symbols with no bar at or before ts are omitted.
func (s Series) SnapshotAt(ts time.Time) Snapshot {
	snap := make(Snapshot, len(s))
	for symbol, bars := range s {
		// Bars are expected sorted by open time.
		idx := sort.Search(len(bars), func(i int) bool {
			return bars[i].OpenTime.After(ts)
		})
		if idx == 0 {
			continue
		}
		snap[symbol] = bars[idx-1]
	}
	return snap
}

// SliceRange returns the sub-series covering [start, end) by timestamp
// for every symbol.
func (s Series) SliceRange(start, end time.Time) Series {
	out := make(Series, len(s))
	for symbol, bars := range s {
		lo := sort.Search(len(bars), func(i int) bool {
			return !bars[i].OpenTime.Before(start)
		})
		hi := sort.Search(len(bars), func(i int) bool {
			return !bars[i].OpenTime.Before(end)
		})
		if lo < hi {
			out[symbol] = bars[lo:hi]
		}
	}
	return out
}

// Sort orders every symbol's bars by open time in place
func (s Series) Sort() {
	for _, bars := range s {
		sort.Slice(bars, func(i, j int) bool {
			return bars[i].OpenTime.Before(bars[j].OpenTime)
		})
	}
}
