package kline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// LoadCSV reads a bar series for one symbol from a CSV file with header
// timestamp,open,high,low,close,volume. Timestamps are RFC3339 or unix
// milliseconds.
func LoadCSV(path, symbol string) ([]*Kline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var bars []*Kline
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read candle file %s: %w", path, err)
		}
		line++
		if line == 1 && !isNumeric(record[0]) {
			continue // header row
		}
		if len(record) < 6 {
			return nil, fmt.Errorf("candle file %s line %d: expected 6 columns, got %d", path, line, len(record))
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			return nil, fmt.Errorf("candle file %s line %d: %w", path, line, err)
		}

		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("candle file %s line %d: bad number %q", path, line, record[i+1])
			}
			vals[i] = v
		}

		bars = append(bars, &Kline{
			Symbol:   symbol,
			OpenTime: ts,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("candle file %s: no bars", path)
	}
	return bars, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return ts.UTC(), nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
