// Package feed loads historical candles and shapes them for a run.
package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"perp_mm/internal/domain"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// millisThreshold separates unix seconds from unix milliseconds.
const millisThreshold = 100_000_000_000

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// LoadCSV reads a candle CSV with headers time|timestamp, open, high, low,
// close, volume (case-insensitive, any order). Rows without time, open or
// close are skipped. The result is sorted ascending with duplicate timestamps
// collapsed to the first occurrence.
func LoadCSV(path string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV is LoadCSV over an arbitrary reader.
func ReadCSV(src io.Reader) ([]domain.Candle, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	headers, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var out []domain.Candle
	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		row := make(map[string]string, len(headers))
		for j, h := range headers {
			if j < len(rec) {
				row[h] = strings.TrimSpace(rec[j])
			}
		}
		tsRaw := first(row, "time", "timestamp", "open_time", "candle_begin_time")
		if tsRaw == "" || row["open"] == "" || row["close"] == "" {
			continue
		}

		c, err := parseRow(row, tsRaw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}

	return normalize(out), nil
}

func parseRow(row map[string]string, tsRaw string) (domain.Candle, error) {
	ts, err := ParseTime(tsRaw)
	if err != nil {
		return domain.Candle{}, err
	}
	c := domain.Candle{Timestamp: quant.FromTime(ts)}

	fields := []struct {
		dst  *decimal.Decimal
		keys []string
	}{
		{&c.Open, []string{"open"}},
		{&c.High, []string{"high"}},
		{&c.Low, []string{"low"}},
		{&c.Close, []string{"close"}},
		{&c.Volume, []string{"volume", "vol"}},
	}
	for _, f := range fields {
		raw := first(row, f.keys...)
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("bad %s %q: %w", f.keys[0], raw, err)
		}
		*f.dst = v
	}

	// bars without an envelope collapse to open/close
	if c.High.IsZero() {
		c.High = decimal.Max(c.Open, c.Close)
	}
	if c.Low.IsZero() {
		c.Low = decimal.Min(c.Open, c.Close)
	}
	return c, nil
}

// ParseTime accepts RFC3339, a few common layouts, unix seconds or unix milliseconds.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	n, err := cast.ToInt64E(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time: %s", s)
	}
	if n >= millisThreshold || n <= -millisThreshold {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

func normalize(c []domain.Candle) []domain.Candle {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Timestamp < c[j].Timestamp })
	out := c[:0]
	for i, x := range c {
		if i > 0 && x.Timestamp == out[len(out)-1].Timestamp {
			continue
		}
		out = append(out, x)
	}
	return out
}

// first returns the first non-empty value for keys in m.
func first(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// CSVSource is a domain.CandleSource backed by a CSV file.
type CSVSource struct {
	Path     string
	Window   Window
	Interval time.Duration // resample target; zero keeps the file's bars
}

// LoadCandles loads, resamples and windows the file.
func (s CSVSource) LoadCandles(ctx context.Context) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candles, err := LoadCSV(s.Path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.Path, err)
	}
	if s.Interval > 0 {
		candles = Resample(candles, s.Interval)
	}
	return s.Window.Apply(candles)
}
