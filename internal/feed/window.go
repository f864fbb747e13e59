package feed

import (
	"fmt"
	"time"

	"perp_mm/internal/domain"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// Window selects candles with Start <= ts < End. A zero bound is open.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	f := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02 15:04:05")
	}
	return "[" + f(w.Start) + ", " + f(w.End) + ")"
}

// Apply filters candles. An empty result is a domain.ErrDataGap.
func (w Window) Apply(candles []domain.Candle) ([]domain.Candle, error) {
	out := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		if !w.Start.IsZero() && c.Timestamp < quant.FromTime(w.Start) {
			continue
		}
		if !w.End.IsZero() && c.Timestamp >= quant.FromTime(w.End) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w %s", domain.ErrDataGap, w)
	}
	return out, nil
}

// Resample aggregates sorted candles into buckets of every, aligned to the
// unix epoch: first open, max high, min low, last close, summed volume.
func Resample(candles []domain.Candle, every time.Duration) []domain.Candle {
	step := quant.TimeStamp(every / time.Second)
	if step <= 1 || len(candles) == 0 {
		return candles
	}

	var out []domain.Candle
	for _, c := range candles {
		bucket := c.Timestamp - mod(c.Timestamp, step)
		if n := len(out); n > 0 && out[n-1].Timestamp == bucket {
			b := &out[n-1]
			b.High = decimal.Max(b.High, c.High)
			b.Low = decimal.Min(b.Low, c.Low)
			b.Close = c.Close
			b.Volume = b.Volume.Add(c.Volume)
			continue
		}
		c.Timestamp = bucket
		out = append(out, c)
	}
	return out
}

func mod(a, b quant.TimeStamp) quant.TimeStamp {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
