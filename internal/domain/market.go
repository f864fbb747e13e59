package domain

import (
	"fmt"

	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// Candle is one OHLC bar. Timestamp marks the bar open.
type Candle struct {
	Timestamp quant.TimeStamp `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Validate checks the OHLC envelope.
func (c Candle) Validate() error {
	if !c.Low.IsPositive() {
		return fmt.Errorf("%w: non-positive low %s at %s", ErrInvalidCandle, c.Low, c.Timestamp)
	}
	if c.High.LessThan(decimal.Max(c.Open, c.Close)) || c.Low.GreaterThan(decimal.Min(c.Open, c.Close)) {
		return fmt.Errorf("%w: open/close outside high/low at %s", ErrInvalidCandle, c.Timestamp)
	}
	return nil
}
