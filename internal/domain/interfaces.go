package domain

import "context"

// CandleSource supplies pre-loaded, time-sorted candles for a run.
type CandleSource interface {
	LoadCandles(ctx context.Context) ([]Candle, error)
}
