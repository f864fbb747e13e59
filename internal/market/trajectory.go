// Package market reconstructs intrabar price paths and tracks realized volatility.
package market

import (
	"github.com/shopspring/decimal"
)

// TrajectoryLen is the number of sub-points produced for every candle.
const TrajectoryLen = 5

// Point is one step of an intrabar path together with the running extremes
// seen since the candle opened.
type Point struct {
	Price decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
}

// Trajectory expands a candle into the ordered path the price most likely took.
// Bullish bars (close >= open) visit the low before the high, bearish bars the
// high before the low. The first point is the previous close, so gaps between
// bars are traversed too.
func Trajectory(open, high, low, close, prevClose decimal.Decimal) [TrajectoryLen]Point {
	if close.GreaterThanOrEqual(open) {
		return [TrajectoryLen]Point{
			{prevClose, prevClose, prevClose},
			{open, open, open},
			{low, open, low},
			{high, high, low},
			{close, high, low},
		}
	}
	return [TrajectoryLen]Point{
		{prevClose, prevClose, prevClose},
		{open, open, open},
		{high, high, open},
		{low, high, low},
		{close, high, low},
	}
}
