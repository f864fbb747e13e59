// Package quant holds the fixed-precision helpers shared by the simulation hotpath.
package quant

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept after every division and
// every product that becomes a price, quantity or money amount.
// Results are rounded half-to-even so long runs do not drift in one direction.
const Scale int32 = 16

var (
	Zero    = decimal.Zero
	One     = decimal.NewFromInt(1)
	Two     = decimal.NewFromInt(2)
	Hundred = decimal.NewFromInt(100)
	Half    = decimal.RequireFromString("0.5")
)

// Div returns a/b rounded half-to-even at Scale. b must be non-zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, Scale+4).RoundBank(Scale)
}

// Mul returns a*b rounded half-to-even at Scale.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).RoundBank(Scale)
}

// SafeDiv behaves like Div but returns zero when b is zero.
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return Zero
	}
	return Div(a, b)
}

// Clamp bounds v into [lo, hi]. When lo > hi the lower bound wins.
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Max(lo, decimal.Min(hi, v))
}
