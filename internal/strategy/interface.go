package strategy

import (
	"perp_mm/internal/domain"
	"perp_mm/internal/market"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// Strategy is called synchronously by the backtest loop once per sub-point.
// A non-empty result replaces the resting order book; an empty one leaves it untouched.
type Strategy interface {
	GenerateOrders(price decimal.Decimal, ts quant.TimeStamp) []domain.Order
}

// Account is the read-only view of the exchange a strategy decides on.
type Account interface {
	Equity() decimal.Decimal
	AvailableMargin() decimal.Decimal
	RequiredMargin(notional decimal.Decimal) decimal.Decimal
	EffectiveLeverage() int
	CurrentTier() domain.MarginTier
	Long() domain.Position
	Short() domain.Position
	NetPosition() decimal.Decimal
}

// VolatilityGauge is the part of the volatility monitor a strategy consults.
type VolatilityGauge interface {
	Level() market.VolatilityLevel
	ShouldReduceExposure() bool
}
