package strategy

import (
	"errors"
	"fmt"
	"time"

	"perp_mm/internal/domain"

	"github.com/shopspring/decimal"
)

// Config is the immutable configuration of a MarketMaker.
type Config struct {
	Leverage int

	BidSpread decimal.Decimal
	AskSpread decimal.Decimal

	UseDynamicOrderSize   bool
	MinOrderQty           decimal.Decimal
	MaxOrderQty           decimal.Decimal
	MaxPositionValueRatio decimal.Decimal // share of equity*tier leverage usable as gross notional
	RefreshInterval       time.Duration

	StopLossEnabled  bool
	StopLossFraction decimal.Decimal // 0.05 closes a leg 5% underwater

	// volatility adaptation
	VolatilityAdaptive      bool
	BaseSpread              decimal.Decimal
	HighSpreadMultiplier    decimal.Decimal
	ExtremeSpreadMultiplier decimal.Decimal
	MaxImbalanceRatio       decimal.Decimal
	PositionBalanceRatio    decimal.Decimal
}

// Validate fails fast on values that would produce crossed or empty quotes.
func (c Config) Validate() error {
	one := decimal.NewFromInt(1)
	if c.Leverage <= 0 {
		return &domain.ConfigError{Field: "strategy.leverage", Err: fmt.Errorf("must be positive, got %d", c.Leverage)}
	}
	for field, v := range map[string]decimal.Decimal{
		"strategy.bid_spread":  c.BidSpread,
		"strategy.ask_spread":  c.AskSpread,
		"strategy.base_spread": c.BaseSpread,
	} {
		if !v.IsPositive() || v.GreaterThanOrEqual(one) {
			return &domain.ConfigError{Field: field, Err: fmt.Errorf("must be in (0,1), got %s", v)}
		}
	}
	if !c.MinOrderQty.IsPositive() {
		return &domain.ConfigError{Field: "strategy.min_order_qty", Err: fmt.Errorf("must be positive, got %s", c.MinOrderQty)}
	}
	if c.MaxOrderQty.LessThan(c.MinOrderQty) {
		return &domain.ConfigError{Field: "strategy.max_order_qty", Err: fmt.Errorf("must be >= min_order_qty %s, got %s", c.MinOrderQty, c.MaxOrderQty)}
	}
	if !c.MaxPositionValueRatio.IsPositive() {
		return &domain.ConfigError{Field: "strategy.max_position_value_ratio", Err: fmt.Errorf("must be positive, got %s", c.MaxPositionValueRatio)}
	}
	if c.RefreshInterval < 0 {
		return &domain.ConfigError{Field: "strategy.refresh_interval", Err: errors.New("must not be negative")}
	}
	if c.StopLossEnabled && (!c.StopLossFraction.IsPositive() || c.StopLossFraction.GreaterThanOrEqual(one)) {
		return &domain.ConfigError{Field: "strategy.stop_loss_fraction", Err: fmt.Errorf("must be in (0,1), got %s", c.StopLossFraction)}
	}
	if c.VolatilityAdaptive {
		if c.HighSpreadMultiplier.LessThan(one) || c.ExtremeSpreadMultiplier.LessThan(c.HighSpreadMultiplier) {
			return &domain.ConfigError{Field: "strategy.spread_multipliers", Err: fmt.Errorf("need 1 <= high (%s) <= extreme (%s)", c.HighSpreadMultiplier, c.ExtremeSpreadMultiplier)}
		}
		if !c.MaxImbalanceRatio.IsPositive() || c.MaxImbalanceRatio.GreaterThan(one) {
			return &domain.ConfigError{Field: "strategy.max_imbalance_ratio", Err: fmt.Errorf("must be in (0,1], got %s", c.MaxImbalanceRatio)}
		}
		if c.PositionBalanceRatio.IsNegative() || c.PositionBalanceRatio.GreaterThan(one) {
			return &domain.ConfigError{Field: "strategy.position_balance_ratio", Err: fmt.Errorf("must be in [0,1], got %s", c.PositionBalanceRatio)}
		}
	}
	return nil
}
