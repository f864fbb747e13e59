package execution

import (
	"errors"
	"fmt"

	"perp_mm/internal/domain"

	"github.com/shopspring/decimal"
)

// RebateConfig controls the monthly maker/taker fee kickback.
type RebateConfig struct {
	Enabled   bool
	Rate      decimal.Decimal // share of cycle fees paid back, 0.30 = 30%
	PayoutDay int             // day of month, 1..28
}

// Config is the immutable configuration of a PerpExchange.
type Config struct {
	InitialBalance decimal.Decimal
	Leverage       int // requested leverage; capped by the active tier
	MakerFee       decimal.Decimal
	TakerFee       decimal.Decimal
	Tiers          domain.TierTable
	Rebate         RebateConfig
}

// Validate rejects configurations that would make margin math undefined.
func (c Config) Validate() error {
	if !c.InitialBalance.IsPositive() {
		return &domain.ConfigError{Field: "initial_balance", Err: fmt.Errorf("must be positive, got %s", c.InitialBalance)}
	}
	if c.Leverage <= 0 {
		return &domain.ConfigError{Field: "leverage", Err: fmt.Errorf("must be positive, got %d", c.Leverage)}
	}
	if c.MakerFee.IsNegative() || c.MakerFee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &domain.ConfigError{Field: "maker_fee", Err: fmt.Errorf("must be in [0,1), got %s", c.MakerFee)}
	}
	if c.TakerFee.IsNegative() || c.TakerFee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &domain.ConfigError{Field: "taker_fee", Err: fmt.Errorf("must be in [0,1), got %s", c.TakerFee)}
	}
	if err := c.Tiers.Validate(); err != nil {
		return err
	}
	if c.Rebate.Enabled {
		if c.Rebate.Rate.IsNegative() || c.Rebate.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return &domain.ConfigError{Field: "rebate.rate", Err: fmt.Errorf("must be in [0,1], got %s", c.Rebate.Rate)}
		}
		if c.Rebate.PayoutDay < 1 || c.Rebate.PayoutDay > 28 {
			return &domain.ConfigError{Field: "rebate.payout_day", Err: errors.New("must be between 1 and 28")}
		}
	}
	return nil
}
