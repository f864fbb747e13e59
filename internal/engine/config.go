package engine

import (
	"errors"
	"fmt"

	"perp_mm/internal/domain"
	"perp_mm/internal/execution"
	"perp_mm/internal/market"
	"perp_mm/internal/strategy"

	"github.com/shopspring/decimal"
)

// DefaultSubStepSeconds spaces the five sub-points of a one-minute candle.
const DefaultSubStepSeconds = 12

// RiskConfig is the portfolio-level exit. Disabled unless Enabled is set.
type RiskConfig struct {
	Enabled     bool
	MaxDrawdown decimal.Decimal // fraction of peak equity, 0.30 = 30%
	MinEquity   decimal.Decimal
}

// Config bundles the immutable configuration of every component of a run.
type Config struct {
	Exchange   execution.Config
	Strategy   strategy.Config
	Volatility market.VolatilityConfig
	Risk       RiskConfig

	SubStepSeconds int64
	// ProgressEvery logs a progress line after that many candles. Zero disables it.
	ProgressEvery int
	// DumpPath receives the account state as JSON if a run panics. Empty disables the dump.
	DumpPath string
}

// Validate checks every component configuration.
func (c Config) Validate() error {
	if err := c.Exchange.Validate(); err != nil {
		return err
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Volatility.Validate(); err != nil {
		return err
	}
	if c.SubStepSeconds < 0 {
		return &domain.ConfigError{Field: "engine.sub_step_seconds", Err: errors.New("must not be negative")}
	}
	if c.ProgressEvery < 0 {
		return &domain.ConfigError{Field: "backtest.progress_every", Err: errors.New("must not be negative")}
	}
	if c.Risk.Enabled {
		if !c.Risk.MaxDrawdown.IsPositive() || c.Risk.MaxDrawdown.GreaterThan(decimal.NewFromInt(1)) {
			return &domain.ConfigError{Field: "risk.max_drawdown", Err: fmt.Errorf("must be in (0,1], got %s", c.Risk.MaxDrawdown)}
		}
		if c.Risk.MinEquity.IsNegative() {
			return &domain.ConfigError{Field: "risk.min_equity", Err: fmt.Errorf("must not be negative, got %s", c.Risk.MinEquity)}
		}
	}
	return nil
}
