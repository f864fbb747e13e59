package domain

import (
	"errors"
	"fmt"

	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// MarginTier is one bracket of the exchange's tiered margin table.
// MaxNotional is the inclusive upper bound of the bracket; zero marks the
// final unbounded bracket.
type MarginTier struct {
	MaxNotional decimal.Decimal `json:"max_notional" yaml:"max_notional" toml:"max_notional"`
	MaxLeverage int             `json:"max_leverage" yaml:"max_leverage" toml:"max_leverage" validate:"gt=0"`
	MMRate      decimal.Decimal `json:"mm_rate" yaml:"mm_rate" toml:"mm_rate"`
	MMAmount    decimal.Decimal `json:"mm_amount" yaml:"mm_amount" toml:"mm_amount"`
}

// Unbounded reports whether the tier catches every notional.
func (t MarginTier) Unbounded() bool {
	return t.MaxNotional.IsZero()
}

// Covers reports whether notional falls inside the tier's upper bound.
func (t MarginTier) Covers(notional decimal.Decimal) bool {
	return t.Unbounded() || notional.LessThanOrEqual(t.MaxNotional)
}

// MaintenanceMargin is notional*rate - amount. The subtraction is not clamped,
// so small notionals in upper tiers can produce a negative requirement.
func (t MarginTier) MaintenanceMargin(notional decimal.Decimal) decimal.Decimal {
	return quant.Mul(notional, t.MMRate).Sub(t.MMAmount)
}

// TierTable is ordered ascending by MaxNotional.
type TierTable []MarginTier

// Lookup returns the first tier whose bound covers notional. Notionals past
// the last bound fall into the last tier.
func (tt TierTable) Lookup(notional decimal.Decimal) MarginTier {
	for _, t := range tt {
		if t.Covers(notional) {
			return t
		}
	}
	return tt[len(tt)-1]
}

// Validate checks ordering and ranges of every bracket.
func (tt TierTable) Validate() error {
	if len(tt) == 0 {
		return &ConfigError{Field: "tiers", Err: errors.New("at least one margin tier is required")}
	}
	for i, t := range tt {
		field := fmt.Sprintf("tiers[%d]", i)
		if t.MaxLeverage <= 0 {
			return &ConfigError{Field: field + ".max_leverage", Err: fmt.Errorf("must be positive, got %d", t.MaxLeverage)}
		}
		if t.MMRate.IsNegative() || t.MMRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return &ConfigError{Field: field + ".mm_rate", Err: fmt.Errorf("must be in [0,1), got %s", t.MMRate)}
		}
		if t.MMAmount.IsNegative() {
			return &ConfigError{Field: field + ".mm_amount", Err: fmt.Errorf("must be non-negative, got %s", t.MMAmount)}
		}
		if t.MaxNotional.IsNegative() {
			return &ConfigError{Field: field + ".max_notional", Err: fmt.Errorf("must be non-negative, got %s", t.MaxNotional)}
		}
		if t.Unbounded() && i != len(tt)-1 {
			return &ConfigError{Field: field + ".max_notional", Err: errors.New("only the last tier may be unbounded")}
		}
		if i > 0 && !t.Unbounded() && !t.MaxNotional.GreaterThan(tt[i-1].MaxNotional) {
			return &ConfigError{Field: field + ".max_notional", Err: fmt.Errorf("tiers must ascend, %s after %s", t.MaxNotional, tt[i-1].MaxNotional)}
		}
	}
	return nil
}
