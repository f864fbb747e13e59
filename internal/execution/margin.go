package execution

import (
	"perp_mm/internal/domain"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// GrossNotional is (long + short) * mark. It selects the leverage tier.
func (e *PerpExchange) GrossNotional() decimal.Decimal {
	return quant.Mul(e.long.Qty.Add(e.short.Qty), e.mark)
}

// NetNotional is |long - short| * mark. It selects the maintenance tier.
func (e *PerpExchange) NetNotional() decimal.Decimal {
	return quant.Mul(e.NetPosition().Abs(), e.mark)
}

// CurrentTier is the bracket covering the gross notional.
func (e *PerpExchange) CurrentTier() domain.MarginTier {
	return e.TierFor(e.GrossNotional())
}

// TierFor is the bracket covering an arbitrary notional.
func (e *PerpExchange) TierFor(notional decimal.Decimal) domain.MarginTier {
	return e.cfg.Tiers.Lookup(notional)
}

// EffectiveLeverage is the configured leverage capped by the current tier.
func (e *PerpExchange) EffectiveLeverage() int {
	return min(e.CurrentTier().MaxLeverage, e.cfg.Leverage)
}

// UsedMargin is the initial margin locked by the open legs.
func (e *PerpExchange) UsedMargin() decimal.Decimal {
	return quant.Div(e.GrossNotional(), decimal.NewFromInt(int64(e.EffectiveLeverage())))
}

// AvailableMargin is equity minus used margin. It may be negative.
func (e *PerpExchange) AvailableMargin() decimal.Decimal {
	return e.Equity().Sub(e.UsedMargin())
}

// RequiredMargin is the initial margin an additional notional would lock at
// the current effective leverage.
func (e *PerpExchange) RequiredMargin(notional decimal.Decimal) decimal.Decimal {
	return quant.Div(notional, decimal.NewFromInt(int64(e.EffectiveLeverage())))
}

// MaintenanceMargin is the liquidation threshold on the net exposure.
func (e *PerpExchange) MaintenanceMargin() decimal.Decimal {
	net := e.NetNotional()
	return e.TierFor(net).MaintenanceMargin(net)
}

// NoPositionMarginRatio is reported by MarginRatio while both legs are flat.
var NoPositionMarginRatio = decimal.NewFromInt(999)

// MarginRatio is equity over gross position value, so 0.01 means the account
// holds one percent of what it has on. ok is false while both legs are flat,
// in which case the ratio is NoPositionMarginRatio.
func (e *PerpExchange) MarginRatio() (ratio decimal.Decimal, ok bool) {
	gross := e.GrossNotional()
	if !gross.IsPositive() {
		return NoPositionMarginRatio, false
	}
	return quant.Div(e.Equity(), gross), true
}
