package strategy

import (
	"time"

	"perp_mm/internal/domain"
	"perp_mm/internal/market"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

var (
	marginSafety   = quant.Two
	minNotionalDiv = decimal.NewFromInt(1000)
)

// MarketMaker quotes both legs of a hedge-mode account around the mark price.
// Each call resolves to exactly one of: stop-loss, rebalance, throttled, quote.
// The only state carried between calls is the time of the last quoting pass.
type MarketMaker struct {
	cfg     Config
	account Account
	vol     VolatilityGauge

	lastQuote quant.TimeStamp
	quoted    bool
}

// NewMarketMaker validates cfg. vol may be nil, which disables volatility adaptation.
func NewMarketMaker(cfg Config, account Account, vol VolatilityGauge) (*MarketMaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MarketMaker{cfg: cfg, account: account, vol: vol}, nil
}

func (m *MarketMaker) effectiveLeverage() decimal.Decimal {
	return decimal.NewFromInt(int64(min(m.account.EffectiveLeverage(), m.cfg.Leverage)))
}

// DynamicOrderSize sizes an order at equity/effective leverage of notional,
// bounded by [max(min qty, equity/1000/price), max qty].
func (m *MarketMaker) DynamicOrderSize(price decimal.Decimal) decimal.Decimal {
	if !m.cfg.UseDynamicOrderSize || !price.IsPositive() {
		return m.cfg.MinOrderQty
	}
	equity := m.account.Equity()
	qty := quant.Div(quant.Div(equity, m.effectiveLeverage()), price)
	floor := decimal.Max(m.cfg.MinOrderQty, quant.Div(quant.Div(equity, minNotionalDiv), price))
	return quant.Clamp(qty, floor, m.cfg.MaxOrderQty)
}

// ShouldQuoteNow reports whether the refresh interval has elapsed since the last quote.
func (m *MarketMaker) ShouldQuoteNow(ts quant.TimeStamp) bool {
	if !m.quoted {
		return true
	}
	return time.Duration(ts-m.lastQuote)*time.Second >= m.cfg.RefreshInterval
}

// CheckStopLoss returns market-priced closes for every leg whose adverse move
// from entry reached the stop-loss fraction.
func (m *MarketMaker) CheckStopLoss(price decimal.Decimal) []domain.Order {
	if !m.cfg.StopLossEnabled {
		return nil
	}
	var orders []domain.Order
	if long := m.account.Long(); long.IsOpen() && long.LossRatio(price).GreaterThanOrEqual(m.cfg.StopLossFraction) {
		orders = append(orders, domain.NewOrder(domain.SideSellLong, long.Qty, price))
	}
	if short := m.account.Short(); short.IsOpen() && short.LossRatio(price).GreaterThanOrEqual(m.cfg.StopLossFraction) {
		orders = append(orders, domain.NewOrder(domain.SideBuyShort, short.Qty, price))
	}
	return orders
}

// AdaptiveSpread returns the bid and ask spreads. With adaptation on, both sides
// use the base spread scaled by the volatility level; otherwise the configured
// bid/ask spreads apply.
func (m *MarketMaker) AdaptiveSpread() (bid, ask decimal.Decimal) {
	if !m.cfg.VolatilityAdaptive || m.vol == nil {
		return m.cfg.BidSpread, m.cfg.AskSpread
	}
	mult := quant.One
	switch m.vol.Level() {
	case market.VolatilityExtreme:
		mult = m.cfg.ExtremeSpreadMultiplier
	case market.VolatilityHigh:
		mult = m.cfg.HighSpreadMultiplier
	}
	spread := quant.Mul(m.cfg.BaseSpread, mult)
	return spread, spread
}

// CheckImbalance emits one rebalancing order while volatility is elevated and
// |net|/gross exceeds MaxImbalanceRatio. The target net is
// gross*MaxImbalanceRatio*PositionBalanceRatio; the dominant leg is reduced
// first and the opposite leg is opened only when the dominant one is empty.
func (m *MarketMaker) CheckImbalance(price decimal.Decimal) []domain.Order {
	if !m.cfg.VolatilityAdaptive || m.vol == nil || !m.vol.ShouldReduceExposure() {
		return nil
	}
	long, short := m.account.Long(), m.account.Short()
	gross := long.Qty.Add(short.Qty)
	if gross.IsZero() {
		return nil
	}
	net := m.account.NetPosition()
	if !quant.Div(net.Abs(), gross).GreaterThan(m.cfg.MaxImbalanceRatio) {
		return nil
	}

	target := quant.Mul(gross, m.cfg.MaxImbalanceRatio.Mul(m.cfg.PositionBalanceRatio))
	switch {
	case net.GreaterThan(target):
		excess := net.Sub(target)
		if long.IsOpen() {
			return []domain.Order{domain.NewOrder(domain.SideSellLong, decimal.Min(excess, long.Qty), price)}
		}
		return []domain.Order{domain.NewOrder(domain.SideSellShort, excess, price)}
	case net.LessThan(target.Neg()):
		excess := net.Abs().Sub(target)
		if short.IsOpen() {
			return []domain.Order{domain.NewOrder(domain.SideBuyShort, decimal.Min(excess, short.Qty), price)}
		}
		return []domain.Order{domain.NewOrder(domain.SideBuyLong, excess, price)}
	}
	return nil
}

// MaxGrossNotional is min(tier bound, equity*tier leverage*MaxPositionValueRatio).
// The unbounded last tier contributes only the equity term.
func (m *MarketMaker) MaxGrossNotional() decimal.Decimal {
	tier := m.account.CurrentTier()
	byEquity := quant.Mul(m.account.Equity().Mul(decimal.NewFromInt(int64(tier.MaxLeverage))), m.cfg.MaxPositionValueRatio)
	if tier.Unbounded() {
		return byEquity
	}
	return decimal.Min(tier.MaxNotional, byEquity)
}

// GenerateOrders runs the decision chain for one sub-point.
func (m *MarketMaker) GenerateOrders(price decimal.Decimal, ts quant.TimeStamp) []domain.Order {
	if orders := m.CheckStopLoss(price); len(orders) > 0 {
		return orders
	}
	if orders := m.CheckImbalance(price); len(orders) > 0 {
		return orders
	}
	if !m.ShouldQuoteNow(ts) {
		return nil
	}
	return m.quote(price, ts)
}

func (m *MarketMaker) quote(price decimal.Decimal, ts quant.TimeStamp) []domain.Order {
	bidSpread, askSpread := m.AdaptiveSpread()
	bid := quant.Mul(price, quant.One.Sub(bidSpread))
	ask := quant.Mul(price, quant.One.Add(askSpread))

	long, short := m.account.Long(), m.account.Short()
	capNotional := m.MaxGrossNotional()
	if long.Qty.Add(short.Qty).Mul(price).GreaterThan(capNotional) {
		return nil
	}
	halfCapQty := quant.Mul(quant.Div(capNotional, price), quant.Half)

	available := m.account.AvailableMargin()
	size := m.DynamicOrderSize(price)
	var orders []domain.Order

	if long.Qty.LessThan(halfCapQty) {
		required := m.account.RequiredMargin(size.Mul(bid))
		if available.GreaterThanOrEqual(required.Mul(marginSafety)) {
			orders = append(orders, domain.NewOrder(domain.SideBuyLong, size, bid))
		}
	}
	if short.Qty.LessThan(halfCapQty) {
		required := m.account.RequiredMargin(size.Mul(ask))
		if available.GreaterThanOrEqual(required.Mul(marginSafety)) {
			orders = append(orders, domain.NewOrder(domain.SideSellShort, size, ask))
		}
	}

	// take-profit closes sit one more spread beyond the opening quotes
	if long.IsOpen() {
		orders = append(orders, domain.NewOrder(domain.SideSellLong, decimal.Min(size, long.Qty), quant.Mul(ask, quant.One.Add(askSpread))))
	}
	if short.IsOpen() {
		orders = append(orders, domain.NewOrder(domain.SideBuyShort, decimal.Min(size, short.Qty), quant.Mul(bid, quant.One.Sub(bidSpread))))
	}

	m.lastQuote = ts
	m.quoted = true
	return orders
}
