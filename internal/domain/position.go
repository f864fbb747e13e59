package domain

import (
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// PositionSide is one leg of a hedge-mode account.
type PositionSide int

const (
	Long PositionSide = iota + 1
	Short
)

func (s PositionSide) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// Position is one leg of the account.
// Invariants: Qty >= 0, and EntryPrice is zero iff Qty is zero.
type Position struct {
	Side       PositionSide    `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// IsOpen reports whether the leg holds any quantity.
func (p *Position) IsOpen() bool {
	return p.Qty.IsPositive()
}

// Add grows the leg and moves the entry to the quantity-weighted average.
func (p *Position) Add(qty, price decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	if !p.IsOpen() {
		p.Qty = qty
		p.EntryPrice = price
		return
	}
	notional := p.Qty.Mul(p.EntryPrice).Add(qty.Mul(price))
	p.Qty = p.Qty.Add(qty)
	p.EntryPrice = quant.Div(notional, p.Qty)
}

// Reduce shrinks the leg by at most its held quantity and returns the
// quantity actually closed together with the realized PnL at price.
func (p *Position) Reduce(qty, price decimal.Decimal) (filled, pnl decimal.Decimal) {
	if !p.IsOpen() || !qty.IsPositive() {
		return quant.Zero, quant.Zero
	}
	filled = decimal.Min(qty, p.Qty)
	pnl = p.PnL(filled, price)
	p.Qty = p.Qty.Sub(filled)
	if !p.IsOpen() {
		p.Reset()
	}
	return filled, pnl
}

// PnL is the profit of closing qty at price against the current entry.
func (p *Position) PnL(qty, price decimal.Decimal) decimal.Decimal {
	if p.Side == Short {
		return quant.Mul(qty, p.EntryPrice.Sub(price))
	}
	return quant.Mul(qty, price.Sub(p.EntryPrice))
}

// Unrealized marks the whole leg at mark.
func (p *Position) Unrealized(mark decimal.Decimal) decimal.Decimal {
	if !p.IsOpen() {
		return quant.Zero
	}
	return p.PnL(p.Qty, mark)
}

// LossRatio is the adverse move from entry relative to entry, positive when losing.
func (p *Position) LossRatio(price decimal.Decimal) decimal.Decimal {
	if !p.IsOpen() || p.EntryPrice.IsZero() {
		return quant.Zero
	}
	if p.Side == Short {
		return quant.Div(price.Sub(p.EntryPrice), p.EntryPrice)
	}
	return quant.Div(p.EntryPrice.Sub(price), p.EntryPrice)
}

// Reset flattens the leg.
func (p *Position) Reset() {
	p.Qty = quant.Zero
	p.EntryPrice = quant.Zero
}
