package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side identifies which leg of the hedge-mode book an order touches.
type Side string

const (
	SideBuyLong   Side = "BUY_LONG"   // open or increase long
	SideSellShort Side = "SELL_SHORT" // open or increase short
	SideSellLong  Side = "SELL_LONG"  // reduce or close long
	SideBuyShort  Side = "BUY_SHORT"  // reduce or close short
)

// IsBuy reports whether the order rests on the bid side of the book.
func (s Side) IsBuy() bool {
	return s == SideBuyLong || s == SideBuyShort
}

// IsOpening reports whether a fill on this side grows a position.
func (s Side) IsOpening() bool {
	return s == SideBuyLong || s == SideSellShort
}

// Leg returns the position leg the side trades against.
func (s Side) Leg() PositionSide {
	if s == SideBuyLong || s == SideSellLong {
		return Long
	}
	return Short
}

// Validate returns ErrUnknownSide for anything outside the four hedge-mode sides.
func (s Side) Validate() error {
	switch s {
	case SideBuyLong, SideSellShort, SideSellLong, SideBuyShort:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSide, string(s))
	}
}

// Order is an ephemeral limit order. Orders are replaced wholesale every
// decision cycle, so they carry no identity or status.
type Order struct {
	Side  Side
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// NewOrder is a small constructor used by the strategy.
func NewOrder(side Side, qty, price decimal.Decimal) Order {
	return Order{Side: side, Price: price, Qty: qty}
}
