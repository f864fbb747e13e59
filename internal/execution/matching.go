package execution

import (
	"perp_mm/internal/domain"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// PlaceOrdersBatch replaces every resting order with orders.
// Orders with an unknown side or a non-positive quantity or price are dropped.
func (e *PerpExchange) PlaceOrdersBatch(orders []domain.Order) {
	valid := orders[:0:0]
	for _, o := range orders {
		if o.Side.Validate() == nil && o.Qty.IsPositive() && o.Price.IsPositive() {
			valid = append(valid, o)
		}
	}
	e.book.Replace(valid)
}

// RestingOrders returns resting buys (best first) followed by resting sells (best first).
func (e *PerpExchange) RestingOrders() []domain.Order {
	return append(e.book.Buys(), e.book.Sells()...)
}

// MatchOrders fills every resting order touched by the [low, high] range of a
// sub-point at its own limit price. It returns the number of executed fills.
func (e *PerpExchange) MatchOrders(high, low decimal.Decimal, ts quant.TimeStamp) int {
	if e.book.Len() == 0 {
		return 0
	}
	n := 0
	for _, o := range e.book.Match(high, low) {
		if _, ok, err := e.ExecuteTrade(o.Side, o.Qty, o.Price, ts); err == nil && ok {
			n++
		}
	}
	return n
}
