package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// OrderBook holds the resting orders of a single account.
// Replace swaps the whole book atomically; there is no incremental diffing.
// Buys are kept best (highest) price first, sells best (lowest) price first.
type OrderBook struct {
	buys  []Order
	sells []Order
}

// Replace discards every resting order and installs the new batch.
func (b *OrderBook) Replace(orders []Order) {
	b.buys = b.buys[:0]
	b.sells = b.sells[:0]
	for _, o := range orders {
		if o.Side.IsBuy() {
			b.buys = append(b.buys, o)
		} else {
			b.sells = append(b.sells, o)
		}
	}
	sort.SliceStable(b.buys, func(i, j int) bool {
		return b.buys[i].Price.GreaterThan(b.buys[j].Price)
	})
	sort.SliceStable(b.sells, func(i, j int) bool {
		return b.sells[i].Price.LessThan(b.sells[j].Price)
	})
}

// Match removes and returns every order touched by a price range.
// A buy is touched iff low <= price, a sell iff high >= price.
// Fills come back buys first, each side in book order; untouched orders keep resting.
func (b *OrderBook) Match(high, low decimal.Decimal) []Order {
	var fills []Order

	kept := b.buys[:0]
	for _, o := range b.buys {
		if low.LessThanOrEqual(o.Price) {
			fills = append(fills, o)
		} else {
			kept = append(kept, o)
		}
	}
	b.buys = kept

	kept = b.sells[:0]
	for _, o := range b.sells {
		if high.GreaterThanOrEqual(o.Price) {
			fills = append(fills, o)
		} else {
			kept = append(kept, o)
		}
	}
	b.sells = kept

	return fills
}

// Clear drops every resting order.
func (b *OrderBook) Clear() {
	b.buys = b.buys[:0]
	b.sells = b.sells[:0]
}

// Buys returns a copy of the resting buy orders.
func (b *OrderBook) Buys() []Order {
	return append([]Order(nil), b.buys...)
}

// Sells returns a copy of the resting sell orders.
func (b *OrderBook) Sells() []Order {
	return append([]Order(nil), b.sells...)
}

// Len is the number of resting orders on both sides.
func (b *OrderBook) Len() int {
	return len(b.buys) + len(b.sells)
}
