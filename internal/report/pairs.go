package report

import (
	"perp_mm/internal/domain"

	"github.com/shopspring/decimal"
)

// PairStats is the outcome of matching closing fills against opening fills.
type PairStats struct {
	Profitable int     `json:"profitable_pairs"`
	Total      int     `json:"total_pairs"`
	WinRate    float64 `json:"win_rate"`
}

type openFill struct {
	price decimal.Decimal
	qty   decimal.Decimal
}

// TradePairs pairs every closing fill with the oldest unmatched opening fill of
// the same leg (FIFO) and counts the pairs whose price difference was positive
// over min(open qty, close qty). Closes without an open to match are ignored.
func TradePairs(trades []domain.Trade) PairStats {
	var longs, shorts []openFill
	var st PairStats

	for _, tr := range trades {
		switch tr.Side {
		case domain.SideBuyLong:
			longs = append(longs, openFill{tr.Price, tr.Qty})
		case domain.SideSellShort:
			shorts = append(shorts, openFill{tr.Price, tr.Qty})
		case domain.SideSellLong:
			if len(longs) == 0 {
				continue
			}
			open := longs[0]
			longs = longs[1:]
			pnl := tr.Price.Sub(open.price).Mul(decimal.Min(tr.Qty, open.qty))
			st.add(pnl)
		case domain.SideBuyShort:
			if len(shorts) == 0 {
				continue
			}
			open := shorts[0]
			shorts = shorts[1:]
			pnl := open.price.Sub(tr.Price).Mul(decimal.Min(tr.Qty, open.qty))
			st.add(pnl)
		}
	}

	if st.Total > 0 {
		st.WinRate = float64(st.Profitable) / float64(st.Total)
	}
	return st
}

func (s *PairStats) add(pnl decimal.Decimal) {
	s.Total++
	if pnl.IsPositive() {
		s.Profitable++
	}
}

// DayCount is the number of fills on one UTC calendar day.
type DayCount struct {
	Date   string `json:"date"`
	Trades int    `json:"trades"`
}

// DailyTrades buckets fills by UTC day in chronological order.
// Fills with unrepresentable timestamps are skipped.
func DailyTrades(trades []domain.Trade) []DayCount {
	var out []DayCount
	for _, tr := range trades {
		tm, ok := tr.Timestamp.Time()
		if !ok {
			continue
		}
		day := tm.Format("2006-01-02")
		if n := len(out); n > 0 && out[n-1].Date == day {
			out[n-1].Trades++
			continue
		}
		out = append(out, DayCount{Date: day, Trades: 1})
	}
	return out
}
