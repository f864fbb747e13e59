package execution

import (
	"time"

	"perp_mm/internal/event"
	"perp_mm/pkg/quant"
)

// ProcessFeeRebate runs the monthly maker rebate cycle.
// The first call with a representable timestamp only anchors the cycle on the
// configured payout day; later calls pay cycle fees * rate once the next payout
// date is reached, reset the cycle and advance the anchor by one month.
func (e *PerpExchange) ProcessFeeRebate(ts quant.TimeStamp) {
	if !e.cfg.Rebate.Enabled {
		return
	}
	now, ok := ts.Time()
	if !ok {
		return
	}
	if !e.anchored {
		e.lastPayout = payoutAnchor(now, e.cfg.Rebate.PayoutDay)
		e.anchored = true
		return
	}

	next := e.lastPayout.AddDate(0, 1, 0)
	if now.Before(next) {
		return
	}

	paid := quant.Mul(e.cycleFees, e.cfg.Rebate.Rate)
	e.balance = e.balance.Add(paid)
	cycle := e.cycleFees
	e.cycleFees = quant.Zero
	e.lastPayout = next

	e.sink.Emit(event.Event{
		Kind:      event.KindRebatePaid,
		Timestamp: ts,
		Fee:       cycle,
		Amount:    paid,
		Equity:    e.Equity(),
	})
}

// NextPayoutDate is the date the current cycle pays out. ok is false until the
// cycle has been anchored.
func (e *PerpExchange) NextPayoutDate() (time.Time, bool) {
	if !e.anchored {
		return time.Time{}, false
	}
	return e.lastPayout.AddDate(0, 1, 0), true
}

// payoutAnchor is this month's payout date, or last month's when now precedes it.
func payoutAnchor(now time.Time, day int) time.Time {
	now = now.UTC()
	anchor := time.Date(now.Year(), now.Month(), day, 0, 0, 0, 0, time.UTC)
	if now.Before(anchor) {
		anchor = anchor.AddDate(0, -1, 0)
	}
	return anchor
}
