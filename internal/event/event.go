// Package event carries the structured notifications a run emits to observers.
package event

import (
	"perp_mm/internal/domain"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// Kind identifies a run event.
type Kind string

const (
	KindFill            Kind = "FILL"
	KindLiquidation     Kind = "LIQUIDATION"
	KindFlatten         Kind = "FLATTEN"
	KindRiskStop        Kind = "RISK_STOP"
	KindRebatePaid      Kind = "REBATE_PAID"
	KindLeverageChanged Kind = "LEVERAGE_CHANGED"
)

// Event is a flat record; fields irrelevant to a Kind stay zero.
type Event struct {
	Kind      Kind
	Timestamp quant.TimeStamp
	Side      domain.Side
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Fee       decimal.Decimal
	Equity    decimal.Decimal
	Amount    decimal.Decimal // rebate paid, maintenance margin, or drawdown depending on Kind
	Leverage  int
	Reason    string
}

// Sink receives events synchronously from the simulation loop.
// Implementations must not block.
type Sink interface {
	Emit(ev Event)
}

// Fanout forwards every event to each sink in order.
type Fanout []Sink

func (f Fanout) Emit(ev Event) {
	for _, s := range f {
		s.Emit(ev)
	}
}

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event.
var Discard Sink = discard{}

// Recorder keeps every event in memory. Handy for tests and post-run inspection.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.Events = append(r.Events, ev)
}

// OfKind returns the recorded events of one kind.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, ev := range r.Events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}
