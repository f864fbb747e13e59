// Package execution simulates a hedge-mode perpetual futures account:
// margin ledger, tiered leverage, liquidation and intrabar order matching.
package execution

import (
	"fmt"
	"time"

	"perp_mm/internal/domain"
	"perp_mm/internal/event"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// PerpExchange is the margin ledger and matcher for a single run.
// It is not safe for concurrent use; one instance belongs to one run.
type PerpExchange struct {
	cfg      Config
	leverage decimal.Decimal

	balance decimal.Decimal
	mark    decimal.Decimal
	long    domain.Position
	short   domain.Position
	book    domain.OrderBook

	totalFees    decimal.Decimal
	trades       []domain.Trade
	equity       []domain.EquitySample
	liquidations []domain.LiquidationEvent

	// fee rebate cycle
	cycleFees  decimal.Decimal
	lastPayout time.Time
	anchored   bool

	currentLeverage int
	sink            event.Sink
}

// NewPerpExchange validates cfg and opens an account holding InitialBalance.
func NewPerpExchange(cfg Config, sink event.Sink) (*PerpExchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = event.Discard
	}
	return &PerpExchange{
		cfg:             cfg,
		leverage:        decimal.NewFromInt(int64(cfg.Leverage)),
		balance:         cfg.InitialBalance,
		long:            domain.Position{Side: domain.Long},
		short:           domain.Position{Side: domain.Short},
		currentLeverage: cfg.Leverage,
		sink:            sink,
	}, nil
}

// SetPrice sets the mark price used by every PnL and margin computation.
func (e *PerpExchange) SetPrice(p decimal.Decimal) {
	e.mark = p
}

// MarkPrice returns the current mark price.
func (e *PerpExchange) MarkPrice() decimal.Decimal { return e.mark }

// Balance is the wallet balance, realized PnL and fees included.
func (e *PerpExchange) Balance() decimal.Decimal { return e.balance }

// Long returns a copy of the long leg.
func (e *PerpExchange) Long() domain.Position { return e.long }

// Short returns a copy of the short leg.
func (e *PerpExchange) Short() domain.Position { return e.short }

// NetPosition is long minus short quantity.
func (e *PerpExchange) NetPosition() decimal.Decimal {
	return e.long.Qty.Sub(e.short.Qty)
}

// IsFlat reports whether both legs are empty.
func (e *PerpExchange) IsFlat() bool {
	return !e.long.IsOpen() && !e.short.IsOpen()
}

// UnrealizedPnL marks both legs at the current price.
func (e *PerpExchange) UnrealizedPnL() decimal.Decimal {
	return e.long.Unrealized(e.mark).Add(e.short.Unrealized(e.mark))
}

// Equity is balance plus unrealized PnL.
func (e *PerpExchange) Equity() decimal.Decimal {
	return e.balance.Add(e.UnrealizedPnL())
}

// TotalFees is the cumulative fee paid over the run.
func (e *PerpExchange) TotalFees() decimal.Decimal { return e.totalFees }

// CycleFees is the fee accumulated since the last rebate payout.
func (e *PerpExchange) CycleFees() decimal.Decimal { return e.cycleFees }

// Trades returns the fill history.
func (e *PerpExchange) Trades() []domain.Trade { return e.trades }

// EquityHistory returns the recorded equity curve.
func (e *PerpExchange) EquityHistory() []domain.EquitySample { return e.equity }

// Liquidations returns the liquidation log.
func (e *PerpExchange) Liquidations() []domain.LiquidationEvent { return e.liquidations }

// RecordEquity appends the current equity to the curve.
func (e *PerpExchange) RecordEquity(ts quant.TimeStamp) {
	e.equity = append(e.equity, domain.EquitySample{Timestamp: ts, Equity: e.Equity()})
}

// CheckAndHandleLiquidation force-closes everything when 0 < equity <= maintenance margin.
// Both legs are closed at mark with the taker fee, the remaining balance is
// forfeited, resting orders are cancelled and true is returned. The caller
// must stop the run.
func (e *PerpExchange) CheckAndHandleLiquidation(ts quant.TimeStamp) bool {
	if e.IsFlat() {
		return false
	}
	equity := e.Equity()
	mm := e.MaintenanceMargin()
	if !equity.IsPositive() || equity.GreaterThan(mm) {
		return false
	}

	price := e.mark
	e.liquidations = append(e.liquidations, domain.LiquidationEvent{
		Timestamp: ts,
		Equity:    equity,
		Price:     price,
	})
	e.book.Clear()
	fee := e.closeAtMark(ts)
	e.balance = quant.Zero

	e.sink.Emit(event.Event{
		Kind:      event.KindLiquidation,
		Timestamp: ts,
		Price:     price,
		Equity:    equity,
		Fee:       fee,
		Amount:    mm,
	})
	return true
}

// CloseAllPositionsMarket flattens both legs at mark with the taker fee and
// cancels resting orders. Used for voluntary exits, not liquidation.
func (e *PerpExchange) CloseAllPositionsMarket(ts quant.TimeStamp, reason string) {
	if e.IsFlat() {
		return
	}
	price := e.mark
	e.book.Clear()
	fee := e.closeAtMark(ts)

	e.sink.Emit(event.Event{
		Kind:      event.KindFlatten,
		Timestamp: ts,
		Price:     price,
		Equity:    e.balance,
		Fee:       fee,
		Reason:    reason,
	})
}

// closeAtMark returns the taker fee charged across both legs.
func (e *PerpExchange) closeAtMark(ts quant.TimeStamp) decimal.Decimal {
	total := quant.Zero
	for _, leg := range []*domain.Position{&e.long, &e.short} {
		if !leg.IsOpen() {
			continue
		}
		qty, pnl := leg.Reduce(leg.Qty, e.mark)
		fee := quant.Mul(qty.Mul(e.mark), e.cfg.TakerFee)
		e.balance = e.balance.Add(pnl).Sub(fee)
		e.chargeFee(fee, ts)
		total = total.Add(fee)
	}
	return total
}

// ExecuteTrade applies a fill of qty at price. Opening sides move the entry to
// the weighted average; closing sides realize PnL and are clipped to the held
// quantity. The maker fee is charged on the filled quantity. It returns false
// when nothing was filled, e.g. a close against a flat leg, and ErrUnknownSide
// for a side outside the hedge-mode set.
func (e *PerpExchange) ExecuteTrade(side domain.Side, qty, price decimal.Decimal, ts quant.TimeStamp) (domain.Trade, bool, error) {
	if err := side.Validate(); err != nil {
		return domain.Trade{}, false, err
	}
	if !qty.IsPositive() {
		return domain.Trade{}, false, nil
	}

	pos := e.position(side.Leg())
	filled, pnl := qty, quant.Zero
	if side.IsOpening() {
		pos.Add(qty, price)
	} else {
		filled, pnl = pos.Reduce(qty, price)
	}
	if filled.IsZero() {
		return domain.Trade{}, false, nil
	}

	fee := quant.Mul(filled.Mul(price), e.cfg.MakerFee)
	e.balance = e.balance.Sub(fee).Add(pnl)
	e.chargeFee(fee, ts)

	trade := domain.Trade{
		Timestamp: ts,
		Side:      side,
		Qty:       filled,
		Price:     price,
		Fee:       fee,
		PnL:       pnl,
		Leverage:  e.refreshLeverage(ts),
	}
	e.trades = append(e.trades, trade)

	e.sink.Emit(event.Event{
		Kind:      event.KindFill,
		Timestamp: ts,
		Side:      side,
		Price:     price,
		Qty:       filled,
		Fee:       fee,
		Amount:    pnl,
		Leverage:  trade.Leverage,
	})
	return trade, true, nil
}

func (e *PerpExchange) position(leg domain.PositionSide) *domain.Position {
	if leg == domain.Long {
		return &e.long
	}
	return &e.short
}

func (e *PerpExchange) chargeFee(fee decimal.Decimal, ts quant.TimeStamp) {
	e.totalFees = e.totalFees.Add(fee)
	if e.cfg.Rebate.Enabled {
		e.cycleFees = e.cycleFees.Add(fee)
		e.ProcessFeeRebate(ts)
	}
}

// refreshLeverage re-reads the tier after a fill and reports changes.
func (e *PerpExchange) refreshLeverage(ts quant.TimeStamp) int {
	lev := e.EffectiveLeverage()
	if lev != e.currentLeverage {
		e.sink.Emit(event.Event{
			Kind:      event.KindLeverageChanged,
			Timestamp: ts,
			Price:     e.mark,
			Amount:    e.GrossNotional(),
			Leverage:  lev,
			Reason:    fmt.Sprintf("%dx -> %dx", e.currentLeverage, lev),
		})
		e.currentLeverage = lev
	}
	return lev
}

// State is a point-in-time dump of the account, used for post-mortems.
type State struct {
	Balance      decimal.Decimal           `json:"balance"`
	MarkPrice    decimal.Decimal           `json:"mark_price"`
	Equity       decimal.Decimal           `json:"equity"`
	Long         domain.Position           `json:"long"`
	Short        domain.Position           `json:"short"`
	Buys         []domain.Order            `json:"buys"`
	Sells        []domain.Order            `json:"sells"`
	TotalFees    decimal.Decimal           `json:"total_fees"`
	CycleFees    decimal.Decimal           `json:"cycle_fees"`
	TradeCount   int                       `json:"trade_count"`
	Liquidations []domain.LiquidationEvent `json:"liquidations"`
}

// Snapshot copies the account state.
func (e *PerpExchange) Snapshot() State {
	return State{
		Balance:      e.balance,
		MarkPrice:    e.mark,
		Equity:       e.Equity(),
		Long:         e.long,
		Short:        e.short,
		Buys:         e.book.Buys(),
		Sells:        e.book.Sells(),
		TotalFees:    e.totalFees,
		CycleFees:    e.cycleFees,
		TradeCount:   len(e.trades),
		Liquidations: append([]domain.LiquidationEvent(nil), e.liquidations...),
	}
}
