// Package engine drives the candle and sub-point loop of a backtest.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"perp_mm/internal/domain"
	"perp_mm/internal/event"
	"perp_mm/internal/execution"
	"perp_mm/internal/market"
	"perp_mm/internal/report"
	"perp_mm/internal/strategy"
	"perp_mm/pkg/quant"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "COMPLETED"
	OutcomeLiquidated  Outcome = "LIQUIDATED"
	OutcomeRiskStopped Outcome = "RISK_STOPPED"
	OutcomeCancelled   Outcome = "CANCELLED"
)

// cancelCheckEvery is how many candles pass between context checks.
const cancelCheckEvery = 1024

// Result is the in-memory output of one run.
type Result struct {
	Outcome      Outcome                   `json:"outcome"`
	Candles      int                       `json:"candles"`
	Trades       []domain.Trade            `json:"trades"`
	EquityCurve  []domain.EquitySample     `json:"equity_curve"`
	Liquidations []domain.LiquidationEvent `json:"liquidations"`
	Summary      report.Summary            `json:"summary"`
	Final        execution.State           `json:"final_state"`
	Elapsed      time.Duration             `json:"elapsed"`
}

// Backtester runs independent simulations. Every Run builds fresh components,
// so one Backtester may serve concurrent runs as long as the sink tolerates it.
type Backtester struct {
	cfg    Config
	sink   event.Sink
	logger *slog.Logger
}

// NewBacktester validates cfg. A nil sink drops events; a nil logger uses slog.Default.
func NewBacktester(cfg Config, sink event.Sink, logger *slog.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SubStepSeconds == 0 {
		cfg.SubStepSeconds = DefaultSubStepSeconds
	}
	if sink == nil {
		sink = event.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backtester{cfg: cfg, sink: sink, logger: logger}, nil
}

// CheckCandles rejects empty, unordered or malformed input before anything is simulated.
func CheckCandles(candles []domain.Candle) error {
	if len(candles) == 0 {
		return domain.ErrDataGap
	}
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && c.Timestamp <= candles[i-1].Timestamp {
			return fmt.Errorf("%w: candle %d at %s follows %s", domain.ErrOutOfOrder, i, c.Timestamp, candles[i-1].Timestamp)
		}
	}
	return nil
}

type run struct {
	cfg    Config
	sink   event.Sink
	logger *slog.Logger

	ex    *execution.PerpExchange
	vol   *market.VolatilityMonitor
	maker *strategy.MarketMaker

	peak decimal.Decimal
}

// Run simulates candles in order. Liquidation and the risk stop end the run
// early; they are outcomes, not errors. A cancelled context returns the
// partial result together with the context error.
func (b *Backtester) Run(ctx context.Context, candles []domain.Candle) (*Result, error) {
	if err := CheckCandles(candles); err != nil {
		return nil, err
	}

	ex, err := execution.NewPerpExchange(b.cfg.Exchange, b.sink)
	if err != nil {
		return nil, err
	}
	vol := market.NewVolatilityMonitor(b.cfg.Volatility)
	maker, err := strategy.NewMarketMaker(b.cfg.Strategy, ex, vol)
	if err != nil {
		return nil, err
	}
	r := &run{cfg: b.cfg, sink: b.sink, logger: b.logger, ex: ex, vol: vol, maker: maker, peak: b.cfg.Exchange.InitialBalance}

	b.logger.Info("Backtest started",
		slog.Int("candles", len(candles)),
		slog.String("from", candles[0].Timestamp.String()),
		slog.String("to", candles[len(candles)-1].Timestamp.String()),
		slog.Int("leverage", b.cfg.Exchange.Leverage),
		slog.String("initial_balance", b.cfg.Exchange.InitialBalance.String()),
	)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", rec))
			b.dumpState(ex)
			panic(fmt.Sprintf("HALTED: %v", rec))
		}
	}()

	outcome, processed, runErr := r.loop(ctx, candles)
	res := r.result(outcome, processed)
	res.Elapsed = time.Since(start)

	b.logger.Info("Backtest finished",
		slog.String("outcome", string(outcome)),
		slog.Int("candles", processed),
		slog.Int("trades", res.Summary.TradeCount),
		slog.String("final_equity", res.Summary.FinalEquity.StringFixed(4)),
		slog.String("total_fees", res.Summary.TotalFees.StringFixed(4)),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, runErr
}

func (r *run) loop(ctx context.Context, candles []domain.Candle) (Outcome, int, error) {
	prevClose := candles[0].Close

	for i, c := range candles {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return OutcomeCancelled, i, err
			}
		}

		liquidated := r.candle(c, prevClose)
		prevClose = c.Close

		r.vol.Update(int64(c.Timestamp), c.High.InexactFloat64(), c.Low.InexactFloat64(), c.Close.InexactFloat64())
		if c.Timestamp.Representable() {
			r.ex.RecordEquity(c.Timestamp)
		}

		if liquidated {
			return OutcomeLiquidated, i + 1, nil
		}
		if r.riskStop(c.Timestamp) {
			return OutcomeRiskStopped, i + 1, nil
		}
		if every := r.cfg.ProgressEvery; every > 0 && (i+1)%every == 0 {
			r.logger.Info("Backtest progress",
				slog.Int("done", i+1),
				slog.Int("total", len(candles)),
				slog.String("at", c.Timestamp.String()),
				slog.String("equity", r.ex.Equity().StringFixed(4)),
				slog.Int("trades", len(r.ex.Trades())),
			)
		}
	}
	return OutcomeCompleted, len(candles), nil
}

// candle walks the five sub-points and reports whether the account was liquidated.
func (r *run) candle(c domain.Candle, prevClose decimal.Decimal) bool {
	path := market.Trajectory(c.Open, c.High, c.Low, c.Close, prevClose)
	for j, p := range path {
		ts := c.Timestamp + quant.TimeStamp(int64(j)*r.cfg.SubStepSeconds)
		if !ts.Representable() {
			ts = c.Timestamp
		}

		r.ex.SetPrice(p.Price)
		if r.ex.CheckAndHandleLiquidation(ts) {
			return true
		}
		if orders := r.maker.GenerateOrders(p.Price, ts); len(orders) > 0 {
			r.ex.PlaceOrdersBatch(orders)
		}
		r.ex.MatchOrders(p.High, p.Low, ts)
	}
	return false
}

// riskStop flattens the account when equity breaches the floor or the
// drawdown from peak reaches the limit.
func (r *run) riskStop(ts quant.TimeStamp) bool {
	if !r.cfg.Risk.Enabled {
		return false
	}
	equity := r.ex.Equity()
	if equity.GreaterThan(r.peak) {
		r.peak = equity
	}
	drawdown := quant.Zero
	if r.peak.IsPositive() {
		drawdown = quant.Div(r.peak.Sub(equity), r.peak)
	}

	var reason string
	switch {
	case equity.LessThanOrEqual(r.cfg.Risk.MinEquity):
		reason = "min_equity"
	case drawdown.GreaterThanOrEqual(r.cfg.Risk.MaxDrawdown):
		reason = "max_drawdown"
	default:
		return false
	}

	r.sink.Emit(event.Event{
		Kind:      event.KindRiskStop,
		Timestamp: ts,
		Price:     r.ex.MarkPrice(),
		Equity:    equity,
		Amount:    drawdown,
		Reason:    reason,
	})
	r.ex.CloseAllPositionsMarket(ts, reason)
	return true
}

func (r *run) result(outcome Outcome, processed int) *Result {
	ratio, _ := r.ex.MarginRatio()
	state := r.ex.Snapshot()
	return &Result{
		Outcome:      outcome,
		Candles:      processed,
		Trades:       r.ex.Trades(),
		EquityCurve:  r.ex.EquityHistory(),
		Liquidations: r.ex.Liquidations(),
		Final:        state,
		Summary: report.Summarize(report.Input{
			InitialBalance: r.cfg.Exchange.InitialBalance,
			FinalEquity:    state.Equity,
			TotalFees:      state.TotalFees,
			Trades:         r.ex.Trades(),
			Equity:         r.ex.EquityHistory(),
			Liquidations:   len(state.Liquidations),
			FinalLong:      state.Long.Qty,
			FinalShort:     state.Short.Qty,
			MarginRatio:    ratio,
		}),
	}
}

// dumpState writes the account to DumpPath for post-mortem.
func (b *Backtester) dumpState(ex *execution.PerpExchange) {
	if b.cfg.DumpPath == "" {
		return
	}
	b.logger.Info("Dumping internal state...", slog.String("file", b.cfg.DumpPath))

	data, err := json.MarshalIndent(ex.Snapshot(), "", "  ")
	if err != nil {
		b.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(b.cfg.DumpPath, data, 0o644); err != nil {
		b.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
