// Package report turns the raw output of a run into performance figures.
package report

import (
	"math"

	"perp_mm/internal/domain"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

const periodsPerYear = 365

// Input is everything a summary is computed from.
type Input struct {
	InitialBalance decimal.Decimal
	FinalEquity    decimal.Decimal
	TotalFees      decimal.Decimal
	Trades         []domain.Trade
	Equity         []domain.EquitySample
	Liquidations   int
	FinalLong      decimal.Decimal
	FinalShort     decimal.Decimal
	MarginRatio    decimal.Decimal
}

// Summary is the headline result of a run.
type Summary struct {
	InitialBalance      decimal.Decimal `json:"initial_balance"`
	FinalEquity         decimal.Decimal `json:"final_equity"`
	TotalReturn         decimal.Decimal `json:"total_return"`
	TotalFees           decimal.Decimal `json:"total_fees"`
	TradeCount          int             `json:"trade_count"`
	Pairs               PairStats       `json:"pairs"`
	MaxDrawdown         decimal.Decimal `json:"max_drawdown"`
	AnnualizedReturn    float64         `json:"annualized_return"`
	ReturnDrawdownRatio float64         `json:"return_drawdown_ratio"`
	SharpeRatio         float64         `json:"sharpe_ratio"`
	Days                int             `json:"days"`
	AvgTradesPerDay     float64         `json:"avg_trades_per_day"`
	MaxTradesPerDay     int             `json:"max_trades_per_day"`
	Liquidations        int             `json:"liquidations"`
	FinalLong           decimal.Decimal `json:"final_long"`
	FinalShort          decimal.Decimal `json:"final_short"`
	MarginRatio         decimal.Decimal `json:"margin_ratio"`
}

// Summarize computes the summary. Equity samples with unrepresentable
// timestamps are left out of the curve statistics.
func Summarize(in Input) Summary {
	s := Summary{
		InitialBalance: in.InitialBalance,
		FinalEquity:    in.FinalEquity,
		TotalReturn:    quant.SafeDiv(in.FinalEquity.Sub(in.InitialBalance), in.InitialBalance),
		TotalFees:      in.TotalFees,
		TradeCount:     len(in.Trades),
		Pairs:          TradePairs(in.Trades),
		Liquidations:   in.Liquidations,
		FinalLong:      in.FinalLong,
		FinalShort:     in.FinalShort,
		MarginRatio:    in.MarginRatio,
		Days:           1,
	}

	for _, dc := range DailyTrades(in.Trades) {
		s.MaxTradesPerDay = max(s.MaxTradesPerDay, dc.Trades)
	}

	curve := representable(in.Equity)
	if len(curve) > 0 {
		s.MaxDrawdown = MaxDrawdown(curve)
		s.Days = spanDays(curve)
		s.AnnualizedReturn = annualized(in.InitialBalance, curve[len(curve)-1].Equity, s.Days)
		s.SharpeRatio = Sharpe(curve)
		if dd := s.MaxDrawdown.InexactFloat64(); dd > 0 {
			s.ReturnDrawdownRatio = s.AnnualizedReturn / dd
		}
	}
	s.AvgTradesPerDay = float64(s.TradeCount) / float64(s.Days)
	return s
}

func representable(curve []domain.EquitySample) []domain.EquitySample {
	out := make([]domain.EquitySample, 0, len(curve))
	for _, p := range curve {
		if p.Timestamp.Representable() {
			out = append(out, p)
		}
	}
	return out
}

// MaxDrawdown is the largest (peak - equity) / peak seen along the curve.
func MaxDrawdown(curve []domain.EquitySample) decimal.Decimal {
	peak, worst := quant.Zero, quant.Zero
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if !peak.IsPositive() {
			continue
		}
		if dd := quant.Div(peak.Sub(p.Equity), peak); dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst
}

// spanDays is the whole number of days covered by the curve, at least one.
func spanDays(curve []domain.EquitySample) int {
	days := int((curve[len(curve)-1].Timestamp - curve[0].Timestamp) / 86400)
	return max(days, 1)
}

func annualized(initial, final decimal.Decimal, days int) float64 {
	if !initial.IsPositive() {
		return 0
	}
	growth := quant.Div(final, initial).InexactFloat64()
	if growth <= 0 {
		return -1
	}
	years := float64(days) / periodsPerYear
	return math.Pow(growth, 1/years) - 1
}

// Sharpe annualizes the mean over the sample standard deviation of
// sample-to-sample equity returns. Zero when fewer than two returns exist or
// the returns do not vary.
func Sharpe(curve []domain.EquitySample) float64 {
	returns := make([]float64, 0, len(curve))
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		if prev == 0 {
			continue
		}
		returns = append(returns, curve[i].Equity.InexactFloat64()/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}
