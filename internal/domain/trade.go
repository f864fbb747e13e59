package domain

import (
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

// Trade is the audit record of a single fill.
type Trade struct {
	Timestamp quant.TimeStamp `json:"timestamp"`
	Side      Side            `json:"side"`
	Qty       decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	PnL       decimal.Decimal `json:"pnl"`
	Leverage  int             `json:"leverage"` // effective leverage right after the fill
}

// EquitySample is one point of the equity curve.
type EquitySample struct {
	Timestamp quant.TimeStamp `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// LiquidationEvent records a forced close. Equity is the value that tripped the check.
type LiquidationEvent struct {
	Timestamp quant.TimeStamp `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Price     decimal.Decimal `json:"price"`
}
