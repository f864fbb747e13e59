package storage

import (
	"path/filepath"
	"testing"
	"time"

	"perp_mm/internal/domain"
	"perp_mm/internal/engine"
	"perp_mm/internal/report"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() *engine.Result {
	ts := quant.FromTime(time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC))
	return &engine.Result{
		Outcome: engine.OutcomeLiquidated,
		Candles: 3,
		Trades: []domain.Trade{
			{Timestamp: ts, Side: domain.SideBuyLong, Qty: d("0.5"), Price: d("3000.12"), Fee: d("0.30001200000000001"), PnL: decimal.Zero, Leverage: 125},
			{Timestamp: ts + 12, Side: domain.SideSellLong, Qty: d("0.5"), Price: d("3010"), Fee: d("0.301"), PnL: d("4.94"), Leverage: 125},
		},
		EquityCurve: []domain.EquitySample{
			{Timestamp: ts, Equity: d("700")},
			{Timestamp: ts + 60, Equity: d("704.33899")},
			{Timestamp: ts + 120, Equity: d("0")},
		},
		Liquidations: []domain.LiquidationEvent{{Timestamp: ts + 120, Equity: d("117"), Price: d("2941.7")}},
		Summary: report.Summary{
			InitialBalance: d("700"),
			FinalEquity:    d("0"),
			TotalFees:      d("0.601012"),
			TradeCount:     2,
			Pairs:          report.PairStats{Profitable: 1, Total: 1, WinRate: 1},
			MaxDrawdown:    d("1"),
			SharpeRatio:    -3.5,
			Days:           1,
			Liquidations:   1,
		},
		Elapsed: 1500 * time.Millisecond,
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	s := setupTestDB(t)
	res := sampleResult()

	id, err := s.SaveResult("lev-125", 125, res)
	if err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a run id")
	}

	stored, err := s.LoadRun(id)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if stored == nil {
		t.Fatal("Expected stored run, got nil")
	}

	if stored.Run.Outcome != "LIQUIDATED" || stored.Run.Leverage != 125 || stored.Run.ElapsedMillis != 1500 {
		t.Errorf("unexpected run record %+v", stored.Run)
	}
	if !stored.Summary.TotalFees.Equal(d("0.601012")) || stored.Summary.Pairs.Total != 1 {
		t.Errorf("summary did not round trip: %+v", stored.Summary)
	}

	if len(stored.Trades) != 2 {
		t.Fatalf("Expected 2 trades, got %d", len(stored.Trades))
	}
	if stored.Trades[0].Side != domain.SideBuyLong || stored.Trades[1].Side != domain.SideSellLong {
		t.Errorf("trade order lost: %v, %v", stored.Trades[0].Side, stored.Trades[1].Side)
	}
	// Decimals are stored as text so no digits are lost.
	if !stored.Trades[0].Fee.Equal(d("0.30001200000000001")) {
		t.Errorf("fee lost precision: %s", stored.Trades[0].Fee)
	}
	if stored.Trades[1].Timestamp != res.Trades[1].Timestamp {
		t.Errorf("timestamp mismatch: %v vs %v", stored.Trades[1].Timestamp, res.Trades[1].Timestamp)
	}

	if len(stored.EquityCurve) != 3 || !stored.EquityCurve[1].Equity.Equal(d("704.33899")) {
		t.Errorf("unexpected equity curve %+v", stored.EquityCurve)
	}
	if len(stored.Liquidations) != 1 || !stored.Liquidations[0].Price.Equal(d("2941.7")) {
		t.Errorf("unexpected liquidations %+v", stored.Liquidations)
	}
}

func TestLoadRun_NotFound(t *testing.T) {
	s := setupTestDB(t)

	stored, err := s.LoadRun("missing")
	if err != nil {
		t.Fatalf("Expected no error for missing run, got %v", err)
	}
	if stored != nil {
		t.Errorf("Expected nil, got %+v", stored)
	}
}

func TestListAndDeleteRuns(t *testing.T) {
	s := setupTestDB(t)

	empty := sampleResult()
	empty.Trades = nil
	empty.EquityCurve = nil
	empty.Liquidations = nil

	first, err := s.SaveResult("a", 50, empty)
	if err != nil {
		t.Fatalf("SaveResult without series failed: %v", err)
	}
	second, err := s.SaveResult("b", 100, sampleResult())
	if err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}

	if err := s.DeleteRun(second); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if got, _ := s.LoadRun(second); got != nil {
		t.Error("deleted run is still loadable")
	}
	var orphans int64
	s.db.Model(&TradeRecord{}).Where("run_id = ?", second).Count(&orphans)
	if orphans != 0 {
		t.Errorf("Expected trades to be deleted, %d left", orphans)
	}

	kept, err := s.LoadRun(first)
	if err != nil || kept == nil {
		t.Fatalf("LoadRun(first) = %v, %v", kept, err)
	}
	if len(kept.Trades) != 0 || kept.Run.Label != "a" {
		t.Errorf("unexpected kept run %+v", kept.Run)
	}
}

func TestSaveResult_Nil(t *testing.T) {
	s := setupTestDB(t)
	if _, err := s.SaveResult("x", 1, nil); err == nil {
		t.Error("Expected error for nil result")
	}
}
