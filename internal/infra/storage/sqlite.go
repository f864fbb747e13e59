package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"perp_mm/internal/domain"
	"perp_mm/internal/engine"
	"perp_mm/internal/report"
	"perp_mm/pkg/quant"

	"github.com/glebarez/sqlite"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const batchSize = 1000

// RunRecord is one finished backtest. The full summary is kept as JSON next
// to the columns worth querying.
type RunRecord struct {
	ID             string          `gorm:"primaryKey;size:36"`
	Label          string          `gorm:"index"`
	Outcome        string          `gorm:"index"`
	Candles        int
	Leverage       int
	InitialBalance decimal.Decimal `gorm:"type:text"`
	FinalEquity    decimal.Decimal `gorm:"type:text"`
	TotalFees      decimal.Decimal `gorm:"type:text"`
	MaxDrawdown    decimal.Decimal `gorm:"type:text"`
	TradeCount     int
	WinRate        float64
	SharpeRatio    float64
	Summary        string
	ElapsedMillis  int64
	CreatedAt      time.Time `gorm:"index"`
}

// TradeRecord is one fill of a run. Seq keeps the original order.
type TradeRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index:idx_trade_run_seq,priority:1;size:36"`
	Seq       int    `gorm:"index:idx_trade_run_seq,priority:2"`
	Timestamp int64
	Side      string
	Qty       decimal.Decimal `gorm:"type:text"`
	Price     decimal.Decimal `gorm:"type:text"`
	Fee       decimal.Decimal `gorm:"type:text"`
	PnL       decimal.Decimal `gorm:"type:text"`
	Leverage  int
}

// EquityRecord is one equity curve sample of a run.
type EquityRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index;size:36"`
	Timestamp int64
	Equity    decimal.Decimal `gorm:"type:text"`
}

// LiquidationRecord is a forced close of a run.
type LiquidationRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index;size:36"`
	Timestamp int64
	Equity    decimal.Decimal `gorm:"type:text"`
	Price     decimal.Decimal `gorm:"type:text"`
}

// StoredRun is a run read back from the store.
type StoredRun struct {
	Run          RunRecord
	Summary      report.Summary
	Trades       []domain.Trade
	EquityCurve  []domain.EquitySample
	Liquidations []domain.LiquidationEvent
}

// Storage persists finished runs for the reporting side.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the result database at path. An empty path
// uses the per-user default location.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		var err error
		if path, err = getDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newStorage(db)
}

func newStorage(db *gorm.DB) (*Storage, error) {
	if err := db.AutoMigrate(&RunRecord{}, &TradeRecord{}, &EquityRecord{}, &LiquidationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "PerpMM", "data", "backtests.db"), nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Run Operations
// ======================================================================================

// SaveResult stores a finished run in a single transaction and returns its ID.
func (s *Storage) SaveResult(label string, leverage int, res *engine.Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}

	run := RunRecord{
		ID:             uuid.NewString(),
		Label:          label,
		Outcome:        string(res.Outcome),
		Candles:        res.Candles,
		Leverage:       leverage,
		InitialBalance: res.Summary.InitialBalance,
		FinalEquity:    res.Summary.FinalEquity,
		TotalFees:      res.Summary.TotalFees,
		MaxDrawdown:    res.Summary.MaxDrawdown,
		TradeCount:     res.Summary.TradeCount,
		WinRate:        res.Summary.Pairs.WinRate,
		SharpeRatio:    res.Summary.SharpeRatio,
		Summary:        string(summary),
		ElapsedMillis:  res.Elapsed.Milliseconds(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}

		if len(res.Trades) > 0 {
			trades := make([]TradeRecord, len(res.Trades))
			for i, t := range res.Trades {
				trades[i] = TradeRecord{
					RunID:     run.ID,
					Seq:       i,
					Timestamp: int64(t.Timestamp),
					Side:      string(t.Side),
					Qty:       t.Qty,
					Price:     t.Price,
					Fee:       t.Fee,
					PnL:       t.PnL,
					Leverage:  t.Leverage,
				}
			}
			if err := tx.CreateInBatches(trades, batchSize).Error; err != nil {
				return err
			}
		}

		if len(res.EquityCurve) > 0 {
			curve := make([]EquityRecord, len(res.EquityCurve))
			for i, e := range res.EquityCurve {
				curve[i] = EquityRecord{RunID: run.ID, Timestamp: int64(e.Timestamp), Equity: e.Equity}
			}
			if err := tx.CreateInBatches(curve, batchSize).Error; err != nil {
				return err
			}
		}

		if len(res.Liquidations) > 0 {
			liqs := make([]LiquidationRecord, len(res.Liquidations))
			for i, l := range res.Liquidations {
				liqs[i] = LiquidationRecord{RunID: run.ID, Timestamp: int64(l.Timestamp), Equity: l.Equity, Price: l.Price}
			}
			if err := tx.Create(&liqs).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	return run.ID, nil
}

// ListRuns returns stored runs, newest first, without their series.
func (s *Storage) ListRuns() ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.Order("created_at desc").Find(&runs).Error
	return runs, err
}

// LoadRun reads a run and its series back.
func (s *Storage) LoadRun(id string) (*StoredRun, error) {
	var run RunRecord
	err := s.db.First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}

	out := &StoredRun{Run: run}
	if err := json.Unmarshal([]byte(run.Summary), &out.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary of run %s: %w", id, err)
	}

	var trades []TradeRecord
	if err := s.db.Where("run_id = ?", id).Order("seq").Find(&trades).Error; err != nil {
		return nil, err
	}
	out.Trades = make([]domain.Trade, len(trades))
	for i, t := range trades {
		out.Trades[i] = domain.Trade{
			Timestamp: quant.TimeStamp(t.Timestamp),
			Side:      domain.Side(t.Side),
			Qty:       t.Qty,
			Price:     t.Price,
			Fee:       t.Fee,
			PnL:       t.PnL,
			Leverage:  t.Leverage,
		}
	}

	var curve []EquityRecord
	if err := s.db.Where("run_id = ?", id).Order("id").Find(&curve).Error; err != nil {
		return nil, err
	}
	out.EquityCurve = make([]domain.EquitySample, len(curve))
	for i, e := range curve {
		out.EquityCurve[i] = domain.EquitySample{Timestamp: quant.TimeStamp(e.Timestamp), Equity: e.Equity}
	}

	var liqs []LiquidationRecord
	if err := s.db.Where("run_id = ?", id).Order("id").Find(&liqs).Error; err != nil {
		return nil, err
	}
	out.Liquidations = make([]domain.LiquidationEvent, len(liqs))
	for i, l := range liqs {
		out.Liquidations[i] = domain.LiquidationEvent{Timestamp: quant.TimeStamp(l.Timestamp), Equity: l.Equity, Price: l.Price}
	}
	return out, nil
}

// DeleteRun removes a run and everything recorded for it.
func (s *Storage) DeleteRun(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&TradeRecord{}, &EquityRecord{}, &LiquidationRecord{}} {
			if err := tx.Where("run_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id).Delete(&RunRecord{}).Error
	})
}
