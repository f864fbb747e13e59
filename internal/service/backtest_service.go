package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"perp_mm/internal/domain"
	"perp_mm/internal/engine"
	"perp_mm/internal/event"
	"perp_mm/internal/sweep"
)

// ResultStore persists finished runs.
type ResultStore interface {
	SaveResult(label string, leverage int, res *engine.Result) (string, error)
}

// Report is a finished run as kept by the service.
type Report struct {
	Label  string         `json:"label"`
	RunID  string         `json:"run_id,omitempty"`
	Result *engine.Result `json:"-"`
}

// BacktestService loads candles once and runs single backtests or sweeps
// over them, optionally persisting every result.
type BacktestService struct {
	source domain.CandleSource
	store  ResultStore
	logger *slog.Logger

	mu      sync.RWMutex
	candles []domain.Candle
	reports map[string]*Report
}

// NewBacktestService creates a new BacktestService. store may be nil.
func NewBacktestService(source domain.CandleSource, store ResultStore, logger *slog.Logger) *BacktestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BacktestService{
		source:  source,
		store:   store,
		logger:  logger,
		reports: make(map[string]*Report),
	}
}

// Candles loads the source on first use and caches it.
func (s *BacktestService) Candles(ctx context.Context) ([]domain.Candle, error) {
	s.mu.RLock()
	cached := s.candles
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	candles, err := s.source.LoadCandles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candles == nil {
		s.candles = candles
		s.logger.Info("Candles loaded", slog.Int("count", len(candles)))
	}
	return s.candles, nil
}

// Run executes one backtest. A cancelled run is still recorded and returned
// together with the context error.
func (s *BacktestService) Run(ctx context.Context, label string, cfg engine.Config, sink event.Sink) (*Report, error) {
	candles, err := s.Candles(ctx)
	if err != nil {
		return nil, err
	}
	bt, err := engine.NewBacktester(cfg, sink, s.logger.With(slog.String("run", label)))
	if err != nil {
		return nil, err
	}

	res, runErr := bt.Run(ctx, candles)
	if res == nil {
		return nil, runErr
	}
	rep, err := s.record(label, cfg.Exchange.Leverage, res)
	if err != nil {
		return rep, err
	}
	return rep, runErr
}

// Sweep runs every variant through runner and records each finished result.
func (s *BacktestService) Sweep(ctx context.Context, runner sweep.Runner, variants []sweep.Variant) ([]*Report, error) {
	candles, err := s.Candles(ctx)
	if err != nil {
		return nil, err
	}
	if runner.Logger == nil {
		runner.Logger = s.logger
	}

	entries, runErr := runner.Run(ctx, candles, variants)
	reports := make([]*Report, 0, len(entries))
	for _, e := range entries {
		if e.Result == nil {
			continue
		}
		rep, err := s.record(e.Variant.Name, e.Variant.Config.Exchange.Leverage, e.Result)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, runErr
}

func (s *BacktestService) record(label string, leverage int, res *engine.Result) (*Report, error) {
	rep := &Report{Label: label, Result: res}
	if s.store != nil {
		id, err := s.store.SaveResult(label, leverage, res)
		if err != nil {
			return rep, fmt.Errorf("save %s: %w", label, err)
		}
		rep.RunID = id
		s.logger.Info("Run saved", slog.String("label", label), slog.String("run_id", id))
	}

	s.mu.Lock()
	s.reports[label] = rep
	s.mu.Unlock()
	return rep, nil
}

// Reports returns every recorded report sorted by label.
func (s *BacktestService) Reports() []*Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Report, 0, len(s.reports))
	for _, r := range s.reports {
		result = append(result, r)
	}

	// Sort by label for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Label < result[j].Label
	})
	return result
}

// Report returns the latest report recorded under label.
func (s *BacktestService) Report(label string) *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.reports[label]
}
