// Package sweep runs several backtest variants over the same candles in parallel.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"

	"perp_mm/internal/domain"
	"perp_mm/internal/engine"
	"perp_mm/internal/event"

	"golang.org/x/sync/errgroup"
)

// Variant is one named configuration to simulate.
type Variant struct {
	Name   string
	Config engine.Config
}

// Entry pairs a variant with its result.
type Entry struct {
	Variant Variant
	Result  *engine.Result
}

// LeverageVariants copies base once per distinct leverage, setting both the
// exchange and the strategy leverage. Repeated leverages are skipped.
func LeverageVariants(base engine.Config, leverages []int) []Variant {
	out := make([]Variant, 0, len(leverages))
	seen := make(map[int]bool, len(leverages))
	for _, lev := range leverages {
		if seen[lev] {
			continue
		}
		seen[lev] = true
		cfg := base
		cfg.Exchange.Tiers = append(domain.TierTable(nil), base.Exchange.Tiers...)
		cfg.Exchange.Leverage = lev
		cfg.Strategy.Leverage = lev
		out = append(out, Variant{Name: "lev-" + strconv.Itoa(lev), Config: cfg})
	}
	return out
}

// Runner executes variants with bounded parallelism. Every variant gets its
// own Backtester, so no simulation state is shared.
//
// Parallelism <= 0 means runtime.NumCPU(). A nil NewSink drops events.
type Runner struct {
	Parallelism int
	NewSink     func(variant string) event.Sink
	Logger      *slog.Logger
}

// Run validates every variant before simulating any of them, then runs them
// concurrently. Variant names key sinks and stored results, so they must be
// unique. Entries come back in the order of variants. On cancellation the
// entries finished so far are returned with the context error.
func (r Runner) Run(ctx context.Context, candles []domain.Candle, variants []Variant) ([]Entry, error) {
	if err := engine.CheckCandles(candles); err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(variants))
	for _, v := range variants {
		if names[v.Name] {
			return nil, &domain.ConfigError{Field: "sweep.variants", Err: fmt.Errorf("duplicate variant name %q", v.Name)}
		}
		names[v.Name] = true
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	testers := make([]*engine.Backtester, len(variants))
	for i, v := range variants {
		var sink event.Sink
		if r.NewSink != nil {
			sink = r.NewSink(v.Name)
		}
		bt, err := engine.NewBacktester(v.Config, sink, logger.With(slog.String("variant", v.Name)))
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
		testers[i] = bt
	}

	limit := r.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	entries := make([]Entry, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range variants {
		i := i
		entries[i].Variant = variants[i]
		g.Go(func() error {
			res, err := testers[i].Run(gctx, candles)
			entries[i].Result = res
			if err != nil {
				return fmt.Errorf("variant %s: %w", variants[i].Name, err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		logger.Error("Sweep stopped with error", slog.String("error", err.Error()))
	}
	return entries, err
}
