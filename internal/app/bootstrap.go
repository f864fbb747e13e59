package app

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"perp_mm/internal/event"
	"perp_mm/internal/infra"
	"perp_mm/internal/infra/storage"
	"perp_mm/internal/service"
	"perp_mm/internal/sweep"
)

// Options are command line overrides applied on top of the config file.
type Options struct {
	ConfigPath  string
	DataFile    string
	DBPath      string
	MetricsFile string
	Parallelism int
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Logger  *slog.Logger
	Storage *storage.Storage
	Service *service.BacktestService

	opts    Options
	mu      sync.Mutex
	metrics map[string]*infra.Metrics
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(opts Options) *Bootstrap {
	if opts.ConfigPath == "" {
		opts.ConfigPath = "configs/config.yaml"
	}
	return &Bootstrap{opts: opts, metrics: make(map[string]*infra.Metrics)}
}

// Initialize performs core system initialization (config, logger, DB)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping backtester...", slog.String("config", b.opts.ConfigPath))

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.opts.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	if b.opts.DataFile != "" {
		cfg.Backtest.DataFile = b.opts.DataFile
	}
	if b.opts.DBPath != "" {
		cfg.Storage.Path = b.opts.DBPath
	}
	if b.opts.MetricsFile != "" {
		cfg.Metrics.File = b.opts.MetricsFile
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)

	// 3. Initialize Storage (DB), only when a path is configured
	var store service.ResultStore
	if cfg.Storage.Path != "" {
		s, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = s
		store = s
		slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))
	}

	// 4. Backtest service over the configured candle source
	src, err := cfg.Source()
	if err != nil {
		return err
	}
	b.Service = service.NewBacktestService(src, store, b.Logger)
	slog.Info("✅ Backtest service ready", slog.String("data", src.Path), slog.String("window", src.Window.String()))
	return nil
}

// Close releases the database.
func (b *Bootstrap) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}

// RunSingle runs the configured backtest once.
func (b *Bootstrap) RunSingle(ctx context.Context) (*service.Report, error) {
	label := b.Config.App.Name
	if label == "" {
		label = "backtest"
	}
	rep, err := b.Service.Run(ctx, label, b.Config.EngineConfig(), b.sinkFor(label))
	if rep != nil {
		b.observe(rep)
	}
	return rep, errors.Join(err, b.exportMetrics())
}

// RunSweep runs the configured backtest once per leverage, in parallel.
func (b *Bootstrap) RunSweep(ctx context.Context, leverages []int) ([]*service.Report, error) {
	runner := sweep.Runner{Parallelism: b.opts.Parallelism, NewSink: b.sinkFor, Logger: b.Logger}
	reports, err := b.Service.Sweep(ctx, runner, sweep.LeverageVariants(b.Config.EngineConfig(), leverages))
	for _, rep := range reports {
		b.observe(rep)
	}
	return reports, errors.Join(err, b.exportMetrics())
}

// sinkFor logs events and, when a metrics file is configured, counts them
// in a registry of their own.
func (b *Bootstrap) sinkFor(label string) event.Sink {
	sinks := event.Fanout{infra.LogSink{Logger: b.Logger.With(slog.String("run", label))}}
	if b.Config.Metrics.File != "" {
		m := infra.NewMetrics(label)
		b.mu.Lock()
		b.metrics[label] = m
		b.mu.Unlock()
		sinks = append(sinks, m)
	}
	return sinks
}

func (b *Bootstrap) observe(rep *service.Report) {
	b.mu.Lock()
	m := b.metrics[rep.Label]
	b.mu.Unlock()
	if m != nil && rep.Result != nil {
		m.ObserveSummary(rep.Result.Summary)
	}
}

// exportMetrics writes one textfile per run. With several runs the label is
// inserted before the extension.
func (b *Bootstrap) exportMetrics() error {
	path := b.Config.Metrics.File
	if path == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for label, m := range b.metrics {
		out := path
		if len(b.metrics) > 1 {
			ext := filepath.Ext(path)
			out = strings.TrimSuffix(path, ext) + "." + label + ext
		}
		if err := m.WriteTextfile(out); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("Metrics written", slog.String("file", out))
	}
	return errors.Join(errs...)
}
