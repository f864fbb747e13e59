package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"perp_mm/internal/app"
	"perp_mm/internal/domain"
	"perp_mm/internal/service"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

type output struct {
	Label   string `json:"label"`
	RunID   string `json:"run_id,omitempty"`
	Outcome string `json:"outcome"`
	Candles int    `json:"candles"`
	Elapsed string `json:"elapsed"`
	Summary any    `json:"summary"`
}

func main() {
	var opts app.Options
	var sweepLeverage string
	flag.StringVar(&opts.ConfigPath, "config", "configs/config.yaml", "path to the YAML or TOML config")
	flag.StringVar(&opts.DataFile, "data", "", "candle CSV, overrides backtest.data_file")
	flag.StringVar(&sweepLeverage, "sweep-leverage", "", "comma separated leverages to run in parallel, e.g. 10,50,125")
	flag.StringVar(&opts.DBPath, "db", "", "SQLite file to store results in")
	flag.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus textfile metrics here")
	flag.IntVar(&opts.Parallelism, "parallel", 0, "sweep parallelism, 0 means one per CPU")
	flag.Parse()

	leverages, err := parseLeverages(sweepLeverage)
	if err != nil {
		slog.Error("❌ Invalid -sweep-leverage", slog.Any("error", err))
		os.Exit(2)
	}

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap(opts)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(exitCode(err))
	}
	defer bootstrap.Close()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Run
	var reports []*service.Report
	if len(leverages) > 0 {
		reports, err = bootstrap.RunSweep(ctx, leverages)
	} else {
		var rep *service.Report
		rep, err = bootstrap.RunSingle(ctx)
		if rep != nil {
			reports = append(reports, rep)
		}
	}

	// 4. Summary
	if printErr := printReports(reports); printErr != nil {
		slog.Error("Failed to print summary", slog.Any("error", printErr))
	}
	if err != nil {
		slog.Error("❌ Backtest failed", slog.Any("error", err))
		stop()
		bootstrap.Close()
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration mistakes, 1 for everything else.
func exitCode(err error) int {
	if domain.IsConfigError(err) {
		return 2
	}
	return 1
}

func parseLeverages(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		lev, err := cast.ToIntE(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if lev <= 0 {
			return nil, fmt.Errorf("leverage must be positive, got %d", lev)
		}
		out = append(out, lev)
	}
	return out, nil
}

func printReports(reports []*service.Report) error {
	out := make([]output, 0, len(reports))
	for _, r := range reports {
		out = append(out, output{
			Label:   r.Label,
			RunID:   r.RunID,
			Outcome: string(r.Result.Outcome),
			Candles: r.Result.Candles,
			Elapsed: r.Result.Elapsed.String(),
			Summary: r.Result.Summary,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if len(out) == 1 {
		return enc.Encode(out[0])
	}
	return enc.Encode(out)
}
