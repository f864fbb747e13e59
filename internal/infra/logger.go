package infra

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"perp_mm/internal/event"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new slog.Logger with log rotation support
func NewLogger(cfg *Config) *slog.Logger {
	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// Fallback to stderr if directory creation fails
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "backtest.log"),
		MaxSize:    10, // Megabytes
		MaxBackups: 3,
		MaxAge:     28, // Days
		Compress:   true,
	}

	// Multi-writer: Log to both file and stdout
	writer := io.MultiWriter(os.Stdout, fileLogger)

	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Logging.Level),
	}
	return slog.New(slog.NewJSONHandler(writer, opts))
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogSink renders run events through slog. Fills are logged at debug level
// since a long run produces millions of them.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ev event.Event) {
	attrs := []slog.Attr{
		slog.String("ts", ev.Timestamp.String()),
		slog.String("price", ev.Price.String()),
	}
	level := slog.LevelInfo
	msg := string(ev.Kind)

	switch ev.Kind {
	case event.KindFill:
		level = slog.LevelDebug
		attrs = append(attrs,
			slog.String("side", string(ev.Side)),
			slog.String("qty", ev.Qty.String()),
			slog.String("fee", ev.Fee.String()),
			slog.String("pnl", ev.Amount.String()),
			slog.Int("leverage", ev.Leverage),
		)
	case event.KindLiquidation:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("equity", ev.Equity.String()),
			slog.String("maintenance_margin", ev.Amount.String()),
		)
	case event.KindRiskStop:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("equity", ev.Equity.String()),
			slog.String("drawdown", ev.Amount.String()),
			slog.String("reason", ev.Reason),
		)
	case event.KindFlatten:
		attrs = append(attrs, slog.String("balance", ev.Equity.String()), slog.String("reason", ev.Reason))
	case event.KindRebatePaid:
		attrs = append(attrs,
			slog.String("cycle_fees", ev.Fee.String()),
			slog.String("rebate", ev.Amount.String()),
		)
	case event.KindLeverageChanged:
		attrs = append(attrs,
			slog.Int("leverage", ev.Leverage),
			slog.String("gross_notional", ev.Amount.String()),
			slog.String("change", ev.Reason),
		)
	}

	s.Logger.LogAttrs(context.Background(), level, msg, attrs...)
}
