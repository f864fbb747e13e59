package infra

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"perp_mm/internal/domain"

	"github.com/shopspring/decimal"
)

const yamlConfig = `
backtest:
  data_file: data/eth.csv
  start_date: "2024-01-01"
  end_date: "2024-02-01"
  bar_interval: 5m
  initial_balance: 700
market:
  maker_fee: 0.0002
  taker_fee: 0.0005
  tiers:
    - { max_notional: 50000, max_leverage: 125, mm_rate: 0.004, mm_amount: 0 }
    - { max_notional: 0, max_leverage: 100, mm_rate: 0.005, mm_amount: 50 }
strategy:
  leverage: 125
  bid_spread: 0.002
  ask_spread: 0.003
  min_order_qty: 0.009
  max_order_qty: 999
  max_position_value_ratio: 1
  refresh_seconds: 15
volatility:
  adaptive: true
  atr_period: 1440
  high_threshold: 0.3
  extreme_threshold: 0.5
  base_spread: 0.002
  high_spread_multiplier: 2
  extreme_spread_multiplier: 3
  max_imbalance_ratio: 0.3
  position_balance_ratio: 0.8
rebate:
  enabled: true
  rate: 0.3
  payout_day: 19
logging:
  level: debug
`

const tomlConfig = `
[backtest]
data_file = "data/eth.csv"
initial_balance = "1000"

[market]
maker_fee = "0.0002"
taker_fee = "0.0005"

[[market.tiers]]
max_notional = 50000
max_leverage = 125
mm_rate = "0.004"
mm_amount = 0

[strategy]
leverage = 50
bid_spread = "0.002"
ask_spread = "0.002"
min_order_qty = "0.01"
max_order_qty = "10"
max_position_value_ratio = 1
refresh_seconds = 30.0

[volatility]
atr_period = 60
high_threshold = 0.3
extreme_threshold = 0.5
base_spread = "0.002"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "config.yaml", yamlConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	ex := cfg.ExchangeConfig()
	if !ex.InitialBalance.Equal(decimal.NewFromInt(700)) {
		t.Errorf("Expected initial balance 700, got %s", ex.InitialBalance)
	}
	if len(ex.Tiers) != 2 || !ex.Tiers[1].Unbounded() {
		t.Errorf("Expected two tiers with an unbounded last tier, got %+v", ex.Tiers)
	}
	if !ex.Rebate.Enabled || ex.Rebate.PayoutDay != 19 {
		t.Errorf("unexpected rebate config %+v", ex.Rebate)
	}

	st := cfg.StrategyConfig()
	if st.RefreshInterval != 15*time.Second {
		t.Errorf("Expected 15s refresh, got %v", st.RefreshInterval)
	}
	if !st.AskSpread.Equal(decimal.RequireFromString("0.003")) || !st.VolatilityAdaptive {
		t.Errorf("unexpected strategy config %+v", st)
	}

	src, err := cfg.Source()
	if err != nil {
		t.Fatalf("Source failed: %v", err)
	}
	if src.Interval != 5*time.Minute || src.Window.Start.Year() != 2024 || src.Window.End.Month() != time.February {
		t.Errorf("unexpected source %+v", src)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "config.toml", tomlConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Strategy.Leverage != 50 {
		t.Errorf("Expected leverage 50, got %d", cfg.Strategy.Leverage)
	}
	if !cfg.Market.Tiers[0].MMRate.Equal(decimal.RequireFromString("0.004")) {
		t.Errorf("Expected mm rate 0.004, got %s", cfg.Market.Tiers[0].MMRate)
	}
	if cfg.VolatilityConfig().ATRPeriod != 60 {
		t.Errorf("Expected ATR period 60, got %d", cfg.VolatilityConfig().ATRPeriod)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("PERP_INITIAL_BALANCE", "2500.5")
	t.Setenv("PERP_LEVERAGE", "20")
	t.Setenv("PERP_LOG_LEVEL", "WARN")
	t.Setenv("PERP_DATA_FILE", "/tmp/other.csv")

	cfg, err := LoadConfig(writeConfig(t, "config.yaml", yamlConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Backtest.InitialBalance.Equal(decimal.RequireFromString("2500.5")) {
		t.Errorf("balance override ignored: %s", cfg.Backtest.InitialBalance)
	}
	if cfg.Strategy.Leverage != 20 || cfg.Logging.Level != "warn" || cfg.Backtest.DataFile != "/tmp/other.csv" {
		t.Errorf("overrides not applied: lev=%d level=%s file=%s", cfg.Strategy.Leverage, cfg.Logging.Level, cfg.Backtest.DataFile)
	}

	t.Run("bad leverage", func(t *testing.T) {
		t.Setenv("PERP_LEVERAGE", "lots")
		_, err := LoadConfig(writeConfig(t, "config.yaml", yamlConfig))
		if !domain.IsConfigError(err) {
			t.Errorf("Expected ConfigError, got %v", err)
		}
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, domain.ErrConfigNotFound) {
			t.Errorf("Expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("tag violations are aggregated", func(t *testing.T) {
		body := strings.Replace(yamlConfig, "leverage: 125", "leverage: 0", 1)
		body = strings.Replace(body, "atr_period: 1440", "atr_period: 0", 1)
		_, err := LoadConfig(writeConfig(t, "config.yaml", body))
		if err == nil {
			t.Fatal("Expected validation error")
		}
		if !domain.IsConfigError(err) {
			t.Errorf("Expected ConfigError, got %v", err)
		}
		for _, field := range []string{"Leverage", "ATRPeriod"} {
			if !strings.Contains(err.Error(), field) {
				t.Errorf("error should mention %s: %v", field, err)
			}
		}
	})

	t.Run("component validation", func(t *testing.T) {
		body := strings.Replace(yamlConfig, "bid_spread: 0.002", "bid_spread: 0", 1)
		_, err := LoadConfig(writeConfig(t, "config.yaml", body))
		if err == nil || !strings.Contains(err.Error(), "strategy.bid_spread") {
			t.Errorf("Expected bid spread error, got %v", err)
		}
	})

	t.Run("malformed .env", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", yamlConfig)
		env := filepath.Join(filepath.Dir(path), ".env")
		if err := os.WriteFile(env, []byte("PERP_LEVERAGE=\"20\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadConfig(path)
		if err == nil || !strings.Contains(err.Error(), ".env") {
			t.Errorf("Expected .env parse error, got %v", err)
		}
	})

	t.Run("inverted window", func(t *testing.T) {
		body := strings.Replace(yamlConfig, `end_date: "2024-02-01"`, `end_date: "2023-02-01"`, 1)
		_, err := LoadConfig(writeConfig(t, "config.yaml", body))
		if err == nil || !strings.Contains(err.Error(), "backtest.end_date") {
			t.Errorf("Expected window error, got %v", err)
		}
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "warn": "WARN", "error": "ERROR", "": "INFO", "chatty": "INFO"}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
