package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"perp_mm/internal/domain"
	"perp_mm/internal/engine"
	"perp_mm/internal/execution"
	"perp_mm/internal/feed"
	"perp_mm/internal/market"
	"perp_mm/internal/strategy"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config는 백테스트 실행에 필요한 모든 설정을 담습니다.
// LoadConfig로 로드된 후 환경 변수로 일부 값을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name" toml:"name"`
		Version string `yaml:"version" toml:"version"`
	} `yaml:"app" toml:"app"`

	Backtest struct {
		DataFile       string          `yaml:"data_file" toml:"data_file" validate:"required"`
		StartDate      string          `yaml:"start_date" toml:"start_date"`
		EndDate        string          `yaml:"end_date" toml:"end_date"`
		BarInterval    string          `yaml:"bar_interval" toml:"bar_interval"`
		InitialBalance decimal.Decimal `yaml:"initial_balance" toml:"initial_balance"`
		SubStepSeconds int64           `yaml:"sub_step_seconds" toml:"sub_step_seconds" validate:"gte=0"`
		DumpPath       string          `yaml:"dump_path" toml:"dump_path"`
		ProgressEvery  int             `yaml:"progress_every" toml:"progress_every" validate:"gte=0"`
	} `yaml:"backtest" toml:"backtest"`

	Market struct {
		Symbol   string              `yaml:"symbol" toml:"symbol"`
		MakerFee decimal.Decimal     `yaml:"maker_fee" toml:"maker_fee"`
		TakerFee decimal.Decimal     `yaml:"taker_fee" toml:"taker_fee"`
		Tiers    []domain.MarginTier `yaml:"tiers" toml:"tiers" validate:"min=1,dive"`
	} `yaml:"market" toml:"market"`

	Strategy struct {
		Leverage              int             `yaml:"leverage" toml:"leverage" validate:"gt=0"`
		BidSpread             decimal.Decimal `yaml:"bid_spread" toml:"bid_spread"`
		AskSpread             decimal.Decimal `yaml:"ask_spread" toml:"ask_spread"`
		UseDynamicOrderSize   bool            `yaml:"use_dynamic_order_size" toml:"use_dynamic_order_size"`
		MinOrderQty           decimal.Decimal `yaml:"min_order_qty" toml:"min_order_qty"`
		MaxOrderQty           decimal.Decimal `yaml:"max_order_qty" toml:"max_order_qty"`
		MaxPositionValueRatio decimal.Decimal `yaml:"max_position_value_ratio" toml:"max_position_value_ratio"`
		RefreshSeconds        float64         `yaml:"refresh_seconds" toml:"refresh_seconds" validate:"gte=0"`
		StopLossEnabled       bool            `yaml:"stop_loss_enabled" toml:"stop_loss_enabled"`
		StopLoss              decimal.Decimal `yaml:"stop_loss" toml:"stop_loss"`
	} `yaml:"strategy" toml:"strategy"`

	Volatility struct {
		Adaptive                bool            `yaml:"adaptive" toml:"adaptive"`
		ATRPeriod               int             `yaml:"atr_period" toml:"atr_period" validate:"gt=0"`
		HighThreshold           float64         `yaml:"high_threshold" toml:"high_threshold" validate:"gt=0"`
		ExtremeThreshold        float64         `yaml:"extreme_threshold" toml:"extreme_threshold" validate:"gtefield=HighThreshold"`
		BaseSpread              decimal.Decimal `yaml:"base_spread" toml:"base_spread"`
		HighSpreadMultiplier    decimal.Decimal `yaml:"high_spread_multiplier" toml:"high_spread_multiplier"`
		ExtremeSpreadMultiplier decimal.Decimal `yaml:"extreme_spread_multiplier" toml:"extreme_spread_multiplier"`
		MaxImbalanceRatio       decimal.Decimal `yaml:"max_imbalance_ratio" toml:"max_imbalance_ratio"`
		PositionBalanceRatio    decimal.Decimal `yaml:"position_balance_ratio" toml:"position_balance_ratio"`
	} `yaml:"volatility" toml:"volatility"`

	Risk struct {
		Enabled     bool            `yaml:"enabled" toml:"enabled"`
		MaxDrawdown decimal.Decimal `yaml:"max_drawdown" toml:"max_drawdown"`
		MinEquity   decimal.Decimal `yaml:"min_equity" toml:"min_equity"`
	} `yaml:"risk" toml:"risk"`

	Rebate struct {
		Enabled   bool            `yaml:"enabled" toml:"enabled"`
		Rate      decimal.Decimal `yaml:"rate" toml:"rate"`
		PayoutDay int             `yaml:"payout_day" toml:"payout_day" validate:"omitempty,gte=1,lte=28"`
	} `yaml:"rebate" toml:"rebate"`

	Logging struct {
		Level string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
		Dir   string `yaml:"dir" toml:"dir"`
	} `yaml:"logging" toml:"logging"`

	Metrics struct {
		File string `yaml:"file" toml:"file"`
	} `yaml:"metrics" toml:"metrics"`

	Storage struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"storage" toml:"storage"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// 확장자가 .toml이면 TOML, 그 외에는 YAML로 해석합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := cfg.decode(path, data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// .env 파일은 선택 사항입니다. 이미 설정된 환경 변수는 덮어쓰지 않습니다.
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}
	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), c)
		return err
	}
	return yaml.Unmarshal(data, c)
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) error {
	if v := os.Getenv("PERP_INITIAL_BALANCE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return &domain.ConfigError{Field: "PERP_INITIAL_BALANCE", Err: err}
		}
		cfg.Backtest.InitialBalance = d
	}
	if v := os.Getenv("PERP_LEVERAGE"); v != "" {
		lev, err := cast.ToIntE(v)
		if err != nil {
			return &domain.ConfigError{Field: "PERP_LEVERAGE", Err: err}
		}
		cfg.Strategy.Leverage = lev
	}
	if v := os.Getenv("PERP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PERP_DATA_FILE"); v != "" {
		cfg.Backtest.DataFile = v
	}
	return nil
}

// Validate runs the struct tag checks and then every component's own
// validation. All problems are reported together.
func (c *Config) Validate() error {
	var errs error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = multierr.Append(errs, &domain.ConfigError{
				Field: fe.Namespace(),
				Err:   fmt.Errorf("failed %q (value %v)", fe.Tag(), fe.Value()),
			})
		}
	}
	if errs != nil {
		return errs
	}

	if _, err := c.Window(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := c.Interval(); err != nil {
		errs = multierr.Append(errs, err)
	}
	errs = multierr.Append(errs, c.EngineConfig().Validate())
	return errs
}

// Window is the backtest date range.
func (c *Config) Window() (feed.Window, error) {
	var w feed.Window
	var err error
	if c.Backtest.StartDate != "" {
		if w.Start, err = feed.ParseTime(c.Backtest.StartDate); err != nil {
			return w, &domain.ConfigError{Field: "backtest.start_date", Err: err}
		}
	}
	if c.Backtest.EndDate != "" {
		if w.End, err = feed.ParseTime(c.Backtest.EndDate); err != nil {
			return w, &domain.ConfigError{Field: "backtest.end_date", Err: err}
		}
	}
	if !w.Start.IsZero() && !w.End.IsZero() && !w.End.After(w.Start) {
		return w, &domain.ConfigError{Field: "backtest.end_date", Err: errors.New("must be after start_date")}
	}
	return w, nil
}

// Interval is the bar size candles are resampled to. Empty means as stored.
func (c *Config) Interval() (time.Duration, error) {
	if c.Backtest.BarInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Backtest.BarInterval)
	if err != nil || d < time.Minute {
		return 0, &domain.ConfigError{Field: "backtest.bar_interval", Err: fmt.Errorf("want a duration of at least 1m, got %q", c.Backtest.BarInterval)}
	}
	return d, nil
}

// ExchangeConfig converts to the exchange's immutable configuration.
func (c *Config) ExchangeConfig() execution.Config {
	return execution.Config{
		InitialBalance: c.Backtest.InitialBalance,
		Leverage:       c.Strategy.Leverage,
		MakerFee:       c.Market.MakerFee,
		TakerFee:       c.Market.TakerFee,
		Tiers:          append(domain.TierTable(nil), c.Market.Tiers...),
		Rebate: execution.RebateConfig{
			Enabled:   c.Rebate.Enabled,
			Rate:      c.Rebate.Rate,
			PayoutDay: c.Rebate.PayoutDay,
		},
	}
}

// StrategyConfig converts to the market maker's immutable configuration.
func (c *Config) StrategyConfig() strategy.Config {
	s := c.Strategy
	v := c.Volatility
	return strategy.Config{
		Leverage:                s.Leverage,
		BidSpread:               s.BidSpread,
		AskSpread:               s.AskSpread,
		UseDynamicOrderSize:     s.UseDynamicOrderSize,
		MinOrderQty:             s.MinOrderQty,
		MaxOrderQty:             s.MaxOrderQty,
		MaxPositionValueRatio:   s.MaxPositionValueRatio,
		RefreshInterval:         time.Duration(s.RefreshSeconds * float64(time.Second)),
		StopLossEnabled:         s.StopLossEnabled,
		StopLossFraction:        s.StopLoss,
		VolatilityAdaptive:      v.Adaptive,
		BaseSpread:              v.BaseSpread,
		HighSpreadMultiplier:    v.HighSpreadMultiplier,
		ExtremeSpreadMultiplier: v.ExtremeSpreadMultiplier,
		MaxImbalanceRatio:       v.MaxImbalanceRatio,
		PositionBalanceRatio:    v.PositionBalanceRatio,
	}
}

// VolatilityConfig converts to the volatility monitor's configuration.
func (c *Config) VolatilityConfig() market.VolatilityConfig {
	return market.VolatilityConfig{
		ATRPeriod:        c.Volatility.ATRPeriod,
		HighThreshold:    c.Volatility.HighThreshold,
		ExtremeThreshold: c.Volatility.ExtremeThreshold,
	}
}

// EngineConfig bundles every component configuration for a run.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Exchange:   c.ExchangeConfig(),
		Strategy:   c.StrategyConfig(),
		Volatility: c.VolatilityConfig(),
		Risk: engine.RiskConfig{
			Enabled:     c.Risk.Enabled,
			MaxDrawdown: c.Risk.MaxDrawdown,
			MinEquity:   c.Risk.MinEquity,
		},
		SubStepSeconds: c.Backtest.SubStepSeconds,
		DumpPath:       c.Backtest.DumpPath,
		ProgressEvery:  c.Backtest.ProgressEvery,
	}
}

// Source is the candle source described by the backtest section.
func (c *Config) Source() (feed.CSVSource, error) {
	w, err := c.Window()
	if err != nil {
		return feed.CSVSource{}, err
	}
	iv, err := c.Interval()
	if err != nil {
		return feed.CSVSource{}, err
	}
	return feed.CSVSource{Path: c.Backtest.DataFile, Window: w, Interval: iv}, nil
}
