package market

import (
	"fmt"

	"perp_mm/internal/domain"

	"github.com/markcheno/go-talib"
)

// VolatilityLevel classifies ATR% against configured thresholds.
type VolatilityLevel int

const (
	VolatilityNormal VolatilityLevel = iota
	VolatilityHigh
	VolatilityExtreme
)

func (l VolatilityLevel) String() string {
	switch l {
	case VolatilityHigh:
		return "HIGH"
	case VolatilityExtreme:
		return "EXTREME"
	default:
		return "NORMAL"
	}
}

// maxATRHistory bounds the retained ATR series.
const maxATRHistory = 100

// VolatilityConfig is the immutable configuration of a VolatilityMonitor.
// Thresholds are fractions: 0.30 means an ATR of 30% of the close.
type VolatilityConfig struct {
	ATRPeriod        int
	HighThreshold    float64
	ExtremeThreshold float64
}

// Validate checks the period and that thresholds are positive and ordered.
func (c VolatilityConfig) Validate() error {
	if c.ATRPeriod <= 0 {
		return &domain.ConfigError{Field: "volatility.atr_period", Err: fmt.Errorf("must be positive, got %d", c.ATRPeriod)}
	}
	if c.HighThreshold <= 0 {
		return &domain.ConfigError{Field: "volatility.high_threshold", Err: fmt.Errorf("must be positive, got %g", c.HighThreshold)}
	}
	if c.ExtremeThreshold < c.HighThreshold {
		return &domain.ConfigError{Field: "volatility.extreme_threshold", Err: fmt.Errorf("must be >= high threshold %g, got %g", c.HighThreshold, c.ExtremeThreshold)}
	}
	return nil
}

type bar struct {
	ts    int64
	high  float64
	low   float64
	close float64
}

// VolatilityMonitor keeps a FIFO of the last ATRPeriod+1 bars and an
// unweighted average true range over them.
//
// Volatility only drives classification, never money, so it runs on float64.
type VolatilityMonitor struct {
	cfg  VolatilityConfig
	bars []bar
	atr  []float64

	// scratch buffers reused by every update
	highs, lows, closes []float64
}

// NewVolatilityMonitor creates a monitor. ATRPeriod must be positive.
func NewVolatilityMonitor(cfg VolatilityConfig) *VolatilityMonitor {
	if cfg.ATRPeriod <= 0 {
		panic("VolatilityMonitor: ATRPeriod must be positive")
	}
	capacity := cfg.ATRPeriod + 1
	return &VolatilityMonitor{
		cfg:    cfg,
		bars:   make([]bar, 0, capacity),
		atr:    make([]float64, 0, maxATRHistory),
		highs:  make([]float64, 0, capacity),
		lows:   make([]float64, 0, capacity),
		closes: make([]float64, 0, capacity),
	}
}

// Update appends a finished bar and recomputes ATR once two bars exist.
func (m *VolatilityMonitor) Update(ts int64, high, low, close float64) {
	if len(m.bars) == m.cfg.ATRPeriod+1 {
		copy(m.bars, m.bars[1:])
		m.bars = m.bars[:len(m.bars)-1]
	}
	m.bars = append(m.bars, bar{ts: ts, high: high, low: low, close: close})

	if len(m.bars) >= 2 {
		m.recompute()
	}
}

func (m *VolatilityMonitor) recompute() {
	m.highs, m.lows, m.closes = m.highs[:0], m.lows[:0], m.closes[:0]
	for _, b := range m.bars {
		m.highs = append(m.highs, b.high)
		m.lows = append(m.lows, b.low)
		m.closes = append(m.closes, b.close)
	}

	// TRange leaves index 0 empty; every later index pairs a bar with its predecessor.
	tr := talib.TRange(m.highs, m.lows, m.closes)
	var sum float64
	for _, v := range tr[1:] {
		sum += v
	}
	atr := sum / float64(len(tr)-1)

	if len(m.atr) == maxATRHistory {
		copy(m.atr, m.atr[1:])
		m.atr = m.atr[:len(m.atr)-1]
	}
	m.atr = append(m.atr, atr)
}

// ATR returns the latest average true range, zero before two bars exist.
func (m *VolatilityMonitor) ATR() float64 {
	if len(m.atr) == 0 {
		return 0
	}
	return m.atr[len(m.atr)-1]
}

// ATRPercent returns ATR relative to the last close, in percent.
func (m *VolatilityMonitor) ATRPercent() float64 {
	if len(m.atr) == 0 || len(m.bars) == 0 {
		return 0
	}
	last := m.bars[len(m.bars)-1].close
	if last <= 0 {
		return 0
	}
	return m.ATR() / last * 100
}

// Level classifies the current ATR%.
func (m *VolatilityMonitor) Level() VolatilityLevel {
	pct := m.ATRPercent()
	switch {
	case pct >= m.cfg.ExtremeThreshold*100:
		return VolatilityExtreme
	case pct >= m.cfg.HighThreshold*100:
		return VolatilityHigh
	default:
		return VolatilityNormal
	}
}

// ShouldReduceExposure is true for HIGH and EXTREME volatility.
func (m *VolatilityMonitor) ShouldReduceExposure() bool {
	return m.Level() != VolatilityNormal
}

// Len is the number of bars currently retained.
func (m *VolatilityMonitor) Len() int {
	return len(m.bars)
}
