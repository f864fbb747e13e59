package infra

import (
	"perp_mm/internal/event"
	"perp_mm/internal/report"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects run statistics into its own registry, so parallel runs
// never share collectors. It implements event.Sink.
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	fills        *prometheus.CounterVec
	fees         *prometheus.CounterVec
	realizedPnL  prometheus.Gauge
	liquidations prometheus.Counter
	riskStops    *prometheus.CounterVec
	rebatePaid   prometheus.Counter
	leverage     prometheus.Gauge
	equity       prometheus.Gauge

	finalEquity prometheus.Gauge
	maxDrawdown prometheus.Gauge
	winRate     prometheus.Gauge
}

// NewMetrics creates a registry whose series carry run as a constant label.
func NewMetrics(run string) *Metrics {
	labels := prometheus.Labels{"run": run}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_events_total", Help: "Run events by kind", ConstLabels: labels,
		}, []string{"kind"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_fills_total", Help: "Filled orders by side", ConstLabels: labels,
		}, []string{"side"}),
		fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_fees_total", Help: "Fees paid, maker on fills and taker on forced or voluntary flattening", ConstLabels: labels,
		}, []string{"liquidity"}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_realized_pnl", Help: "Realized PnL from fills", ConstLabels: labels,
		}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perp_liquidations_total", Help: "Forced liquidations", ConstLabels: labels,
		}),
		riskStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_stops_total", Help: "Portfolio risk stops by reason", ConstLabels: labels,
		}, []string{"reason"}),
		rebatePaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perp_rebate_paid_total", Help: "Fee rebates credited", ConstLabels: labels,
		}),
		leverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_effective_leverage", Help: "Effective leverage after the last fill", ConstLabels: labels,
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_equity", Help: "Equity at the last liquidation, risk stop or rebate", ConstLabels: labels,
		}),
		finalEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_final_equity", Help: "Equity at the end of the run", ConstLabels: labels,
		}),
		maxDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_max_drawdown_ratio", Help: "Largest peak-to-trough equity drop", ConstLabels: labels,
		}),
		winRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_win_rate_ratio", Help: "Share of profitable open/close pairs", ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(
		m.events, m.fills, m.fees, m.realizedPnL, m.liquidations, m.riskStops,
		m.rebatePaid, m.leverage, m.equity, m.finalEquity, m.maxDrawdown, m.winRate,
	)
	return m
}

func (m *Metrics) Emit(ev event.Event) {
	m.events.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case event.KindFill:
		m.fills.WithLabelValues(string(ev.Side)).Inc()
		m.fees.WithLabelValues("maker").Add(ev.Fee.InexactFloat64())
		m.realizedPnL.Add(ev.Amount.InexactFloat64())
		m.leverage.Set(float64(ev.Leverage))
	case event.KindLiquidation:
		m.liquidations.Inc()
		m.fees.WithLabelValues("taker").Add(ev.Fee.InexactFloat64())
		m.equity.Set(ev.Equity.InexactFloat64())
	case event.KindFlatten:
		m.fees.WithLabelValues("taker").Add(ev.Fee.InexactFloat64())
	case event.KindRiskStop:
		m.riskStops.WithLabelValues(ev.Reason).Inc()
		m.equity.Set(ev.Equity.InexactFloat64())
	case event.KindRebatePaid:
		m.rebatePaid.Add(ev.Amount.InexactFloat64())
		m.equity.Set(ev.Equity.InexactFloat64())
	case event.KindLeverageChanged:
		m.leverage.Set(float64(ev.Leverage))
	}
}

// ObserveSummary records the headline figures of a finished run.
func (m *Metrics) ObserveSummary(s report.Summary) {
	m.finalEquity.Set(s.FinalEquity.InexactFloat64())
	m.maxDrawdown.Set(s.MaxDrawdown.InexactFloat64())
	m.winRate.Set(s.Pairs.WinRate)
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
