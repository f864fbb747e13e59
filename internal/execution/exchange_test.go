package execution

import (
	"testing"
	"time"

	"perp_mm/internal/domain"
	"perp_mm/internal/event"
	"perp_mm/pkg/quant"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ethTiers() domain.TierTable {
	return domain.TierTable{
		{MaxNotional: d("50000"), MaxLeverage: 125, MMRate: d("0.004"), MMAmount: d("0")},
		{MaxNotional: d("500000"), MaxLeverage: 100, MMRate: d("0.005"), MMAmount: d("50")},
		{MaxNotional: d("0"), MaxLeverage: 50, MMRate: d("0.01"), MMAmount: d("2550")},
	}
}

func testConfig() Config {
	return Config{
		InitialBalance: d("700"),
		Leverage:       125,
		MakerFee:       d("0.0002"),
		TakerFee:       d("0.0005"),
		Tiers:          ethTiers(),
	}
}

func newExchange(t *testing.T, cfg Config) (*PerpExchange, *event.Recorder) {
	t.Helper()
	rec := &event.Recorder{}
	ex, err := NewPerpExchange(cfg, rec)
	require.NoError(t, err)
	return ex, rec
}

// fill executes a trade that must not error.
func fill(t *testing.T, ex *PerpExchange, side domain.Side, qty, price decimal.Decimal, at quant.TimeStamp) (domain.Trade, bool) {
	t.Helper()
	tr, ok, err := ex.ExecuteTrade(side, qty, price, at)
	require.NoError(t, err)
	return tr, ok
}

func ts(year int, month time.Month, day int) quant.TimeStamp {
	return quant.FromTime(time.Date(year, month, day, 12, 0, 0, 0, time.UTC))
}

func TestNewPerpExchange_RejectsBadConfig(t *testing.T) {
	cases := map[string]func(c *Config){
		"zero balance":     func(c *Config) { c.InitialBalance = decimal.Zero },
		"zero leverage":    func(c *Config) { c.Leverage = 0 },
		"negative fee":     func(c *Config) { c.MakerFee = d("-0.1") },
		"empty tiers":      func(c *Config) { c.Tiers = nil },
		"bad payout day":   func(c *Config) { c.Rebate = RebateConfig{Enabled: true, Rate: d("0.3"), PayoutDay: 31} },
		"rebate rate > 1":  func(c *Config) { c.Rebate = RebateConfig{Enabled: true, Rate: d("1.5"), PayoutDay: 19} },
		"descending tiers": func(c *Config) { c.Tiers[1].MaxNotional = d("100") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := NewPerpExchange(cfg, nil)
			require.Error(t, err)
			assert.True(t, domain.IsConfigError(err))
		})
	}
}

func TestExecuteTrade_BalanceAccounting(t *testing.T) {
	ex, rec := newExchange(t, testConfig())
	ex.SetPrice(d("3000"))

	before := ex.Balance()
	tr, ok := fill(t, ex, domain.SideBuyLong, d("1"), d("3000"), 100)
	require.True(t, ok)
	assert.True(t, tr.Fee.Equal(d("0.6")), "fee %s", tr.Fee)
	assert.True(t, tr.PnL.IsZero())
	assert.True(t, ex.Balance().Equal(before.Sub(tr.Fee)))

	before = ex.Balance()
	tr, ok = fill(t, ex, domain.SideSellLong, d("1"), d("3100"), 200)
	require.True(t, ok)
	assert.True(t, tr.PnL.Equal(d("100")))
	assert.True(t, tr.Fee.Equal(d("0.62")))
	assert.True(t, ex.Balance().Equal(before.Sub(d("0.62")).Add(d("100"))))

	// short: profit when price falls
	before = ex.Balance()
	_, ok = fill(t, ex, domain.SideSellShort, d("2"), d("3000"), 300)
	require.True(t, ok)
	tr, ok = fill(t, ex, domain.SideBuyShort, d("2"), d("2900"), 400)
	require.True(t, ok)
	assert.True(t, tr.PnL.Equal(d("200")))
	wantFees := d("1.2").Add(d("1.16"))
	assert.True(t, ex.Balance().Equal(before.Sub(wantFees).Add(d("200"))), "balance %s", ex.Balance())

	assert.Len(t, ex.Trades(), 4)
	assert.Len(t, rec.OfKind(event.KindFill), 4)
	assert.True(t, ex.TotalFees().Equal(d("0.6").Add(d("0.62")).Add(wantFees)))
}

func TestExecuteTrade_WeightedEntry(t *testing.T) {
	ex, _ := newExchange(t, testConfig())
	ex.SetPrice(d("3000"))

	ex.ExecuteTrade(domain.SideBuyLong, d("1"), d("3000"), 1)
	ex.ExecuteTrade(domain.SideBuyLong, d("3"), d("3100"), 2)

	long := ex.Long()
	assert.True(t, long.Qty.Equal(d("4")))
	assert.True(t, long.EntryPrice.Equal(d("3075")), "entry %s", long.EntryPrice)

	ex.ExecuteTrade(domain.SideSellShort, d("0.3"), d("1000"), 3)
	ex.ExecuteTrade(domain.SideSellShort, d("0.7"), d("2000"), 4)
	short := ex.Short()
	assert.True(t, short.EntryPrice.Equal(d("1700")), "entry %s", short.EntryPrice)
}

func TestExecuteTrade_ClipsCloses(t *testing.T) {
	ex, _ := newExchange(t, testConfig())
	ex.SetPrice(d("3000"))

	t.Run("close against flat leg", func(t *testing.T) {
		before := ex.Balance()
		_, ok := fill(t, ex, domain.SideSellLong, d("1"), d("3000"), 1)
		assert.False(t, ok)
		assert.True(t, ex.Balance().Equal(before))
		assert.Empty(t, ex.Trades())
	})

	t.Run("oversized close is clipped", func(t *testing.T) {
		ex.ExecuteTrade(domain.SideBuyLong, d("0.5"), d("3000"), 2)
		tr, ok := fill(t, ex, domain.SideSellLong, d("2"), d("3010"), 3)
		require.True(t, ok)
		assert.True(t, tr.Qty.Equal(d("0.5")))
		assert.True(t, tr.PnL.Equal(d("5")))
		assert.True(t, tr.Fee.Equal(d("0.5").Mul(d("3010")).Mul(d("0.0002"))))
	})

	t.Run("round trip resets the leg", func(t *testing.T) {
		long := ex.Long()
		assert.True(t, long.Qty.IsZero())
		assert.True(t, long.EntryPrice.IsZero())
	})

	t.Run("unknown side is rejected", func(t *testing.T) {
		before := ex.Balance()
		_, ok, err := ex.ExecuteTrade(domain.Side("HOLD"), d("1"), d("1"), 4)
		assert.ErrorIs(t, err, domain.ErrUnknownSide)
		assert.False(t, ok)
		assert.True(t, ex.Balance().Equal(before))
	})
}

func TestMargin(t *testing.T) {
	ex, _ := newExchange(t, testConfig())
	ex.SetPrice(d("3000"))
	ex.ExecuteTrade(domain.SideBuyLong, d("1"), d("3000"), 1)

	assert.True(t, ex.UsedMargin().Equal(d("24")), "used %s", ex.UsedMargin())
	assert.Equal(t, 125, ex.EffectiveLeverage())
	assert.True(t, ex.AvailableMargin().Equal(ex.Equity().Sub(d("24"))))
	assert.True(t, ex.MaintenanceMargin().Equal(d("12")))

	t.Run("gross notional selects the leverage tier", func(t *testing.T) {
		ex.ExecuteTrade(domain.SideBuyLong, d("10"), d("3000"), 2)
		ex.ExecuteTrade(domain.SideSellShort, d("6"), d("3000"), 3)
		// gross 17*3000 = 51000 -> tier 2, net 5*3000 = 15000 -> tier 1
		assert.Equal(t, 100, ex.EffectiveLeverage())
		assert.True(t, ex.UsedMargin().Equal(d("510")))
		assert.True(t, ex.MaintenanceMargin().Equal(d("60")))
	})

	t.Run("configured leverage caps the tier", func(t *testing.T) {
		cfg := testConfig()
		cfg.Leverage = 20
		low, _ := newExchange(t, cfg)
		assert.Equal(t, 20, low.EffectiveLeverage())
	})

	t.Run("margin ratio is equity over gross position value", func(t *testing.T) {
		r, ok := ex.MarginRatio()
		require.True(t, ok)
		assert.True(t, r.Equal(quant.Div(ex.Equity(), ex.GrossNotional())), "ratio %s", r)
	})

	t.Run("flat account reports the sentinel ratio", func(t *testing.T) {
		flat, _ := newExchange(t, testConfig())
		r, ok := flat.MarginRatio()
		assert.False(t, ok)
		assert.True(t, r.Equal(d("999")))
	})
}

func TestMaintenanceMargin_NotClamped(t *testing.T) {
	cfg := testConfig()
	cfg.Tiers = domain.TierTable{
		{MaxNotional: d("100"), MaxLeverage: 125, MMRate: d("0.004"), MMAmount: d("0")},
		{MaxNotional: d("0"), MaxLeverage: 100, MMRate: d("0.005"), MMAmount: d("50")},
	}
	ex, _ := newExchange(t, cfg)
	ex.SetPrice(d("200"))
	ex.ExecuteTrade(domain.SideBuyLong, d("1"), d("200"), 1)

	// net notional 200 falls in the upper tier: 200*0.005 - 50 = -49
	assert.True(t, ex.MaintenanceMargin().Equal(d("-49")))
	assert.False(t, ex.CheckAndHandleLiquidation(2))
}

func TestLiquidation_Scenario700At125x(t *testing.T) {
	// maker fee off: equity = 700 + qty*(p - 3000), mm = 0.004 * qty * p
	cases := []struct {
		name   string
		qty    string
		prices []string
		wantAt string
		equity string
		mm     string
	}{
		{
			name:   "one unit",
			qty:    "1",
			prices: []string{"2500", "2310", "2309.24", "2309.23", "2300"},
			wantAt: "2309.23",
			equity: "9.23",
			mm:     "9.23692",
		},
		{
			name:   "ten units",
			qty:    "10",
			prices: []string{"2990", "2960", "2942", "2941.8", "2941.7", "2941.6", "2900"},
			wantAt: "2941.7",
			equity: "117",
			mm:     "117.668",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MakerFee = decimal.Zero
			ex, rec := newExchange(t, cfg)

			ex.SetPrice(d("3000"))
			require.True(t, ex.AvailableMargin().GreaterThanOrEqual(d("3000").Div(d("125"))))
			_, ok := fill(t, ex, domain.SideBuyLong, d(tc.qty), d("3000"), 1)
			require.True(t, ok)
			assert.True(t, ex.UsedMargin().Equal(d(tc.qty).Mul(d("24"))), "used %s", ex.UsedMargin())

			liquidatedAt := ""
			count := 0
			for i, p := range tc.prices {
				ex.SetPrice(d(p))
				if liquidatedAt != "" {
					continue
				}
				equity := ex.Equity()
				mm := ex.MaintenanceMargin()
				fired := ex.CheckAndHandleLiquidation(quant.TimeStamp(10 + i))
				assert.Equal(t, equity.IsPositive() && equity.LessThanOrEqual(mm), fired, "price %s", p)
				if fired {
					liquidatedAt = p
					count++
					assert.True(t, mm.Equal(d(tc.mm)), "mm %s", mm)
				}
			}

			assert.Equal(t, tc.wantAt, liquidatedAt)
			assert.Equal(t, 1, count)
			require.Len(t, ex.Liquidations(), 1)
			liq := ex.Liquidations()[0]
			assert.True(t, liq.Equity.Equal(d(tc.equity)), "equity %s", liq.Equity)
			assert.True(t, liq.Price.Equal(d(tc.wantAt)))
			assert.True(t, ex.Balance().IsZero())
			assert.True(t, ex.IsFlat())
			assert.Empty(t, ex.RestingOrders())

			evs := rec.OfKind(event.KindLiquidation)
			require.Len(t, evs, 1)
			wantFee := d(tc.qty).Mul(d(tc.wantAt)).Mul(d("0.0005"))
			assert.True(t, evs[0].Fee.Equal(wantFee), "fee %s want %s", evs[0].Fee, wantFee)

			// nothing left to liquidate
			assert.False(t, ex.CheckAndHandleLiquidation(100))
		})
	}
}

func TestLiquidation_ExactEquality(t *testing.T) {
	cfg := Config{
		InitialBalance: d("100"),
		Leverage:       2,
		MakerFee:       decimal.Zero,
		TakerFee:       decimal.Zero,
		Tiers:          domain.TierTable{{MaxNotional: d("1000000"), MaxLeverage: 2, MMRate: d("0.5"), MMAmount: d("0")}},
	}

	t.Run("equity equal to maintenance liquidates", func(t *testing.T) {
		ex, _ := newExchange(t, cfg)
		ex.SetPrice(d("200"))
		ex.ExecuteTrade(domain.SideBuyLong, d("1"), d("200"), 1)
		require.True(t, ex.Equity().Equal(ex.MaintenanceMargin()))
		assert.True(t, ex.CheckAndHandleLiquidation(2))
	})

	t.Run("one tick above survives", func(t *testing.T) {
		ex, _ := newExchange(t, cfg)
		ex.SetPrice(d("200"))
		ex.ExecuteTrade(domain.SideBuyLong, d("1"), d("200"), 1)
		ex.SetPrice(d("200.01"))
		assert.False(t, ex.CheckAndHandleLiquidation(2))
	})

	t.Run("negative equity does not liquidate", func(t *testing.T) {
		ex, _ := newExchange(t, cfg)
		ex.SetPrice(d("200"))
		ex.ExecuteTrade(domain.SideBuyLong, d("1"), d("200"), 1)
		ex.SetPrice(d("50"))
		require.True(t, ex.Equity().IsNegative())
		assert.False(t, ex.CheckAndHandleLiquidation(2))
		assert.Empty(t, ex.Liquidations())
	})
}

func TestMatchOrders(t *testing.T) {
	ex, rec := newExchange(t, testConfig())
	ex.SetPrice(d("3000"))

	ex.PlaceOrdersBatch([]domain.Order{
		domain.NewOrder(domain.SideBuyLong, d("0.1"), d("2990")),
		domain.NewOrder(domain.SideBuyLong, d("0.1"), d("2995")),
		domain.NewOrder(domain.SideSellShort, d("0.1"), d("3010")),
		domain.NewOrder(domain.SideSellShort, d("0.1"), d("3005")),
		domain.NewOrder(domain.SideSellShort, d("0"), d("3001")),
		domain.NewOrder(domain.Side("HOLD"), d("0.1"), d("3002")),
	})

	resting := ex.RestingOrders()
	require.Len(t, resting, 4)
	assert.True(t, resting[0].Price.Equal(d("2995")))
	assert.True(t, resting[1].Price.Equal(d("2990")))
	assert.True(t, resting[2].Price.Equal(d("3005")))
	assert.True(t, resting[3].Price.Equal(d("3010")))

	t.Run("untouched range fills nothing", func(t *testing.T) {
		assert.Equal(t, 0, ex.MatchOrders(d("3004.99"), d("2995.01"), 1))
		assert.Len(t, ex.RestingOrders(), 4)
	})

	t.Run("boundaries are inclusive", func(t *testing.T) {
		assert.Equal(t, 2, ex.MatchOrders(d("3005"), d("2995"), 2))
		rest := ex.RestingOrders()
		require.Len(t, rest, 2)
		assert.True(t, rest[0].Price.Equal(d("2990")))
		assert.True(t, rest[1].Price.Equal(d("3010")))
		assert.True(t, ex.Long().EntryPrice.Equal(d("2995")))
		assert.True(t, ex.Short().EntryPrice.Equal(d("3005")))
	})

	t.Run("filled orders do not fill twice", func(t *testing.T) {
		assert.Equal(t, 2, ex.MatchOrders(d("4000"), d("2000"), 3))
		assert.Equal(t, 0, ex.MatchOrders(d("4000"), d("2000"), 4))
		assert.Len(t, rec.OfKind(event.KindFill), 4)
	})

	t.Run("batch replaces the book", func(t *testing.T) {
		ex.PlaceOrdersBatch([]domain.Order{domain.NewOrder(domain.SideSellLong, d("0.1"), d("3100"))})
		ex.PlaceOrdersBatch([]domain.Order{domain.NewOrder(domain.SideBuyShort, d("0.1"), d("2900"))})
		rest := ex.RestingOrders()
		require.Len(t, rest, 1)
		assert.Equal(t, domain.SideBuyShort, rest[0].Side)
	})
}

func TestCloseAllPositionsMarket(t *testing.T) {
	ex, rec := newExchange(t, testConfig())
	ex.SetPrice(d("3000"))
	ex.ExecuteTrade(domain.SideBuyLong, d("1"), d("3000"), 1)
	ex.ExecuteTrade(domain.SideSellShort, d("1"), d("3000"), 2)
	ex.PlaceOrdersBatch([]domain.Order{domain.NewOrder(domain.SideBuyLong, d("1"), d("2900"))})

	ex.SetPrice(d("3100"))
	before := ex.Balance()
	ex.CloseAllPositionsMarket(3, "test")

	// +100 long, -100 short, taker fee on 2 * 3100
	want := before.Sub(d("6200").Mul(d("0.0005")))
	assert.True(t, ex.Balance().Equal(want), "balance %s want %s", ex.Balance(), want)
	assert.True(t, ex.IsFlat())
	assert.Empty(t, ex.RestingOrders())
	assert.Len(t, ex.Trades(), 2)
	flat := rec.OfKind(event.KindFlatten)
	require.Len(t, flat, 1)
	assert.True(t, flat[0].Fee.Equal(d("3.1")), "fee %s", flat[0].Fee)
}

func TestLeverageChangeEvent(t *testing.T) {
	ex, rec := newExchange(t, testConfig())
	ex.SetPrice(d("3000"))
	tr, _ := fill(t, ex, domain.SideBuyLong, d("10"), d("3000"), 1)
	assert.Equal(t, 125, tr.Leverage)
	assert.Empty(t, rec.OfKind(event.KindLeverageChanged))

	tr, _ = fill(t, ex, domain.SideBuyLong, d("10"), d("3000"), 2)
	assert.Equal(t, 100, tr.Leverage)
	evs := rec.OfKind(event.KindLeverageChanged)
	require.Len(t, evs, 1)
	assert.Equal(t, 100, evs[0].Leverage)
}

func TestRecordEquity(t *testing.T) {
	ex, _ := newExchange(t, testConfig())
	ex.SetPrice(d("3000"))
	ex.RecordEquity(1)
	ex.ExecuteTrade(domain.SideBuyLong, d("1"), d("3000"), 2)
	ex.SetPrice(d("3050"))
	ex.RecordEquity(3)

	hist := ex.EquityHistory()
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Equity.Equal(d("700")))
	assert.True(t, hist[1].Equity.Equal(d("700").Sub(d("0.6")).Add(d("50"))))
	assert.Equal(t, quant.TimeStamp(3), hist[1].Timestamp)
}
