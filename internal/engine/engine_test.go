package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
	"github.com/eddiefleurent/scranton_backtester/internal/portfolio"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
)

// scriptModel prices every contract at a scripted per-date value, which
// lets exit scenarios pin marks exactly without real option math.
type scriptModel struct {
	prices map[string]float64
	greeks pricing.Greeks
}

func (m *scriptModel) Name() string { return "script" }

func (m *scriptModel) Price(c instrument.Contract, date time.Time, _ *market.Series) (float64, error) {
	px, ok := m.prices[date.Format("2006-01-02")]
	if !ok {
		return 0, &pricing.NumericalError{Model: m.Name(), Contract: c, Date: date, Reason: "no scripted price"}
	}
	return px, nil
}

func (m *scriptModel) Greeks(instrument.Contract, time.Time, *market.Series) (pricing.Greeks, error) {
	return m.greeks, nil
}

var _ pricing.Model = (*scriptModel)(nil)

// tradingDays builds a weekday series starting 2024-01-02 with the given
// spots and a small flat surface per day.
func tradingDays(t *testing.T, spots []float64) *market.Series {
	t.Helper()
	snaps := make([]market.Snapshot, 0, len(spots))
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, spot := range spots {
		for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, 1)
		}
		surf, err := market.NewSurface("SPY", date, []market.VolQuote{
			{Strike: 300, TenorDays: 7, Vol: 0.2},
			{Strike: 500, TenorDays: 7, Vol: 0.2},
			{Strike: 300, TenorDays: 60, Vol: 0.2},
			{Strike: 500, TenorDays: 60, Vol: 0.2},
		}, market.ExtrapolateFlat)
		require.NoError(t, err)
		snaps = append(snaps, market.Snapshot{
			Date: date, Spot: spot, Surface: surf, Rate: 0.05,
		})
		date = date.AddDate(0, 0, 1)
	}
	series, err := market.NewSeries("SPY", snaps)
	require.NoError(t, err)
	return series
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d.UTC()
}

func shortStraddleEntry(t *testing.T, expiry time.Time) ScheduledEntry {
	t.Helper()
	s, err := instrument.NewStraddle("SPY", 400, expiry, instrument.Short, 1)
	require.NoError(t, err)
	return ScheduledEntry{Strategy: s, Date: day(t, "2024-01-02")}
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-03-01"),
		InitialCash: 10000,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing window", func(c *Config) { c.Start = time.Time{} }},
		{"end before start", func(c *Config) { c.End = c.Start.AddDate(0, 0, -1) }},
		{"negative profit target", func(c *Config) { c.Exits.ProfitTargetPct = -0.1 }},
		{"negative time stop", func(c *Config) { c.Exits.TimeStopDTE = -1 }},
		{"unknown tie break", func(c *Config) { c.Exits.TieBreak = "chronological" }},
		{"negative fee", func(c *Config) { c.Costs.PerContract = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestProfitTargetExit(t *testing.T) {
	// Short straddle at a $30.00 credit with a 25% target closes the
	// first day the mark reaches -$22.50 or better, exactly once.
	series := tradingDays(t, []float64{400, 401, 399, 400, 400})
	model := &scriptModel{prices: map[string]float64{
		"2024-01-02": 0.15, // mark -30.00 at entry
		"2024-01-03": 0.13, // -26.00, pnl +4.00 < 7.50
		"2024-01-04": 0.11, // -22.00, pnl +8.00 >= 7.50
		"2024-01-05": 0.10,
		"2024-01-08": 0.09,
	}}
	cfg := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-01-08"),
		InitialCash: 10000,
		Exits:       ExitRules{ProfitTargetPct: 0.25},
	}
	eng, err := New(cfg, model, series, []ScheduledEntry{
		shortStraddleEntry(t, day(t, "2024-06-21")),
	}, nil)
	require.NoError(t, err)

	rows, err := eng.Run(context.Background())
	require.NoError(t, err)

	// Run ends the day the book empties.
	require.Len(t, rows, 3)

	var exits []ExitEvent
	for _, row := range rows {
		exits = append(exits, row.ExitEvents...)
	}
	require.Len(t, exits, 1, "exit must be recorded exactly once")
	assert.Equal(t, portfolio.ExitProfitTarget, exits[0].Reason)
	assert.Equal(t, day(t, "2024-01-04"), rows[2].Date)
	assert.InDelta(t, -22.00, exits[0].Mark, 1e-9)

	pf := eng.Portfolio()
	require.Len(t, pf.Positions, 1)
	assert.Equal(t, portfolio.StatusClosed, pf.Positions[0].Status)
	assert.Equal(t, portfolio.ExitProfitTarget, pf.Positions[0].ExitReason)
	assert.Equal(t, day(t, "2024-01-04"), pf.Positions[0].ExitDate)

	// Credit 30 in, 22 out, no costs configured.
	assert.InDelta(t, 10008.00, pf.Cash, 1e-9)
	require.Len(t, pf.TradeLog, 2)
}

func TestStopLossExit(t *testing.T) {
	series := tradingDays(t, []float64{400, 410, 420})
	model := &scriptModel{prices: map[string]float64{
		"2024-01-02": 0.15, // mark -30.00 at entry
		"2024-01-03": 0.20, // -40.00, pnl -10.00 > -15.00
		"2024-01-04": 0.23, // -46.00, pnl -16.00 <= -15.00
	}}
	cfg := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-01-04"),
		InitialCash: 10000,
		Exits:       ExitRules{ProfitTargetPct: 0.25, StopLossPct: 0.5},
	}
	eng, err := New(cfg, model, series, []ScheduledEntry{
		shortStraddleEntry(t, day(t, "2024-06-21")),
	}, nil)
	require.NoError(t, err)

	rows, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Len(t, rows[2].ExitEvents, 1)
	assert.Equal(t, portfolio.ExitStopLoss, rows[2].ExitEvents[0].Reason)
	// 30 credit, 46 to buy back.
	assert.InDelta(t, 9984.00, eng.Portfolio().Cash, 1e-9)
}

func TestTieBreakOnSimultaneousThresholds(t *testing.T) {
	// A zero-cost structure has entry base zero, so any mark hits both
	// thresholds at once; the configured policy picks the booked reason.
	series := tradingDays(t, []float64{400, 400})
	model := &scriptModel{prices: map[string]float64{
		"2024-01-02": 0.15,
		"2024-01-03": 0.15,
	}}
	call, err := instrument.NewContract("SPY", instrument.Call, 420, day(t, "2024-06-21"))
	require.NoError(t, err)
	put, err := instrument.NewContract("SPY", instrument.Put, 380, day(t, "2024-06-21"))
	require.NoError(t, err)
	collar, err := instrument.NewStrategy("costless collar", []instrument.Leg{
		instrument.NewLeg(call, 1),
		instrument.NewLeg(put, -1),
	})
	require.NoError(t, err)

	for _, tc := range []struct {
		tieBreak TieBreak
		want     portfolio.ExitReason
	}{
		{TieBreakProfitFirst, portfolio.ExitProfitTarget},
		{TieBreakStopFirst, portfolio.ExitStopLoss},
	} {
		cfg := Config{
			Start:       day(t, "2024-01-02"),
			End:         day(t, "2024-01-03"),
			InitialCash: 10000,
			Exits: ExitRules{
				ProfitTargetPct: 0.25,
				StopLossPct:     0.5,
				TieBreak:        tc.tieBreak,
			},
		}
		eng, err := New(cfg, model, series, []ScheduledEntry{
			{Strategy: collar, Date: day(t, "2024-01-02")},
		}, nil)
		require.NoError(t, err)

		rows, err := eng.Run(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, rows[0].ExitEvents, "tie_break=%s", tc.tieBreak)
		assert.Equal(t, tc.want, rows[0].ExitEvents[0].Reason, "tie_break=%s", tc.tieBreak)
	}
}

func TestTimeStopExit(t *testing.T) {
	// Expiry 2024-01-30: DTE drops to 21 on 2024-01-09.
	series := tradingDays(t, []float64{400, 400, 400, 400, 400, 400})
	prices := map[string]float64{}
	for _, d := range []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-08", "2024-01-09"} {
		prices[d] = 0.15
	}
	model := &scriptModel{prices: prices}
	cfg := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-01-09"),
		InitialCash: 10000,
		Exits:       ExitRules{TimeStopDTE: 21},
	}
	eng, err := New(cfg, model, series, []ScheduledEntry{
		shortStraddleEntry(t, day(t, "2024-01-30")),
	}, nil)
	require.NoError(t, err)

	rows, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 6)
	last := rows[len(rows)-1]
	require.Len(t, last.ExitEvents, 1)
	assert.Equal(t, portfolio.ExitTimeStop, last.ExitEvents[0].Reason)
	assert.Equal(t, day(t, "2024-01-09"), last.Date)
}

func TestExpirySettlesAtIntrinsic(t *testing.T) {
	// No thresholds: the straddle rides to its 2024-01-09 expiry and
	// settles at payoff with no slippage or fees.
	series := tradingDays(t, []float64{400, 402, 399, 401, 403, 405})
	prices := map[string]float64{}
	for _, d := range []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-08", "2024-01-09"} {
		prices[d] = 0.15
	}
	model := &scriptModel{prices: prices}
	cfg := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-01-09"),
		InitialCash: 10000,
		Costs:       Costs{PerContract: 0.65, SlippagePct: 0.01, TickSize: 0.01},
	}
	eng, err := New(cfg, model, series, []ScheduledEntry{
		shortStraddleEntry(t, day(t, "2024-01-09")),
	}, nil)
	require.NoError(t, err)

	rows, err := eng.Run(context.Background())
	require.NoError(t, err)
	last := rows[len(rows)-1]
	require.Len(t, last.ExitEvents, 1)
	ev := last.ExitEvents[0]
	assert.Equal(t, portfolio.ExitExpiry, ev.Reason)
	// Spot 405 vs strike 400: short straddle settles -500.
	assert.InDelta(t, -500.00, ev.Mark, 1e-9)
	assert.InDelta(t, -500.00, ev.CashDelta, 1e-9)
}

func TestEntryCosts(t *testing.T) {
	series := tradingDays(t, []float64{400})
	model := &scriptModel{prices: map[string]float64{"2024-01-02": 0.15}}
	cfg := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-01-02"),
		InitialCash: 10000,
		Costs:       Costs{PerContract: 0.65, SlippagePct: 0.01, TickSize: 0.01},
	}
	eng, err := New(cfg, model, series, []ScheduledEntry{
		shortStraddleEntry(t, day(t, "2024-06-21")),
	}, nil)
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	require.NoError(t, err)

	// Credit 30.00, slippage 0.30, two contracts of fees 1.30.
	assert.InDelta(t, 10028.40, eng.Portfolio().Cash, 1e-9)
	pos := eng.Portfolio().Positions[0]
	assert.InDelta(t, -30.00, pos.EntryValue, 1e-9, "entry value is the pre-cost mark")
}

func TestRunIsDeterministic(t *testing.T) {
	series := tradingDays(t, []float64{400, 401, 399, 400, 400})
	prices := map[string]float64{
		"2024-01-02": 0.15, "2024-01-03": 0.13, "2024-01-04": 0.11,
		"2024-01-05": 0.10, "2024-01-08": 0.09,
	}
	cfg := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-01-08"),
		InitialCash: 10000,
		Exits:       ExitRules{ProfitTargetPct: 0.25},
		Costs:       Costs{PerContract: 0.65, SlippagePct: 0.01, TickSize: 0.01},
	}

	run := func() ([]DayResult, []portfolio.TradeEntry) {
		eng, err := New(cfg, &scriptModel{prices: prices}, series, []ScheduledEntry{
			shortStraddleEntry(t, day(t, "2024-06-21")),
		}, nil)
		require.NoError(t, err)
		rows, err := eng.Run(context.Background())
		require.NoError(t, err)
		return rows, eng.Portfolio().TradeLog
	}
	rows1, log1 := run()
	rows2, log2 := run()
	assert.Equal(t, rows1, rows2)
	// Trade-log IDs are content-derived, so the logs match field for field.
	assert.Equal(t, log1, log2)

	serialized := func(log []portfolio.TradeEntry) string {
		b, err := json.Marshal(log)
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, serialized(log1), serialized(log2))
}

func TestRunAbortsOnPricingFailure(t *testing.T) {
	series := tradingDays(t, []float64{400, 401})
	// Second day has no scripted price.
	model := &scriptModel{prices: map[string]float64{"2024-01-02": 0.15}}
	cfg := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-01-03"),
		InitialCash: 10000,
	}
	eng, err := New(cfg, model, series, []ScheduledEntry{
		shortStraddleEntry(t, day(t, "2024-06-21")),
	}, nil)
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-01-03")
}

func TestRunHonorsContextCancellation(t *testing.T) {
	series := tradingDays(t, []float64{400, 401})
	model := &scriptModel{prices: map[string]float64{"2024-01-02": 0.15, "2024-01-03": 0.15}}
	cfg := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-01-03"),
		InitialCash: 10000,
	}
	eng, err := New(cfg, model, series, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRollingEntries(t *testing.T) {
	// 2024-01-02 (Tue) through 2024-01-16: three ISO weeks.
	series := tradingDays(t, []float64{400, 400, 400, 400, 400, 400, 400, 400, 400, 400, 400})
	factory := func(date time.Time, s *market.Series) (*instrument.Strategy, error) {
		spot, err := s.Spot(date)
		if err != nil {
			return nil, err
		}
		return instrument.NewStraddle("SPY", spot, date.AddDate(0, 0, 30), instrument.Short, 1)
	}

	weekly, err := RollingEntries(series, series.FirstDate(), series.LastDate(), CadenceWeekly, factory)
	require.NoError(t, err)
	require.Len(t, weekly, 3)
	assert.Equal(t, day(t, "2024-01-02"), weekly[0].Date)
	assert.Equal(t, day(t, "2024-01-08"), weekly[1].Date)
	assert.Equal(t, day(t, "2024-01-15"), weekly[2].Date)

	daily, err := RollingEntries(series, series.FirstDate(), series.LastDate(), CadenceDaily, factory)
	require.NoError(t, err)
	assert.Len(t, daily, 11)

	monthly, err := RollingEntries(series, series.FirstDate(), series.LastDate(), CadenceMonthly, factory)
	require.NoError(t, err)
	assert.Len(t, monthly, 1)

	_, err = RollingEntries(series, series.FirstDate(), series.LastDate(), "fortnightly", factory)
	assert.Error(t, err)
}

func TestSweepRunsIndependently(t *testing.T) {
	series := tradingDays(t, []float64{400, 401, 399, 400, 400})
	prices := map[string]float64{
		"2024-01-02": 0.15, "2024-01-03": 0.13, "2024-01-04": 0.11,
		"2024-01-05": 0.10, "2024-01-08": 0.09,
	}
	baseCfg := Config{
		Start:       day(t, "2024-01-02"),
		End:         day(t, "2024-01-08"),
		InitialCash: 10000,
	}
	tight := baseCfg
	tight.Exits = ExitRules{ProfitTargetPct: 0.25}
	loose := baseCfg
	loose.Exits = ExitRules{ProfitTargetPct: 0.6}

	runs := []SweepRun{
		{Name: "pt25", Config: tight, Model: &scriptModel{prices: prices},
			Entries: []ScheduledEntry{shortStraddleEntry(t, day(t, "2024-06-21"))}},
		{Name: "pt60", Config: loose, Model: &scriptModel{prices: prices},
			Entries: []ScheduledEntry{shortStraddleEntry(t, day(t, "2024-06-21"))}},
	}

	results, err := Sweep(context.Background(), series, runs, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "pt25", results[0].Name)
	assert.Equal(t, "pt60", results[1].Name)

	// Tight target closes on day 3; loose never hits within the window.
	assert.Equal(t, portfolio.StatusClosed, results[0].Portfolio.Positions[0].Status)
	assert.Equal(t, portfolio.StatusOpen, results[1].Portfolio.Positions[0].Status)
	assert.Len(t, results[0].Rows, 3)
	assert.Len(t, results[1].Rows, 5)
}

func TestStraddleFactory(t *testing.T) {
	series := tradingDays(t, []float64{400.4})
	factory := StraddleFactory(instrument.Short, 30, 2)

	s, err := factory(day(t, "2024-01-02"), series)
	require.NoError(t, err)
	require.Len(t, s.Legs(), 2)
	assert.Equal(t, day(t, "2024-02-01"), s.Expiry())
	for _, leg := range s.Legs() {
		assert.Equal(t, 400.0, leg.Contract.Strike)
		assert.Equal(t, -2.0, leg.Quantity)
	}

	_, err = factory(day(t, "2024-01-03"), series)
	assert.Error(t, err)
}

func TestStrangleFactory(t *testing.T) {
	series := tradingDays(t, []float64{400.4})
	factory := StrangleFactory(instrument.Short, 45, 0.05, 1)

	s, err := factory(day(t, "2024-01-02"), series)
	require.NoError(t, err)
	require.Len(t, s.Legs(), 2)

	strikes := map[instrument.Kind]float64{}
	for _, leg := range s.Legs() {
		strikes[leg.Contract.Kind] = leg.Contract.Strike
		assert.Equal(t, -1.0, leg.Quantity)
	}
	assert.Equal(t, 380.0, strikes[instrument.Put])
	assert.Equal(t, 420.0, strikes[instrument.Call])
	assert.Equal(t, day(t, "2024-02-16"), s.Expiry())
}
