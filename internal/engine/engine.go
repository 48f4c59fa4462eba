// Package engine runs the daily backtest loop: it executes scheduled
// entries, marks the portfolio under a pricing model, evaluates exit rules
// in fixed priority, applies transaction costs, and emits one immutable
// result row per simulated day.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
	"github.com/eddiefleurent/scranton_backtester/internal/portfolio"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
	"github.com/eddiefleurent/scranton_backtester/internal/util"
)

// TieBreak selects which rule wins when a gap day crosses both the profit
// target and the stop loss between observations.
type TieBreak string

const (
	// TieBreakProfitFirst books the profit target on ambiguous days.
	TieBreakProfitFirst TieBreak = "profit_first"
	// TieBreakStopFirst books the stop loss on ambiguous days.
	TieBreakStopFirst TieBreak = "stop_first"
)

// Valid reports whether t is a known tie-break policy.
func (t TieBreak) Valid() bool {
	return t == TieBreakProfitFirst || t == TieBreakStopFirst
}

// ExitRules are the engine's position-closing thresholds. Percentages are
// fractions of the absolute entry value; a zero threshold disables that
// rule. Natural expiry always applies.
type ExitRules struct {
	ProfitTargetPct float64  `yaml:"profit_target_pct" json:"profit_target_pct"`
	StopLossPct     float64  `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TimeStopDTE     int      `yaml:"time_stop_dte" json:"time_stop_dte"`
	TieBreak        TieBreak `yaml:"tie_break" json:"tie_break"`
}

// Costs is the transaction cost model: a flat per-contract fee plus
// proportional slippage against the mid, rounded to the tick.
type Costs struct {
	PerContract float64 `yaml:"per_contract" json:"per_contract"`
	SlippagePct float64 `yaml:"slippage_pct" json:"slippage_pct"`
	TickSize    float64 `yaml:"tick_size" json:"tick_size"`
}

// Config is one backtest run's parameters. The pricing model is passed
// separately so sweeps can share a config across model variants.
type Config struct {
	Start       time.Time `yaml:"start" json:"start"`
	End         time.Time `yaml:"end" json:"end"`
	InitialCash float64   `yaml:"initial_cash" json:"initial_cash"`
	Costs       Costs     `yaml:"costs" json:"costs"`
	Exits       ExitRules `yaml:"exits" json:"exits"`
}

// Validate checks the run window and thresholds.
func (c Config) Validate() error {
	if c.Start.IsZero() || c.End.IsZero() {
		return fmt.Errorf("engine config: start and end are required")
	}
	if c.End.Before(c.Start) {
		return fmt.Errorf("engine config: end %s before start %s",
			c.End.Format("2006-01-02"), c.Start.Format("2006-01-02"))
	}
	if c.Exits.ProfitTargetPct < 0 || c.Exits.StopLossPct < 0 {
		return fmt.Errorf("engine config: exit thresholds must be >= 0")
	}
	if c.Exits.TimeStopDTE < 0 {
		return fmt.Errorf("engine config: time_stop_dte must be >= 0")
	}
	if c.Exits.TieBreak != "" && !c.Exits.TieBreak.Valid() {
		return fmt.Errorf("engine config: unknown tie_break %q", c.Exits.TieBreak)
	}
	if c.Costs.PerContract < 0 || c.Costs.SlippagePct < 0 || c.Costs.TickSize < 0 {
		return fmt.Errorf("engine config: costs must be >= 0")
	}
	return nil
}

// ScheduledEntry is a strategy the engine opens on its entry date with the
// standard cost model applied.
type ScheduledEntry struct {
	Strategy *instrument.Strategy
	Date     time.Time
}

// ExitEvent records one position close within a day row.
type ExitEvent struct {
	PositionIndex int                  `json:"position_index"`
	Reason        portfolio.ExitReason `json:"reason"`
	Mark          float64              `json:"mark"`       // closing mark, pre-cost
	CashDelta     float64              `json:"cash_delta"` // realized flow incl. costs
}

// DayResult is one simulated trading day. Rows are never mutated after
// emission; attribution and reporting consume them read-only.
type DayResult struct {
	Date           time.Time      `json:"date"`
	PortfolioValue float64        `json:"portfolio_value"` // open positions MTM
	Cash           float64        `json:"cash"`
	Greeks         pricing.Greeks `json:"greeks"`
	ExitEvents     []ExitEvent    `json:"exit_events,omitempty"`
}

// Equity is mark-to-market value plus cash.
func (r DayResult) Equity() float64 { return r.PortfolioValue + r.Cash }

// Engine owns one run's state: config, model, market data, the portfolio
// and the pending entry schedule. Nothing is shared between engines, which
// is what allows sweeps to run them concurrently over one series.
type Engine struct {
	cfg     Config
	model   pricing.Model
	series  *market.Series
	pf      *portfolio.Portfolio
	entries []ScheduledEntry
	logger  *log.Logger
}

// New validates the config and entry schedule and returns an engine with a
// fresh portfolio. A nil logger discards output.
func New(cfg Config, model pricing.Model, series *market.Series, entries []ScheduledEntry, logger *log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("engine: pricing model is required")
	}
	if series == nil {
		return nil, fmt.Errorf("engine: market series is required")
	}
	for i, e := range entries {
		if e.Strategy == nil {
			return nil, fmt.Errorf("engine: entry %d has no strategy", i)
		}
		if e.Date.Before(cfg.Start) || e.Date.After(cfg.End) {
			return nil, fmt.Errorf("engine: entry %d date %s outside run window",
				i, e.Date.Format("2006-01-02"))
		}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.Exits.TieBreak == "" {
		cfg.Exits.TieBreak = TieBreakProfitFirst
	}

	sorted := make([]ScheduledEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	return &Engine{
		cfg:     cfg,
		model:   model,
		series:  series,
		pf:      portfolio.New(cfg.InitialCash),
		entries: sorted,
		logger:  logger,
	}, nil
}

// Portfolio returns the engine's book. After Run it holds the final cash,
// positions and trade log.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pf }

// Run executes the day loop from start to end, or until every position has
// closed and no entries remain, whichever comes first. Identical inputs
// produce identical rows and trade log.
func (e *Engine) Run(ctx context.Context) ([]DayResult, error) {
	dates := e.series.Dates(e.cfg.Start, e.cfg.End)
	if len(dates) == 0 {
		return nil, fmt.Errorf("engine: no market dates in window %s..%s",
			e.cfg.Start.Format("2006-01-02"), e.cfg.End.Format("2006-01-02"))
	}

	rows := make([]DayResult, 0, len(dates))
	nextEntry := 0
	opened := false

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return rows, fmt.Errorf("engine: run cancelled on %s: %w",
				date.Format("2006-01-02"), err)
		}

		// Before-open: execute entries due today.
		for nextEntry < len(e.entries) && !e.entries[nextEntry].Date.After(date) {
			if err := e.openPosition(e.entries[nextEntry].Strategy, date); err != nil {
				return rows, fmt.Errorf("engine: entry on %s: %w",
					date.Format("2006-01-02"), err)
			}
			opened = true
			nextEntry++
		}

		row, err := e.simulateDay(date)
		if err != nil {
			return rows, fmt.Errorf("engine: %s: %w", date.Format("2006-01-02"), err)
		}
		rows = append(rows, row)

		if opened && e.pf.OpenCount() == 0 && nextEntry >= len(e.entries) {
			e.logger.Printf("all positions closed on %s, ending run early",
				date.Format("2006-01-02"))
			break
		}
	}
	return rows, nil
}

// openPosition adds the strategy to the book and realizes the entry flow:
// premium paid or received, with slippage and fees against the trader.
func (e *Engine) openPosition(s *instrument.Strategy, date time.Time) error {
	idx := e.pf.AddStrategy(s, date)
	pos := e.pf.Positions[idx]
	pos.Status = portfolio.StatusOpen

	mark, err := e.pf.PositionValue(idx, date, e.series, e.model)
	if err != nil {
		return fmt.Errorf("marking %s: %w", s.Name, err)
	}
	pos.EntryValue = mark

	flow := e.tradeFlow(-mark, mark, s.Contracts())
	e.pf.RecordTrade(date, fmt.Sprintf("open %s", s.Name), flow, idx)
	e.logger.Printf("opened %s at mark %.2f (cash %+.2f)", s.Name, mark, flow)
	return nil
}

// simulateDay values the book, applies exit rules per open position and
// emits the day row reflecting the post-exit book.
func (e *Engine) simulateDay(date time.Time) (DayResult, error) {
	var events []ExitEvent
	for idx, pos := range e.pf.Positions {
		if !pos.Open() {
			continue
		}
		ev, closed, err := e.evaluateExit(idx, pos, date)
		if err != nil {
			return DayResult{}, err
		}
		if closed {
			events = append(events, ev)
		}
	}

	value, err := e.pf.Value(date, e.series, e.model)
	if err != nil {
		return DayResult{}, err
	}
	greeks, err := e.pf.AggregateGreeks(date, e.series, e.model)
	if err != nil {
		return DayResult{}, err
	}

	return DayResult{
		Date:           date,
		PortfolioValue: value,
		Cash:           e.pf.Cash,
		Greeks:         greeks,
		ExitEvents:     events,
	}, nil
}

// evaluateExit checks the rules in priority order: profit target, stop
// loss (order swapped under stop_first), time stop, natural expiry. It
// closes the position at the first hit.
func (e *Engine) evaluateExit(idx int, pos *portfolio.Position, date time.Time) (ExitEvent, bool, error) {
	mark, err := e.pf.PositionValue(idx, date, e.series, e.model)
	if err != nil {
		return ExitEvent{}, false, fmt.Errorf("position %d: %w", idx, err)
	}

	pnl := mark - pos.EntryValue
	base := math.Abs(pos.EntryValue)
	profitHit := e.cfg.Exits.ProfitTargetPct > 0 && pnl >= e.cfg.Exits.ProfitTargetPct*base
	stopHit := e.cfg.Exits.StopLossPct > 0 && pnl <= -e.cfg.Exits.StopLossPct*base

	dte := pos.DaysToExpiry(date)
	var reason portfolio.ExitReason
	switch {
	case profitHit && stopHit:
		// Gap day crossed both thresholds; the intraday path is
		// unobserved, so the configured tie-break decides.
		reason = portfolio.ExitProfitTarget
		if e.cfg.Exits.TieBreak == TieBreakStopFirst {
			reason = portfolio.ExitStopLoss
		}
	case profitHit:
		reason = portfolio.ExitProfitTarget
	case stopHit:
		reason = portfolio.ExitStopLoss
	case e.cfg.Exits.TimeStopDTE > 0 && dte <= e.cfg.Exits.TimeStopDTE && dte > 0:
		reason = portfolio.ExitTimeStop
	case dte <= 0:
		reason = portfolio.ExitExpiry
	default:
		return ExitEvent{}, false, nil
	}

	var flow float64
	if reason == portfolio.ExitExpiry {
		// Expiry settles at intrinsic with no spread to cross.
		spot, err := e.series.Spot(date)
		if err != nil {
			return ExitEvent{}, false, fmt.Errorf("position %d: %w", idx, err)
		}
		settle := pos.Strategy.PayoffAtExpiry(spot)
		mark = settle
		flow = util.RoundToTick(settle, e.cfg.Costs.TickSize)
	} else {
		flow = e.tradeFlow(mark, mark, pos.Strategy.Contracts())
	}

	pos.Status = portfolio.StatusClosed
	pos.ExitDate = date
	pos.ExitReason = reason
	e.pf.RecordTrade(date, fmt.Sprintf("close %s (%s)", pos.Strategy.Name, reason), flow, idx)
	e.logger.Printf("closed %s on %s: %s, mark %.2f, cash %+.2f",
		pos.Strategy.Name, date.Format("2006-01-02"), reason, mark, flow)

	return ExitEvent{PositionIndex: idx, Reason: reason, Mark: mark, CashDelta: flow}, true, nil
}

// tradeFlow converts a gross flow into the realized cash delta: slippage
// proportional to the traded mark is charged against the trader, the
// result is rounded to the tick, and per-contract fees are subtracted.
func (e *Engine) tradeFlow(gross, mark float64, contracts float64) float64 {
	flow := gross - math.Abs(mark)*e.cfg.Costs.SlippagePct
	flow = util.RoundToTick(flow, e.cfg.Costs.TickSize)
	return flow - e.cfg.Costs.PerContract*contracts
}
