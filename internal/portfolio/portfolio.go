// Package portfolio holds the simulated book: cash, option positions and
// the append-only trade log. All mutation goes through the engine; pricing
// and Greeks aggregation are pure reads against a market series and model.
package portfolio

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
)

// Status is the lifecycle flag of a position.
type Status string

const (
	// StatusPending is a position whose entry date has not arrived yet.
	StatusPending Status = "pending"
	// StatusOpen is a live position included in valuation.
	StatusOpen Status = "open"
	// StatusClosed is a terminated position skipped by valuation.
	StatusClosed Status = "closed"
)

// ExitReason records why the engine closed a position.
type ExitReason string

const (
	ExitProfitTarget ExitReason = "profit_target"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTimeStop     ExitReason = "time_stop"
	ExitExpiry       ExitReason = "expiry"
)

// Position wraps an immutable strategy with its lifecycle state. Only the
// flags move; the legs never change after entry.
type Position struct {
	Strategy   *instrument.Strategy `json:"strategy"`
	Status     Status               `json:"status"`
	EntryDate  time.Time            `json:"entry_date"`
	ExitDate   time.Time            `json:"exit_date,omitempty"`
	ExitReason ExitReason           `json:"exit_reason,omitempty"`
	// EntryValue is the mark at entry, signed from the holder's side:
	// negative for net credit received.
	EntryValue float64 `json:"entry_value"`
}

// Open reports whether the position participates in valuation.
func (p *Position) Open() bool { return p.Status == StatusOpen }

// DaysToExpiry returns calendar days until the earliest leg expiry, the
// number time-stop rules compare against.
func (p *Position) DaysToExpiry(date time.Time) int {
	return market.CalendarDays(date, p.Strategy.EarliestExpiry())
}

// TradeEntry is one immutable row of the trade log. CashDelta is carried
// in decimal so the log sums exactly, while Portfolio.Cash stays float64
// for valuation arithmetic.
type TradeEntry struct {
	ID            string          `json:"id"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	CashDelta     decimal.Decimal `json:"cash_delta"`
	PositionIndex int             `json:"position_index"`
}

// Portfolio is the mutable simulation book. Cash may go negative; margin
// is out of scope so premium received simply raises cash.
type Portfolio struct {
	Cash      float64      `json:"cash"`
	Positions []*Position  `json:"positions"`
	TradeLog  []TradeEntry `json:"trade_log"`
}

// New returns a portfolio seeded with initial cash.
func New(initialCash float64) *Portfolio {
	return &Portfolio{Cash: initialCash}
}

// AddStrategy appends a new pending position and returns its index.
func (pf *Portfolio) AddStrategy(s *instrument.Strategy, entryDate time.Time) int {
	pf.Positions = append(pf.Positions, &Position{
		Strategy:  s,
		Status:    StatusPending,
		EntryDate: entryDate,
	})
	return len(pf.Positions) - 1
}

// Value marks all open positions to market under the model. Closed and
// pending positions contribute nothing.
func (pf *Portfolio) Value(date time.Time, series *market.Series, model pricing.Model) (float64, error) {
	total := 0.0
	for i, pos := range pf.Positions {
		if !pos.Open() {
			continue
		}
		v, err := pf.positionValue(pos, date, series, model)
		if err != nil {
			return 0, fmt.Errorf("position %d: %w", i, err)
		}
		total += v
	}
	return total, nil
}

// PositionValue marks a single position to market under the model.
func (pf *Portfolio) PositionValue(idx int, date time.Time, series *market.Series, model pricing.Model) (float64, error) {
	if idx < 0 || idx >= len(pf.Positions) {
		return 0, fmt.Errorf("position index %d out of range", idx)
	}
	return pf.positionValue(pf.Positions[idx], date, series, model)
}

func (pf *Portfolio) positionValue(pos *Position, date time.Time, series *market.Series, model pricing.Model) (float64, error) {
	total := 0.0
	for _, leg := range pos.Strategy.Legs() {
		px, err := model.Price(leg.Contract, date, series)
		if err != nil {
			return 0, err
		}
		total += px * leg.Quantity * leg.Multiplier
	}
	return total, nil
}

// AggregateGreeks sums per-leg Greeks weighted by signed quantity and
// multiplier across all open positions.
func (pf *Portfolio) AggregateGreeks(date time.Time, series *market.Series, model pricing.Model) (pricing.Greeks, error) {
	var agg pricing.Greeks
	for i, pos := range pf.Positions {
		if !pos.Open() {
			continue
		}
		for _, leg := range pos.Strategy.Legs() {
			g, err := model.Greeks(leg.Contract, date, series)
			if err != nil {
				return pricing.Greeks{}, fmt.Errorf("position %d: %w", i, err)
			}
			agg = agg.Add(g.Scale(leg.Quantity * leg.Multiplier))
		}
	}
	return agg, nil
}

// RecordTrade appends to the trade log and applies cashDelta to cash.
// Prior entries are never touched. The ID is a name-based UUID over the
// entry's index and content: identical runs must serialize identical logs.
func (pf *Portfolio) RecordTrade(date time.Time, description string, cashDelta float64, positionIndex int) {
	name := fmt.Sprintf("%d|%s|%s|%d",
		len(pf.TradeLog), date.Format("2006-01-02"), description, positionIndex)
	pf.TradeLog = append(pf.TradeLog, TradeEntry{
		ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String(),
		Date:          date,
		Description:   description,
		CashDelta:     decimal.NewFromFloat(cashDelta),
		PositionIndex: positionIndex,
	})
	pf.Cash += cashDelta
}

// LoggedCash replays the trade log in decimal on top of the given initial
// cash, for exact reconciliation against the float64 balance.
func (pf *Portfolio) LoggedCash(initialCash float64) decimal.Decimal {
	sum := decimal.NewFromFloat(initialCash)
	for _, e := range pf.TradeLog {
		sum = sum.Add(e.CashDelta)
	}
	return sum
}

// OpenCount returns the number of open positions.
func (pf *Portfolio) OpenCount() int {
	n := 0
	for _, pos := range pf.Positions {
		if pos.Open() {
			n++
		}
	}
	return n
}

// PendingCount returns the number of positions awaiting entry.
func (pf *Portfolio) PendingCount() int {
	n := 0
	for _, pos := range pf.Positions {
		if pos.Status == StatusPending {
			n++
		}
	}
	return n
}
