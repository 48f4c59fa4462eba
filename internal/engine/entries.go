package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// Cadence is the recurrence of a rolling entry schedule.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Valid reports whether c is a known cadence.
func (c Cadence) Valid() bool {
	return c == CadenceDaily || c == CadenceWeekly || c == CadenceMonthly
}

// StrategyFactory builds the strategy to enter on a given trading day,
// typically reading the day's spot to pick strikes. Returning a nil
// strategy with nil error skips that day.
type StrategyFactory func(date time.Time, series *market.Series) (*instrument.Strategy, error)

// RollingEntries produces one scheduled entry per cadence bucket over the
// series' trading days in [start, end]: every day, the first trading day
// of each ISO week, or the first trading day of each month.
func RollingEntries(series *market.Series, start, end time.Time, cadence Cadence, factory StrategyFactory) ([]ScheduledEntry, error) {
	if !cadence.Valid() {
		return nil, fmt.Errorf("rolling entries: unknown cadence %q", cadence)
	}
	if factory == nil {
		return nil, fmt.Errorf("rolling entries: factory is required")
	}

	var entries []ScheduledEntry
	lastBucket := ""
	for _, date := range series.Dates(start, end) {
		bucket := cadenceBucket(cadence, date)
		if bucket == lastBucket {
			continue
		}
		lastBucket = bucket

		s, err := factory(date, series)
		if err != nil {
			return nil, fmt.Errorf("rolling entries: %s: %w", date.Format("2006-01-02"), err)
		}
		if s == nil {
			continue
		}
		entries = append(entries, ScheduledEntry{Strategy: s, Date: date})
	}
	return entries, nil
}

// StraddleFactory sells or buys an ATM straddle struck at the whole-dollar
// spot, expiring targetDTE calendar days out. The expiry can land on a
// non-trading day; the position then settles on the next session.
func StraddleFactory(dir instrument.Direction, targetDTE int, qty float64) StrategyFactory {
	return func(date time.Time, series *market.Series) (*instrument.Strategy, error) {
		spot, err := series.Spot(date)
		if err != nil {
			return nil, err
		}
		expiry := date.AddDate(0, 0, targetDTE)
		return instrument.NewStraddle(series.Underlying(), math.Round(spot), expiry, dir, qty)
	}
}

// StrangleFactory places the put and call wings widthPct of spot below and
// above the whole-dollar spot.
func StrangleFactory(dir instrument.Direction, targetDTE int, widthPct, qty float64) StrategyFactory {
	return func(date time.Time, series *market.Series) (*instrument.Strategy, error) {
		spot, err := series.Spot(date)
		if err != nil {
			return nil, err
		}
		expiry := date.AddDate(0, 0, targetDTE)
		putStrike := math.Round(spot * (1 - widthPct))
		callStrike := math.Round(spot * (1 + widthPct))
		return instrument.NewStrangle(series.Underlying(), putStrike, callStrike, expiry, dir, qty)
	}
}

func cadenceBucket(c Cadence, date time.Time) string {
	switch c {
	case CadenceWeekly:
		year, week := date.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case CadenceMonthly:
		return date.Format("2006-01")
	default:
		return date.Format("2006-01-02")
	}
}
