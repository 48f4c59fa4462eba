package market

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DaysPerYear is the act/365 day-count basis used everywhere in the core.
const DaysPerYear = 365.0

// CalendarDays returns whole calendar days from one date to another, both
// truncated to UTC midnight. Past dates yield negative values.
func CalendarDays(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	return int(t.Sub(f).Hours() / 24)
}

// YearFraction converts a calendar-day count to act/365 years.
func YearFraction(days int) float64 { return float64(days) / DaysPerYear }

// Snapshot is the full market state for one underlying on one trading day.
type Snapshot struct {
	Date          time.Time `json:"date"`
	Spot          float64   `json:"spot"`
	Surface       *Surface  `json:"-"`
	Rate          float64   `json:"rate"`
	DividendYield float64   `json:"dividend_yield"`
}

// Series is an ordered-by-date sequence of market snapshots for one
// underlying over a contiguous trading calendar. It is read-only after
// construction and safe to share across concurrent backtest runs.
//
// The bump fields support bump-and-revalue Greeks: Bump* methods return a
// shallow view over the same snapshots with an adjustment applied uniformly,
// so the surface's skew shape is held fixed per bump.
type Series struct {
	underlying string
	dates      []time.Time
	index      map[int64]int
	snaps      []Snapshot

	spotScale float64 // multiplicative, 0 means identity
	volShift  float64 // additive, absolute vol points
	rateShift float64 // additive
}

func dayKey(t time.Time) int64 {
	return t.UTC().Truncate(24 * time.Hour).Unix()
}

// NewSeries validates the snapshots and builds a queryable series.
// Snapshots must be unique per date; spots must be positive and finite.
func NewSeries(underlying string, snaps []Snapshot) (*Series, error) {
	if underlying == "" {
		return nil, fmt.Errorf("market series: underlying is required")
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("market series %s: no snapshots", underlying)
	}

	sorted := make([]Snapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	s := &Series{
		underlying: underlying,
		dates:      make([]time.Time, 0, len(sorted)),
		index:      make(map[int64]int, len(sorted)),
		snaps:      sorted,
	}
	for i, snap := range sorted {
		if snap.Spot <= 0 || math.IsNaN(snap.Spot) || math.IsInf(snap.Spot, 0) {
			return nil, fmt.Errorf("market series %s: invalid spot %v on %s",
				underlying, snap.Spot, snap.Date.Format("2006-01-02"))
		}
		key := dayKey(snap.Date)
		if _, dup := s.index[key]; dup {
			return nil, fmt.Errorf("market series %s: duplicate snapshot for %s",
				underlying, snap.Date.Format("2006-01-02"))
		}
		s.index[key] = i
		s.dates = append(s.dates, snap.Date.UTC().Truncate(24*time.Hour))
	}
	return s, nil
}

// Underlying returns the ticker the series covers.
func (s *Series) Underlying() string { return s.underlying }

func (s *Series) lookup(date time.Time, field string) (*Snapshot, error) {
	i, ok := s.index[dayKey(date)]
	if !ok {
		return nil, &MissingMarketDataError{Underlying: s.underlying, Date: date, Field: field}
	}
	return &s.snaps[i], nil
}

// Spot returns the spot price for the given trading day.
func (s *Series) Spot(date time.Time) (float64, error) {
	snap, err := s.lookup(date, "spot")
	if err != nil {
		return 0, err
	}
	if s.spotScale != 0 {
		return snap.Spot * s.spotScale, nil
	}
	return snap.Spot, nil
}

// Rate returns the continuously-compounded risk-free rate for the day.
func (s *Series) Rate(date time.Time) (float64, error) {
	snap, err := s.lookup(date, "rate")
	if err != nil {
		return 0, err
	}
	return snap.Rate + s.rateShift, nil
}

// DividendYield returns the continuous dividend yield for the day.
func (s *Series) DividendYield(date time.Time) (float64, error) {
	snap, err := s.lookup(date, "dividend_yield")
	if err != nil {
		return 0, err
	}
	return snap.DividendYield, nil
}

// SurfaceAt returns the day's volatility surface.
func (s *Series) SurfaceAt(date time.Time) (*Surface, error) {
	snap, err := s.lookup(date, "surface")
	if err != nil {
		return nil, err
	}
	if snap.Surface == nil {
		return nil, &MissingMarketDataError{Underlying: s.underlying, Date: date, Field: "surface"}
	}
	return snap.Surface, nil
}

// ImpliedVol queries the day's surface at (strike, tenorDays), applying any
// active vol bump on top of the quoted level.
func (s *Series) ImpliedVol(date time.Time, strike, tenorDays float64) (float64, error) {
	surf, err := s.SurfaceAt(date)
	if err != nil {
		return 0, err
	}
	vol, err := surf.ImpliedVol(strike, tenorDays)
	if err != nil {
		return 0, err
	}
	return vol + s.volShift, nil
}

// Forward returns the model-free forward F = S * exp((r - q) * T).
func (s *Series) Forward(date, expiry time.Time) (float64, error) {
	spot, err := s.Spot(date)
	if err != nil {
		return 0, err
	}
	r, err := s.Rate(date)
	if err != nil {
		return 0, err
	}
	q, err := s.DividendYield(date)
	if err != nil {
		return 0, err
	}
	t := YearFraction(CalendarDays(date, expiry))
	return spot * math.Exp((r-q)*t), nil
}

// Dates returns the trading days in [start, end], inclusive.
func (s *Series) Dates(start, end time.Time) []time.Time {
	startKey, endKey := dayKey(start), dayKey(end)
	var out []time.Time
	for _, d := range s.dates {
		k := dayKey(d)
		if k >= startKey && k <= endKey {
			out = append(out, d)
		}
	}
	return out
}

// FirstDate returns the earliest trading day in the series.
func (s *Series) FirstDate() time.Time { return s.dates[0] }

// LastDate returns the latest trading day in the series.
func (s *Series) LastDate() time.Time { return s.dates[len(s.dates)-1] }

// BumpSpot returns a view with every spot scaled by (1 + pct).
func (s *Series) BumpSpot(pct float64) *Series {
	v := *s
	base := s.spotScale
	if base == 0 {
		base = 1
	}
	v.spotScale = base * (1 + pct)
	return &v
}

// BumpVol returns a view with an absolute parallel shift applied to every
// surface query, holding the skew shape fixed.
func (s *Series) BumpVol(abs float64) *Series {
	v := *s
	v.volShift += abs
	return &v
}

// BumpRate returns a view with an absolute shift applied to the rate curve.
func (s *Series) BumpRate(abs float64) *Series {
	v := *s
	v.rateShift += abs
	return &v
}
