// Package market holds the read-only market data substrate the valuation
// layer consumes: per-date implied volatility surfaces and the date-indexed
// series of spot, rate and dividend yield.
package market

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Extrapolation selects the behavior for (strike, tenor) queries that fall
// outside the quoted grid.
type Extrapolation string

const (
	// ExtrapolateFlat clamps to the nearest quoted edge. This is the
	// default: it keeps far-OTM vols bounded instead of letting a fitted
	// wing go negative or explode.
	ExtrapolateFlat Extrapolation = "flat"
	// ExtrapolateError rejects any query outside the quoted grid.
	ExtrapolateError Extrapolation = "error"
)

// Valid returns true if the policy is one of the defined constants.
func (x Extrapolation) Valid() bool {
	return x == ExtrapolateFlat || x == ExtrapolateError
}

// VolQuote is one quoted point of an implied volatility surface.
type VolQuote struct {
	Strike    float64 `json:"strike"`
	TenorDays int     `json:"tenor_days"`
	Vol       float64 `json:"vol"` // decimal, 0.20 = 20%
}

type volPoint struct {
	strike float64
	vol    float64
}

// Surface is an implied volatility snapshot for one underlying on one date,
// keyed by (strike, tenor in calendar days). Interpolation is linear in
// strike within a tenor slice and linear in tenor between slices.
// A Surface is immutable after construction and safe for concurrent readers.
type Surface struct {
	underlying string
	date       time.Time
	extrap     Extrapolation
	tenors     []int        // ascending
	slices     [][]volPoint // per tenor, ascending by strike
}

// NewSurface validates and builds a surface from quoted points.
// It fails with *SurfaceConstructionError when any tenor slice has fewer
// than two distinct strikes, when duplicate (strike, tenor) entries conflict,
// or when a quoted vol or tenor is non-positive.
func NewSurface(underlying string, date time.Time, quotes []VolQuote, extrap Extrapolation) (*Surface, error) {
	if extrap == "" {
		extrap = ExtrapolateFlat
	}
	if !extrap.Valid() {
		return nil, &SurfaceConstructionError{underlying, date,
			fmt.Sprintf("unknown extrapolation policy %q", extrap)}
	}
	if len(quotes) == 0 {
		return nil, &SurfaceConstructionError{underlying, date, "no quotes supplied"}
	}

	byTenor := make(map[int]map[float64]float64)
	for _, q := range quotes {
		if q.TenorDays <= 0 {
			return nil, &SurfaceConstructionError{underlying, date,
				fmt.Sprintf("non-positive tenor %d days at strike %.2f", q.TenorDays, q.Strike)}
		}
		if q.Strike <= 0 {
			return nil, &SurfaceConstructionError{underlying, date,
				fmt.Sprintf("non-positive strike %.2f at tenor %d", q.Strike, q.TenorDays)}
		}
		if q.Vol <= 0 || math.IsNaN(q.Vol) || math.IsInf(q.Vol, 0) {
			return nil, &SurfaceConstructionError{underlying, date,
				fmt.Sprintf("invalid vol %v at (%.2f, %dd)", q.Vol, q.Strike, q.TenorDays)}
		}
		slice, ok := byTenor[q.TenorDays]
		if !ok {
			slice = make(map[float64]float64)
			byTenor[q.TenorDays] = slice
		}
		if prev, dup := slice[q.Strike]; dup {
			if prev != q.Vol {
				return nil, &SurfaceConstructionError{underlying, date,
					fmt.Sprintf("conflicting quotes at (%.2f, %dd): %.4f vs %.4f",
						q.Strike, q.TenorDays, prev, q.Vol)}
			}
			continue // identical duplicate, collapse
		}
		slice[q.Strike] = q.Vol
	}

	tenors := make([]int, 0, len(byTenor))
	for t := range byTenor {
		tenors = append(tenors, t)
	}
	sort.Ints(tenors)

	slices := make([][]volPoint, 0, len(tenors))
	for _, t := range tenors {
		m := byTenor[t]
		if len(m) < 2 {
			return nil, &SurfaceConstructionError{underlying, date,
				fmt.Sprintf("tenor %dd has %d distinct strike(s), need at least 2", t, len(m))}
		}
		pts := make([]volPoint, 0, len(m))
		for k, v := range m {
			pts = append(pts, volPoint{strike: k, vol: v})
		}
		sort.Slice(pts, func(i, j int) bool { return pts[i].strike < pts[j].strike })
		slices = append(slices, pts)
	}

	return &Surface{
		underlying: underlying,
		date:       date,
		extrap:     extrap,
		tenors:     tenors,
		slices:     slices,
	}, nil
}

// Underlying returns the ticker the surface was built for.
func (s *Surface) Underlying() string { return s.underlying }

// Date returns the snapshot date of the surface.
func (s *Surface) Date() time.Time { return s.date }

// ImpliedVol returns the interpolated implied volatility at the given strike
// and tenor. Under ExtrapolateError, queries outside the quoted grid fail;
// under ExtrapolateFlat they clamp to the nearest quoted edge.
func (s *Surface) ImpliedVol(strike, tenorDays float64) (float64, error) {
	if tenorDays <= 0 {
		// Expired lookups are the caller's business (intrinsic value);
		// the surface itself has nothing quoted there.
		return 0, fmt.Errorf("vol surface %s@%s: non-positive tenor %.2f",
			s.underlying, s.date.Format("2006-01-02"), tenorDays)
	}

	lo, hi, err := s.bracketTenor(tenorDays)
	if err != nil {
		return 0, err
	}

	volLo, err := s.strikeVol(lo, strike)
	if err != nil {
		return 0, err
	}
	if lo == hi {
		return volLo, nil
	}
	volHi, err := s.strikeVol(hi, strike)
	if err != nil {
		return 0, err
	}

	tLo, tHi := float64(s.tenors[lo]), float64(s.tenors[hi])
	w := (tenorDays - tLo) / (tHi - tLo)
	return volLo + w*(volHi-volLo), nil
}

// bracketTenor returns the indices of the tenor slices surrounding t.
// Equal indices mean t clamped to a single slice.
func (s *Surface) bracketTenor(t float64) (int, int, error) {
	first, last := float64(s.tenors[0]), float64(s.tenors[len(s.tenors)-1])
	if t < first || t > last {
		if s.extrap == ExtrapolateError {
			return 0, 0, fmt.Errorf("vol surface %s@%s: tenor %.1fd outside quoted range [%d, %d]",
				s.underlying, s.date.Format("2006-01-02"), t, s.tenors[0], s.tenors[len(s.tenors)-1])
		}
		if t < first {
			return 0, 0, nil
		}
		return len(s.tenors) - 1, len(s.tenors) - 1, nil
	}
	hi := sort.SearchInts(s.tenors, int(math.Ceil(t)))
	if hi >= len(s.tenors) {
		hi = len(s.tenors) - 1
	}
	if float64(s.tenors[hi]) == t {
		return hi, hi, nil
	}
	lo := hi - 1
	if lo < 0 {
		lo = 0
	}
	return lo, hi, nil
}

// strikeVol interpolates linearly across strikes inside one tenor slice.
func (s *Surface) strikeVol(sliceIdx int, strike float64) (float64, error) {
	pts := s.slices[sliceIdx]
	first, last := pts[0], pts[len(pts)-1]
	if strike <= first.strike || strike >= last.strike {
		if strike == first.strike {
			return first.vol, nil
		}
		if strike == last.strike {
			return last.vol, nil
		}
		if s.extrap == ExtrapolateError {
			return 0, fmt.Errorf("vol surface %s@%s: strike %.2f outside quoted range [%.2f, %.2f] at tenor %dd",
				s.underlying, s.date.Format("2006-01-02"), strike, first.strike, last.strike, s.tenors[sliceIdx])
		}
		if strike < first.strike {
			return first.vol, nil
		}
		return last.vol, nil
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i].strike >= strike })
	if pts[i].strike == strike {
		return pts[i].vol, nil
	}
	a, b := pts[i-1], pts[i]
	w := (strike - a.strike) / (b.strike - a.strike)
	return a.vol + w*(b.vol-a.vol), nil
}

// AnchorVol returns the vol at the given strike for the shortest quoted tenor
// at or beyond minTenorDays. The attribution engine uses it as the day's
// level reference when computing vol changes between snapshots.
func (s *Surface) AnchorVol(strike float64, minTenorDays int) (float64, error) {
	for _, t := range s.tenors {
		if t >= minTenorDays {
			return s.ImpliedVol(strike, float64(t))
		}
	}
	return s.ImpliedVol(strike, float64(s.tenors[len(s.tenors)-1]))
}
