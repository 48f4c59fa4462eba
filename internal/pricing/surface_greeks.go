package pricing

import (
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// BumpSizes are the finite-difference steps for bump-and-revalue Greeks.
// The zero value is replaced by DefaultBumpSizes at construction.
type BumpSizes struct {
	SpotPct  float64 `yaml:"spot_pct" json:"spot_pct"`   // fraction of spot
	VolAbs   float64 `yaml:"vol_abs" json:"vol_abs"`     // absolute vol points
	TimeDays int     `yaml:"time_days" json:"time_days"` // calendar days
	RateAbs  float64 `yaml:"rate_abs" json:"rate_abs"`   // absolute rate points
}

// DefaultBumpSizes: 0.01% of spot, 1bp of vol, 1 calendar day, 1bp of rate.
var DefaultBumpSizes = BumpSizes{
	SpotPct:  0.0001,
	VolAbs:   0.0001,
	TimeDays: 1,
	RateAbs:  0.0001,
}

func (b BumpSizes) withDefaults() BumpSizes {
	if b.SpotPct == 0 {
		b.SpotPct = DefaultBumpSizes.SpotPct
	}
	if b.VolAbs == 0 {
		b.VolAbs = DefaultBumpSizes.VolAbs
	}
	if b.TimeDays == 0 {
		b.TimeDays = DefaultBumpSizes.TimeDays
	}
	if b.RateAbs == 0 {
		b.RateAbs = DefaultBumpSizes.RateAbs
	}
	return b
}

// SurfaceGreeks computes model-free Greeks by finite differences of the
// surface-consistent price, holding the skew shape fixed per bump. Delta,
// gamma and vega use centered differences; theta and rho are one-sided
// (time only moves forward). Pricing delegates to the base model.
type SurfaceGreeks struct {
	base  Model
	bumps BumpSizes
}

var _ Model = (*SurfaceGreeks)(nil)

// NewSurfaceGreeks wraps a base model; a nil base defaults to
// Black-Scholes.
func NewSurfaceGreeks(base Model, bumps BumpSizes) *SurfaceGreeks {
	if base == nil {
		base = NewBlackScholes()
	}
	return &SurfaceGreeks{base: base, bumps: bumps.withDefaults()}
}

// Name implements Model.
func (m *SurfaceGreeks) Name() string { return "surface_greeks(" + m.base.Name() + ")" }

// Price implements Model by delegating to the base model.
func (m *SurfaceGreeks) Price(c instrument.Contract, date time.Time, series *market.Series) (float64, error) {
	return m.base.Price(c, date, series)
}

// Greeks implements Model by bump-and-revalue against series views.
func (m *SurfaceGreeks) Greeks(c instrument.Contract, date time.Time, series *market.Series) (Greeks, error) {
	in, err := gatherInputs(c, date, series)
	if err != nil {
		return Greeks{}, err
	}
	if in.days <= 0 {
		return Greeks{Delta: expiredDelta(c, in.spot)}, nil
	}

	p0, err := m.base.Price(c, date, series)
	if err != nil {
		return Greeks{}, err
	}

	// Delta and gamma from a centered spot bump.
	hS := in.spot * m.bumps.SpotPct
	pUp, err := m.base.Price(c, date, series.BumpSpot(m.bumps.SpotPct))
	if err != nil {
		return Greeks{}, err
	}
	pDown, err := m.base.Price(c, date, series.BumpSpot(-m.bumps.SpotPct))
	if err != nil {
		return Greeks{}, err
	}
	var g Greeks
	g.Delta = (pUp - pDown) / (2 * hS)
	g.Gamma = (pUp - 2*p0 + pDown) / (hS * hS)

	// Vega from a centered parallel surface shift, reported per 1%.
	hV := m.bumps.VolAbs
	pVolUp, err := m.base.Price(c, date, series.BumpVol(hV))
	if err != nil {
		return Greeks{}, err
	}
	pVolDown, err := m.base.Price(c, date, series.BumpVol(-hV))
	if err != nil {
		return Greeks{}, err
	}
	g.Vega = (pVolUp - pVolDown) / (2 * hV) / 100

	// Theta: roll the clock forward by shortening the tenor, holding the
	// day's market fixed. One-sided because time does not run backwards.
	cNext := c
	cNext.Expiry = c.Expiry.AddDate(0, 0, -m.bumps.TimeDays)
	pNext, err := m.base.Price(cNext, date, series)
	if err != nil {
		return Greeks{}, err
	}
	g.Theta = (pNext - p0) / float64(m.bumps.TimeDays)

	// Rho from a one-sided rate shift, reported per 1%.
	hR := m.bumps.RateAbs
	pRateUp, err := m.base.Price(c, date, series.BumpRate(hR))
	if err != nil {
		return Greeks{}, err
	}
	g.Rho = (pRateUp - p0) / hR / 100

	if err := checkFinite(m.Name(), c, date, g.Delta+g.Gamma+g.Vega+g.Theta+g.Rho); err != nil {
		return Greeks{}, err
	}
	return g, nil
}
