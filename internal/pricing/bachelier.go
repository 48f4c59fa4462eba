package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// Bachelier prices under the additive (normal) diffusion. The surface's
// percentage vol is converted to an absolute vol via the spot, which keeps
// the two models quotable from the same surface. Valid in negative and
// near-zero rate regimes where the lognormal model degrades.
type Bachelier struct{}

var _ Model = (*Bachelier)(nil)

// NewBachelier returns the normal-model pricer.
func NewBachelier() *Bachelier { return &Bachelier{} }

// Name implements Model.
func (m *Bachelier) Name() string { return "bachelier" }

// Price implements Model.
func (m *Bachelier) Price(c instrument.Contract, date time.Time, series *market.Series) (float64, error) {
	in, err := gatherInputs(c, date, series)
	if err != nil {
		return 0, err
	}
	if in.days <= 0 {
		return c.IntrinsicValue(in.spot), nil
	}
	sigmaAbs, err := m.absVol(c, date, series, in)
	if err != nil {
		return 0, err
	}

	f := in.spot * math.Exp((in.rate-in.div)*in.t)
	dfR := math.Exp(-in.rate * in.t)
	var price float64
	if sigmaAbs == 0 {
		// Deterministic limit: discounted intrinsic of the forward.
		if c.Kind == instrument.Call {
			price = dfR * math.Max(f-c.Strike, 0)
		} else {
			price = dfR * math.Max(c.Strike-f, 0)
		}
	} else {
		sqrtT := math.Sqrt(in.t)
		d := (f - c.Strike) / (sigmaAbs * sqrtT)
		if c.Kind == instrument.Call {
			price = dfR * ((f-c.Strike)*normCDF(d) + sigmaAbs*sqrtT*normPDF(d))
		} else {
			price = dfR * ((c.Strike-f)*normCDF(-d) + sigmaAbs*sqrtT*normPDF(d))
		}
		price = math.Max(price, 0)
	}
	if err := checkFinite(m.Name(), c, date, price); err != nil {
		return 0, err
	}
	return price, nil
}

// Greeks implements Model. Rho is reported as zero: the normal model's rate
// sensitivity beyond discounting is negligible at daily horizons.
func (m *Bachelier) Greeks(c instrument.Contract, date time.Time, series *market.Series) (Greeks, error) {
	in, err := gatherInputs(c, date, series)
	if err != nil {
		return Greeks{}, err
	}
	if in.days <= 0 {
		return Greeks{Delta: expiredDelta(c, in.spot)}, nil
	}
	sigmaAbs, err := m.absVol(c, date, series, in)
	if err != nil {
		return Greeks{}, err
	}

	f := in.spot * math.Exp((in.rate-in.div)*in.t)
	dfR := math.Exp(-in.rate * in.t)
	dfQ := math.Exp(-in.div * in.t)
	if sigmaAbs == 0 {
		var delta float64
		if c.Kind == instrument.Call && f > c.Strike {
			delta = dfR * dfQ
		} else if c.Kind == instrument.Put && f < c.Strike {
			delta = -dfR * dfQ
		}
		return Greeks{Delta: delta}, nil
	}

	sqrtT := math.Sqrt(in.t)
	d := (f - c.Strike) / (sigmaAbs * sqrtT)
	pdf := normPDF(d)

	var g Greeks
	if c.Kind == instrument.Call {
		g.Delta = dfR * dfQ * normCDF(d)
	} else {
		g.Delta = -dfR * dfQ * normCDF(-d)
	}
	g.Gamma = dfR * dfQ * pdf / (sigmaAbs * sqrtT)
	g.Vega = dfR * pdf * sqrtT * in.spot / 100
	g.Theta = -sigmaAbs * dfR * pdf / (2 * sqrtT) / market.DaysPerYear
	g.Rho = 0

	if err := checkFinite(m.Name(), c, date, g.Delta+g.Gamma+g.Vega+g.Theta); err != nil {
		return Greeks{}, err
	}
	return g, nil
}

func (m *Bachelier) absVol(c instrument.Contract, date time.Time, series *market.Series, in marketInputs) (float64, error) {
	sigma, err := series.ImpliedVol(date, c.Strike, float64(in.days))
	if err != nil {
		return 0, &NumericalError{Model: m.Name(), Contract: c, Date: date,
			Reason: fmt.Sprintf("surface query: %v", err)}
	}
	if sigma < 0 {
		return 0, &NumericalError{Model: m.Name(), Contract: c, Date: date,
			Reason: fmt.Sprintf("negative implied vol %.6f", sigma)}
	}
	return sigma * in.spot, nil
}
