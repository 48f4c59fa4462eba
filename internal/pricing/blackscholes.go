package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// BlackScholes prices European options with the Black-Scholes-Merton closed
// form, reading implied volatility from the series' surface at the
// contract's (strike, tenor).
type BlackScholes struct{}

var _ Model = (*BlackScholes)(nil)

// NewBlackScholes returns the surface-driven Black-Scholes-Merton model.
func NewBlackScholes() *BlackScholes { return &BlackScholes{} }

// Name implements Model.
func (m *BlackScholes) Name() string { return "black_scholes" }

// Price implements Model.
func (m *BlackScholes) Price(c instrument.Contract, date time.Time, series *market.Series) (float64, error) {
	in, err := gatherInputs(c, date, series)
	if err != nil {
		return 0, err
	}
	if in.days <= 0 {
		return c.IntrinsicValue(in.spot), nil
	}
	sigma, err := m.vol(c, date, series, in)
	if err != nil {
		return 0, err
	}
	price := bsPrice(c.Kind, in.spot, c.Strike, in.rate, in.div, in.t, sigma)
	if err := checkFinite(m.Name(), c, date, price); err != nil {
		return 0, err
	}
	return price, nil
}

// Greeks implements Model.
func (m *BlackScholes) Greeks(c instrument.Contract, date time.Time, series *market.Series) (Greeks, error) {
	in, err := gatherInputs(c, date, series)
	if err != nil {
		return Greeks{}, err
	}
	if in.days <= 0 {
		return Greeks{Delta: expiredDelta(c, in.spot)}, nil
	}
	sigma, err := m.vol(c, date, series, in)
	if err != nil {
		return Greeks{}, err
	}
	g := bsGreeks(c.Kind, in.spot, c.Strike, in.rate, in.div, in.t, sigma)
	if err := checkFinite(m.Name(), c, date, g.Delta+g.Gamma+g.Vega+g.Theta+g.Rho); err != nil {
		return Greeks{}, err
	}
	return g, nil
}

func (m *BlackScholes) vol(c instrument.Contract, date time.Time, series *market.Series, in marketInputs) (float64, error) {
	sigma, err := series.ImpliedVol(date, c.Strike, float64(in.days))
	if err != nil {
		return 0, &NumericalError{Model: m.Name(), Contract: c, Date: date,
			Reason: fmt.Sprintf("surface query: %v", err)}
	}
	if sigma < 0 {
		return 0, &NumericalError{Model: m.Name(), Contract: c, Date: date,
			Reason: fmt.Sprintf("negative implied vol %.6f", sigma)}
	}
	return sigma, nil
}

// bsPrice is the shared Black-Scholes-Merton formula with continuous
// dividend yield. sigma == 0 takes the deterministic limit, the discounted
// intrinsic of the forward.
func bsPrice(kind instrument.Kind, s, k, r, q, t, sigma float64) float64 {
	dfR := math.Exp(-r * t)
	dfQ := math.Exp(-q * t)
	if sigma == 0 {
		if kind == instrument.Call {
			return math.Max(s*dfQ-k*dfR, 0)
		}
		return math.Max(k*dfR-s*dfQ, 0)
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r-q+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	if kind == instrument.Call {
		return math.Max(s*dfQ*normCDF(d1)-k*dfR*normCDF(d2), 0)
	}
	return math.Max(k*dfR*normCDF(-d2)-s*dfQ*normCDF(-d1), 0)
}

// bsGreeks returns the standard analytic partials. Quoting conventions
// match the Price formula: vega and rho per 1% move, theta per day.
func bsGreeks(kind instrument.Kind, s, k, r, q, t, sigma float64) Greeks {
	dfR := math.Exp(-r * t)
	dfQ := math.Exp(-q * t)
	if sigma == 0 {
		// Deterministic limit: delta is the discounted forward indicator.
		f := s * math.Exp((r-q)*t)
		var delta float64
		if kind == instrument.Call && f > k {
			delta = dfQ
		} else if kind == instrument.Put && f < k {
			delta = -dfQ
		}
		return Greeks{Delta: delta}
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r-q+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	pdf := normPDF(d1)

	var g Greeks
	if kind == instrument.Call {
		g.Delta = dfQ * normCDF(d1)
		g.Theta = (-s*dfQ*pdf*sigma/(2*sqrtT) -
			r*k*dfR*normCDF(d2) +
			q*s*dfQ*normCDF(d1)) / market.DaysPerYear
		g.Rho = k * t * dfR * normCDF(d2) / 100
	} else {
		g.Delta = -dfQ * normCDF(-d1)
		g.Theta = (-s*dfQ*pdf*sigma/(2*sqrtT) +
			r*k*dfR*normCDF(-d2) -
			q*s*dfQ*normCDF(-d1)) / market.DaysPerYear
		g.Rho = -k * t * dfR * normCDF(-d2) / 100
	}
	g.Gamma = dfQ * pdf / (s * sigma * sqrtT)
	g.Vega = s * dfQ * pdf * sqrtT / 100
	return g
}
