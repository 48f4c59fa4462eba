// Package pricing implements the interchangeable option valuation models:
// Black-Scholes-Merton, Bachelier, SABR and model-free bump-and-revalue
// Greeks. All models share one contract so the engine can swap them by
// configuration.
//
// Conventions follow the usual desk quoting: vega and rho are per 1% move,
// theta is per calendar day, time is act/365.
package pricing

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// Greeks is the first/second-order sensitivity vector of an option value.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`  // per 1% vol move
	Theta float64 `json:"theta"` // per calendar day
	Rho   float64 `json:"rho"`   // per 1% rate move
}

// Add returns the element-wise sum of two Greek vectors.
func (g Greeks) Add(o Greeks) Greeks {
	return Greeks{
		Delta: g.Delta + o.Delta,
		Gamma: g.Gamma + o.Gamma,
		Vega:  g.Vega + o.Vega,
		Theta: g.Theta + o.Theta,
		Rho:   g.Rho + o.Rho,
	}
}

// Scale returns the Greek vector multiplied by k.
func (g Greeks) Scale(k float64) Greeks {
	return Greeks{
		Delta: g.Delta * k,
		Gamma: g.Gamma * k,
		Vega:  g.Vega * k,
		Theta: g.Theta * k,
		Rho:   g.Rho * k,
	}
}

// Model is the uniform valuation capability every pricing variant
// implements. Price returns theoretical value per unit of underlying; the
// portfolio layer applies quantity and multiplier.
type Model interface {
	Name() string
	Price(c instrument.Contract, date time.Time, series *market.Series) (float64, error)
	Greeks(c instrument.Contract, date time.Time, series *market.Series) (Greeks, error)
}

// NumericalError reports a valuation that produced a non-finite or
// out-of-domain result. It aborts the enclosing backtest run with the
// offending date and contract identified.
type NumericalError struct {
	Model    string
	Contract instrument.Contract
	Date     time.Time
	Reason   string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("%s pricing failed for %s on %s: %s",
		e.Model, e.Contract, e.Date.Format("2006-01-02"), e.Reason)
}

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

func normCDF(x float64) float64 { return stdNormal.CDF(x) }
func normPDF(x float64) float64 { return stdNormal.Prob(x) }

// marketInputs gathers the per-date inputs every model needs.
type marketInputs struct {
	spot float64
	rate float64
	div  float64
	days int     // calendar days to expiry
	t    float64 // act/365 year fraction
}

func gatherInputs(c instrument.Contract, date time.Time, series *market.Series) (marketInputs, error) {
	spot, err := series.Spot(date)
	if err != nil {
		return marketInputs{}, err
	}
	rate, err := series.Rate(date)
	if err != nil {
		return marketInputs{}, err
	}
	div, err := series.DividendYield(date)
	if err != nil {
		return marketInputs{}, err
	}
	days := c.DaysToExpiry(date)
	return marketInputs{
		spot: spot,
		rate: rate,
		div:  div,
		days: days,
		t:    market.YearFraction(days),
	}, nil
}

// expiredDelta is the degenerate delta at tenor <= 0: +1 for ITM calls,
// -1 for ITM puts, 0 otherwise. Handled explicitly so the discontinuity
// never surfaces as NaN.
func expiredDelta(c instrument.Contract, spot float64) float64 {
	switch {
	case c.Kind == instrument.Call && spot > c.Strike:
		return 1
	case c.Kind == instrument.Put && spot < c.Strike:
		return -1
	default:
		return 0
	}
}

func checkFinite(model string, c instrument.Contract, date time.Time, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &NumericalError{Model: model, Contract: c, Date: date,
			Reason: fmt.Sprintf("non-finite value %v", v)}
	}
	return nil
}
