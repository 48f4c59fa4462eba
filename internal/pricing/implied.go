package pricing

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
)

const (
	ivInitialGuess = 0.2
	ivTolerance    = 1e-6
	ivMaxIter      = 100
)

// ImpliedVol recovers the Black-Scholes implied volatility from a market
// price by Newton iteration on vega. Loaders use it to turn quoted option
// prices into surface points.
func ImpliedVol(kind instrument.Kind, marketPrice, spot, strike, t, rate, div float64) (float64, error) {
	if t <= 0 {
		return 0, fmt.Errorf("implied vol: non-positive tenor %v", t)
	}
	if marketPrice <= 0 {
		return 0, fmt.Errorf("implied vol: non-positive market price %v", marketPrice)
	}

	sigma := ivInitialGuess
	for i := 0; i < ivMaxIter; i++ {
		price := bsPrice(kind, spot, strike, rate, div, t, sigma)
		diff := price - marketPrice
		if math.Abs(diff) < ivTolerance {
			return sigma, nil
		}
		vega := rawVega(spot, strike, rate, div, t, sigma)
		if vega < 1e-12 {
			break
		}
		sigma -= diff / vega
		if sigma <= 0 {
			sigma = ivTolerance
		}
	}
	return 0, fmt.Errorf("implied vol did not converge for strike %.2f (price %.4f)", strike, marketPrice)
}

// rawVega is dPrice/dSigma without the per-1% quoting scale.
func rawVega(s, k, r, q, t, sigma float64) float64 {
	if sigma <= 0 || t <= 0 {
		return 0
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r-q+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return s * math.Exp(-q*t) * normPDF(d1) * sqrtT
}
