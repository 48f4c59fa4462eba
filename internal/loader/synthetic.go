// Package loader builds market.Series inputs for the engine from CSV
// files, a deterministic synthetic generator, or a historical-quotes HTTP
// vendor.
package loader

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// SyntheticParams seeds the generator. Identical params produce an
// identical series, which keeps backtests over synthetic data repeatable.
type SyntheticParams struct {
	Underlying string
	Start      time.Time
	Days       int     // trading days to generate
	Seed       int64
	StartSpot  float64
	Vol        float64 // annualized diffusion vol, also the base surface level
	Drift      float64 // annualized drift
	Rate       float64
	DivYield   float64
}

// surface shape constants for the generator: a put-side skew plus a smile
// in log-moneyness, mildly decaying with tenor.
const (
	synSkew      = -0.10
	synSmile     = 0.50
	synTermDecay = 0.02
)

var synTenors = []int{7, 14, 30, 60, 90, 180}

// Synthetic generates a geometric-Brownian spot path with a skewed vol
// surface per day.
func Synthetic(p SyntheticParams, extrap market.Extrapolation) (*market.Series, error) {
	if p.Days <= 0 {
		return nil, fmt.Errorf("synthetic: days must be > 0")
	}
	if p.StartSpot <= 0 || p.Vol <= 0 {
		return nil, fmt.Errorf("synthetic: start spot and vol must be > 0")
	}
	if p.Underlying == "" {
		p.Underlying = "SYN"
	}
	start := p.Start
	if start.IsZero() {
		start = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	}

	rng := rand.New(rand.NewSource(p.Seed))
	dt := 1.0 / market.DaysPerYear

	snaps := make([]market.Snapshot, 0, p.Days)
	spot := p.StartSpot
	date := start
	for i := 0; i < p.Days; i++ {
		for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, 1)
		}

		// Day-level vol wanders slowly around the base level.
		dayVol := p.Vol * (1 + 0.15*math.Sin(float64(i)/21) + 0.05*rng.NormFloat64())
		if dayVol < 0.05 {
			dayVol = 0.05
		}

		surf, err := syntheticSurface(p.Underlying, date, spot, dayVol, extrap)
		if err != nil {
			return nil, fmt.Errorf("synthetic: %w", err)
		}
		snaps = append(snaps, market.Snapshot{
			Date:          date,
			Spot:          spot,
			Surface:       surf,
			Rate:          p.Rate,
			DividendYield: p.DivYield,
		})

		z := rng.NormFloat64()
		spot *= math.Exp((p.Drift-0.5*p.Vol*p.Vol)*dt + p.Vol*math.Sqrt(dt)*z)
		date = date.AddDate(0, 0, 1)
	}

	return market.NewSeries(p.Underlying, snaps)
}

// syntheticSurface quotes strikes from 70% to 130% moneyness in 5% steps
// across the standard tenors, applying skew, smile and term decay to the
// day's base vol.
func syntheticSurface(underlying string, date time.Time, spot, baseVol float64, extrap market.Extrapolation) (*market.Surface, error) {
	var quotes []market.VolQuote
	for _, tenor := range synTenors {
		term := 1 + synTermDecay*math.Log(float64(tenor)/30.0)
		for m := 0.70; m <= 1.301; m += 0.05 {
			strike := spot * m
			logM := math.Log(m)
			vol := baseVol * term * (1 + synSkew*logM + synSmile*logM*logM)
			if vol < 0.01 {
				vol = 0.01
			}
			quotes = append(quotes, market.VolQuote{
				Strike:    strike,
				TenorDays: tenor,
				Vol:       vol,
			})
		}
	}
	return market.NewSurface(underlying, date, quotes, extrap)
}
