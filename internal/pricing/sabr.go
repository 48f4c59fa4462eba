package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// sabrVolFloor keeps the Hagan expansion from returning degenerate vols in
// the far wings.
const sabrVolFloor = 0.01

// SABRParams are the stochastic-vol parameters of the Hagan expansion.
type SABRParams struct {
	Alpha float64 `yaml:"alpha" json:"alpha"` // initial vol level
	Beta  float64 `yaml:"beta" json:"beta"`   // backbone elasticity, 0 normal .. 1 lognormal
	Rho   float64 `yaml:"rho" json:"rho"`     // spot/vol correlation
	Nu    float64 `yaml:"nu" json:"nu"`       // vol of vol
}

// Validate checks the parameters are inside the model's domain.
func (p SABRParams) Validate() error {
	if p.Alpha <= 0 {
		return fmt.Errorf("sabr: alpha must be > 0, got %v", p.Alpha)
	}
	if p.Beta < 0 || p.Beta > 1 {
		return fmt.Errorf("sabr: beta must be in [0,1], got %v", p.Beta)
	}
	if p.Rho <= -1 || p.Rho >= 1 {
		return fmt.Errorf("sabr: rho must be in (-1,1), got %v", p.Rho)
	}
	if p.Nu < 0 {
		return fmt.Errorf("sabr: nu must be >= 0, got %v", p.Nu)
	}
	return nil
}

// SABR computes an effective lognormal volatility via Hagan's asymptotic
// expansion and delegates to the Black-Scholes formulas for price and
// Greeks. The market surface is not consulted; the smile comes from the
// parameters.
type SABR struct {
	params SABRParams
}

var _ Model = (*SABR)(nil)

// NewSABR validates the parameters and returns the model.
func NewSABR(params SABRParams) (*SABR, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &SABR{params: params}, nil
}

// Name implements Model.
func (m *SABR) Name() string { return "sabr" }

// Params returns the configured SABR parameters.
func (m *SABR) Params() SABRParams { return m.params }

// Price implements Model.
func (m *SABR) Price(c instrument.Contract, date time.Time, series *market.Series) (float64, error) {
	in, err := gatherInputs(c, date, series)
	if err != nil {
		return 0, err
	}
	if in.days <= 0 {
		return c.IntrinsicValue(in.spot), nil
	}
	f := in.spot * math.Exp((in.rate-in.div)*in.t)
	iv := m.impliedVol(f, c.Strike, in.t)
	price := bsPrice(c.Kind, in.spot, c.Strike, in.rate, in.div, in.t, iv)
	if err := checkFinite(m.Name(), c, date, price); err != nil {
		return 0, err
	}
	return price, nil
}

// Greeks implements Model via the analytic Black-Scholes partials at the
// SABR-implied vol.
func (m *SABR) Greeks(c instrument.Contract, date time.Time, series *market.Series) (Greeks, error) {
	in, err := gatherInputs(c, date, series)
	if err != nil {
		return Greeks{}, err
	}
	if in.days <= 0 {
		return Greeks{Delta: expiredDelta(c, in.spot)}, nil
	}
	f := in.spot * math.Exp((in.rate-in.div)*in.t)
	iv := m.impliedVol(f, c.Strike, in.t)
	g := bsGreeks(c.Kind, in.spot, c.Strike, in.rate, in.div, in.t, iv)
	if err := checkFinite(m.Name(), c, date, g.Delta+g.Gamma+g.Vega+g.Theta+g.Rho); err != nil {
		return Greeks{}, err
	}
	return g, nil
}

// impliedVol is Hagan's 2002 lognormal expansion. The near-ATM singularity
// (strike ~ forward makes both log(F/K) and x(z) vanish) is guarded with
// the documented limiting forms rather than left to 0/0.
func (m *SABR) impliedVol(f, k, t float64) float64 {
	alpha, beta, rho, nu := m.params.Alpha, m.params.Beta, m.params.Rho, m.params.Nu

	fkMid := math.Sqrt(f * k)
	if math.Abs(f-k) < 1e-6 {
		fkMid = f
	}
	fkPow := math.Pow(fkMid, 1-beta)

	// z and x(z); x(z) -> z as z -> 0, so the ratio tends to 1.
	z := (nu / alpha) * fkPow * math.Log(f/k)
	ratio := 1.0
	if math.Abs(z) >= 1e-6 {
		x := math.Log((math.Sqrt(1-2*rho*z+z*z) + z - rho) / (1 - rho))
		ratio = z / x
	}

	term1 := alpha / fkPow
	term2 := 1 + (math.Pow(1-beta, 2)/24*alpha*alpha/math.Pow(fkMid, 2*(1-beta))+
		rho*beta*nu*alpha/(4*fkPow)+
		(2-3*rho*rho)/24*nu*nu)*t

	return math.Max(term1*ratio*term2, sabrVolFloor)
}
