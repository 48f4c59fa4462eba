package pricing

import "fmt"

// Build constructs the model variant selected by name. sabr is consulted
// only for "sabr", bumps only for "surface_greeks" (which wraps
// Black-Scholes as its base pricer).
func Build(name string, sabr SABRParams, bumps BumpSizes) (Model, error) {
	switch name {
	case "black_scholes":
		return NewBlackScholes(), nil
	case "bachelier":
		return NewBachelier(), nil
	case "sabr":
		return NewSABR(sabr)
	case "surface_greeks":
		return NewSurfaceGreeks(nil, bumps), nil
	default:
		return nil, fmt.Errorf("unknown pricing model %q", name)
	}
}
