package instrument

import (
	"fmt"
	"time"
)

// Direction is the side of a premium strategy.
type Direction string

const (
	// Long pays premium.
	Long Direction = "long"
	// Short collects premium.
	Short Direction = "short"
)

func (d Direction) sign() (float64, error) {
	switch d {
	case Long:
		return 1, nil
	case Short:
		return -1, nil
	default:
		return 0, &InvalidStrategyError{Reason: fmt.Sprintf("unknown direction %q", d)}
	}
}

// NewStraddle builds a call and a put at the same strike and expiry.
func NewStraddle(underlying string, strike float64, expiry time.Time, dir Direction, qty float64) (*Strategy, error) {
	sign, err := dir.sign()
	if err != nil {
		return nil, err
	}
	call, err := NewContract(underlying, Call, strike, expiry)
	if err != nil {
		return nil, err
	}
	put, err := NewContract(underlying, Put, strike, expiry)
	if err != nil {
		return nil, err
	}
	return NewStrategy(fmt.Sprintf("%s straddle %.0f", dir, strike), []Leg{
		NewLeg(call, sign*qty),
		NewLeg(put, sign*qty),
	})
}

// NewStrangle builds an OTM put and an OTM call at different strikes.
func NewStrangle(underlying string, putStrike, callStrike float64, expiry time.Time, dir Direction, qty float64) (*Strategy, error) {
	sign, err := dir.sign()
	if err != nil {
		return nil, err
	}
	if putStrike >= callStrike {
		return nil, &InvalidStrategyError{Name: "strangle",
			Reason: fmt.Sprintf("put strike %.2f must be below call strike %.2f", putStrike, callStrike)}
	}
	put, err := NewContract(underlying, Put, putStrike, expiry)
	if err != nil {
		return nil, err
	}
	call, err := NewContract(underlying, Call, callStrike, expiry)
	if err != nil {
		return nil, err
	}
	return NewStrategy(fmt.Sprintf("%s strangle %.0f/%.0f", dir, putStrike, callStrike), []Leg{
		NewLeg(put, sign*qty),
		NewLeg(call, sign*qty),
	})
}

// NewVerticalSpread builds a debit vertical: long the lower strike, short
// the upper for calls; long the upper, short the lower for puts. Negative
// qty flips it into the credit version.
func NewVerticalSpread(underlying string, kind Kind, lowerStrike, upperStrike float64, expiry time.Time, qty float64) (*Strategy, error) {
	if lowerStrike >= upperStrike {
		return nil, &InvalidStrategyError{Name: "vertical",
			Reason: fmt.Sprintf("lower strike %.2f must be below upper strike %.2f", lowerStrike, upperStrike)}
	}
	lower, err := NewContract(underlying, kind, lowerStrike, expiry)
	if err != nil {
		return nil, err
	}
	upper, err := NewContract(underlying, kind, upperStrike, expiry)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s vertical %.0f/%.0f", kind, lowerStrike, upperStrike)
	if kind == Call {
		return NewStrategy(name, []Leg{
			NewLeg(lower, qty),
			NewLeg(upper, -qty),
		})
	}
	return NewStrategy(name, []Leg{
		NewLeg(upper, qty),
		NewLeg(lower, -qty),
	})
}

// NewCalendarSpread sells the near expiry and buys the far expiry at one
// strike.
func NewCalendarSpread(underlying string, kind Kind, strike float64, near, far time.Time, qty float64) (*Strategy, error) {
	if !near.Before(far) {
		return nil, &InvalidStrategyError{Name: "calendar",
			Reason: fmt.Sprintf("near expiry %s must precede far expiry %s",
				near.Format("2006-01-02"), far.Format("2006-01-02"))}
	}
	nearC, err := NewContract(underlying, kind, strike, near)
	if err != nil {
		return nil, err
	}
	farC, err := NewContract(underlying, kind, strike, far)
	if err != nil {
		return nil, err
	}
	return NewStrategy(fmt.Sprintf("%s calendar %.0f", kind, strike), []Leg{
		NewLeg(nearC, -qty),
		NewLeg(farC, qty),
	})
}

// NewButterfly builds the long 1/short 2/long 1 three-strike structure.
func NewButterfly(underlying string, kind Kind, lower, middle, upper float64, expiry time.Time, qty float64) (*Strategy, error) {
	if !(lower < middle && middle < upper) {
		return nil, &InvalidStrategyError{Name: "butterfly",
			Reason: fmt.Sprintf("strikes must be ascending, got %.2f/%.2f/%.2f", lower, middle, upper)}
	}
	lowC, err := NewContract(underlying, kind, lower, expiry)
	if err != nil {
		return nil, err
	}
	midC, err := NewContract(underlying, kind, middle, expiry)
	if err != nil {
		return nil, err
	}
	upC, err := NewContract(underlying, kind, upper, expiry)
	if err != nil {
		return nil, err
	}
	return NewStrategy(fmt.Sprintf("butterfly %.0f", middle), []Leg{
		NewLeg(lowC, qty),
		NewLeg(midC, -2*qty),
		NewLeg(upC, qty),
	})
}

// NewIronCondor builds the four-strike credit structure: long put, short
// put, short call, long call, strikes ascending.
func NewIronCondor(underlying string, putLower, putUpper, callLower, callUpper float64, expiry time.Time, qty float64) (*Strategy, error) {
	if !(putLower < putUpper && putUpper < callLower && callLower < callUpper) {
		return nil, &InvalidStrategyError{Name: "iron condor",
			Reason: fmt.Sprintf("strikes must be ascending, got %.2f/%.2f/%.2f/%.2f",
				putLower, putUpper, callLower, callUpper)}
	}
	longPut, err := NewContract(underlying, Put, putLower, expiry)
	if err != nil {
		return nil, err
	}
	shortPut, err := NewContract(underlying, Put, putUpper, expiry)
	if err != nil {
		return nil, err
	}
	shortCall, err := NewContract(underlying, Call, callLower, expiry)
	if err != nil {
		return nil, err
	}
	longCall, err := NewContract(underlying, Call, callUpper, expiry)
	if err != nil {
		return nil, err
	}
	return NewStrategy("iron condor", []Leg{
		NewLeg(longPut, qty),
		NewLeg(shortPut, -qty),
		NewLeg(shortCall, -qty),
		NewLeg(longCall, qty),
	})
}
