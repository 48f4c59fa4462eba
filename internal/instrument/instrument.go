// Package instrument describes what is held: single option contracts,
// signed-quantity legs and named multi-leg strategies. Everything here is a
// pure value computation; premium and cash accounting belong to the
// portfolio layer.
package instrument

import (
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// DefaultMultiplier is the standard equity-option contract size.
const DefaultMultiplier = 100.0

// Kind distinguishes calls from puts.
type Kind string

const (
	// Call is the right to buy at the strike.
	Call Kind = "call"
	// Put is the right to sell at the strike.
	Put Kind = "put"
)

// Valid returns true if the Kind is one of the defined constants.
func (k Kind) Valid() bool { return k == Call || k == Put }

// InvalidStrategyError reports a contract or strategy that violates
// construction invariants. It is raised at construction and never coerced.
type InvalidStrategyError struct {
	Name   string
	Reason string
}

func (e *InvalidStrategyError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid instrument: %s", e.Reason)
	}
	return fmt.Sprintf("invalid strategy %q: %s", e.Name, e.Reason)
}

// Contract is a single European option. It is an immutable value object;
// identity is the field tuple.
type Contract struct {
	Underlying string    `json:"underlying"`
	Kind       Kind      `json:"kind"`
	Strike     float64   `json:"strike"`
	Expiry     time.Time `json:"expiry"`
}

// NewContract validates and returns a contract value.
func NewContract(underlying string, kind Kind, strike float64, expiry time.Time) (Contract, error) {
	c := Contract{Underlying: underlying, Kind: kind, Strike: strike, Expiry: expiry}
	if underlying == "" {
		return Contract{}, &InvalidStrategyError{Reason: "underlying is required"}
	}
	if !kind.Valid() {
		return Contract{}, &InvalidStrategyError{Reason: fmt.Sprintf("unknown option kind %q", kind)}
	}
	if strike <= 0 || math.IsNaN(strike) || math.IsInf(strike, 0) {
		return Contract{}, &InvalidStrategyError{Reason: fmt.Sprintf("strike must be positive, got %v", strike)}
	}
	if expiry.IsZero() {
		return Contract{}, &InvalidStrategyError{Reason: "expiry is required"}
	}
	return c, nil
}

// IntrinsicValue returns the exercise value per unit at the given spot.
func (c Contract) IntrinsicValue(spot float64) float64 {
	if c.Kind == Call {
		return math.Max(spot-c.Strike, 0)
	}
	return math.Max(c.Strike-spot, 0)
}

// DaysToExpiry returns whole calendar days from date to expiry, negative
// once expired.
func (c Contract) DaysToExpiry(date time.Time) int {
	return market.CalendarDays(date, c.Expiry)
}

// String renders the contract in option-chain shorthand.
func (c Contract) String() string {
	return fmt.Sprintf("%s %s %.2f %s",
		c.Underlying, c.Kind, c.Strike, c.Expiry.Format("2006-01-02"))
}

// Leg is a position in one contract: positive quantity is long, negative is
// short. Multiplier is the contract size (shares per contract).
type Leg struct {
	Contract   Contract `json:"contract"`
	Quantity   float64  `json:"quantity"`
	Multiplier float64  `json:"multiplier"`
}

// NewLeg builds a leg with the default contract multiplier.
func NewLeg(contract Contract, quantity float64) Leg {
	return Leg{Contract: contract, Quantity: quantity, Multiplier: DefaultMultiplier}
}

// PayoffAtExpiry returns the leg's settlement value at the given spot,
// scaled by signed quantity and multiplier.
func (l Leg) PayoffAtExpiry(spot float64) float64 {
	return l.Contract.IntrinsicValue(spot) * l.Quantity * l.Multiplier
}

// Contracts returns the unsigned number of contracts in the leg, used for
// per-contract transaction costs.
func (l Leg) Contracts() float64 { return math.Abs(l.Quantity) }

// Strategy is a named, ordered collection of legs traded as one unit.
// All legs share one underlying; strikes and expiries may differ.
// A Strategy is immutable once constructed.
type Strategy struct {
	Name string `json:"name"`
	legs []Leg
}

// NewStrategy validates the legs and returns a strategy.
func NewStrategy(name string, legs []Leg) (*Strategy, error) {
	if name == "" {
		return nil, &InvalidStrategyError{Reason: "name is required"}
	}
	if len(legs) == 0 {
		return nil, &InvalidStrategyError{Name: name, Reason: "at least one leg is required"}
	}
	underlying := legs[0].Contract.Underlying
	for i, leg := range legs {
		if _, err := NewContract(leg.Contract.Underlying, leg.Contract.Kind,
			leg.Contract.Strike, leg.Contract.Expiry); err != nil {
			return nil, &InvalidStrategyError{Name: name,
				Reason: fmt.Sprintf("leg %d: %v", i, err)}
		}
		if leg.Contract.Underlying != underlying {
			return nil, &InvalidStrategyError{Name: name,
				Reason: fmt.Sprintf("leg %d underlying %q differs from %q",
					i, leg.Contract.Underlying, underlying)}
		}
		if leg.Quantity == 0 {
			return nil, &InvalidStrategyError{Name: name,
				Reason: fmt.Sprintf("leg %d has zero quantity", i)}
		}
		if leg.Multiplier <= 0 {
			return nil, &InvalidStrategyError{Name: name,
				Reason: fmt.Sprintf("leg %d has non-positive multiplier %v", i, leg.Multiplier)}
		}
	}
	own := make([]Leg, len(legs))
	copy(own, legs)
	return &Strategy{Name: name, legs: own}, nil
}

// Legs returns a copy of the ordered leg collection.
func (s *Strategy) Legs() []Leg {
	out := make([]Leg, len(s.legs))
	copy(out, s.legs)
	return out
}

// Underlying returns the single underlying all legs share.
func (s *Strategy) Underlying() string { return s.legs[0].Contract.Underlying }

// Expiry returns the strategy's final expiry, the maximum leg expiry.
func (s *Strategy) Expiry() time.Time {
	max := s.legs[0].Contract.Expiry
	for _, leg := range s.legs[1:] {
		if leg.Contract.Expiry.After(max) {
			max = leg.Contract.Expiry
		}
	}
	return max
}

// EarliestExpiry returns the nearest leg expiry, used for time-stop checks
// on calendar structures.
func (s *Strategy) EarliestExpiry() time.Time {
	min := s.legs[0].Contract.Expiry
	for _, leg := range s.legs[1:] {
		if leg.Contract.Expiry.Before(min) {
			min = leg.Contract.Expiry
		}
	}
	return min
}

// PayoffAtExpiry returns the sum of leg settlement values at the given spot.
func (s *Strategy) PayoffAtExpiry(spot float64) float64 {
	total := 0.0
	for _, leg := range s.legs {
		total += leg.PayoffAtExpiry(spot)
	}
	return total
}

// Contracts returns the total unsigned contract count across legs.
func (s *Strategy) Contracts() float64 {
	total := 0.0
	for _, leg := range s.legs {
		total += leg.Contracts()
	}
	return total
}
