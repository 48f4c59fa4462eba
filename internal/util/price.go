// Package util provides shared price arithmetic.
package util

import "math"

// RoundToTick rounds a premium to the nearest tick increment, ties away
// from zero. A non-positive tick returns x unchanged.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}
