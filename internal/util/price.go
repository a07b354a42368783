// Package util provides price arithmetic shared by order construction.
package util

import "math"

// RoundToTick rounds a price to the nearest tick increment: with tick 0.01,
// 1.2049 becomes 1.20 and 1.205 becomes 1.21. A non-positive tick returns
// the price unchanged.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// ClampMin returns price, raised to floor when it falls below. Limit prices
// round toward zero on small credits; brokers reject a zero limit, so order
// builders floor at one tick.
func ClampMin(price, floor float64) float64 {
	if price < floor {
		return floor
	}
	return price
}
