// Package volume implements the per-peer gain law applied to received
// audio chunks before they reach the reorder buffer.
package volume

import "math"

// base is the 0.2 scale factor of Gain's curve, matching the original
// implementation; the exponent's own base is 1+1/base = 6.
const base = 0.2

// Gain maps a volume setting v in [0,200] (100 = unity) to a linear
// multiplier g(v) = 0.2 * ((1 + 1/0.2)^(v/100) - 1). g(0) = 0, g(100) = 1
// exactly, and g is strictly monotonic, with a gentle super-unity region
// up to g(200).
func Gain(v int) float64 {
	return base * (math.Pow(1+1/base, float64(v)/100) - 1)
}
