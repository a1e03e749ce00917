package util

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Coerce returns a value that is at least min and at most max
func Coerce[T constraints.Ordered](value T, min T, max T) T {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// CoerceFinite is like Coerce, but maps NaN to min.
// +Inf and -Inf are mapped to max and min respectively.
func CoerceFinite(value float64, min float64, max float64) float64 {
	if math.IsNaN(value) {
		return min
	}
	return Coerce(value, min, max)
}

// UpdateSimpleMovingAvg calculates the new moving average, based on an existing average and buffer size
func UpdateSimpleMovingAvg(oldAvg float64, n int, newValue float64) float64 {
	return oldAvg + (1/float64(n))*(newValue-oldAvg)
}

// IsFinite reports whether the given value is neither NaN nor infinite
func IsFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
