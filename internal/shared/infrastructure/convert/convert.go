// Package convert clamps integers read from configuration or retry counters
// into the narrower types the drivers and backoff maths need.
package convert

import "math"

// Int32 clamps v into the int32 range.
func Int32(v int) int32 {
	return int32(max(math.MinInt32, min(v, math.MaxInt32)))
}

// Uint32 clamps v into the uint32 range.
func Uint32(v int) uint32 {
	if v < 0 {
		return 0
	}
	return uint32(min(uint64(v), math.MaxUint32))
}

// Shift clamps v into [0, limit] for use as a shift count. Backoff code uses
// it so a large retry count saturates instead of overflowing.
func Shift(v, limit int) uint {
	if v < 0 || limit < 0 {
		return 0
	}
	return uint(min(v, limit))
}
