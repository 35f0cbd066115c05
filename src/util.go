package swpll

import (
	"fmt"
	"math"
	"runtime"
)

// Because sometimes it's really convenient to have C's ternary ?:
func IfThenElse[T any](x bool, a T, b T) T { //nolint:ireturn
	if x {
		return a
	} else {
		return b
	}
}

// Can't be "assert" because of conflicts with stretchr/testify/assert, but otherwise, it's compatible enough
func Assert(t bool) {
	if !t {
		_, file, line, _ := runtime.Caller(1)
		panic(fmt.Sprintf("Assertion failed at %s:%d", file, line))
	}
}

// clampWindup limits v to [-limit, limit] when enabled.
func clampWindup(v int64, limit int32, enabled bool) int32 {
	if enabled {
		if v > int64(limit) {
			return limit
		}

		if v < -int64(limit) {
			return -limit
		}
	}

	// Unclamped accumulators saturate rather than wrap.
	if v > math.MaxInt32 {
		return math.MaxInt32
	}

	if v < math.MinInt32 {
		return math.MinInt32
	}

	return int32(v)
}

// PPM expresses the deviation of actual from nominal in parts per million.
func PPM(actual, nominal float64) float64 {
	return (actual - nominal) / nominal * 1e6
}
