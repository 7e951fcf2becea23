package tensor

import (
	"math"
	"slices"
)

func equalI64(a, b []int64) bool { return slices.Equal(a, b) }

// equalF32 compares element-wise within an absolute tolerance.
func equalF32(a, b []float32, tol float64) bool {
	return slices.EqualFunc(a, b, func(x, y float32) bool {
		return math.Abs(float64(x-y)) <= tol
	})
}
