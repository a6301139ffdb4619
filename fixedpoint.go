package mmjp

import "math"

// Q8.8 fixed-point arithmetic used throughout inference, plus the
// doubles-only log-sum-exp used by training. Scale is 256; NegInf is
// the sentinel for "unreached" DP cells, chosen well clear of int32
// overflow so that a bounded number of additions can't wrap back into
// the finite range.

const (
	// Q8Scale is the fixed-point scale: 1.0 == Q8Scale.
	Q8Scale = 256
	// NegInf marks a DP cell that has not been reached.
	NegInf int32 = -0x3fffffff

	int16Min = -0x8000
	int16Max = 0x7fff
	int32Min = -0x7fffffff - 1
	int32Max = 0x7fffffff
)

// SaturateI16 clamps x into the int16 range.
func SaturateI16(x int32) int16 {
	if x > int16Max {
		return int16Max
	}
	if x < int16Min {
		return int16Min
	}
	return int16(x)
}

// SaturateI32 clamps a 64-bit accumulation into the int32 range.
func SaturateI32(x int64) int32 {
	if x > int32Max {
		return int32Max
	}
	if x < int32Min {
		return int32Min
	}
	return int32(x)
}

// AddSat adds two Q8.8 scores already widened to int32, saturating on
// overflow. NegInf participates as an absorbing "unreached" value: if
// either operand is NegInf, the sum is NegInf.
func AddSat(a, b int32) int32 {
	if a == NegInf || b == NegInf {
		return NegInf
	}
	return SaturateI32(int64(a) + int64(b))
}

// MulQ88 multiplies two Q8.8 values, keeping the product in Q8.8 with
// a 64-bit intermediate: (a*b) >> 8.
func MulQ88(a, b int32) int32 {
	return int32((int64(a) * int64(b)) >> 8)
}

// ToQ88 converts a float64 log-probability (or any real score) to a
// saturated Q8.8 int16.
func ToQ88(x float64) int16 {
	v := math.Round(x * Q8Scale)
	if v > int16Max {
		return int16Max
	}
	if v < int16Min {
		return int16Min
	}
	return int16(v)
}

// FromQ88 converts a Q8.8 int16 back to float64.
func FromQ88(x int16) float64 {
	return float64(x) / Q8Scale
}

// LogSumExp computes log(exp(a)+exp(b)) in f64, used only by
// training. WEIGHT_LOG0-style -Inf values are handled without
// producing NaN.
func LogSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	m := a
	if b > m {
		m = b
	}
	if math.IsInf(m, 1) {
		// Both +Inf (should not happen for proper log-probabilities);
		// avoid NaN from Inf-Inf.
		return m
	}
	return m + math.Log(math.Exp(a-m)+math.Exp(b-m))
}

// LogSumExpSlice folds LogSumExp over a slice, skipping -Inf entries.
// Returns -Inf for an all -Inf (or empty) slice.
func LogSumExpSlice(xs []float64) float64 {
	acc := math.Inf(-1)
	for _, x := range xs {
		acc = LogSumExp(acc, x)
	}
	return acc
}

var negInfFloat = math.Inf(-1)

// expClamped clamps x to <= 0 before exponentiating; callers only
// ever pass log-weight differences, which are <= 0 by construction
// except for floating-point rounding at the maximum term.
func expClamped(x float64) float64 {
	if x > 0 {
		x = 0
	}
	return math.Exp(x)
}
