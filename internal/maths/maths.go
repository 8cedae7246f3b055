// Package maths provides numerically stable log-domain primitives and
// robust statistics used by the sequence loss kernels.
package maths

import (
	"math"
	"sort"
)

// MadSdFactor scales the median absolute deviation so that it estimates
// the standard deviation of normally distributed data.
const MadSdFactor = 1.4826

// LogAddExp computes log(exp(a) + exp(b)) in a numerically stable way.
//
// Formula:
//
//	LogAddExp(a, b) = max(a, b) + log1p(exp(min(a, b) - max(a, b)))
//
// Subtracting the maximum keeps the exponential in [0, 1], so the result
// neither overflows nor underflows. When both operands are -Inf the result
// is -Inf; the naive formula would evaluate exp(-Inf - -Inf) = exp(NaN)
// there, so the maximum is checked before exponentiating.
func LogAddExp(a, b float32) float32 {
	hi, lo := a, b
	if b > a {
		hi, lo = b, a
	}
	if math.IsInf(float64(hi), -1) {
		return hi
	}
	return hi + float32(math.Log1p(math.Exp(float64(lo-hi))))
}

// LogSumExp computes log(Σ exp(xs[i])) over a slice in a numerically
// stable way.
//
// A running maximum is maintained so the slice is walked once: when a new
// maximum appears, the mass accumulated so far is rescaled by
// exp(oldMax - newMax) before the new term is added. -Inf entries carry no
// mass and are skipped. The empty sum is log(0) = -Inf.
func LogSumExp(xs []float32) float32 {
	currentMax := float32(math.Inf(-1))
	sumExp := float32(0.0)

	for _, x := range xs {
		if math.IsInf(float64(x), -1) {
			continue
		}
		if x > currentMax {
			sumExp = sumExp*float32(math.Exp(float64(currentMax-x))) + 1.0
			currentMax = x
		} else {
			sumExp += float32(math.Exp(float64(x - currentMax)))
		}
	}

	if math.IsInf(float64(currentMax), -1) {
		return currentMax
	}
	return currentMax + float32(math.Log(float64(sumExp)))
}

// Median returns the median of xs. For slices of even length the two middle
// values are averaged. The input is not modified.
//
// Panics on an empty slice.
func Median(xs []float32) float32 {
	if len(xs) == 0 {
		panic("maths: Median of empty slice")
	}

	sorted := make([]float32, len(xs))
	copy(sorted, xs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// MedMad returns the median of xs together with the median absolute
// deviation from it, scaled by MadSdFactor. The scaled MAD is a robust
// estimate of the standard deviation, used to normalize raw signal before
// it reaches a model.
//
// Panics on an empty slice.
func MedMad(xs []float32) (med, mad float32) {
	med = Median(xs)

	dev := make([]float32, len(xs))
	for i, x := range xs {
		d := x - med
		if d < 0 {
			d = -d
		}
		dev[i] = d
	}

	mad = MadSdFactor * Median(dev)
	return med, mad
}

// RunLengthEncode collapses consecutive repeats in xs into parallel slices
// of distinct values and run lengths.
//
// Example:
//
//	RunLengthEncode([]int32{1, 1, 2, 2, 2, 1}) = ([1, 2, 1], [2, 3, 1])
//
// An empty input yields empty (non-nil) outputs.
func RunLengthEncode(xs []int32) (values, lengths []int32) {
	values = make([]int32, 0, len(xs))
	lengths = make([]int32, 0, len(xs))

	for i, x := range xs {
		if i == 0 || x != xs[i-1] {
			values = append(values, x)
			lengths = append(lengths, 1)
		} else {
			lengths[len(lengths)-1]++
		}
	}

	return values, lengths
}

// RunLengthDecode expands parallel (values, lengths) slices back into a flat
// label vector, the inverse of RunLengthEncode.
//
// Panics if the slices differ in length or any run length is negative.
func RunLengthDecode(values, lengths []int32) []int32 {
	if len(values) != len(lengths) {
		panic("maths: RunLengthDecode: values and lengths differ in length")
	}

	total := 0
	for _, n := range lengths {
		if n < 0 {
			panic("maths: RunLengthDecode: negative run length")
		}
		total += int(n)
	}

	out := make([]int32, 0, total)
	for i, v := range values {
		for j := int32(0); j < lengths[i]; j++ {
			out = append(out, v)
		}
	}
	return out
}
