// Copyright 2026 Taiyaki Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package maths

import (
	"github.com/Linkrw12/taiyaki/internal/maths"
)

// MadSdFactor scales a median absolute deviation into a standard
// deviation estimate for normally distributed data.
const MadSdFactor = maths.MadSdFactor

// LogAddExp returns log(exp(a) + exp(b)) without overflow or underflow.
// It treats -Inf as log(0), so LogAddExp(-Inf, x) == x.
func LogAddExp(a, b float32) float32 {
	return maths.LogAddExp(a, b)
}

// LogSumExp returns log(sum(exp(xs))) in one stable pass.
// An empty slice returns -Inf.
func LogSumExp(xs []float32) float32 {
	return maths.LogSumExp(xs)
}

// Median returns the median of xs. Panics on an empty slice.
func Median(xs []float32) float32 {
	return maths.Median(xs)
}

// MedMad returns the median and the scaled median absolute deviation,
// a robust location and scale pair for normalizing raw signal.
//
// Example:
//
//	med, mad := maths.MedMad(signal)
//	for i := range signal {
//	    signal[i] = (signal[i] - med) / mad
//	}
func MedMad(xs []float32) (med, mad float32) {
	return maths.MedMad(xs)
}

// RunLengthEncode compresses xs into the values at run starts and the
// length of each run.
func RunLengthEncode(xs []int32) (values, lengths []int32) {
	return maths.RunLengthEncode(xs)
}

// RunLengthDecode expands (values, lengths) back into the full sequence.
// Panics when the slices disagree in length or a length is negative.
func RunLengthDecode(values, lengths []int32) []int32 {
	return maths.RunLengthDecode(values, lengths)
}
