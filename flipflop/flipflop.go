// Copyright 2026 Taiyaki Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package flipflop

import (
	"github.com/Linkrw12/taiyaki/internal/flipflop"
)

// DefaultAlphabet is the canonical base ordering.
const DefaultAlphabet = flipflop.DefaultAlphabet

// FlopMask reports, for each position of labels, whether it sits at an
// odd offset within a run of identical labels and therefore takes the
// flop state.
func FlopMask(labels []int32) []bool {
	return flipflop.FlopMask(labels)
}

// Code translates base labels in [0, nbase) into flip-flop states:
// flip positions keep their label, flop positions get label + nbase.
//
// Example:
//
//	flipflop.Code([]int32{1, 3, 2, 3, 3}, 4)  // [1 3 2 3 7]
//
// Panics when a label falls outside [0, nbase).
func Code(labels []int32, nbase int) []int32 {
	return flipflop.Code(labels, nbase)
}

// NStates returns the number of flip-flop transition states for an
// alphabet of nbase bases.
func NStates(nbase int) int {
	return flipflop.NStates(nbase)
}

// NBases inverts NStates, returning an error when nstate is not a valid
// flip-flop state count.
func NBases(nstate int) (int, error) {
	return flipflop.NBases(nstate)
}

// PathToString decodes a flip-flop state path into bases, emitting one
// base per state change. includeFirst keeps the path's starting state's
// base; decoders that treat it as context drop it.
func PathToString(path []int32, alphabet string, includeFirst bool) string {
	return flipflop.PathToString(path, alphabet, includeFirst)
}
