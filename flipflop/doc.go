// Copyright 2026 Taiyaki Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package flipflop maps base sequences to and from flip-flop state space.
//
// # Overview
//
// In flip-flop coding each base has a flip state and a flop state.
// Successive identical bases alternate between the two, so every state
// change marks a new base and dwells are unambiguous. This package
// contains:
//   - FlopMask: which positions of a label sequence are flops
//   - Code: label sequence to flip-flop state sequence
//   - NStates, NBases: state-space sizing round trip
//   - PathToString: decode a state path back to bases
//
// # Basic Usage
//
//	import "github.com/Linkrw12/taiyaki/flipflop"
//
//	func main() {
//	    states := flipflop.Code(labels, 4)
//	    seq := flipflop.PathToString(path, flipflop.DefaultAlphabet, true)
//	}
package flipflop
