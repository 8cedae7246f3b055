// Package flipflop implements the flip-flop state coding used by basecaller
// alphabets.
//
// A flip-flop model doubles its alphabet: every base exists as a flip state
// and a flop state, and consecutive identical bases alternate between the
// two. The alternation makes a repeated base visible as a state transition,
// which plain single-state coding cannot express.
package flipflop

import (
	"fmt"
	"math"
	"strings"
)

// DefaultAlphabet is the canonical nucleotide alphabet.
const DefaultAlphabet = "ACGT"

// FlopMask reports which labels sit at even positions within a run of
// identical labels, counting the first position of each run as position
// one.
//
// Example:
//
//	FlopMask([1, 3, 2, 3, 3, 3, 3, 1, 1])
//	= [false, false, false, false, true, false, true, false, true]
func FlopMask(labels []int32) []bool {
	mask := make([]bool, len(labels))

	runPos := 0
	for i := range labels {
		if i == 0 || labels[i] != labels[i-1] {
			runPos = 0
		} else {
			runPos++
		}
		mask[i] = runPos%2 == 1
	}
	return mask
}

// Code rewrites base labels into flip-flop states: labels at flop positions
// (see FlopMask) are offset by nbase, the rest pass through unchanged.
//
// Example:
//
//	Code([1, 3, 2, 3, 3, 3, 3, 1, 1], 4) = [1, 3, 2, 3, 7, 3, 7, 1, 5]
//
// Panics if a label falls outside [0, nbase).
func Code(labels []int32, nbase int) []int32 {
	mask := FlopMask(labels)

	out := make([]int32, len(labels))
	for i, l := range labels {
		if l < 0 || int(l) >= nbase {
			panic(fmt.Sprintf("flipflop: Code: label %d outside [0, %d)", l, nbase))
		}
		out[i] = l
		if mask[i] {
			out[i] += int32(nbase)
		}
	}
	return out
}

// NStates returns the output width of a flip-flop network over an alphabet
// of nbase letters: one transition weight for every (from, to) pair of the
// doubled alphabet that the coding permits.
func NStates(nbase int) int {
	return 2 * nbase * (nbase + 1)
}

// NBases recovers the alphabet size from a flip-flop network output width,
// inverting NStates. Widths that no whole alphabet produces are rejected.
func NBases(nstate int) (int, error) {
	if nstate <= 0 {
		return 0, fmt.Errorf("flipflop: invalid state count %d", nstate)
	}

	nbase := int(math.Round(math.Sqrt(0.25+0.5*float64(nstate)) - 0.5))
	if nbase < 1 || NStates(nbase) != nstate {
		return 0, fmt.Errorf("flipflop: %d states does not match any alphabet size", nstate)
	}
	return nbase, nil
}

// PathToString collapses a per-block flip-flop state path into a basecall.
// A base is emitted whenever the state changes; flip and flop states of the
// same base decode to the same letter. When includeFirst is false the
// source state of the first transition is omitted, matching decoders that
// only report states moved into.
//
// Panics if a state falls outside the doubled alphabet.
func PathToString(path []int32, alphabet string, includeFirst bool) string {
	doubled := alphabet + alphabet

	var sb strings.Builder
	for i, st := range path {
		if st < 0 || int(st) >= len(doubled) {
			panic(fmt.Sprintf("flipflop: PathToString: state %d outside doubled alphabet of length %d", st, len(doubled)))
		}
		if i == 0 {
			if !includeFirst {
				continue
			}
		} else if st == path[i-1] {
			continue
		}
		sb.WriteByte(doubled[st])
	}
	return sb.String()
}
