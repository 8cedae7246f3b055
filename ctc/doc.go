// Copyright 2026 Taiyaki Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package ctc scores run-length label sequences against per-block state
// log-probabilities and differentiates that score.
//
// # Overview
//
// This package contains:
//   - Cost: batched negative log-likelihood of run-length references
//   - Grad: the same scores plus analytic gradients for every emission
//   - WithPool variants for controlling batch parallelism
//
// A reference is a sequence of (label, run) pairs. Each run of length r
// forces r alignment positions with that label; a path consumes one block
// per step and either stays at its position or advances to the next, so
// runs set a minimum dwell and slack blocks extend stays. Scores and
// gradients come from a numerically stable forward-backward recursion in
// log space.
//
// # Basic Usage
//
//	import "github.com/Linkrw12/taiyaki/ctc"
//
//	func main() {
//	    // logprob holds [nbatch, nblk, nstate] log-probabilities.
//	    // seqs and runs concatenate every element's pairs; seqlen gives
//	    // the pair count per element.
//	    score := make([]float32, nbatch)
//	    grad := make([]float32, nbatch*nblk*nstate)
//	    ctc.Grad(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score, grad)
//	}
//
// # Degenerate Inputs
//
// An element with no pairs scores 0 with a zero gradient slab. An element
// whose runs demand more positions than there are blocks has no feasible
// alignment and scores +Inf, also with a zero gradient slab. Emissions of
// -Inf are handled without ever producing NaN.
//
// # Parallelism
//
// Cost and Grad fan batch elements out over a worker pool sized to
// GOMAXPROCS. The WithPool variants take an explicit PoolConfig; results
// are identical bit for bit regardless of worker count.
package ctc
