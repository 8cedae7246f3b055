// Copyright 2026 Taiyaki Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package ctc

import (
	"github.com/Linkrw12/taiyaki/internal/ctc"
	"github.com/Linkrw12/taiyaki/internal/parallel"
)

// PoolConfig controls how batch elements fan out over worker goroutines.
type PoolConfig = parallel.Config

// DefaultPoolConfig returns the pool configuration Cost and Grad use:
// one worker per CPU, parallel from two elements up.
func DefaultPoolConfig() PoolConfig {
	return parallel.DefaultConfig()
}

// Cost writes the negative log-likelihood of each batch element's
// run-length reference into score. logprob holds [nbatch, nblk, nstate]
// log-probabilities; seqs and runs concatenate the per-element
// (label, run) pairs and seqlen gives each element's pair count.
//
// Example:
//
//	score := make([]float32, nbatch)
//	ctc.Cost(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score)
//
// Malformed shapes or labels panic.
func Cost(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score []float32) {
	ctc.Cost(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score)
}

// CostWithPool is Cost with an explicit worker pool configuration.
func CostWithPool(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score []float32, cfg PoolConfig) {
	ctc.CostWithPool(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score, cfg)
}

// Grad computes the same scores as Cost and fills grad, shaped like
// logprob, with d(score)/d(logprob) for every emission. Each element's
// gradient slab is fully overwritten.
//
// Example:
//
//	score := make([]float32, nbatch)
//	grad := make([]float32, nbatch*nblk*nstate)
//	ctc.Grad(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score, grad)
func Grad(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score, grad []float32) {
	ctc.Grad(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score, grad)
}

// GradWithPool is Grad with an explicit worker pool configuration.
func GradWithPool(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score, grad []float32, cfg PoolConfig) {
	ctc.GradWithPool(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score, grad, cfg)
}
