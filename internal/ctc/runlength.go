// Package ctc implements sequence losses over run-length encoded references
// for basecaller training.
//
// The run-length loss aligns a reference sequence of (label, run length)
// pairs against a block of per-position log-probabilities produced by a
// model. Each run length is the minimum number of blocks its label must
// occupy; any slack between the total run length and the block count is
// absorbed by optional stays. The loss marginalizes over every legal
// alignment with a forward dynamic program and differentiates analytically
// with a backward one, so no autodiff tape is involved.
package ctc

import (
	"fmt"
	"math"

	"github.com/Linkrw12/taiyaki/internal/maths"
	"github.com/Linkrw12/taiyaki/internal/parallel"
)

var negInf = float32(math.Inf(-1))

// Cost computes the negative log-likelihood of each batch element's
// reference sequence under its per-block log-probabilities, using the
// default worker configuration.
//
// Buffer layout:
//   - logprob: nbatch*nblk*nstate float32 values, row-major with the state
//     index fastest. Entries are treated as unnormalized log-probabilities;
//     no normalization is applied.
//   - seqs, runs: (label, run length) pairs for all batch elements
//     concatenated. Element b owns seqlen[b] pairs starting at offset
//     seqlen[0]+...+seqlen[b-1].
//   - score: one output value per batch element.
//
// An element whose run lengths sum to more than nblk cannot be aligned and
// scores +Inf. An element with seqlen[b] == 0 scores 0. -Inf entries in
// logprob are legal; alignments through them carry no probability mass.
//
// Panics if any buffer is shorter than the declared sizes imply, or if a
// label or run length is out of range.
func Cost(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score []float32) {
	CostWithPool(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score, parallel.DefaultConfig())
}

// CostWithPool is Cost with an explicit worker configuration.
func CostWithPool(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score []float32, pool parallel.Config) {
	offsets := checkArgs("ctc: Cost", logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score, nil)

	stride := nblk * nstate
	parallel.For(nbatch, func(b int) {
		lp := logprob[b*stride : (b+1)*stride]
		off, n := offsets[b], int(seqlen[b])
		labels := expandLabels(seqs[off:off+n], runs[off:off+n])
		score[b] = costElement(lp, nstate, nblk, labels)
	}, pool)
}

// Grad computes, for each batch element, the negative log-likelihood and
// its gradient with respect to every logprob entry, using the default
// worker configuration.
//
// Buffers are laid out as for Cost. grad has the same shape as logprob and
// is fully overwritten: entry (b, t, s) receives minus the posterior
// probability that the alignment of element b emits state s in block t,
// summed over the reference positions carrying that state. Entries no
// alignment touches are zero, as is the whole slab of an element that is
// empty or cannot be aligned.
func Grad(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score, grad []float32) {
	GradWithPool(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score, grad, parallel.DefaultConfig())
}

// GradWithPool is Grad with an explicit worker configuration.
func GradWithPool(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score, grad []float32, pool parallel.Config) {
	offsets := checkArgs("ctc: Grad", logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score, grad)

	stride := nblk * nstate
	parallel.For(nbatch, func(b int) {
		lp := logprob[b*stride : (b+1)*stride]
		off, n := offsets[b], int(seqlen[b])
		labels := expandLabels(seqs[off:off+n], runs[off:off+n])
		score[b] = gradElement(lp, nstate, nblk, labels, grad[b*stride:(b+1)*stride])
	}, pool)
}

// checkArgs validates buffer sizes and index ranges, and returns the
// per-element offsets into seqs and runs. Validation happens on the calling
// goroutine so that shape violations panic there rather than inside the
// worker pool.
func checkArgs(op string, logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score, grad []float32) []int {
	if nstate < 1 {
		panic(fmt.Sprintf("%s: nstate must be >= 1, got %d", op, nstate))
	}
	if nblk < 0 || nbatch < 0 {
		panic(fmt.Sprintf("%s: negative dimensions nblk=%d nbatch=%d", op, nblk, nbatch))
	}
	if len(logprob) < nbatch*nblk*nstate {
		panic(fmt.Sprintf("%s: logprob has %d entries, need nbatch*nblk*nstate = %d", op, len(logprob), nbatch*nblk*nstate))
	}
	if len(seqlen) < nbatch {
		panic(fmt.Sprintf("%s: seqlen has %d entries, need nbatch = %d", op, len(seqlen), nbatch))
	}
	if len(score) < nbatch {
		panic(fmt.Sprintf("%s: score has %d entries, need nbatch = %d", op, len(score), nbatch))
	}
	if grad != nil && len(grad) < nbatch*nblk*nstate {
		panic(fmt.Sprintf("%s: grad has %d entries, need nbatch*nblk*nstate = %d", op, len(grad), nbatch*nblk*nstate))
	}

	offsets := make([]int, nbatch)
	total := 0
	for b := 0; b < nbatch; b++ {
		if seqlen[b] < 0 {
			panic(fmt.Sprintf("%s: seqlen[%d] is negative: %d", op, b, seqlen[b]))
		}
		offsets[b] = total
		total += int(seqlen[b])
	}
	if len(seqs) < total || len(runs) < total {
		panic(fmt.Sprintf("%s: seqs/runs have %d/%d entries, need sum(seqlen) = %d", op, len(seqs), len(runs), total))
	}
	for i := 0; i < total; i++ {
		if seqs[i] < 0 || int(seqs[i]) >= nstate {
			panic(fmt.Sprintf("%s: label %d at pair %d outside [0, %d)", op, seqs[i], i, nstate))
		}
		if runs[i] < 1 {
			panic(fmt.Sprintf("%s: run length %d at pair %d, must be >= 1", op, runs[i], i))
		}
	}

	return offsets
}

// expandLabels flattens one element's (label, run length) pairs into one
// label per alignment position, so position p emits state labels[p]
// directly. A label that recurs in the sequence simply appears in several
// stretches.
func expandLabels(seq, runs []int32) []int32 {
	npos := 0
	for _, r := range runs {
		npos += int(r)
	}

	labels := make([]int32, 0, npos)
	for i, r := range runs {
		for j := int32(0); j < r; j++ {
			labels = append(labels, seq[i])
		}
	}
	return labels
}

// costElement runs the forward pass for one batch element and returns its
// negative log-likelihood. lp is the element's [nblk, nstate] slab.
//
// Recurrence over alignment positions p:
//
//	alpha[t][p] = LogAddExp(alpha[t-1][p], alpha[t-1][p-1]) + lp[t][labels[p]]
//
// with alpha[0][0] = lp[0][labels[0]] and every other entry starting at
// -Inf. A path stays at its position or advances by one per block, starts
// at position 0 in block 0 and must end at the last position in the last
// block, so the score is -alpha[nblk-1][npos-1].
func costElement(lp []float32, nstate, nblk int, labels []int32) float32 {
	npos := len(labels)
	if npos == 0 {
		// Empty reference: vacuously aligned with probability one.
		return 0
	}
	if npos > nblk {
		// More forced positions than blocks: no alignment exists.
		return float32(math.Inf(1))
	}

	alpha := make([]float32, npos)
	for p := range alpha {
		alpha[p] = negInf
	}
	alpha[0] = lp[labels[0]]

	for t := 1; t < nblk; t++ {
		row := lp[t*nstate : (t+1)*nstate]
		// Walk positions descending so alpha[p-1] still holds the previous
		// block's value when position p reads it.
		for p := npos - 1; p >= 1; p-- {
			alpha[p] = maths.LogAddExp(alpha[p], alpha[p-1]) + row[labels[p]]
		}
		alpha[0] += row[labels[0]]
	}

	return -alpha[npos-1]
}

// gradElement runs the forward and backward passes for one batch element,
// writes its gradient slab and returns its negative log-likelihood.
// gradRow is the element's [nblk, nstate] slab and is fully overwritten.
//
// The backward recurrence mirrors the forward one from the other end:
//
//	beta[t][p] = LogAddExp(beta[t+1][p]   + lp[t+1][labels[p]],
//	                       beta[t+1][p+1] + lp[t+1][labels[p+1]])
//
// with beta[nblk-1][npos-1] = 0. The posterior responsibility of position p
// in block t is exp(alpha[t][p] + beta[t][p] - total), and each one is
// subtracted from the gradient entry of its block and state. Forward and
// backward combine values with the same LogAddExp primitive, which keeps
// the two passes consistent in how they treat -Inf.
func gradElement(lp []float32, nstate, nblk int, labels []int32, gradRow []float32) float32 {
	for i := range gradRow {
		gradRow[i] = 0
	}

	npos := len(labels)
	if npos == 0 {
		return 0
	}
	if npos > nblk {
		return float32(math.Inf(1))
	}

	// Forward pass, retaining every block's alpha row for the posterior.
	alpha := make([]float32, nblk*npos)
	for i := range alpha {
		alpha[i] = negInf
	}
	alpha[0] = lp[labels[0]]

	for t := 1; t < nblk; t++ {
		prev := alpha[(t-1)*npos : t*npos]
		cur := alpha[t*npos : (t+1)*npos]
		row := lp[t*nstate : (t+1)*nstate]

		cur[0] = prev[0] + row[labels[0]]
		for p := 1; p < npos; p++ {
			cur[p] = maths.LogAddExp(prev[p], prev[p-1]) + row[labels[p]]
		}
	}

	total := alpha[(nblk-1)*npos+npos-1]
	if math.IsInf(float64(total), -1) {
		// Every alignment runs through a -Inf emission, so the posterior is
		// undefined. Report an infinite cost and a zero gradient rather
		// than dividing out log(0).
		return float32(math.Inf(1))
	}

	// Backward pass with two rolling beta rows. Each block's
	// responsibilities are folded into the gradient as soon as its beta row
	// is complete.
	beta := make([]float32, npos)
	betaNext := make([]float32, npos)
	for p := range betaNext {
		betaNext[p] = negInf
	}
	betaNext[npos-1] = 0

	addResponsibilities(gradRow[(nblk-1)*nstate:], alpha[(nblk-1)*npos:], betaNext, labels, total)

	for t := nblk - 2; t >= 0; t-- {
		row := lp[(t+1)*nstate : (t+2)*nstate]

		for p := 0; p < npos-1; p++ {
			beta[p] = maths.LogAddExp(betaNext[p]+row[labels[p]], betaNext[p+1]+row[labels[p+1]])
		}
		beta[npos-1] = betaNext[npos-1] + row[labels[npos-1]]

		addResponsibilities(gradRow[t*nstate:(t+1)*nstate], alpha[t*npos:(t+1)*npos], beta, labels, total)
		beta, betaNext = betaNext, beta
	}

	return -total
}

// addResponsibilities folds one block's posterior mass into its gradient
// row. gRow has nstate entries; aRow and betaRow have one entry per
// alignment position. Positions with no mass contribute nothing, and a
// state reached from several positions accumulates all of them.
func addResponsibilities(gRow, aRow, betaRow []float32, labels []int32, total float32) {
	for p, lbl := range labels {
		gamma := aRow[p] + betaRow[p] - total
		if math.IsInf(float64(gamma), -1) {
			continue
		}
		gRow[lbl] -= float32(math.Exp(float64(gamma)))
	}
}
