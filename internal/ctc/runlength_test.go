package ctc_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Linkrw12/taiyaki/internal/ctc"
	"github.com/Linkrw12/taiyaki/internal/maths"
	"github.com/Linkrw12/taiyaki/internal/parallel"
)

// Helper to check float equality with tolerance.
func floatEqual(a, b, eps float32) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < eps
}

// logAddExp64 is a float64 reference accumulator for the brute-force path
// enumeration below.
func logAddExp64(a, b float64) float64 {
	hi, lo := a, b
	if b > a {
		hi, lo = b, a
	}
	if math.IsInf(hi, -1) {
		return hi
	}
	return hi + math.Log1p(math.Exp(lo-hi))
}

// bruteForceCost enumerates every alignment path explicitly and sums their
// probabilities in float64, as an independent reference for small problems.
// A path visits one position per block, starts at position 0, ends at the
// last position, and moves by 0 or +1 between blocks.
func bruteForceCost(lp []float32, nstate, nblk int, seq, runs []int32) float32 {
	var labels []int32
	for i, r := range runs {
		for j := int32(0); j < r; j++ {
			labels = append(labels, seq[i])
		}
	}
	npos := len(labels)

	if npos == 0 {
		return 0
	}
	if npos > nblk {
		return float32(math.Inf(1))
	}

	total := math.Inf(-1)
	var walk func(t, p int, acc float64)
	walk = func(t, p int, acc float64) {
		acc += float64(lp[t*nstate+int(labels[p])])
		if t == nblk-1 {
			if p == npos-1 {
				total = logAddExp64(total, acc)
			}
			return
		}
		walk(t+1, p, acc)
		if p+1 < npos {
			walk(t+1, p+1, acc)
		}
	}
	walk(0, 0, 0)

	return float32(-total)
}

// numericalGradient computes the gradient using finite differences.
func numericalGradient(f func(float32) float32, x, epsilon float32) float32 {
	return (f(x+epsilon) - f(x-epsilon)) / (2 * epsilon)
}

// randomLogProbs fills a [nblk, nstate] slab with normalized per-block
// log-distributions derived from random logits.
func randomLogProbs(rng *rand.Rand, nblk, nstate int) []float32 {
	lp := make([]float32, nblk*nstate)
	for t := 0; t < nblk; t++ {
		row := lp[t*nstate : (t+1)*nstate]
		for s := range row {
			row[s] = rng.Float32()*4 - 2
		}
		norm := maths.LogSumExp(row)
		for s := range row {
			row[s] -= norm
		}
	}
	return lp
}

// TestCost_KnownSingleRun walks the forward pass by hand for one label with
// run length equal to the block count.
func TestCost_KnownSingleRun(t *testing.T) {
	// nstate=2, nblk=3, one label 0 with run length 3. The only alignment
	// occupies state 0 in every block:
	//   cost = -(-0.1 + -0.2 + -0.3) = 0.6
	logprob := []float32{
		-0.1, -2.0, // block 0
		-0.2, -2.0, // block 1
		-0.3, -2.0, // block 2
	}
	seqs := []int32{0}
	runs := []int32{3}
	seqlen := []int32{1}
	score := make([]float32, 1)

	ctc.Cost(logprob, 2, 3, 1, seqs, runs, seqlen, score)

	if !floatEqual(score[0], 0.6, 1e-5) {
		t.Errorf("Cost: got %f, want 0.6", score[0])
	}
}

// TestGrad_KnownSingleRun extends the scenario above to the backward pass:
// the single path gives every visited entry responsibility one.
func TestGrad_KnownSingleRun(t *testing.T) {
	logprob := []float32{
		-0.1, -2.0,
		-0.2, -2.0,
		-0.3, -2.0,
	}
	seqs := []int32{0}
	runs := []int32{3}
	seqlen := []int32{1}
	score := make([]float32, 1)
	grad := make([]float32, len(logprob))

	ctc.Grad(logprob, 2, 3, 1, seqs, runs, seqlen, score, grad)

	if !floatEqual(score[0], 0.6, 1e-5) {
		t.Errorf("Grad score: got %f, want 0.6", score[0])
	}

	// State 0 is visited with certainty in every block; state 1 never is.
	for blk := 0; blk < 3; blk++ {
		if !floatEqual(grad[blk*2], -1.0, 1e-5) {
			t.Errorf("grad[block %d][state 0]: got %f, want -1", blk, grad[blk*2])
		}
		if grad[blk*2+1] != 0 {
			t.Errorf("grad[block %d][state 1]: got %f, want 0", blk, grad[blk*2+1])
		}
	}
}

// TestCost_MatchesBruteForce compares the forward pass against explicit
// path enumeration on problems small enough to enumerate.
func TestCost_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	cases := []struct {
		name   string
		nstate int
		nblk   int
		seqs   []int32
		runs   []int32
	}{
		{"exact_fit", 3, 4, []int32{2, 0}, []int32{2, 2}},
		{"slack_stays", 3, 6, []int32{2, 0}, []int32{2, 1}},
		{"repeated_label", 4, 7, []int32{1, 3, 1}, []int32{2, 1, 2}},
		{"single_position", 2, 5, []int32{1}, []int32{1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lp := randomLogProbs(rng, tc.nblk, tc.nstate)
			seqlen := []int32{int32(len(tc.seqs))}
			score := make([]float32, 1)

			ctc.Cost(lp, tc.nstate, tc.nblk, 1, tc.seqs, tc.runs, seqlen, score)

			want := bruteForceCost(lp, tc.nstate, tc.nblk, tc.seqs, tc.runs)
			if !floatEqual(score[0], want, 1e-4) {
				t.Errorf("Cost: got %f, brute force %f", score[0], want)
			}
		})
	}
}

// TestGrad_MatchesFiniteDifference checks the analytic gradient against
// centered finite differences of Cost, entry by entry.
func TestGrad_MatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	nstate, nblk := 3, 6
	seqs := []int32{2, 0, 2}
	runs := []int32{2, 1, 1}
	seqlen := []int32{3}

	lp := randomLogProbs(rng, nblk, nstate)
	score := make([]float32, 1)
	grad := make([]float32, len(lp))

	ctc.Grad(lp, nstate, nblk, 1, seqs, runs, seqlen, score, grad)

	epsilon := float32(1e-2)
	for i := range lp {
		f := func(v float32) float32 {
			old := lp[i]
			lp[i] = v
			var s [1]float32
			ctc.Cost(lp, nstate, nblk, 1, seqs, runs, seqlen, s[:])
			lp[i] = old
			return s[0]
		}

		numGrad := numericalGradient(f, lp[i], epsilon)

		// Numerical gradients have inherent error from finite differences
		// in float32; 1% tolerance is reasonable.
		if !floatEqual(grad[i], numGrad, 1e-2) {
			t.Errorf("entry %d: analytic %f vs numerical %f", i, grad[i], numGrad)
		}
	}
}

// TestGrad_DeterministicPath pins a unique alignment by making the run
// lengths fill the block count exactly: the cost is the path's emissions
// and every visited entry gets gradient -1.
func TestGrad_DeterministicPath(t *testing.T) {
	nstate, nblk := 3, 3
	seqs := []int32{2, 0}
	runs := []int32{2, 1}
	seqlen := []int32{2}

	// Positions are [2, 2, 0]; the only path visits position t in block t.
	// Give the visited entries log-probability zero so the cost is exactly
	// zero, with arbitrary values elsewhere.
	lp := []float32{
		-1.5, -1.5, 0, // block 0 emits state 2
		-1.5, -1.5, 0, // block 1 emits state 2
		0, -1.5, -1.5, // block 2 emits state 0
	}
	score := make([]float32, 1)
	grad := make([]float32, len(lp))

	ctc.Grad(lp, nstate, nblk, 1, seqs, runs, seqlen, score, grad)

	if score[0] != 0 {
		t.Errorf("score: got %f, want exactly 0", score[0])
	}

	wantGrad := []float32{
		0, 0, -1,
		0, 0, -1,
		-1, 0, 0,
	}
	for i := range wantGrad {
		if grad[i] != wantGrad[i] {
			t.Errorf("grad[%d]: got %f, want %f", i, grad[i], wantGrad[i])
		}
	}
}

// TestGrad_OneHotPath repeats the deterministic-path case with all
// off-path emissions at -Inf. The score stays exactly zero, the visited
// entries keep responsibility one, and nothing turns into NaN even though
// every unvisited position is blocked.
func TestGrad_OneHotPath(t *testing.T) {
	negInf := float32(math.Inf(-1))

	nstate, nblk := 3, 3
	seqs := []int32{2, 0}
	runs := []int32{2, 1}
	seqlen := []int32{2}

	lp := []float32{
		negInf, negInf, 0,
		negInf, negInf, 0,
		0, negInf, negInf,
	}
	score := make([]float32, 1)
	grad := make([]float32, len(lp))

	ctc.Grad(lp, nstate, nblk, 1, seqs, runs, seqlen, score, grad)

	if score[0] != 0 {
		t.Errorf("score: got %f, want exactly 0", score[0])
	}

	wantGrad := []float32{
		0, 0, -1,
		0, 0, -1,
		-1, 0, 0,
	}
	for i := range wantGrad {
		if math.IsNaN(float64(grad[i])) {
			t.Fatalf("grad[%d] is NaN", i)
		}
		if grad[i] != wantGrad[i] {
			t.Errorf("grad[%d]: got %f, want %f", i, grad[i], wantGrad[i])
		}
	}
}

// TestGrad_BlockResponsibilitiesSumToOne checks that each block's gradient
// row sums to -1 for a feasible element: every alignment occupies exactly
// one position per block, so the posterior mass per block is one.
func TestGrad_BlockResponsibilitiesSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	nstate, nblk := 4, 8
	seqs := []int32{1, 3, 0, 3}
	runs := []int32{2, 1, 2, 1}
	seqlen := []int32{4}

	lp := randomLogProbs(rng, nblk, nstate)
	score := make([]float32, 1)
	grad := make([]float32, len(lp))

	ctc.Grad(lp, nstate, nblk, 1, seqs, runs, seqlen, score, grad)

	for blk := 0; blk < nblk; blk++ {
		sum := float32(0)
		for s := 0; s < nstate; s++ {
			sum += grad[blk*nstate+s]
		}
		if !floatEqual(sum, -1.0, 1e-3) {
			t.Errorf("block %d gradient row sums to %f, want -1", blk, sum)
		}
	}
}

// TestBatchIndependence checks that an element's score and gradient are
// bit-identical whether it is evaluated alone or inside a larger batch.
func TestBatchIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	nstate, nblk := 3, 5
	stride := nblk * nstate

	// Element under test.
	seqs0 := []int32{1, 2}
	runs0 := []int32{2, 1}
	lp0 := randomLogProbs(rng, nblk, nstate)

	// Alone.
	scoreAlone := make([]float32, 1)
	gradAlone := make([]float32, stride)
	ctc.Grad(lp0, nstate, nblk, 1, seqs0, runs0, []int32{2}, scoreAlone, gradAlone)

	// Embedded between two unrelated neighbours with different lengths.
	lp := make([]float32, 3*stride)
	copy(lp[0:], randomLogProbs(rng, nblk, nstate))
	copy(lp[stride:], lp0)
	copy(lp[2*stride:], randomLogProbs(rng, nblk, nstate))

	seqs := []int32{0, 1, 2, 1, 2, 0, 2}
	runs := []int32{1, 1, 2, 2, 1, 3, 1}
	seqlen := []int32{3, 2, 2}
	if seqs[3] != seqs0[0] || seqs[4] != seqs0[1] || runs[3] != runs0[0] || runs[4] != runs0[1] {
		t.Fatalf("batch layout broken: element 1 must start at offset 3")
	}

	score := make([]float32, 3)
	grad := make([]float32, len(lp))
	ctc.Grad(lp, nstate, nblk, 3, seqs, runs, seqlen, score, grad)

	if score[1] != scoreAlone[0] {
		t.Errorf("embedded score %f differs from standalone %f", score[1], scoreAlone[0])
	}
	for i := 0; i < stride; i++ {
		if grad[stride+i] != gradAlone[i] {
			t.Errorf("embedded grad[%d] %f differs from standalone %f", i, grad[stride+i], gradAlone[i])
		}
	}
}

// TestInfeasibleRunLength checks the fail-soft policy when run lengths sum
// to more than the block count: +Inf score, zero gradient, untouched
// neighbours.
func TestInfeasibleRunLength(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	nstate, nblk := 2, 3
	stride := nblk * nstate

	lp := make([]float32, 2*stride)
	copy(lp[0:], randomLogProbs(rng, nblk, nstate))
	copy(lp[stride:], randomLogProbs(rng, nblk, nstate))

	// Element 0 needs 4 positions in 3 blocks; element 1 is fine.
	seqs := []int32{0, 1, 1}
	runs := []int32{2, 2, 2}
	seqlen := []int32{2, 1}

	score := make([]float32, 2)
	grad := make([]float32, len(lp))
	ctc.Grad(lp, nstate, nblk, 2, seqs, runs, seqlen, score, grad)

	if !math.IsInf(float64(score[0]), 1) {
		t.Errorf("infeasible element score: got %f, want +Inf", score[0])
	}
	for i := 0; i < stride; i++ {
		if grad[i] != 0 {
			t.Errorf("infeasible element grad[%d]: got %f, want 0", i, grad[i])
		}
	}

	// The neighbour must behave exactly as if evaluated alone.
	scoreAlone := make([]float32, 1)
	gradAlone := make([]float32, stride)
	ctc.Grad(lp[stride:], nstate, nblk, 1, seqs[2:], runs[2:], seqlen[1:], scoreAlone, gradAlone)

	if score[1] != scoreAlone[0] {
		t.Errorf("neighbour score %f differs from standalone %f", score[1], scoreAlone[0])
	}
	for i := 0; i < stride; i++ {
		if grad[stride+i] != gradAlone[i] {
			t.Errorf("neighbour grad[%d] %f differs from standalone %f", i, grad[stride+i], gradAlone[i])
		}
	}
}

// TestEmptySequence checks that a zero-length reference scores zero with a
// zero gradient.
func TestEmptySequence(t *testing.T) {
	rng := rand.New(rand.NewSource(9))

	nstate, nblk := 2, 4
	lp := randomLogProbs(rng, nblk, nstate)

	score := []float32{-123}
	grad := make([]float32, len(lp))
	for i := range grad {
		grad[i] = 99 // Grad must overwrite stale values.
	}

	ctc.Grad(lp, nstate, nblk, 1, nil, nil, []int32{0}, score, grad)

	if score[0] != 0 {
		t.Errorf("empty sequence score: got %f, want 0", score[0])
	}
	for i, g := range grad {
		if g != 0 {
			t.Errorf("empty sequence grad[%d]: got %f, want 0", i, g)
		}
	}
}

// TestNegInfEmissions_NoNaN checks that forbidden states never surface as
// NaN, both when other alignments survive and when none do.
func TestNegInfEmissions_NoNaN(t *testing.T) {
	negInf := float32(math.Inf(-1))

	// Two positions over three blocks: paths differ in when they advance.
	// Block 1 forbids state 0, which kills the late-advance path but leaves
	// the early one alive.
	nstate, nblk := 2, 3
	lp := []float32{
		-0.5, -0.9,
		negInf, -0.4,
		-0.8, -0.6,
	}
	seqs := []int32{0, 1}
	runs := []int32{1, 1}

	score := make([]float32, 1)
	grad := make([]float32, len(lp))
	ctc.Grad(lp, nstate, nblk, 1, seqs, runs, []int32{2}, score, grad)

	if math.IsNaN(float64(score[0])) {
		t.Fatalf("score is NaN")
	}
	if math.IsInf(float64(score[0]), 0) {
		t.Fatalf("score should be finite while an alignment survives, got %f", score[0])
	}
	for i, g := range grad {
		if math.IsNaN(float64(g)) {
			t.Errorf("grad[%d] is NaN", i)
		}
	}

	// Now forbid state 1 everywhere: every alignment must emit state 1 at
	// some block, so nothing survives. Expect +Inf and a zero gradient, not
	// NaN.
	for t2 := 0; t2 < nblk; t2++ {
		lp[t2*nstate+1] = negInf
	}
	ctc.Grad(lp, nstate, nblk, 1, seqs, runs, []int32{2}, score, grad)

	if !math.IsInf(float64(score[0]), 1) {
		t.Errorf("fully blocked element score: got %f, want +Inf", score[0])
	}
	for i, g := range grad {
		if math.IsNaN(float64(g)) {
			t.Errorf("fully blocked grad[%d] is NaN", i)
		}
		if g != 0 {
			t.Errorf("fully blocked grad[%d]: got %f, want 0", i, g)
		}
	}
}

// TestGrad_ScoreMatchesCost checks that both entry points report the same
// score for the same inputs.
func TestGrad_ScoreMatchesCost(t *testing.T) {
	rng := rand.New(rand.NewSource(21))

	nstate, nblk, nbatch := 4, 6, 3
	stride := nblk * nstate

	lp := make([]float32, nbatch*stride)
	for b := 0; b < nbatch; b++ {
		copy(lp[b*stride:], randomLogProbs(rng, nblk, nstate))
	}
	seqs := []int32{0, 2, 1, 3, 2}
	runs := []int32{2, 1, 3, 1, 1}
	seqlen := []int32{2, 1, 2}

	scoreCost := make([]float32, nbatch)
	ctc.Cost(lp, nstate, nblk, nbatch, seqs, runs, seqlen, scoreCost)

	scoreGrad := make([]float32, nbatch)
	grad := make([]float32, len(lp))
	ctc.Grad(lp, nstate, nblk, nbatch, seqs, runs, seqlen, scoreGrad, grad)

	for b := 0; b < nbatch; b++ {
		if scoreCost[b] != scoreGrad[b] {
			t.Errorf("element %d: Cost %f vs Grad %f", b, scoreCost[b], scoreGrad[b])
		}
	}
}

// TestSequentialMatchesParallel checks that the worker pool does not change
// results: dispatch only partitions the batch.
func TestSequentialMatchesParallel(t *testing.T) {
	rng := rand.New(rand.NewSource(17))

	nstate, nblk, nbatch := 3, 5, 8
	stride := nblk * nstate

	lp := make([]float32, nbatch*stride)
	for b := 0; b < nbatch; b++ {
		copy(lp[b*stride:], randomLogProbs(rng, nblk, nstate))
	}

	var seqs, runs, seqlen []int32
	for b := 0; b < nbatch; b++ {
		n := 1 + rng.Intn(2)
		seqlen = append(seqlen, int32(n))
		for i := 0; i < n; i++ {
			seqs = append(seqs, int32(rng.Intn(nstate)))
			runs = append(runs, int32(1+rng.Intn(2)))
		}
	}

	seqScore := make([]float32, nbatch)
	seqGrad := make([]float32, len(lp))
	ctc.GradWithPool(lp, nstate, nblk, nbatch, seqs, runs, seqlen, seqScore, seqGrad,
		parallel.Config{Enabled: false})

	parScore := make([]float32, nbatch)
	parGrad := make([]float32, len(lp))
	ctc.GradWithPool(lp, nstate, nblk, nbatch, seqs, runs, seqlen, parScore, parGrad,
		parallel.Config{Enabled: true, NumWorkers: 4, MinItems: 2})

	for b := 0; b < nbatch; b++ {
		if seqScore[b] != parScore[b] {
			t.Errorf("element %d: sequential %f vs parallel %f", b, seqScore[b], parScore[b])
		}
	}
	for i := range seqGrad {
		if seqGrad[i] != parGrad[i] {
			t.Errorf("grad[%d]: sequential %f vs parallel %f", i, seqGrad[i], parGrad[i])
		}
	}
}

// TestCost_PanicsOnShortLogprob tests panic on undersized buffers.
func TestCost_PanicsOnShortLogprob(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for undersized logprob buffer")
		}
	}()

	lp := make([]float32, 5) // needs 1*3*2 = 6
	ctc.Cost(lp, 2, 3, 1, []int32{0}, []int32{1}, []int32{1}, make([]float32, 1))
}

// TestCost_PanicsOnBadLabel tests panic on a label outside the state range.
func TestCost_PanicsOnBadLabel(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for out-of-range label")
		}
	}()

	lp := make([]float32, 6)
	ctc.Cost(lp, 2, 3, 1, []int32{5}, []int32{1}, []int32{1}, make([]float32, 1))
}

// TestCost_PanicsOnZeroRun tests panic on a non-positive run length.
func TestCost_PanicsOnZeroRun(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for zero run length")
		}
	}()

	lp := make([]float32, 6)
	ctc.Cost(lp, 2, 3, 1, []int32{0}, []int32{0}, []int32{1}, make([]float32, 1))
}

func BenchmarkGrad(b *testing.B) {
	rng := rand.New(rand.NewSource(1))

	// Sizes in the region a basecaller training loop would use.
	nstate, nblk, nbatch := 40, 256, 8
	stride := nblk * nstate

	lp := make([]float32, nbatch*stride)
	for i := range lp {
		lp[i] = rng.Float32()*4 - 6
	}

	var seqs, runs, seqlen []int32
	for bi := 0; bi < nbatch; bi++ {
		n := 48
		seqlen = append(seqlen, int32(n))
		for i := 0; i < n; i++ {
			seqs = append(seqs, int32(rng.Intn(nstate)))
			runs = append(runs, int32(1+rng.Intn(4)))
		}
	}

	score := make([]float32, nbatch)
	grad := make([]float32, len(lp))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctc.Grad(lp, nstate, nblk, nbatch, seqs, runs, seqlen, score, grad)
	}
}

func BenchmarkCost(b *testing.B) {
	rng := rand.New(rand.NewSource(2))

	nstate, nblk, nbatch := 40, 256, 8
	stride := nblk * nstate

	lp := make([]float32, nbatch*stride)
	for i := range lp {
		lp[i] = rng.Float32()*4 - 6
	}

	var seqs, runs, seqlen []int32
	for bi := 0; bi < nbatch; bi++ {
		n := 48
		seqlen = append(seqlen, int32(n))
		for i := 0; i < n; i++ {
			seqs = append(seqs, int32(rng.Intn(nstate)))
			runs = append(runs, int32(1+rng.Intn(4)))
		}
	}

	score := make([]float32, nbatch)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctc.Cost(lp, nstate, nblk, nbatch, seqs, runs, seqlen, score)
	}
}
