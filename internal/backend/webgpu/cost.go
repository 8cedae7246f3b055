package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-webgpu/webgpu/wgpu"
)

// negHuge mirrors the shader's NEG_HUGE sentinel for log(0). Emissions
// below it are clamped before upload, and scores past blockedThreshold on
// readback mean every path hit a blocked emission.
const (
	negHuge          = float32(-3e38)
	blockedThreshold = float32(1.5e38)
)

// Cost scores a batch of run-length sequences against [nbatch, nblk, nstate]
// log-probabilities and writes one negative log-likelihood per element into
// score. It matches the CPU kernel's results up to float rounding: empty
// references score 0, references with more positions than blocks score +Inf,
// and -Inf emissions never produce NaN.
//
// Malformed shapes panic like the CPU kernel. Errors are reserved for GPU
// failures, so callers can fall back to the CPU path.
func (b *Backend) Cost(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score []float32) error {
	offsets := checkCostArgs(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score)

	// Expand runs into per-position labels and classify each element.
	// Degenerate elements are resolved here, so the shader only sees
	// feasible work.
	labels := make([]int32, 0)
	posmeta := make([]int32, 2*nbatch)
	npos := make([]int, nbatch)
	maxPos := 0
	feasible := false
	for i := 0; i < nbatch; i++ {
		off := offsets[i]
		n := 0
		for _, r := range runs[off : off+int(seqlen[i])] {
			n += int(r)
		}
		npos[i] = n
		//nolint:gosec // G115: label buffer sizes fit in int32
		posmeta[2*i] = int32(len(labels))
		//nolint:gosec // G115: position counts fit in int32
		posmeta[2*i+1] = int32(n)
		if n == 0 || n > nblk {
			continue
		}
		feasible = true
		if n > maxPos {
			maxPos = n
		}
		for j, r := range runs[off : off+int(seqlen[i])] {
			for k := int32(0); k < r; k++ {
				labels = append(labels, seqs[off+j])
			}
		}
	}

	for i := 0; i < nbatch; i++ {
		switch {
		case npos[i] == 0:
			score[i] = 0
		case npos[i] > nblk:
			score[i] = float32(math.Inf(1))
		}
	}
	if !feasible {
		return nil
	}

	// Clamp -Inf emissions to the shader sentinel.
	sanitized := make([]float32, nbatch*nblk*nstate)
	for i, v := range logprob[:nbatch*nblk*nstate] {
		if v < negHuge {
			sanitized[i] = negHuge
		} else {
			sanitized[i] = v
		}
	}

	gpuScore, err := b.runCost(sanitized, labels, posmeta, nstate, nblk, nbatch, maxPos)
	if err != nil {
		return err
	}

	for i := 0; i < nbatch; i++ {
		if npos[i] == 0 || npos[i] > nblk {
			continue
		}
		if s := gpuScore[i]; s >= blockedThreshold {
			score[i] = float32(math.Inf(1))
		} else {
			score[i] = s
		}
	}
	return nil
}

// runCost uploads the prepared buffers, dispatches one thread per batch
// element and reads the scores back.
func (b *Backend) runCost(logprob []float32, labels, posmeta []int32, nstate, nblk, nbatch, maxPos int) ([]float32, error) {
	shader := b.compileShader("runlength_cost", runlengthCostShader)
	pipeline := b.getOrCreatePipeline("runlength_cost", shader)

	bufferLogprob := b.createBuffer(float32Bytes(logprob), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferLogprob.Release()

	bufferLabels := b.createBuffer(int32Bytes(labels), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferLabels.Release()

	bufferMeta := b.createBuffer(int32Bytes(posmeta), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferMeta.Release()

	// Per-element forward rows, nbatch x maxPos.
	//nolint:gosec // G115: buffer sizes are non-negative
	alphaSize := uint64(nbatch * maxPos * 4)
	bufferAlpha := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  alphaSize,
	})
	defer bufferAlpha.Release()

	//nolint:gosec // G115: buffer sizes are non-negative
	scoreSize := uint64(nbatch * 4)
	bufferScore := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  scoreSize,
	})
	defer bufferScore.Release()

	// Create uniform buffer for params (nstate, nblk, nbatch, max_pos: u32 each)
	params := make([]byte, 16)
	//nolint:gosec // G115: dimensions are validated non-negative
	binary.LittleEndian.PutUint32(params[0:4], uint32(nstate))
	//nolint:gosec // G115: dimensions are validated non-negative
	binary.LittleEndian.PutUint32(params[4:8], uint32(nblk))
	//nolint:gosec // G115: dimensions are validated non-negative
	binary.LittleEndian.PutUint32(params[8:12], uint32(nbatch))
	//nolint:gosec // G115: dimensions are validated non-negative
	binary.LittleEndian.PutUint32(params[12:16], uint32(maxPos))
	bufferParams := b.createUniformBuffer(params)
	defer bufferParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferLogprob, 0, uint64(len(logprob)*4)),
		wgpu.BufferBindingEntry(1, bufferLabels, 0, uint64(len(labels)*4)),
		wgpu.BufferBindingEntry(2, bufferMeta, 0, uint64(len(posmeta)*4)),
		wgpu.BufferBindingEntry(3, bufferAlpha, 0, alphaSize),
		wgpu.BufferBindingEntry(4, bufferScore, 0, scoreSize),
		wgpu.BufferBindingEntry(5, bufferParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)

	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)

	// One thread per batch element.
	//nolint:gosec // G115: workgroup count is non-negative
	workgroups := uint32((nbatch + workgroupSize - 1) / workgroupSize)
	computePass.DispatchWorkgroups(workgroups, 1, 1)
	computePass.End()

	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	resultData, err := b.readBuffer(bufferScore, scoreSize)
	if err != nil {
		return nil, err
	}
	return float32FromBytes(resultData), nil
}

// checkCostArgs validates shapes the same way the CPU kernel does and
// returns per-element offsets into seqs and runs.
func checkCostArgs(logprob []float32, nstate, nblk, nbatch int, seqs, runs, seqlen []int32, score []float32) []int {
	const op = "webgpu: Cost"
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
