// Copyright 2026 Taiyaki Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides GPU-accelerated sequence scoring over WebGPU.
//
// WebGPU is a cross-platform graphics and compute API that works on:
//   - Windows (via D3D12/Vulkan)
//   - macOS (via Metal)
//   - Linux (via Vulkan)
//
// The backend only accelerates scoring; gradients stay on the CPU path.
//
// Example:
//
//	import (
//	    "github.com/Linkrw12/taiyaki/backend/webgpu"
//	    "github.com/Linkrw12/taiyaki/ctc"
//	)
//
//	func main() {
//	    gpu, err := webgpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer gpu.Release()
//
//	    score := make([]float32, nbatch)
//	    if err := gpu.Cost(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score); err != nil {
//	        // Fall back to the CPU kernel.
//	        ctc.Cost(logprob, nstate, nblk, nbatch, seqs, runs, seqlen, score)
//	    }
//	}
package webgpu

import (
	internalwebgpu "github.com/Linkrw12/taiyaki/internal/backend/webgpu"
)

// Backend scores batches on a WebGPU device. See Backend.Cost.
type Backend = internalwebgpu.Backend

// New creates a new WebGPU backend.
//
// This function initializes the WebGPU device and returns a backend ready
// for scoring. Call Release() when done to free GPU resources.
//
// Returns an error if WebGPU initialization fails (e.g., no compatible GPU).
func New() (*Backend, error) {
	return internalwebgpu.New()
}

// IsAvailable checks if WebGPU is available on the current system.
//
// It attempts to initialize a WebGPU adapter to verify that a compatible
// GPU and drivers are present, which makes graceful fallback to the CPU
// kernel easy.
//
// Example:
//
//	if webgpu.IsAvailable() {
//	    gpu, _ := webgpu.New()
//	    defer gpu.Release()
//	}
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
