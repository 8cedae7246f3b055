// Copyright 2026 Taiyaki Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package maths provides the numeric primitives used for sequence scoring.
//
// # Overview
//
// This package contains:
//   - LogAddExp, LogSumExp: stable accumulation in log space
//   - Median, MedMad: robust location and scale estimates
//   - RunLengthEncode, RunLengthDecode: run-length codec for label sequences
//
// # Basic Usage
//
//	import "github.com/Linkrw12/taiyaki/maths"
//
//	func main() {
//	    total := maths.LogSumExp(logits)   // log(sum(exp(logits)))
//	    med, mad := maths.MedMad(signal)   // outlier-robust centre and spread
//	}
package maths
