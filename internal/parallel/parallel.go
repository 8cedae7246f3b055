// Package parallel distributes independent batch elements across worker goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Config controls batch dispatch behavior.
type Config struct {
	Enabled    bool // Whether parallel dispatch is enabled.
	NumWorkers int  // Number of worker goroutines to use.
	MinItems   int  // Minimum batch size before workers are spawned.
}

// DefaultConfig returns sensible defaults based on CPU count.
//
// A batch element here is a full dynamic-programming sweep, heavyweight
// compared to goroutine dispatch, so parallel execution pays off from two
// elements upward.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
		MinItems:   2,
	}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is
// below MinItems.
//
// Workers claim indices from a shared atomic counter rather than taking
// fixed chunks: per-item cost varies with sequence length, and the counter
// keeps all workers busy until the batch is drained.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < cfg.MinItems {
		// Sequential fallback.
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	workers := min(cfg.NumWorkers, n)

	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= n {
					return
				}
				f(i)
			}
		}()
	}
	wg.Wait()
}
