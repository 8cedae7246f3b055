package parallel

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestFor_EachIndexOnce(t *testing.T) {
	cfg := DefaultConfig()

	n := 257
	seen := make([]int64, n)

	For(n, func(i int) {
		atomic.AddInt64(&seen[i], 1)
	}, cfg)

	for i, c := range seen {
		if c != 1 {
			t.Errorf("Index %d visited %d times, want 1", i, c)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var counter int64
	For(100, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != 100 {
		t.Errorf("Expected 100, got %d", counter)
	}
}

func TestFor_BelowMinItems(t *testing.T) {
	// A single item must not pay for worker startup.
	cfg := DefaultConfig()

	var counter int64
	For(1, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != 1 {
		t.Errorf("Expected 1, got %d", counter)
	}
}

func TestFor_Empty(t *testing.T) {
	cfg := DefaultConfig()

	called := false
	For(0, func(_ int) {
		called = true
	}, cfg)

	if called {
		t.Errorf("f must not be called for n = 0")
	}
}

func TestFor_MoreWorkersThanItems(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 64, MinItems: 2}

	var counter int64
	For(3, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != 3 {
		t.Errorf("Expected 3, got %d", counter)
	}
}

func TestFor_UnevenWork(t *testing.T) {
	// Items with very different costs must all complete; the atomic counter
	// keeps idle workers pulling while a slow item runs.
	cfg := Config{Enabled: true, NumWorkers: 4, MinItems: 2}

	n := 16
	seen := make([]int64, n)

	For(n, func(i int) {
		if i == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		atomic.AddInt64(&seen[i], 1)
	}, cfg)

	for i, c := range seen {
		if c != 1 {
			t.Errorf("Index %d visited %d times, want 1", i, c)
		}
	}
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 64

	work := func(i int) {
		// Simulate a small DP sweep.
		s := 0.0
		for j := 0; j < 10000; j++ {
			s += float64(i * j)
		}
		_ = s
	}

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			For(n, work, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			For(n, work, cfgSeq)
		}
	})
}
