package common

import (
	"fmt"
	"runtime"
	"slices"
	"time"
)

// MemoryStats is the subset of runtime memory statistics reported by benchmarks.
type MemoryStats struct {
	Alloc         uint64
	TotalAlloc    uint64
	Sys           uint64
	HeapObjects   uint64
	NumGC         uint32
	GCCPUFraction float64
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:         m.Alloc,
		TotalAlloc:    m.TotalAlloc,
		Sys:           m.Sys,
		HeapObjects:   m.HeapObjects,
		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.Alloc/1024,
		m.TotalAlloc/1024,
		m.Sys/1024,
		m.NumGC,
		m.GCCPUFraction*100)
}

// BenchmarkResult holds benchmark results.
type BenchmarkResult struct {
	Name         string
	Duration     time.Duration
	Samples      []time.Duration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Iterations   int
	Error        error
}

// Percentile returns the p-th percentile (0..100) of the per-iteration samples.
func (br BenchmarkResult) Percentile(p float64) time.Duration {
	if len(br.Samples) == 0 {
		return 0
	}
	sorted := slices.Clone(br.Samples)
	slices.Sort(sorted)
	idx := int(p / 100 * float64(len(sorted)-1))
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// String returns a formatted string representation of the benchmark result.
func (br BenchmarkResult) String() string {
	if br.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", br.Name, br.Error)
	}
	if br.Iterations == 0 {
		return br.Name + ": no iterations"
	}

	memDiff := int64(br.MemoryAfter.TotalAlloc) - int64(br.MemoryBefore.TotalAlloc) //nolint:gosec // G115: display only
	avgDuration := br.Duration / time.Duration(br.Iterations)

	return fmt.Sprintf("%s: %d iterations, avg: %v, p50: %v, p95: %v, total: %v, alloc: +%d KB",
		br.Name, br.Iterations, avgDuration, br.Percentile(50), br.Percentile(95), br.Duration,
		memDiff/1024)
}

// RunBenchmark calls fn iterations times and records per-call durations.
// The first error stops the run and is reported in the result.
func RunBenchmark(name string, iterations int, fn func() error) BenchmarkResult {
	res := BenchmarkResult{Name: name, Samples: make([]time.Duration, 0, iterations)}
	runtime.GC()
	res.MemoryBefore = GetMemoryStats()

	for range iterations {
		t := NewTimer()
		if err := fn(); err != nil {
			res.Error = err
			break
		}
		d := t.Stop()
		res.Samples = append(res.Samples, d)
		res.Duration += d
		res.Iterations++
	}

	res.MemoryAfter = GetMemoryStats()
	return res
}
