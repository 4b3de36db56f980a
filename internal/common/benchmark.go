package common

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// MemoryStats is a snapshot of the allocator counters relevant to a benchmark.
type MemoryStats struct {
	Alloc      uint64
	TotalAlloc uint64
	Mallocs    uint64
	NumGC      uint32
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Mallocs:    m.Mallocs,
		NumGC:      m.NumGC,
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Mallocs: %d, GC: %d",
		m.Alloc/1024, m.TotalAlloc/1024, m.Mallocs, m.NumGC)
}

// BenchmarkResult holds the timings of repeated runs of one operation.
type BenchmarkResult struct {
	Name         string
	Runs         int
	Total        time.Duration
	Min          time.Duration
	Max          time.Duration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Error        error
}

// Mean returns the average run duration.
func (br BenchmarkResult) Mean() time.Duration {
	if br.Runs == 0 {
		return 0
	}
	return br.Total / time.Duration(br.Runs)
}

// AllocatedPerRun returns the bytes allocated per run.
func (br BenchmarkResult) AllocatedPerRun() uint64 {
	if br.Runs == 0 {
		return 0
	}
	return (br.MemoryAfter.TotalAlloc - br.MemoryBefore.TotalAlloc) / uint64(br.Runs) //nolint:gosec // G115: Runs is positive
}

// String returns a formatted string representation of the benchmark result.
func (br BenchmarkResult) String() string {
	if br.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", br.Name, br.Error)
	}
	return fmt.Sprintf("%s: %d runs, avg: %v, min: %v, max: %v, total: %v, alloc/run: %d KB",
		br.Name, br.Runs, br.Mean(), br.Min, br.Max, br.Total, br.AllocatedPerRun()/1024)
}

// Benchmark calls fn runs times and records per-run timings. It stops at the
// first error, which is stored in the result.
func Benchmark(name string, runs int, fn func() error) BenchmarkResult {
	result := BenchmarkResult{Name: name}
	if runs < 1 {
		result.Error = errors.New("runs must be at least 1")
		return result
	}

	runtime.GC()
	result.MemoryBefore = GetMemoryStats()
	for range runs {
		timer := NewTimer()
		err := fn()
		d := timer.Stop()
		if err != nil {
			result.Error = err
			break
		}
		if result.Runs == 0 || d < result.Min {
			result.Min = d
		}
		result.Max = max(result.Max, d)
		result.Total += d
		result.Runs++
	}
	result.MemoryAfter = GetMemoryStats()
	return result
}
