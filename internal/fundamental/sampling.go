package fundamental

import (
	"math/rand/v2"
	"slices"
)

// StreamFunc returns the random source for one RANSAC iteration. It must be
// safe to call from several goroutines and return independent sources.
type StreamFunc func(iteration int) *rand.Rand

// SeededStreams derives one PCG stream per iteration from seed, so results
// do not depend on which goroutine runs which iteration.
func SeededStreams(seed uint64) StreamFunc {
	return func(iteration int) *rand.Rand {
		return rand.New(rand.NewPCG(seed, uint64(iteration)))
	}
}

// sampleIndices draws k distinct indices from [0, n) by rejection and
// returns them sorted. It requires k <= n.
func sampleIndices(rng *rand.Rand, n, k int) []int {
	seen := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for len(out) < k {
		idx := rng.IntN(n)
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}
