package analytics

import (
	"math"
	"slices"
)

// durationWindow keeps the most recent N call durations in a ring buffer for
// percentile estimation. Lifetime-exact statistics live in the accumulators;
// the window only bounds percentile memory.
//
// Not safe for concurrent use; the collector serializes access.
type durationWindow struct {
	samples []float64
	pos     int // next write position
	filled  int // number of meaningful samples, ≤ len(samples)
}

// newDurationWindow creates a window holding at most size samples. Sizes
// below 1 are clamped to 1.
func newDurationWindow(size int) *durationWindow {
	if size < 1 {
		size = 1
	}
	return &durationWindow{samples: make([]float64, size)}
}

// Record appends a duration, overwriting the oldest sample once full.
func (w *durationWindow) Record(durationMs float64) {
	w.samples[w.pos] = durationMs
	w.pos = (w.pos + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
}

// Len returns the number of samples currently held.
func (w *durationWindow) Len() int { return w.filled }

// Percentile returns the p-th percentile (0–100) of the window using linear
// interpolation between the two closest ranks. An empty window yields 0; a
// single sample yields itself.
func (w *durationWindow) Percentile(p float64) float64 {
	if w.filled == 0 {
		return 0
	}

	sorted := make([]float64, w.filled)
	copy(sorted, w.samples[:w.filled])
	slices.Sort(sorted)

	idx := (p / 100) * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	weight := idx - float64(lo)
	return sorted[lo]*(1-weight) + sorted[hi]*weight
}
