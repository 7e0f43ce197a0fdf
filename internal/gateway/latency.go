package gateway

import (
	"math"
	"sort"
	"sync"
)

// LatencyTracker keeps a sliding window of firing delivery latencies (the
// time from OnFire to the envelope leaving the gateway) and reports the
// percentiles the stats endpoint exposes. Safe for concurrent use.
type LatencyTracker struct {
	mu     sync.Mutex
	window []float64 // milliseconds; a ring, newest overwrites oldest
	next   int
	count  int
}

// NewLatencyTracker creates a tracker over the last capacity samples
// (10000 when capacity <= 0).
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{window: make([]float64, capacity)}
}

// Record adds one delivery latency sample in milliseconds.
func (lt *LatencyTracker) Record(latencyMs float64) {
	lt.mu.Lock()
	lt.window[lt.next] = latencyMs
	lt.next = (lt.next + 1) % len(lt.window)
	if lt.count < len(lt.window) {
		lt.count++
	}
	lt.mu.Unlock()
}

// Percentiles returns the p50, p95 and p99 delivery latency in
// milliseconds, or zeros when nothing has been recorded yet.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	n := lt.count
	if n == 0 {
		lt.mu.Unlock()
		return 0, 0, 0
	}
	// Ring order is irrelevant here: the copy gets sorted anyway.
	sorted := make([]float64, n)
	copy(sorted, lt.window[:n])
	lt.mu.Unlock()

	sort.Float64s(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// Count returns how many samples the window currently holds.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.count
}

// percentile interpolates the p-th percentile (0..1) of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch n {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p * float64(n-1)
	i := int(math.Floor(rank))
	if i+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}
