package monitor

import (
	"math"
	"slices"
	"sync"
	"time"
)

// LatencyHistogram keeps the most recent samples in a fixed ring so the
// summary endpoint can report exact percentiles over a sliding window.
type LatencyHistogram struct {
	mu    sync.Mutex
	ring  []float64
	next  int
	count int
}

// LatencyStats is in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func NewLatencyHistogram(window int) *LatencyHistogram {
	if window <= 0 {
		window = 1000
	}
	return &LatencyHistogram{ring: make([]float64, window)}
}

// Record adds one sample in milliseconds, evicting the oldest once the window is full.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	h.ring[h.next] = ms
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
	h.mu.Unlock()
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d) / float64(time.Millisecond))
}

// Stats uses nearest-rank percentiles over the current window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	window := slices.Clone(h.ring[:h.count])
	h.mu.Unlock()

	n := len(window)
	if n == 0 {
		return LatencyStats{}
	}
	slices.Sort(window)

	var sum float64
	for _, v := range window {
		sum += v
	}
	return LatencyStats{
		Min:   window[0],
		Max:   window[n-1],
		Avg:   sum / float64(n),
		P50:   nearestRank(window, 0.50),
		P95:   nearestRank(window, 0.95),
		P99:   nearestRank(window, 0.99),
		Count: n,
	}
}

func nearestRank(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
