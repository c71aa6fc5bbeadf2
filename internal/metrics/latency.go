// Package metrics provides Prometheus metrics and the in-memory statistics
// served by the API.
package metrics

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/gateway-fm/clicker/pkg/types"
)

// DefaultReservoirSize is the number of samples kept for percentiles.
const DefaultReservoirSize = 2048

// latencyBuckets are the confirmation histogram bounds shown to players.
var latencyBuckets = []struct {
	label string
	upper time.Duration // exclusive; zero means unbounded
}{
	{"0-500ms", 500 * time.Millisecond},
	{"500ms-1s", time.Second},
	{"1-2s", 2 * time.Second},
	{"2-5s", 5 * time.Second},
	{"5s+", 0},
}

// StreamingLatencyStats keeps running latency statistics with bounded
// memory. Percentiles come from a uniform reservoir sample (Algorithm R).
type StreamingLatencyStats struct {
	mu sync.RWMutex

	count int64
	sum   time.Duration
	min   time.Duration
	max   time.Duration

	reservoir     []time.Duration
	reservoirSize int
	buckets       []int
}

// NewStreamingLatencyStats creates an empty latency aggregate.
func NewStreamingLatencyStats() *StreamingLatencyStats {
	return NewStreamingLatencyStatsWithSize(DefaultReservoirSize)
}

// NewStreamingLatencyStatsWithSize creates an aggregate whose reservoir holds
// size samples.
func NewStreamingLatencyStatsWithSize(size int) *StreamingLatencyStats {
	if size <= 0 {
		size = DefaultReservoirSize
	}
	return &StreamingLatencyStats{
		min:           math.MaxInt64,
		reservoir:     make([]time.Duration, 0, size),
		reservoirSize: size,
		buckets:       make([]int, len(latencyBuckets)),
	}
}

// Add records one latency sample. Negative samples are ignored.
func (s *StreamingLatencyStats) Add(d time.Duration) {
	if d < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += d
	s.min = min(s.min, d)
	s.max = max(s.max, d)
	s.buckets[bucketIndex(d)]++

	if len(s.reservoir) < s.reservoirSize {
		s.reservoir = append(s.reservoir, d)
		return
	}
	if j := rand.Int64N(s.count); j < int64(s.reservoirSize) {
		s.reservoir[j] = d
	}
}

func bucketIndex(d time.Duration) int {
	for i, b := range latencyBuckets {
		if b.upper == 0 || d < b.upper {
			return i
		}
	}
	return len(latencyBuckets) - 1
}

// GetStats returns the statistics in milliseconds, or nil before the first
// sample.
func (s *StreamingLatencyStats) GetStats() *types.LatencyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	sorted := slices.Clone(s.reservoir)
	slices.Sort(sorted)

	stats := &types.LatencyStats{
		Count:   int(s.count),
		Min:     ms(s.min),
		Max:     ms(s.max),
		Avg:     ms(s.sum) / float64(s.count),
		P50:     percentile(sorted, 0.50),
		P75:     percentile(sorted, 0.75),
		P90:     percentile(sorted, 0.90),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Buckets: make([]types.LatencyBucket, len(latencyBuckets)),
	}
	for i, b := range latencyBuckets {
		stats.Buckets[i] = types.LatencyBucket{Label: b.label, Count: s.buckets[i]}
	}
	return stats
}

// percentile interpolates linearly between the two nearest samples.
func percentile(sorted []time.Duration, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return ms(sorted[0])
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return ms(sorted[len(sorted)-1])
	}
	frac := idx - float64(lower)
	return ms(sorted[lower])*(1-frac) + ms(sorted[lower+1])*frac
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Reset clears all statistics.
func (s *StreamingLatencyStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count = 0
	s.sum = 0
	s.min = math.MaxInt64
	s.max = 0
	s.reservoir = s.reservoir[:0]
	clear(s.buckets)
}

// Count returns the number of samples recorded.
func (s *StreamingLatencyStats) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
