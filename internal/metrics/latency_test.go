package metrics

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestStreamingLatencyStats_Basic(t *testing.T) {
	s := NewStreamingLatencyStats()

	for i := 0; i < 100; i++ {
		s.Add(time.Duration(i) * time.Millisecond)
	}

	stats := s.GetStats()
	if stats == nil {
		t.Fatal("GetStats() = nil, want stats")
	}
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.Min != 0 || stats.Max != 99 {
		t.Errorf("Min, Max = %v, %v, want 0, 99", stats.Min, stats.Max)
	}
	if math.Abs(stats.Avg-49.5) > 0.01 {
		t.Errorf("Avg = %v, want 49.5", stats.Avg)
	}
	if math.Abs(stats.P50-49.5) > 0.01 {
		t.Errorf("P50 = %v, want 49.5", stats.P50)
	}
	if stats.P99 < stats.P90 || stats.P90 < stats.P50 {
		t.Errorf("percentiles not monotonic: p50 %v p90 %v p99 %v", stats.P50, stats.P90, stats.P99)
	}
}

func TestStreamingLatencyStats_Empty(t *testing.T) {
	if stats := NewStreamingLatencyStats().GetStats(); stats != nil {
		t.Errorf("GetStats() = %+v, want nil", stats)
	}
}

func TestStreamingLatencyStats_Buckets(t *testing.T) {
	s := NewStreamingLatencyStats()

	samples := []struct {
		d     time.Duration
		times int
	}{
		{100 * time.Millisecond, 4},
		{700 * time.Millisecond, 3},
		{1500 * time.Millisecond, 2},
		{3 * time.Second, 1},
		{12 * time.Second, 5},
	}
	for _, sm := range samples {
		for i := 0; i < sm.times; i++ {
			s.Add(sm.d)
		}
	}

	stats := s.GetStats()
	if len(stats.Buckets) != len(samples) {
		t.Fatalf("len(Buckets) = %d, want %d", len(stats.Buckets), len(samples))
	}
	for i, sm := range samples {
		if got := stats.Buckets[i].Count; got != sm.times {
			t.Errorf("bucket %s count = %d, want %d", stats.Buckets[i].Label, got, sm.times)
		}
	}
}

func TestStreamingLatencyStats_ReservoirBounded(t *testing.T) {
	s := NewStreamingLatencyStatsWithSize(16)
	for i := 0; i < 1000; i++ {
		s.Add(time.Duration(i) * time.Millisecond)
	}

	if len(s.reservoir) != 16 {
		t.Errorf("reservoir holds %d samples, want 16", len(s.reservoir))
	}
	stats := s.GetStats()
	if stats.Count != 1000 || stats.Max != 999 {
		t.Errorf("Count, Max = %d, %v, want 1000, 999", stats.Count, stats.Max)
	}
}

func TestStreamingLatencyStats_IgnoresNegative(t *testing.T) {
	s := NewStreamingLatencyStats()
	s.Add(-time.Second)
	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Count())
	}
}

func TestStreamingLatencyStats_Concurrent(t *testing.T) {
	s := NewStreamingLatencyStats()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				s.Add(time.Duration(id*100+j%100) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	if got := s.Count(); got != 5000 {
		t.Errorf("Count() = %d, want 5000", got)
	}
}

func TestStreamingLatencyStats_Reset(t *testing.T) {
	s := NewStreamingLatencyStats()
	for i := 0; i < 10; i++ {
		s.Add(time.Second)
	}

	s.Reset()

	if stats := s.GetStats(); stats != nil {
		t.Errorf("GetStats() after Reset = %+v, want nil", stats)
	}
}
