package metrics

import (
	"sync"
	"testing"
)

func TestAtomicSubSaturating(t *testing.T) {
	testCases := []struct {
		name     string
		initial  int64
		delta    int64
		expected int64
	}{
		{"one confirmed", 3, 1, 2},
		{"exact to zero", 3, 3, 0},
		{"late receipt after reset", 0, 1, 0},
		{"saturating at zero", 2, 5, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			value := tc.initial
			result := AtomicSubSaturating(&value, tc.delta)

			if result != tc.expected {
				t.Errorf("AtomicSubSaturating() = %d, want %d", result, tc.expected)
			}
			if value != tc.expected {
				t.Errorf("value = %d, want %d", value, tc.expected)
			}
		})
	}
}

func TestAtomicSubSaturating_Concurrent(t *testing.T) {
	var value int64 = 50

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			AtomicSubSaturating(&value, 1)
		}()
	}
	wg.Wait()

	if value != 0 {
		t.Errorf("value = %d, want 0", value)
	}
}
