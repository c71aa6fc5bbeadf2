package metrics

import "sync/atomic"

// AtomicSubSaturating atomically subtracts delta from *addr, saturating at 0.
// A plain add followed by a clamp races with concurrent writers, so the
// update runs as a compare-and-swap loop.
func AtomicSubSaturating(addr *int64, delta int64) int64 {
	for {
		current := atomic.LoadInt64(addr)
		newVal := max(current-delta, 0)
		if atomic.CompareAndSwapInt64(addr, current, newVal) {
			return newVal
		}
	}
}
