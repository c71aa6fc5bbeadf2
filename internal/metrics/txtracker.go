package metrics

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultMaxTrackedTxs bounds the broadcast times kept while receipts are
// outstanding. The live list holds at most 50 clicks, so this only matters
// when receipts never arrive.
const DefaultMaxTrackedTxs = 1024

// TxTracker remembers when each click transaction was broadcast so the
// receipt can be turned into a confirmation latency. The oldest entries
// are dropped once the tracker is full.
type TxTracker struct {
	mu      sync.Mutex
	times   map[common.Hash]time.Time
	order   []common.Hash // insertion order, may hold hashes already taken
	maxSize int
}

// NewTxTracker creates a tracker with the default bound.
func NewTxTracker() *TxTracker {
	return NewTxTrackerWithSize(DefaultMaxTrackedTxs)
}

// NewTxTrackerWithSize creates a tracker holding at most maxSize entries.
func NewTxTrackerWithSize(maxSize int) *TxTracker {
	if maxSize <= 0 {
		maxSize = DefaultMaxTrackedTxs
	}
	return &TxTracker{
		times:   make(map[common.Hash]time.Time),
		maxSize: maxSize,
	}
}

// Set records when a transaction was broadcast. A second Set for the same
// hash keeps the first time.
func (t *TxTracker) Set(hash common.Hash, sentAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.times[hash]; ok {
		return
	}
	for len(t.times) >= t.maxSize && len(t.order) > 0 {
		delete(t.times, t.order[0])
		t.order = t.order[1:]
	}
	t.times[hash] = sentAt
	t.order = append(t.order, hash)

	// Compact once stale hashes dominate the order slice.
	if len(t.order) > 2*t.maxSize {
		t.compact()
	}
}

func (t *TxTracker) compact() {
	live := t.order[:0]
	for _, h := range t.order {
		if _, ok := t.times[h]; ok {
			live = append(live, h)
		}
	}
	t.order = live
}

// Get returns the broadcast time for a transaction.
func (t *TxTracker) Get(hash common.Hash) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sentAt, ok := t.times[hash]
	return sentAt, ok
}

// Take returns the broadcast time and forgets the transaction.
func (t *TxTracker) Take(hash common.Hash) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sentAt, ok := t.times[hash]
	if ok {
		delete(t.times, hash)
	}
	return sentAt, ok
}

// Size returns the number of tracked transactions.
func (t *TxTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.times)
}

// Reset forgets every transaction.
func (t *TxTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = make(map[common.Hash]time.Time)
	t.order = nil
}
