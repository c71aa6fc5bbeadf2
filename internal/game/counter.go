package game

import "sync"

// Counter is the wallet's click count: the last on-chain value plus clicks
// made locally since. When a newer on-chain value arrives the local offset
// shrinks by the amount the chain caught up.
type Counter struct {
	mu     sync.Mutex
	base   uint64
	offset uint64
}

// Effective returns base + offset.
func (c *Counter) Effective() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base + c.offset
}

// Counts returns the on-chain base and the local offset.
func (c *Counter) Counts() (base, offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base, c.offset
}

// Increment adds one local click and returns the new effective count.
func (c *Counter) Increment() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset++
	return c.base + c.offset
}

// Revert removes one local click, as when its transaction failed.
func (c *Counter) Revert() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offset > 0 {
		c.offset--
	}
}

// Fetched applies a freshly read on-chain value. A value below the current
// base is a lagging read and is ignored; Fetched then returns false.
func (c *Counter) Fetched(base uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if base < c.base {
		return false
	}
	if base > c.base {
		delta := base - c.base
		if delta >= c.offset {
			c.offset = 0
		} else {
			c.offset -= delta
		}
	}
	c.base = base
	return true
}

// Reset forgets both values.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base, c.offset = 0, 0
}
