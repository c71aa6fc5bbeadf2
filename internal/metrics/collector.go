package metrics

import (
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/clicker/pkg/types"
)

// Snapshot is a point-in-time copy of the click counters.
type Snapshot struct {
	Sent      uint64
	Confirmed uint64
	Failed    uint64
	InFlight  int64
}

// Collector keeps the in-memory click counters and confirmation latency
// served by the API, and mirrors them into Prometheus when configured.
type Collector struct {
	sent      atomic.Uint64
	confirmed atomic.Uint64
	failed    atomic.Uint64
	inFlight  int64 // accessed atomically

	times   *TxTracker
	latency *StreamingLatencyStats
	prom    *PrometheusMetrics
}

// NewCollector creates a Collector. prom may be nil.
func NewCollector(prom *PrometheusMetrics) *Collector {
	return &Collector{
		times:   NewTxTracker(),
		latency: NewStreamingLatencyStats(),
		prom:    prom,
	}
}

// RecordSent records a broadcast click transaction.
func (c *Collector) RecordSent(hash common.Hash, sentAt time.Time) {
	c.sent.Add(1)
	c.times.Set(hash, sentAt)
	c.setInFlight(atomic.AddInt64(&c.inFlight, 1))
}

// RecordFinalized records the receipt outcome for a broadcast transaction
// and returns the confirmation latency when the broadcast time is known.
func (c *Collector) RecordFinalized(hash common.Hash, at time.Time, success bool) (time.Duration, bool) {
	if success {
		c.confirmed.Add(1)
	} else {
		c.failed.Add(1)
	}
	c.setInFlight(AtomicSubSaturating(&c.inFlight, 1))

	sentAt, ok := c.times.Take(hash)
	if !ok {
		return 0, false
	}
	latency := at.Sub(sentAt)
	c.latency.Add(latency)
	if c.prom != nil {
		c.prom.RecordConfirmation(success, latency)
	}
	return latency, true
}

// RecordRejected records a click that failed before broadcast.
func (c *Collector) RecordRejected() {
	c.failed.Add(1)
}

func (c *Collector) setInFlight(n int64) {
	if c.prom != nil {
		c.prom.SetInFlight(n)
	}
}

// Snapshot returns the current counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Sent:      c.sent.Load(),
		Confirmed: c.confirmed.Load(),
		Failed:    c.failed.Load(),
		InFlight:  atomic.LoadInt64(&c.inFlight),
	}
}

// LatencyStats returns confirmation latency statistics, or nil before the
// first confirmation.
func (c *Collector) LatencyStats() *types.LatencyStats {
	return c.latency.GetStats()
}

// Reset clears counters and pending broadcast times, as on disconnect.
// Latency history is kept.
func (c *Collector) Reset() {
	c.sent.Store(0)
	c.confirmed.Store(0)
	c.failed.Store(0)
	atomic.StoreInt64(&c.inFlight, 0)
	c.times.Reset()
	c.setInFlight(0)
}
