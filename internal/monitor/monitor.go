package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/clicker/internal/rpc"
)

// ReceiptSource looks up transaction receipts.
type ReceiptSource interface {
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*rpc.TransactionReceipt, error)
}

// HeadSource hands out newHeads subscriptions.
type HeadSource interface {
	Subscribe() *Subscription
}

// Recorder tracks broadcast times and turns finalisations into latency.
type Recorder interface {
	RecordSent(hash common.Hash, sentAt time.Time)
	RecordFinalized(hash common.Hash, at time.Time, success bool) (time.Duration, bool)
}

// Result is delivered once per watched transaction.
type Result struct {
	Hash    common.Hash
	Success bool // receipt status == 1
	Receipt *rpc.TransactionReceipt
	Latency time.Duration // zero when the broadcast time is unknown
	Err     error         // receipt lookup or subscription failure
}

// Config for creating a Monitor.
type Config struct {
	Receipts ReceiptSource
	Heads    HeadSource
	Metrics  Recorder
	Logger   *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Monitor watches transactions until a receipt is found.
type Monitor struct {
	receipts ReceiptSource
	heads    HeadSource
	metrics  Recorder
	logger   *slog.Logger
	now      func() time.Time

	active atomic.Int64
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		receipts: cfg.Receipts,
		heads:    cfg.Heads,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      now,
	}
}

// Watch tracks one transaction.
type Watch struct {
	hash      common.Hash
	once      sync.Once
	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Cancel makes the watch inert: onComplete will not be called afterwards.
func (w *Watch) Cancel() {
	w.cancelled.Store(true)
	w.cancel()
}

// Done is closed when the watch has finished, by completion or cancel.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Hash returns the watched transaction hash.
func (w *Watch) Hash() common.Hash {
	return w.hash
}

// Active returns the number of watches still waiting for a receipt.
func (m *Monitor) Active() int {
	return int(m.active.Load())
}

// Watch checks the receipt at once and again on every new head until it is
// found. onComplete runs exactly once, with Success false on any receipt or
// subscription error, unless the watch is cancelled first. Cancelling ctx
// has the same effect as Cancel.
func (m *Monitor) Watch(ctx context.Context, hash common.Hash, onComplete func(Result)) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{hash: hash, cancel: cancel, done: make(chan struct{})}

	if m.metrics != nil {
		m.metrics.RecordSent(hash, m.now())
	}

	// Subscribe before the first check so no head between the two is lost.
	sub := m.heads.Subscribe()

	m.active.Add(1)
	go func() {
		defer close(w.done)
		defer m.active.Add(-1)
		defer cancel()
		defer sub.Unsubscribe()

		finish := func(r Result) {
			r.Hash = hash
			w.once.Do(func() {
				if w.cancelled.Load() || ctx.Err() != nil {
					return
				}
				if m.metrics != nil {
					if latency, ok := m.metrics.RecordFinalized(hash, m.now(), r.Success); ok {
						r.Latency = latency
					}
				}
				m.log(r)
				onComplete(r)
			})
		}

		if done := m.check(ctx, hash, finish); done {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Heads():
				if !ok {
					err := sub.Err()
					if err == nil {
						err = ErrFeedStopped
					}
					finish(Result{Err: err})
					return
				}
				if done := m.check(ctx, hash, finish); done {
					return
				}
			}
		}
	}()

	return w
}

// check looks up the receipt and finishes the watch when it exists or the
// lookup fails.
func (m *Monitor) check(ctx context.Context, hash common.Hash, finish func(Result)) bool {
	receipt, err := m.receipts.GetTransactionReceipt(ctx, hash)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		finish(Result{Err: err})
		return true
	}
	if receipt == nil {
		return false
	}
	finish(Result{Success: receipt.Succeeded(), Receipt: receipt})
	return true
}

func (m *Monitor) log(r Result) {
	if r.Err != nil {
		m.logger.Warn("transaction monitor failed",
			slog.String("tx_hash", r.Hash.Hex()),
			slog.String("error", r.Err.Error()),
		)
		return
	}
	m.logger.Info("transaction finalised",
		slog.String("tx_hash", r.Hash.Hex()),
		slog.Bool("success", r.Success),
		slog.Uint64("block", r.Receipt.BlockNumber),
		slog.Duration("latency", r.Latency),
	)
}
