// Package nonce tracks the wallet's next transaction nonce locally so that
// several clicks can be in flight before any of them confirms.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// ErrNonceUnknown is returned by Next before the first on-chain fetch.
var ErrNonceUnknown = errors.New("nonce unknown: initial nonce not fetched yet")

// DefaultRefreshInterval is how long a fetched base is considered fresh.
const DefaultRefreshInterval = 5 * time.Second

// Resync reasons, used as metric labels.
const (
	ReasonTooLow  = "too_low"
	ReasonTooHigh = "too_high"
	ReasonRefresh = "refresh"
)

// Source returns the pending-inclusive transaction count for an address.
type Source interface {
	GetNonce(ctx context.Context, address common.Address) (uint64, error)
}

// Recorder receives resync events.
type Recorder interface {
	RecordNonceResync(reason string)
}

// Effective returns the nonce the next submission will use.
func Effective(base, offset uint64) uint64 {
	return base + offset
}

// State is a snapshot of the tracker.
type State struct {
	Base   uint64 `json:"base"`
	Offset uint64 `json:"offset"`
	Known  bool   `json:"known"`
}

// Config for creating a Tracker.
type Config struct {
	Source          Source
	Address         common.Address
	RefreshInterval time.Duration
	Metrics         Recorder
	Logger          *slog.Logger
}

// Tracker holds the on-chain base nonce plus a local forward offset.
// Nonce issuance never performs I/O and is safe for concurrent use.
type Tracker struct {
	source   Source
	address  common.Address
	interval time.Duration
	metrics  Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	base   uint64
	known  bool
	offset uint64

	fetch singleflight.Group
}

// New creates a Tracker. The base is unknown until Sync or ResyncTo runs.
func New(cfg Config) *Tracker {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		source:   cfg.Source,
		address:  cfg.Address,
		interval: interval,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Current returns the effective nonce without consuming it.
// The second result is false until the first fetch completes.
func (t *Tracker) Current() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.known {
		return 0, false
	}
	return Effective(t.base, t.offset), true
}

// State returns a snapshot of base and offset.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Base: t.base, Offset: t.offset, Known: t.known}
}

// Next returns the effective nonce and advances the offset by one.
// Repeated calls hand out base, base+1, ... without any network call.
func (t *Tracker) Next() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.known {
		return 0, ErrNonceUnknown
	}
	n := Effective(t.base, t.offset)
	t.offset++
	return n, nil
}

// Fetched applies a newly observed on-chain base. When the base advanced by
// delta, delta outstanding slots have confirmed and the offset shrinks by
// delta, floored at zero.
func (t *Tracker) Fetched(base uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyBase(base)
}

func (t *Tracker) applyBase(base uint64) {
	if t.known {
		switch {
		case base > t.base:
			delta := base - t.base
			if delta >= t.offset {
				t.offset = 0
			} else {
				t.offset -= delta
			}
		case base < t.base:
			t.logger.Warn("pending nonce moved backwards",
				slog.String("address", t.address.Hex()),
				slog.Uint64("previous", t.base),
				slog.Uint64("observed", base),
				slog.Uint64("offset", t.offset),
			)
		}
	}
	t.base = base
	t.known = true
}

// ResyncTo overwrites the base with a value signalled by the chain and
// discards the local offset.
func (t *Tracker) ResyncTo(v uint64, reason string) {
	t.mu.Lock()
	prevBase, prevOffset := t.base, t.offset
	t.base = v
	t.offset = 0
	t.known = true
	t.mu.Unlock()

	t.logger.Info("nonce resynced",
		slog.String("address", t.address.Hex()),
		slog.String("reason", reason),
		slog.Uint64("previous_base", prevBase),
		slog.Uint64("previous_offset", prevOffset),
		slog.Uint64("base", v),
	)
	if t.metrics != nil {
		t.metrics.RecordNonceResync(reason)
	}
}

// Refresh discards the local offset and re-fetches the base from the chain.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.mu.Lock()
	t.offset = 0
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordNonceResync(ReasonRefresh)
	}
	return t.Sync(ctx)
}

// Sync fetches the base from the chain and applies it. Concurrent callers
// share one request.
func (t *Tracker) Sync(ctx context.Context) error {
	_, err, _ := t.fetch.Do("nonce", func() (interface{}, error) {
		base, err := t.source.GetNonce(ctx, t.address)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch nonce for %s: %w", t.address.Hex(), err)
		}
		t.Fetched(base)
		return nil, nil
	})
	return err
}

// Reset forgets the base and offset, as on wallet disconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.base = 0
	t.offset = 0
	t.known = false
}

// Run syncs immediately and then once per refresh interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	if err := t.Sync(ctx); err != nil && ctx.Err() == nil {
		t.logger.Warn("initial nonce sync failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Sync(ctx); err != nil && ctx.Err() == nil {
				t.logger.Debug("nonce sync failed", slog.String("error", err.Error()))
			}
		}
	}
}
