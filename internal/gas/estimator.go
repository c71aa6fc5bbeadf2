// Package gas keeps a cached gas and fee snapshot for the click call.
package gas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/gateway-fm/clicker/internal/contract"
	"github.com/gateway-fm/clicker/internal/rpc"
)

// ErrFeeUnavailable is returned when the node cannot supply either fee field.
// It is not retried: signing without fee data produces an invalid transaction.
var ErrFeeUnavailable = errors.New("failed to estimate gas fees: a fee parameter is null")

// DefaultStaleAfter is how long an estimate stays usable.
const DefaultStaleAfter = 5 * time.Minute

// Gas limit headroom over the simulated estimate, as a ratio.
const (
	limitNumerator   = 15
	limitDenominator = 10
)

// Base fee headroom, as a ratio.
const (
	baseFeeNumerator   = 12
	baseFeeDenominator = 10
)

// Source is the subset of the chain client the estimator needs.
type Source interface {
	EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error)
	GetBaseFee(ctx context.Context) (*big.Int, error)
	GetMaxPriorityFee(ctx context.Context) (*big.Int, error)
}

// Recorder receives estimation failures.
type Recorder interface {
	RecordGasEstimateFailure()
}

// Estimate is a gas snapshot for one click transaction.
type Estimate struct {
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	FetchedAt            time.Time
}

// Valid reports whether every field needed for signing is present.
func (e *Estimate) Valid() bool {
	return e != nil && e.GasLimit > 0 && e.MaxFeePerGas != nil && e.MaxPriorityFeePerGas != nil
}

// Config for creating an Estimator.
type Config struct {
	Source     Source
	Contract   common.Address
	StaleAfter time.Duration
	Metrics    Recorder
	Logger     *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry struct {
	estimate *Estimate
	err      error
}

// Estimator caches one estimate per sender address.
type Estimator struct {
	source     Source
	contract   common.Address
	staleAfter time.Duration
	metrics    Recorder
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.RWMutex
	entries    map[common.Address]entry
	refreshing map[common.Address]bool

	group singleflight.Group
}

// New creates an Estimator.
func New(cfg Config) *Estimator {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Estimator{
		source:     cfg.Source,
		contract:   cfg.Contract,
		staleAfter: staleAfter,
		metrics:    cfg.Metrics,
		logger:     logger,
		now:        now,
		entries:    make(map[common.Address]entry),
		refreshing: make(map[common.Address]bool),
	}
}

// Estimate returns the cached estimate for from while it is fresh, and
// refreshes it otherwise.
func (e *Estimator) Estimate(ctx context.Context, from common.Address) (*Estimate, error) {
	if est := e.Current(from); est != nil {
		return est, nil
	}
	return e.Refresh(ctx, from)
}

// Current returns the cached estimate while it is fresh and valid, or while
// a refresh that will replace it is in flight.
func (e *Estimator) Current(from common.Address) *Estimate {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent, ok := e.entries[from]
	if !ok || ent.err != nil || !ent.estimate.Valid() {
		return nil
	}
	// A stale estimate is still served while its replacement is fetched.
	if e.now().Sub(ent.estimate.FetchedAt) >= e.staleAfter && !e.refreshing[from] {
		return nil
	}
	return ent.estimate
}

// Err returns the error of the last refresh for from, if it failed.
func (e *Estimator) Err(from common.Address) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.entries[from].err
}

// Refresh fetches a new estimate. Concurrent refreshes for the same address
// share one request. A failure replaces any cached estimate.
func (e *Estimator) Refresh(ctx context.Context, from common.Address) (*Estimate, error) {
	v, err, _ := e.group.Do(from.Hex(), func() (interface{}, error) {
		e.mu.Lock()
		e.refreshing[from] = true
		e.mu.Unlock()

		est, err := e.fetch(ctx, from)

		e.mu.Lock()
		e.entries[from] = entry{estimate: est, err: err}
		delete(e.refreshing, from)
		e.mu.Unlock()

		if err != nil {
			e.logger.Error("gas estimation failed",
				slog.String("from", from.Hex()),
				slog.String("error", err.Error()),
			)
			if e.metrics != nil {
				e.metrics.RecordGasEstimateFailure()
			}
			return nil, err
		}

		e.logger.Debug("gas estimate refreshed",
			slog.String("from", from.Hex()),
			slog.Uint64("gas_limit", est.GasLimit),
			slog.String("max_fee", est.MaxFeePerGas.String()),
			slog.String("max_priority_fee", est.MaxPriorityFeePerGas.String()),
		)
		return est, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Estimate), nil
}

// refreshPeriod is the background refresh interval, inside the staleness
// window so a fresh estimate replaces the old one before it expires.
func refreshPeriod(staleAfter time.Duration) time.Duration {
	return staleAfter * 4 / 5
}

// Forget drops any cached estimate for from.
func (e *Estimator) Forget(from common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, from)
}

func (e *Estimator) fetch(ctx context.Context, from common.Address) (*Estimate, error) {
	raw, err := e.source.EstimateGas(ctx, rpc.CallMsg{
		From: &from,
		To:   e.contract,
		Data: contract.ClickCalldata(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	maxFee, priority, err := e.fees(ctx)
	if err != nil {
		return nil, err
	}

	return &Estimate{
		GasLimit:             raw * limitNumerator / limitDenominator,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: priority,
		FetchedAt:            e.now(),
	}, nil
}

// fees derives EIP-1559 fee caps: maxFee = baseFee*1.2 + priority.
func (e *Estimator) fees(ctx context.Context) (maxFee, priority *big.Int, err error) {
	priority, err = e.source.GetMaxPriorityFee(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch priority fee: %w", err)
	}
	baseFee, err := e.source.GetBaseFee(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch base fee: %w", err)
	}
	if priority == nil || baseFee == nil {
		return nil, nil, ErrFeeUnavailable
	}

	maxFee = new(big.Int).Mul(baseFee, big.NewInt(baseFeeNumerator))
	maxFee.Div(maxFee, big.NewInt(baseFeeDenominator))
	maxFee.Add(maxFee, priority)
	return maxFee, new(big.Int).Set(priority), nil
}

// Run refreshes the estimate for from once per staleness window until ctx
// is done.
func (e *Estimator) Run(ctx context.Context, from common.Address) {
	if _, err := e.Refresh(ctx, from); err != nil && ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(refreshPeriod(e.staleAfter))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are logged and kept as Err(from).
			_, _ = e.Refresh(ctx, from)
		}
	}
}
