// Package sender broadcasts signed transactions with bounded concurrency.
package sender

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
)

// ErrAtCapacity is returned when the sender cannot accept more transactions.
var ErrAtCapacity = errors.New("sender at capacity")

// DefaultConcurrency bounds in-flight broadcasts when Config leaves it unset.
const DefaultConcurrency = 32

// Broadcaster sends a signed transaction to the network.
type Broadcaster interface {
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

// Sender handles transaction broadcast with semaphore-based backpressure.
type Sender struct {
	client    Broadcaster
	semaphore chan struct{}
	logger    *slog.Logger
}

// Config for creating a Sender.
type Config struct {
	Client      Broadcaster
	Concurrency int // Max concurrent sends (default: 32)
	Logger      *slog.Logger
}

// New creates a new Sender.
func New(cfg Config) *Sender {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		client:    cfg.Client,
		semaphore: make(chan struct{}, concurrency),
		logger:    logger,
	}
}

// Send waits for a free slot, broadcasts raw and returns the transaction
// hash. It gives up when ctx is done before a slot frees.
func (s *Sender) Send(ctx context.Context, raw []byte) (common.Hash, error) {
	select {
	case s.semaphore <- struct{}{}:
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	}
	defer func() { <-s.semaphore }()

	return s.broadcast(ctx, raw)
}

// TrySend broadcasts raw if a slot is free and returns ErrAtCapacity
// otherwise.
func (s *Sender) TrySend(ctx context.Context, raw []byte) (common.Hash, error) {
	select {
	case s.semaphore <- struct{}{}:
	default:
		return common.Hash{}, ErrAtCapacity
	}
	defer func() { <-s.semaphore }()

	return s.broadcast(ctx, raw)
}

// SendAsync broadcasts raw on a goroutine.
// Returns true if the send was queued, false if at capacity.
// The callback is called with the result (on a goroutine).
func (s *Sender) SendAsync(ctx context.Context, raw []byte, callback func(common.Hash, error)) bool {
	select {
	case s.semaphore <- struct{}{}: // Acquired semaphore
		go func() {
			defer func() { <-s.semaphore }() // Release semaphore

			hash, err := s.broadcast(ctx, raw)
			if callback != nil {
				callback(hash, err)
			}
		}()
		return true

	default:
		return false // At capacity
	}
}

func (s *Sender) broadcast(ctx context.Context, raw []byte) (common.Hash, error) {
	hash, err := s.client.SendRawTransaction(ctx, raw)
	if err != nil {
		s.logger.Debug("broadcast failed", slog.String("error", err.Error()))
		return common.Hash{}, err
	}
	return hash, nil
}

// Available returns the number of available send slots.
func (s *Sender) Available() int {
	return cap(s.semaphore) - len(s.semaphore)
}

// Capacity returns the total send capacity.
func (s *Sender) Capacity() int {
	return cap(s.semaphore)
}

// InFlight returns the number of transactions currently being sent.
func (s *Sender) InFlight() int {
	return len(s.semaphore)
}
