// Package scheduler runs periodic callbacks from a single ticking loop.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTick is the loop resolution.
const DefaultTick = 50 * time.Millisecond

// Entry is a periodic callback.
type Entry struct {
	ID       string
	Interval time.Duration
	Fire     func(ctx context.Context)
}

// Config for creating a Scheduler.
type Config struct {
	Tick   time.Duration
	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry struct {
	Entry
	nextFireAt time.Time
	running    atomic.Bool
	fired      atomic.Uint64
	skipped    atomic.Uint64
}

// Stats reports how often an entry fired and how often a fire was skipped
// because the previous run was still active.
type Stats struct {
	Fired   uint64
	Skipped uint64
}

// Scheduler tracks the next fire time of each entry and checks them all on
// every tick. A due entry runs on its own goroutine; a fire that finds the
// previous run of the same entry still active is skipped.
type Scheduler struct {
	tick   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped Scheduler.
func New(cfg Config) *Scheduler {
	tick := cfg.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		tick:    tick,
		logger:  logger,
		now:     now,
		entries: make(map[string]*entry),
	}
}

// Set replaces every entry and restarts the loop. Each entry first fires
// one interval from now. Callbacks of the previous set see their context
// cancelled. Entries with a non-positive interval are ignored.
func (s *Scheduler) Set(ctx context.Context, entries []Entry) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent Set may have started a loop since Stop returned.
	if s.cancel != nil {
		s.cancel()
		s.cancel, s.done = nil, nil
	}
	s.entries = make(map[string]*entry)

	now := s.now()
	for _, e := range entries {
		if e.Interval <= 0 || e.Fire == nil {
			s.logger.Warn("ignoring schedule entry", slog.String("id", e.ID), slog.Duration("interval", e.Interval))
			continue
		}
		s.entries[e.ID] = &entry{Entry: e, nextFireAt: now.Add(e.Interval)}
	}
	if len(s.entries) == 0 {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	s.logger.Debug("schedule set", slog.Int("entries", len(s.entries)))
}

// Stop clears every entry and ends the loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Len returns the number of scheduled entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns fire counters for an entry.
func (s *Scheduler) Stats(id string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Stats{}, false
	}
	return Stats{Fired: e.fired.Load(), Skipped: e.skipped.Load()}, true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx, s.now())
		}
	}
}

// fireDue starts every entry whose next fire time has passed. The next fire
// time advances by whole intervals from the previous due time, so late
// ticks do not shift the schedule.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if now.Before(e.nextFireAt) {
			continue
		}
		missed := now.Sub(e.nextFireAt) / e.Interval
		e.nextFireAt = e.nextFireAt.Add((missed + 1) * e.Interval)

		if !e.running.CompareAndSwap(false, true) {
			e.skipped.Add(1)
			s.logger.Debug("skipping fire, previous run still active", slog.String("id", e.ID))
			continue
		}
		e.fired.Add(1)
		go func(e *entry) {
			defer e.running.Store(false)
			e.Fire(ctx)
		}(e)
	}
}
