// Package game runs the clicker: manual and automatic clicks, the live list
// of click transactions, tier unlocks and the wallet session lifecycle.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gateway-fm/clicker/internal/contract"
	"github.com/gateway-fm/clicker/internal/gas"
	"github.com/gateway-fm/clicker/internal/monitor"
	"github.com/gateway-fm/clicker/internal/network"
	"github.com/gateway-fm/clicker/internal/nonce"
	"github.com/gateway-fm/clicker/internal/scheduler"
	"github.com/gateway-fm/clicker/internal/session"
	"github.com/gateway-fm/clicker/internal/submit"
	"github.com/gateway-fm/clicker/pkg/types"
)

// ErrSessionRejected is returned when an imported session does not load
// back as valid.
var ErrSessionRejected = errors.New("session rejected: not valid for this wallet and network")

const (
	// DefaultMaxRecords caps the live click list.
	DefaultMaxRecords = 50

	// Finalised records stay visible for FadeDelay, then fade out over
	// FadeDuration before they are pruned.
	FadeDelay    = 1500 * time.Millisecond
	FadeDuration = 500 * time.Millisecond

	// DefaultRefreshInterval is how often on-chain click counts are re-read.
	DefaultRefreshInterval = 10 * time.Second

	pruneInterval = 250 * time.Millisecond
)

// ClickReader reads the game contract.
type ClickReader interface {
	ClicksForUser(ctx context.Context, user common.Address) (uint64, error)
	TotalClicks(ctx context.Context) (uint64, error)
	Address() common.Address
}

// SessionStore persists and validates session keys.
type SessionStore interface {
	Load(ctx context.Context, address common.Address) *session.Session
	Save(ctx context.Context, address common.Address, sess *session.Session) error
	Clear(ctx context.Context, address common.Address) error
}

// Cache is the transport cache reset on disconnect.
type Cache interface {
	Clear()
}

// NonceSource issues click nonces.
type NonceSource interface {
	Next() (uint64, error)
	Sync(ctx context.Context) error
	State() nonce.State
	Reset()
}

// GasSource is the gas estimator surface the game needs.
type GasSource interface {
	Estimate(ctx context.Context, from common.Address) (*gas.Estimate, error)
	Current(from common.Address) *gas.Estimate
	Err(from common.Address) error
	Forget(from common.Address)
}

// Submitter signs and broadcasts clicks.
type Submitter interface {
	Submit(ctx context.Context, n uint64) submit.Result
	Prerequisites() submit.Prerequisites
	Reset()
}

// Watcher monitors broadcast transactions.
type Watcher interface {
	Watch(ctx context.Context, hash common.Hash, onComplete func(monitor.Result)) *monitor.Watch
	Active() int
}

// Scheduler runs the auto-click tiers.
type Scheduler interface {
	Set(ctx context.Context, entries []scheduler.Entry)
	Stop()
	Len() int
}

// ClickLog persists click records.
type ClickLog interface {
	SaveClick(ctx context.Context, rec types.ClickRecord) error
	UpdateClick(ctx context.Context, rec types.ClickRecord) error
}

// Stats supplies the counters shown in the status snapshot.
type Stats interface {
	LatencyStats() *types.LatencyStats
	RecordRejected()
	Reset()
}

// Recorder receives finalised clicks and tier changes.
type Recorder interface {
	RecordClick(source, state string)
	SetUnlockedTiers(count int)
}

// Config for creating a Game.
type Config struct {
	Profile   *network.Profile
	Wallet    *Wallet
	Clicker   ClickReader
	Sessions  SessionStore
	Cache     Cache
	Nonce     NonceSource
	Gas       GasSource
	Submitter Submitter
	Monitor   Watcher
	Scheduler Scheduler
	Log       ClickLog // optional
	Stats     Stats    // optional
	Metrics   Recorder // optional
	Tiers     []Tier

	MaxRecords      int
	RefreshInterval time.Duration

	// OnChange is called after any change visible in Status.
	OnChange func()

	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Game is the clicker state machine for one wallet.
type Game struct {
	profile   *network.Profile
	wallet    *Wallet
	clicker   ClickReader
	sessions  SessionStore
	cache     Cache
	nonce     NonceSource
	gas       GasSource
	submitter Submitter
	monitor   Watcher
	scheduler Scheduler
	log       ClickLog
	stats     Stats
	metrics   Recorder
	tiers     []Tier

	maxRecords      int
	refreshInterval time.Duration
	onChange        func()
	logger          *slog.Logger
	now             func() time.Time

	counter Counter

	// ctx outlives individual requests: watches and auto-clicks run on it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	records  []*types.ClickRecord // newest first
	watches  map[string]*monitor.Watch
	unlocked []Tier
	total    *uint64
}

// New creates a Game. Call Connect to load the wallet session.
func New(cfg Config) *Game {
	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	maxRecords := cfg.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Game{
		profile:         cfg.Profile,
		wallet:          cfg.Wallet,
		clicker:         cfg.Clicker,
		sessions:        cfg.Sessions,
		cache:           cfg.Cache,
		nonce:           cfg.Nonce,
		gas:             cfg.Gas,
		submitter:       cfg.Submitter,
		monitor:         cfg.Monitor,
		scheduler:       cfg.Scheduler,
		log:             cfg.Log,
		stats:           cfg.Stats,
		metrics:         cfg.Metrics,
		tiers:           tiers,
		maxRecords:      maxRecords,
		refreshInterval: refresh,
		onChange:        cfg.OnChange,
		logger:          logger,
		now:             now,
		ctx:             ctx,
		cancel:          cancel,
		watches:         make(map[string]*monitor.Watch),
	}
}

// Address returns the game's wallet address.
func (g *Game) Address() common.Address {
	return g.wallet.Address()
}

// Connect loads the stored session for the wallet and warms the nonce,
// gas and click count. A missing or invalid session leaves the game
// connected but not ready.
func (g *Game) Connect(ctx context.Context) error {
	address := g.wallet.Address()
	sess := g.sessions.Load(ctx, address)
	g.wallet.connect(sess)

	if sess == nil {
		g.logger.Info("wallet connected without a usable session", slog.String("address", address.Hex()))
	} else {
		g.logger.Info("wallet connected", slog.String("address", address.Hex()), slog.String("signer", sess.Config.Signer.Hex()))
	}

	var errs []error
	if err := g.nonce.Sync(ctx); err != nil {
		errs = append(errs, fmt.Errorf("nonce: %w", err))
	}
	if _, err := g.gas.Estimate(ctx, address); err != nil {
		errs = append(errs, fmt.Errorf("gas: %w", err))
	}
	if err := g.RefreshClicks(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clicks: %w", err))
	}
	g.notify()
	return errors.Join(errs...)
}

// ImportSession stores an authorised session and loads it back through the
// same validation as a stored one. A session Save refuses leaves the current
// one in place; one that fails the load leaves the wallet without a session.
func (g *Game) ImportSession(ctx context.Context, sess *session.Session) error {
	address := g.wallet.Address()
	if err := g.sessions.Save(ctx, address, sess); err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return fmt.Errorf("%w: %v", ErrSessionRejected, err)
		}
		return err
	}

	loaded := g.sessions.Load(ctx, address)
	if loaded == nil {
		// The stored blob is gone, so the previous session stops signing too.
		g.wallet.connect(nil)
		g.submitter.Reset()
		g.logger.Warn("imported session rejected", slog.String("address", address.Hex()))
		g.notify()
		return ErrSessionRejected
	}
	g.submitter.Reset()
	g.wallet.connect(loaded)

	g.logger.Info("session imported", slog.String("address", address.Hex()), slog.String("signer", loaded.Config.Signer.Hex()))
	g.notify()
	return nil
}

// Disconnect stops auto-clicks, drops pending watches, clears the stored
// session and the transport cache, and resets the local offsets.
func (g *Game) Disconnect(ctx context.Context) error {
	address := g.wallet.Address()

	g.scheduler.Stop()

	g.mu.Lock()
	for id, w := range g.watches {
		w.Cancel()
		delete(g.watches, id)
	}
	g.records = nil
	g.unlocked = nil
	g.mu.Unlock()

	g.wallet.disconnect()
	g.submitter.Reset()
	g.cache.Clear()
	g.nonce.Reset()
	g.gas.Forget(address)
	g.counter.Reset()
	if g.stats != nil {
		g.stats.Reset()
	}
	if g.metrics != nil {
		g.metrics.SetUnlockedTiers(0)
	}

	err := g.sessions.Clear(ctx, address)
	g.logger.Info("wallet disconnected", slog.String("address", address.Hex()))
	g.notify()
	return err
}

// Close stops the game and cancels every watch.
func (g *Game) Close() {
	g.scheduler.Stop()
	g.cancel()
}

// Ready reports whether a click can be submitted now.
func (g *Game) Ready() bool {
	return submit.IsReady(g.submitter.Prerequisites())
}

// Click submits one click and returns its record. Nothing is consumed when
// the prerequisites are missing.
func (g *Game) Click(ctx context.Context, source types.ClickSource) (types.ClickRecord, *submit.TxError) {
	if !g.Ready() {
		return types.ClickRecord{}, &submit.TxError{Kind: submit.KindPrerequisitesNotMet}
	}

	n, err := g.nonce.Next()
	if err != nil {
		return types.ClickRecord{}, &submit.TxError{Kind: submit.KindPrerequisitesNotMet, Err: err}
	}

	g.updateTiers(g.counter.Increment())

	rec := &types.ClickRecord{
		ID:          uuid.NewString(),
		Address:     g.wallet.Address().Hex(),
		Nonce:       n,
		State:       types.StateSubmitting,
		Source:      source,
		ClickedAtMs: g.now().UnixMilli(),
	}
	g.addRecord(rec)
	g.persist(ctx, *rec, true)
	g.notify()

	res := g.submitter.Submit(ctx, n)

	if !res.Success {
		txErr := res.Err
		if txErr == nil {
			txErr = &submit.TxError{Kind: submit.KindUnknown}
		}
		g.counter.Revert()
		if g.stats != nil {
			g.stats.RecordRejected()
		}
		out := g.finalize(rec.ID, types.StateFailed, txErr.UserMessage(), nil)
		return out, txErr
	}

	hash := res.TxHash
	out := g.updateRecord(rec.ID, func(r *types.ClickRecord) {
		r.TxHash = hash.Hex()
		r.State = types.StatePending
	})
	g.persist(ctx, out, false)

	w := g.monitor.Watch(g.ctx, hash, func(r monitor.Result) { g.onFinalized(rec.ID, r) })
	g.mu.Lock()
	if g.findRecord(rec.ID) != nil {
		g.watches[rec.ID] = w
	} else {
		w.Cancel()
	}
	g.mu.Unlock()

	g.notify()
	return out, nil
}

// onFinalized applies a monitor result to its record.
func (g *Game) onFinalized(id string, r monitor.Result) {
	g.mu.Lock()
	delete(g.watches, id)
	g.mu.Unlock()

	var latency *int64
	if r.Latency > 0 {
		ms := r.Latency.Milliseconds()
		latency = &ms
	}

	if r.Success {
		g.applyClickEvent(r)
		g.refreshUserClicks(g.ctx)
		g.finalize(id, types.StateConfirmed, "", latency)
		return
	}

	g.counter.Revert()
	g.finalize(id, types.StateFailed, submit.KindUnknown.UserMessage(), latency)
}

// applyClickEvent records the global total carried by the receipt's Click
// event. The event does not carry the wallet's own count.
func (g *Game) applyClickEvent(r monitor.Result) {
	if r.Receipt == nil {
		return
	}
	user := g.wallet.Address()
	for _, l := range r.Receipt.Logs {
		if l.Address != g.clicker.Address() {
			continue
		}
		ev, err := contract.ParseClickEvent(l.Topics, l.Data)
		if err != nil || ev.User != user || !ev.NewClickCount.IsUint64() {
			continue
		}
		total := ev.NewClickCount.Uint64()
		g.mu.Lock()
		if g.total == nil || *g.total < total {
			g.total = &total
		}
		g.mu.Unlock()
	}
}

// refreshUserClicks re-reads the wallet's count after a confirmation. On
// failure the offset stays until the next periodic refresh.
func (g *Game) refreshUserClicks(ctx context.Context) {
	count, err := g.clicker.ClicksForUser(ctx, g.wallet.Address())
	if err != nil {
		g.logger.Warn("click count read after confirmation failed", slog.String("error", err.Error()))
		return
	}
	g.applyFetched(count)
}

// finalize moves a record to a terminal state, persists it and returns a
// copy. Unknown ids (already pruned or disconnected) return a zero record.
func (g *Game) finalize(id string, state types.ClickState, msg string, latency *int64) types.ClickRecord {
	at := g.now().UnixMilli()
	out := g.updateRecord(id, func(r *types.ClickRecord) {
		r.State = state
		r.ErrorMessage = msg
		r.FinalizedAtMs = &at
		r.LatencyMs = latency
	})
	if out.ID == "" {
		return out
	}

	g.persist(g.ctx, out, false)
	if g.metrics != nil {
		g.metrics.RecordClick(string(out.Source), string(state))
	}
	g.notify()
	return out
}

// autoClick fires for an unlocked tier. It is skipped while the submitter
// is not ready.
func (g *Game) autoClick(ctx context.Context, tier Tier) {
	if ctx.Err() != nil {
		return
	}
	if !g.Ready() {
		g.logger.Debug("auto-click skipped, not ready", slog.String("tier", tier.ID))
		return
	}
	// The scheduler context ends when tiers are rescheduled, which can
	// happen inside this very click, so submission runs on the game context.
	if _, txErr := g.Click(g.ctx, types.SourceAuto); txErr != nil {
		g.logger.Debug("auto-click failed", slog.String("tier", tier.ID), slog.String("kind", txErr.Kind.String()))
	}
}

// updateTiers reschedules auto-clicks when the unlocked set changes.
func (g *Game) updateTiers(clicks uint64) {
	unlocked := Unlocked(g.tiers, clicks)

	g.mu.Lock()
	changed := !slices.EqualFunc(unlocked, g.unlocked, func(a, b Tier) bool { return a.ID == b.ID })
	if changed {
		g.unlocked = unlocked
	}
	g.mu.Unlock()

	if !changed {
		return
	}

	entries := make([]scheduler.Entry, len(unlocked))
	for i, t := range unlocked {
		entries[i] = scheduler.Entry{
			ID:       t.ID,
			Interval: t.Interval,
			Fire:     func(ctx context.Context) { g.autoClick(ctx, t) },
		}
	}
	if len(entries) == 0 {
		g.scheduler.Stop()
	} else {
		g.scheduler.Set(g.ctx, entries)
	}
	if g.metrics != nil {
		g.metrics.SetUnlockedTiers(len(unlocked))
	}
	g.logger.Info("auto-click tiers updated", slog.Int("unlocked", len(unlocked)), slog.Uint64("clicks", clicks))
}

// RefreshClicks re-reads the wallet's and the global click counts.
func (g *Game) RefreshClicks(ctx context.Context) error {
	count, err := g.clicker.ClicksForUser(ctx, g.wallet.Address())
	if err != nil {
		return err
	}
	g.applyFetched(count)

	if _, err := g.TotalClicks(ctx); err != nil {
		g.logger.Debug("total clicks read failed", slog.String("error", err.Error()))
	}
	return nil
}

// applyFetched moves the counter to an on-chain read and re-evaluates tiers.
func (g *Game) applyFetched(count uint64) {
	if !g.counter.Fetched(count) {
		base, _ := g.counter.Counts()
		g.logger.Warn("click count read behind known count",
			slog.String("address", g.wallet.Address().Hex()),
			slog.Uint64("known", base),
			slog.Uint64("observed", count),
		)
		return
	}
	g.updateTiers(g.counter.Effective())
}

// TotalClicks reads the global click count and caches it for Status.
func (g *Game) TotalClicks(ctx context.Context) (uint64, error) {
	total, err := g.clicker.TotalClicks(ctx)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	g.total = &total
	g.mu.Unlock()
	return total, nil
}

// Run prunes faded records and refreshes click counts until ctx is done.
func (g *Game) Run(ctx context.Context) {
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()
	refresh := time.NewTicker(g.refreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			if g.Prune() > 0 {
				g.notify()
			}
		case <-refresh.C:
			if err := g.RefreshClicks(ctx); err != nil {
				g.logger.Warn("click count refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (g *Game) persist(ctx context.Context, rec types.ClickRecord, created bool) {
	if g.log == nil {
		return
	}
	var err error
	if created {
		err = g.log.SaveClick(ctx, rec)
	} else {
		err = g.log.UpdateClick(ctx, rec)
	}
	if err != nil {
		g.logger.Warn("failed to persist click", slog.String("id", rec.ID), slog.String("error", err.Error()))
	}
}

func (g *Game) notify() {
	if g.onChange != nil {
		g.onChange()
	}
}
