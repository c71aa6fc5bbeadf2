package game

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/clicker/internal/contract"
	"github.com/gateway-fm/clicker/internal/gas"
	"github.com/gateway-fm/clicker/internal/monitor"
	"github.com/gateway-fm/clicker/internal/network"
	"github.com/gateway-fm/clicker/internal/nonce"
	"github.com/gateway-fm/clicker/internal/rpc"
	"github.com/gateway-fm/clicker/internal/scheduler"
	"github.com/gateway-fm/clicker/internal/session"
	"github.com/gateway-fm/clicker/internal/submit"
	"github.com/gateway-fm/clicker/pkg/types"
)

var (
	testWallet   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testSigner   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type fakeClicker struct {
	mu    sync.Mutex
	user  uint64
	total uint64
	err   error
}

func (f *fakeClicker) ClicksForUser(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user, f.err
}

func (f *fakeClicker) TotalClicks(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.err
}

func (f *fakeClicker) Address() common.Address { return testContract }

func (f *fakeClicker) set(user uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = user
}

type fakeSessions struct {
	mu      sync.Mutex
	stored  *session.Session
	reject  bool
	saveErr error
	cleared int
}

func (f *fakeSessions) Load(context.Context, common.Address) *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return nil
	}
	return f.stored
}

func (f *fakeSessions) Save(_ context.Context, _ common.Address, sess *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.stored = sess
	return nil
}

func (f *fakeSessions) Clear(context.Context, common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = nil
	f.cleared++
	return nil
}

type fakeCache struct{ cleared int }

func (f *fakeCache) Clear() { f.cleared++ }

type fakeNonceSource struct{ n uint64 }

func (f *fakeNonceSource) GetNonce(context.Context, common.Address) (uint64, error) {
	return f.n, nil
}

type fakeGas struct {
	mu        sync.Mutex
	est       *gas.Estimate
	forgotten int
}

func (f *fakeGas) Estimate(context.Context, common.Address) (*gas.Estimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.est, nil
}

func (f *fakeGas) Current(common.Address) *gas.Estimate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.est
}

func (f *fakeGas) Err(common.Address) error { return nil }

func (f *fakeGas) Forget(common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.est = nil
	f.forgotten++
}

// fakeSubmitter is ready whenever the wallet holds a session.
type fakeSubmitter struct {
	wallet *Wallet
	nonce  *nonce.Tracker
	gas    *fakeGas

	mu     sync.Mutex
	result func(n uint64) submit.Result
	nonces []uint64
	resets int
}

func (f *fakeSubmitter) Prerequisites() submit.Prerequisites {
	address, sess := f.wallet.Credentials()
	p := submit.Prerequisites{Address: address, Gas: f.gas.Current(testWallet)}
	if sess != nil {
		p.SessionKey = sess.PrivateKey
	}
	if n, ok := f.nonce.Current(); ok {
		p.Nonce = &n
	}
	return p
}

func (f *fakeSubmitter) Submit(_ context.Context, n uint64) submit.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces = append(f.nonces, n)
	if f.result != nil {
		return f.result(n)
	}
	return submit.Result{Success: true, TxHash: common.BigToHash(new(big.Int).SetUint64(n + 1))}
}

func (f *fakeSubmitter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeSubmitter) submitted() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.nonces...)
}

// fakeReceipts answers receipt lookups from a map; a missing hash is still
// pending.
type fakeReceipts struct {
	mu       sync.Mutex
	receipts map[common.Hash]*rpc.TransactionReceipt
}

func (f *fakeReceipts) GetTransactionReceipt(_ context.Context, hash common.Hash) (*rpc.TransactionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[hash], nil
}

func (f *fakeReceipts) set(hash common.Hash, r *rpc.TransactionReceipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = r
}

type fakeScheduler struct {
	mu    sync.Mutex
	sets  [][]scheduler.Entry
	stops int
	len   int
}

func (f *fakeScheduler) Set(_ context.Context, entries []scheduler.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, entries)
	f.len = len(entries)
}

func (f *fakeScheduler) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.len = 0
}

func (f *fakeScheduler) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.len
}

func (f *fakeScheduler) lastSet() []scheduler.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sets) == 0 {
		return nil
	}
	return f.sets[len(f.sets)-1]
}

type fakeClickLog struct {
	mu      sync.Mutex
	saved   []types.ClickRecord
	updated []types.ClickRecord
}

func (f *fakeClickLog) SaveClick(_ context.Context, rec types.ClickRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeClickLog) UpdateClick(_ context.Context, rec types.ClickRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, rec)
	return nil
}

type fixture struct {
	game      *Game
	wallet    *Wallet
	clicker   *fakeClicker
	sessions  *fakeSessions
	cache     *fakeCache
	nonce     *nonce.Tracker
	gas       *fakeGas
	submitter *fakeSubmitter
	receipts  *fakeReceipts
	scheduler *fakeScheduler
	log       *fakeClickLog
	now       time.Time
	clockMu   sync.Mutex
}

func (f *fixture) advance(d time.Duration) {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) clock() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.now
}

func testSession() *session.Session {
	return &session.Session{
		Config:     session.NewConfig(testSigner, testContract, time.Unix(1_700_000_000, 0)),
		PrivateKey: "0x01",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		wallet:    NewWallet(testWallet),
		clicker:   &fakeClicker{},
		sessions:  &fakeSessions{stored: testSession()},
		cache:     &fakeCache{},
		gas:       &fakeGas{est: &gas.Estimate{GasLimit: 150_000, MaxFeePerGas: big.NewInt(30), MaxPriorityFeePerGas: big.NewInt(0)}},
		receipts:  &fakeReceipts{receipts: make(map[common.Hash]*rpc.TransactionReceipt)},
		scheduler: &fakeScheduler{},
		log:       &fakeClickLog{},
		now:       time.UnixMilli(1_700_000_000_000),
	}
	f.nonce = nonce.New(nonce.Config{Source: &fakeNonceSource{n: 5}, Address: testWallet})
	f.submitter = &fakeSubmitter{wallet: f.wallet, nonce: f.nonce, gas: f.gas}

	feed := monitor.NewHeadFeed(monitor.HeadFeedConfig{URL: "ws://unused"})
	mon := monitor.New(monitor.Config{Receipts: f.receipts, Heads: feed})

	f.game = New(Config{
		Profile:   network.Testnet(),
		Wallet:    f.wallet,
		Clicker:   f.clicker,
		Sessions:  f.sessions,
		Cache:     f.cache,
		Nonce:     f.nonce,
		Gas:       f.gas,
		Submitter: f.submitter,
		Monitor:   mon,
		Scheduler: f.scheduler,
		Log:       f.log,
		Now:       f.clock,
	})
	t.Cleanup(f.game.Close)
	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	if err := f.game.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recordState(g *Game, id string) types.ClickState {
	for _, r := range g.Records() {
		if r.ID == id {
			return r.State
		}
	}
	return ""
}

func clickLog(user common.Address, count int64) rpc.Log {
	event := contract.ClickerABI.Events["Click"]
	return rpc.Log{
		Address: testContract,
		Topics:  []common.Hash{event.ID, common.BytesToHash(user.Bytes())},
		Data:    common.LeftPadBytes(big.NewInt(count).Bytes(), 32),
	}
}

func TestClickNotReady(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"not connected", func(*fixture) {}},
		{"no session", func(f *fixture) {
			f.sessions.reject = true
			f.connect(t)
		}},
		{"no gas", func(f *fixture) {
			f.connect(t)
			f.gas.Forget(testWallet)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			rec, txErr := f.game.Click(context.Background(), types.SourceManual)
			if txErr == nil || txErr.Kind != submit.KindPrerequisitesNotMet {
				t.Fatalf("Click() error = %v, want prerequisites_not_met", txErr)
			}
			if rec.ID != "" {
				t.Errorf("Click() record = %+v, want zero", rec)
			}
			if got := f.submitter.submitted(); len(got) != 0 {
				t.Errorf("submitted nonces = %v, want none", got)
			}
			if got := len(f.game.Records()); got != 0 {
				t.Errorf("records = %d, want 0", got)
			}
			if st := f.nonce.State(); st.Offset != 0 {
				t.Errorf("nonce offset = %d, want 0", st.Offset)
			}
		})
	}
}

func TestClickConfirmed(t *testing.T) {
	f := newFixture(t)
	f.clicker.set(41)
	f.connect(t)

	// The event carries the global total; the wallet count comes from a
	// fresh read after the receipt.
	hash := common.BigToHash(big.NewInt(6)) // nonce 5 + 1
	f.receipts.set(hash, &rpc.TransactionReceipt{
		TxHash: hash,
		Status: 1,
		Logs:   []rpc.Log{clickLog(testWallet, 5000)},
	})
	f.clicker.set(42)

	rec, txErr := f.game.Click(context.Background(), types.SourceManual)
	if txErr != nil {
		t.Fatalf("Click() error = %v", txErr)
	}
	if rec.Nonce != 5 {
		t.Errorf("Nonce = %d, want 5", rec.Nonce)
	}
	if rec.TxHash != hash.Hex() {
		t.Errorf("TxHash = %s, want %s", rec.TxHash, hash.Hex())
	}

	waitFor(t, "confirmation", func() bool { return recordState(f.game, rec.ID) == types.StateConfirmed })

	st := f.game.Status()
	if st.Clicks.OnChain != 42 || st.Clicks.Offset != 0 {
		t.Errorf("Clicks = %+v, want on-chain 42 offset 0", st.Clicks)
	}
	if st.TotalClicks == nil || *st.TotalClicks != 5000 {
		t.Errorf("TotalClicks = %v, want 5000", st.TotalClicks)
	}
	for _, tier := range st.Tiers {
		if tier.Unlocked {
			t.Errorf("tier %s unlocked at 42 clicks", tier.ID)
		}
	}
	if entries := f.scheduler.lastSet(); len(entries) != 0 {
		t.Errorf("scheduled = %+v, want none", entries)
	}
	if len(f.log.saved) != 1 || f.log.saved[0].State != types.StateSubmitting {
		t.Errorf("saved = %+v, want one submitting record", f.log.saved)
	}
}

func TestClickConfirmedReadFailureKeepsOffset(t *testing.T) {
	f := newFixture(t)
	f.clicker.set(41)
	f.connect(t)

	hash := common.BigToHash(big.NewInt(6))
	f.receipts.set(hash, &rpc.TransactionReceipt{TxHash: hash, Status: 1, Logs: []rpc.Log{clickLog(testWallet, 5000)}})
	f.clicker.mu.Lock()
	f.clicker.err = errors.New("rpc down")
	f.clicker.mu.Unlock()

	rec, txErr := f.game.Click(context.Background(), types.SourceManual)
	if txErr != nil {
		t.Fatalf("Click() error = %v", txErr)
	}
	waitFor(t, "confirmation", func() bool { return recordState(f.game, rec.ID) == types.StateConfirmed })

	if got := f.game.Status().Clicks; got.OnChain != 41 || got.Offset != 1 || got.Effective != 42 {
		t.Errorf("Clicks = %+v, want on-chain 41 offset 1", got)
	}
}

func TestCounterFetched(t *testing.T) {
	tests := []struct {
		name        string
		base        uint64
		clicks      int
		fetched     uint64
		wantApplied bool
		wantBase    uint64
		wantOffset  uint64
	}{
		{"first read", 0, 0, 10, true, 10, 0},
		{"caught up partially", 10, 3, 12, true, 12, 1},
		{"caught up fully", 10, 3, 13, true, 13, 0},
		{"overtaken", 10, 3, 20, true, 20, 0},
		{"unchanged", 10, 2, 10, true, 10, 2},
		{"lagging read ignored", 10, 2, 8, false, 10, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Counter
			c.Fetched(tt.base)
			for i := 0; i < tt.clicks; i++ {
				c.Increment()
			}
			if got := c.Fetched(tt.fetched); got != tt.wantApplied {
				t.Errorf("Fetched(%d) = %v, want %v", tt.fetched, got, tt.wantApplied)
			}
			base, offset := c.Counts()
			if base != tt.wantBase || offset != tt.wantOffset {
				t.Errorf("Counts() = %d, %d, want %d, %d", base, offset, tt.wantBase, tt.wantOffset)
			}
		})
	}
}

func TestClickSubmitFailure(t *testing.T) {
	f := newFixture(t)
	f.clicker.set(10)
	f.connect(t)
	f.submitter.result = func(uint64) submit.Result {
		return submit.Result{Err: &submit.TxError{Kind: submit.KindInsufficientFunds, Raw: "insufficient funds for gas"}}
	}

	rec, txErr := f.game.Click(context.Background(), types.SourceManual)
	if txErr == nil || txErr.Kind != submit.KindInsufficientFunds {
		t.Fatalf("Click() error = %v, want insufficient_funds", txErr)
	}
	if rec.State != types.StateFailed {
		t.Errorf("State = %s, want failed", rec.State)
	}
	if rec.ErrorMessage != "Insufficient funds for gas." {
		t.Errorf("ErrorMessage = %q", rec.ErrorMessage)
	}
	if rec.FinalizedAtMs == nil {
		t.Error("FinalizedAtMs not set")
	}
	if got := f.game.Status().Clicks.Effective; got != 10 {
		t.Errorf("effective clicks = %d, want 10 after revert", got)
	}
}

func TestClickReverted(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	hash := common.BigToHash(big.NewInt(6))
	f.receipts.set(hash, &rpc.TransactionReceipt{TxHash: hash, Status: 0})

	rec, txErr := f.game.Click(context.Background(), types.SourceManual)
	if txErr != nil {
		t.Fatalf("Click() error = %v", txErr)
	}
	waitFor(t, "failure", func() bool { return recordState(f.game, rec.ID) == types.StateFailed })

	if got := f.game.Status().Clicks.Effective; got != 0 {
		t.Errorf("effective clicks = %d, want 0", got)
	}
}

func TestRecordsCappedNewestFirst(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	for range DefaultMaxRecords + 5 {
		if _, txErr := f.game.Click(context.Background(), types.SourceManual); txErr != nil {
			t.Fatalf("Click() error = %v", txErr)
		}
	}

	records := f.game.Records()
	if len(records) != DefaultMaxRecords {
		t.Fatalf("records = %d, want %d", len(records), DefaultMaxRecords)
	}
	if records[0].Nonce != 5+DefaultMaxRecords+4 {
		t.Errorf("newest nonce = %d, want %d", records[0].Nonce, 5+DefaultMaxRecords+4)
	}
	for i := 1; i < len(records); i++ {
		if records[i].Nonce >= records[i-1].Nonce {
			t.Fatalf("records not newest first at %d: %d >= %d", i, records[i].Nonce, records[i-1].Nonce)
		}
	}
}

func TestPruneAfterFade(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.submitter.result = func(uint64) submit.Result {
		return submit.Result{Err: &submit.TxError{Kind: submit.KindNetwork}}
	}

	if _, txErr := f.game.Click(context.Background(), types.SourceManual); txErr == nil {
		t.Fatal("Click() succeeded, want failure")
	}

	tests := []struct {
		name    string
		advance time.Duration
		want    int
	}{
		{"fading is still listed", FadeDelay, 1},
		{"just before the fade ends", FadeDuration - time.Millisecond, 1},
		{"pruned once faded", time.Millisecond, 0},
	}
	for _, tt := range tests {
		f.advance(tt.advance)
		if got := len(f.game.Records()); got != tt.want {
			t.Errorf("%s: records = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestTierScheduling(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		onChain  uint64
		wantIDs  []string
		wantSets int
	}{
		{"below every tier", 99, nil, 0},
		{"first tier", 100, []string{"tier1"}, 1},
		{"unchanged set does not reschedule", 150, []string{"tier1"}, 1},
		{"two tiers", 500, []string{"tier1", "tier2"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.clicker.set(tt.onChain)
			if err := f.game.RefreshClicks(context.Background()); err != nil {
				t.Fatalf("RefreshClicks() error = %v", err)
			}

			f.scheduler.mu.Lock()
			sets := len(f.scheduler.sets)
			f.scheduler.mu.Unlock()
			if sets != tt.wantSets {
				t.Errorf("scheduler sets = %d, want %d", sets, tt.wantSets)
			}

			var ids []string
			for _, e := range f.scheduler.lastSet() {
				ids = append(ids, e.ID)
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("scheduled = %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Errorf("scheduled = %v, want %v", ids, tt.wantIDs)
				}
			}
		})
	}
}

func TestClickUnlocksTier(t *testing.T) {
	f := newFixture(t)
	f.clicker.set(99)
	f.connect(t)

	if _, txErr := f.game.Click(context.Background(), types.SourceManual); txErr != nil {
		t.Fatalf("Click() error = %v", txErr)
	}
	entries := f.scheduler.lastSet()
	if len(entries) != 1 || entries[0].ID != "tier1" || entries[0].Interval != 10*time.Second {
		t.Fatalf("scheduled = %+v, want tier1 every 10s", entries)
	}

	// The auto-click callback submits with the auto source.
	entries[0].Fire(context.Background())
	records := f.game.Records()
	if len(records) != 2 || records[0].Source != types.SourceAuto {
		t.Errorf("records = %+v, want newest auto click", records)
	}
}

func TestAutoClickSkippedWhenNotReady(t *testing.T) {
	f := newFixture(t)
	f.clicker.set(100)
	f.connect(t)
	f.gas.Forget(testWallet)

	entries := f.scheduler.lastSet()
	if len(entries) != 1 {
		t.Fatalf("scheduled = %d entries, want 1", len(entries))
	}
	entries[0].Fire(context.Background())

	if got := f.submitter.submitted(); len(got) != 0 {
		t.Errorf("submitted = %v, want none", got)
	}
	if st := f.nonce.State(); st.Offset != 0 {
		t.Errorf("nonce offset = %d, want 0", st.Offset)
	}
}

func TestImportSession(t *testing.T) {
	tests := []struct {
		name    string
		reject  bool
		wantErr error
	}{
		{"accepted", false, nil},
		{"rejected", true, ErrSessionRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sessions.stored = nil
			f.connect(t)
			if f.game.Ready() {
				t.Fatal("ready without a session")
			}

			f.sessions.reject = tt.reject
			err := f.game.ImportSession(context.Background(), testSession())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ImportSession() error = %v, want %v", err, tt.wantErr)
			}
			if got := f.game.Ready(); got != (tt.wantErr == nil) {
				t.Errorf("Ready() = %v", got)
			}
		})
	}
}

func TestImportSessionReplacingActive(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(f *fixture)
		wantErr     error
		wantReady   bool
		wantSession bool
	}{
		{
			name: "refused by save keeps current session",
			setup: func(f *fixture) {
				f.sessions.saveErr = fmt.Errorf("%w: call policies differ", session.ErrInvalidSession)
			},
			wantErr:     ErrSessionRejected,
			wantReady:   true,
			wantSession: true,
		},
		{
			name:        "storage failure is not a rejection",
			setup:       func(f *fixture) { f.sessions.saveErr = errors.New("disk full") },
			wantReady:   true,
			wantSession: true,
		},
		{
			name:    "rejected on load drops current session",
			setup:   func(f *fixture) { f.sessions.reject = true },
			wantErr: ErrSessionRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.connect(t)
			if !f.game.Ready() {
				t.Fatal("not ready with a stored session")
			}

			tt.setup(f)
			err := f.game.ImportSession(context.Background(), testSession())
			if err == nil {
				t.Fatal("ImportSession() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ImportSession() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && errors.Is(err, ErrSessionRejected) {
				t.Errorf("ImportSession() error = %v, want a plain storage error", err)
			}
			if got := f.game.Ready(); got != tt.wantReady {
				t.Errorf("Ready() = %v, want %v", got, tt.wantReady)
			}
			if got := f.wallet.Session() != nil; got != tt.wantSession {
				t.Errorf("in-memory session present = %v, want %v", got, tt.wantSession)
			}
		})
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	f.clicker.set(100)
	f.connect(t)

	// Leave one click pending: no receipt is ever found.
	rec, txErr := f.game.Click(context.Background(), types.SourceManual)
	if txErr != nil {
		t.Fatalf("Click() error = %v", txErr)
	}

	if err := f.game.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	hash := common.HexToHash(rec.TxHash)
	f.receipts.set(hash, &rpc.TransactionReceipt{TxHash: hash, Status: 1})

	if f.game.Ready() {
		t.Error("Ready() after disconnect")
	}
	if f.scheduler.Len() != 0 {
		t.Error("auto-clicks still scheduled")
	}
	if f.sessions.cleared != 1 || f.cache.cleared != 1 || f.gas.forgotten == 0 {
		t.Errorf("cleared sessions=%d cache=%d gas=%d", f.sessions.cleared, f.cache.cleared, f.gas.forgotten)
	}
	if st := f.nonce.State(); st.Known {
		t.Errorf("nonce state = %+v, want unknown", st)
	}
	if got := len(f.game.Records()); got != 0 {
		t.Errorf("records = %d, want 0", got)
	}
	st := f.game.Status()
	if st.Session != nil || st.Clicks.Effective != 0 {
		t.Errorf("status after disconnect = %+v", st)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.clicker.set(7)
	f.clicker.total = 1000
	f.connect(t)

	st := f.game.Status()
	if st.Network != "testnet" || st.ChainID != 11124 {
		t.Errorf("network = %s/%d", st.Network, st.ChainID)
	}
	if !st.Ready || st.Readiness != (types.Readiness{Address: true, SessionKey: true, Gas: true, Nonce: true}) {
		t.Errorf("readiness = %v %+v", st.Ready, st.Readiness)
	}
	if st.Session == nil || st.Session.Signer != testSigner.Hex() {
		t.Errorf("session = %+v", st.Session)
	}
	if st.Nonce == nil || st.Nonce.Effective != 5 {
		t.Errorf("nonce = %+v", st.Nonce)
	}
	if st.Gas == nil || st.Gas.MaxFeePerGas != "30" {
		t.Errorf("gas = %+v", st.Gas)
	}
	if st.TotalClicks == nil || *st.TotalClicks != 1000 {
		t.Errorf("total clicks = %v", st.TotalClicks)
	}
	if len(st.Tiers) != len(DefaultTiers) || st.Tiers[0].Unlocked {
		t.Errorf("tiers = %+v", st.Tiers)
	}
}
