// Package rpccache provides a caching JSON-RPC transport that answers
// known-static wallet calls locally so a click costs one round trip.
package rpccache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gowebpki/jcs"
	"golang.org/x/sync/singleflight"

	"github.com/gateway-fm/clicker/internal/rpc"
)

const (
	// DeployedCode is returned for eth_getCode on the session wallet. The
	// wallet is a deployed contract for as long as a session exists.
	DeployedCode = "0x0001000000000000000000000000000000000000000000000000000000000000"

	// ListHooksSelector is listHooks(bool) on the wallet contract.
	ListHooksSelector = "0xdb8a323f"
)

// Cache lookup rules, used as metric labels.
const (
	RuleChainID    = "chain_id"
	RuleWalletCode = "wallet_code"
	RuleHooks      = "hooks"
	RuleStatic     = "static_call"
)

// Recorder receives cache hit and miss events.
type Recorder interface {
	RecordCacheLookup(rule string, hit bool)
}

// Config for creating a Transport.
type Config struct {
	Next            rpc.Caller
	ChainID         int64
	StaticContracts []common.Address
	Metrics         Recorder
	Logger          *slog.Logger
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Memoized int    `json:"memoized"`
	Wallet   string `json:"wallet,omitempty"`
	Hooks    bool   `json:"hooks"`
}

// Transport wraps a Caller and short-circuits static calls.
// It is safe for concurrent use.
type Transport struct {
	next       rpc.Caller
	chainIDHex json.RawMessage
	static     map[common.Address]struct{}
	metrics    Recorder
	logger     *slog.Logger

	mu     sync.RWMutex
	wallet *common.Address
	hooks  json.RawMessage
	memo   map[string]json.RawMessage
	gen    uint64 // bumped by Clear

	inflight singleflight.Group
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// New creates a Transport. The cache starts empty; Init binds it to a wallet.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	static := make(map[common.Address]struct{}, len(cfg.StaticContracts))
	for _, addr := range cfg.StaticContracts {
		static[addr] = struct{}{}
	}

	chainID, _ := json.Marshal(hexutil.EncodeUint64(uint64(cfg.ChainID)))

	return &Transport{
		next:       cfg.Next,
		chainIDHex: chainID,
		static:     static,
		metrics:    cfg.Metrics,
		logger:     logger,
		memo:       make(map[string]json.RawMessage),
	}
}

// Init binds the cache to the session wallet address.
func (t *Transport) Init(wallet common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wallet = &wallet
	t.logger.Debug("transport cache initialised", slog.String("wallet", wallet.Hex()))
}

// SetHooks stores the ABI-encoded listHooks(true) result for the wallet.
func (t *Transport) SetHooks(encoded []byte) {
	raw, _ := json.Marshal(hexutil.Encode(encoded))
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = raw
}

// Clear drops the wallet, hooks and every memoized call.
func (t *Transport) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wallet = nil
	t.hooks = nil
	t.memo = make(map[string]json.RawMessage)
	t.gen++
	t.logger.Debug("transport cache cleared")
}

// Stats returns the current counters.
func (t *Transport) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{
		Hits:     t.hits.Load(),
		Misses:   t.misses.Load(),
		Memoized: len(t.memo),
		Hooks:    t.hooks != nil,
	}
	if t.wallet != nil {
		s.Wallet = t.wallet.Hex()
	}
	return s
}

// Call implements rpc.Caller.
func (t *Transport) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	switch method {
	case "eth_chainId":
		t.record(RuleChainID, true)
		return t.chainIDHex, nil

	case "eth_getCode":
		if t.isWallet(firstAddress(params)) {
			t.record(RuleWalletCode, true)
			return json.Marshal(DeployedCode)
		}

	case "eth_call":
		return t.call(ctx, params)
	}

	return t.next.Call(ctx, method, params)
}

func (t *Transport) call(ctx context.Context, params []interface{}) (json.RawMessage, error) {
	to, data := callTarget(params)

	if strings.HasPrefix(strings.ToLower(data), ListHooksSelector) && t.isWallet(to) {
		t.mu.RLock()
		hooks := t.hooks
		t.mu.RUnlock()
		if hooks != nil {
			t.record(RuleHooks, true)
			return hooks, nil
		}
		t.record(RuleHooks, false)
	}

	key, err := cacheKey(params)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	cached, ok := t.memo[key]
	gen := t.gen
	t.mu.RUnlock()
	if ok {
		t.record(RuleStatic, true)
		return cached, nil
	}

	if to == nil {
		return t.next.Call(ctx, "eth_call", params)
	}
	if _, static := t.static[*to]; !static {
		return t.next.Call(ctx, "eth_call", params)
	}

	t.record(RuleStatic, false)
	v, err, _ := t.inflight.Do(key, func() (interface{}, error) {
		result, err := t.next.Call(ctx, "eth_call", params)
		if err != nil {
			return nil, err
		}
		// A Clear during the call invalidates the result for the cache.
		t.mu.Lock()
		if t.gen == gen {
			t.memo[key] = result
		}
		t.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

func (t *Transport) isWallet(addr *common.Address) bool {
	if addr == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.wallet != nil && *t.wallet == *addr
}

func (t *Transport) record(rule string, hit bool) {
	if hit {
		t.hits.Add(1)
	} else {
		t.misses.Add(1)
	}
	if t.metrics != nil {
		t.metrics.RecordCacheLookup(rule, hit)
	}
}

// cacheKey renders the call parameters as RFC 8785 canonical JSON, so
// key order and number formatting never split identical calls.
func cacheKey(params []interface{}) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal call params: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize call params: %w", err)
	}
	return string(canonical), nil
}

// firstAddress extracts params[0] as an address, as used by eth_getCode.
func firstAddress(params []interface{}) *common.Address {
	if len(params) == 0 {
		return nil
	}
	s, ok := params[0].(string)
	if !ok || !common.IsHexAddress(s) {
		return nil
	}
	addr := common.HexToAddress(s)
	return &addr
}

// callTarget extracts the to address and calldata of an eth_call.
func callTarget(params []interface{}) (*common.Address, string) {
	if len(params) == 0 {
		return nil, ""
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return nil, ""
	}
	var msg struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Input string `json:"input"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, ""
	}
	data := msg.Data
	if data == "" {
		data = msg.Input
	}
	if !common.IsHexAddress(msg.To) {
		return nil, data
	}
	to := common.HexToAddress(msg.To)
	return &to, data
}
