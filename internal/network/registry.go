package network

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Shared contract addresses, identical on both networks.
var (
	PolicyRegistryAddress   = common.HexToAddress("0xfd20b9d7a406e2c4f5d6df71abe3ee48b2eccc9f")
	Multicall3Address       = common.HexToAddress("0xca11bde05977b3631167028862be2a173976ca11")
	SessionValidatorAddress = common.HexToAddress("0x34ca1501FAE231cC2ebc995CE013Dbe882d7d081")
)

// Registry holds registered chain profiles.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Profile
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Profile),
	}
}

// Register adds or updates a profile.
func (r *Registry) Register(p *Profile) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.Name] = p
}

// Get retrieves a profile by name. Returns nil if not found.
func (r *Registry) Get(name string) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Names returns all registered profile names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry returns a registry pre-populated with the built-in networks.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Mainnet())
	r.Register(Testnet())
	return r
}

// Mainnet returns the production profile. Only Active sessions are accepted
// and gas is paid by the wallet.
func Mainnet() *Profile {
	return &Profile{
		Name:              "mainnet",
		ChainID:           2741,
		RPCURL:            "https://api.mainnet.abs.xyz",
		WSURL:             "wss://api.mainnet.abs.xyz/ws",
		ClickContract:     common.HexToAddress("0x7c3e5FC43792Aebe48FFEcB1D4583e63E6DaE482"),
		SessionValidator:  SessionValidatorAddress,
		PolicyRegistry:    PolicyRegistryAddress,
		Multicall3:        Multicall3Address,
		ValidatesPolicies: true,
	}
}

// Testnet returns the test profile. Gas is sponsored by the paymaster and
// sessions not yet initialised on chain are accepted.
func Testnet() *Profile {
	paymaster := common.HexToAddress("0x5407B5040dec3D339A9247f3654E59EEccbb6391")
	return &Profile{
		Name:                    "testnet",
		ChainID:                 11124,
		RPCURL:                  "https://api.testnet.abs.xyz",
		WSURL:                   "wss://api.testnet.abs.xyz/ws",
		ClickContract:           common.HexToAddress("0x45953d5B31ab11DDBBF8a0E6c8651ae6C4B80b99"),
		SessionValidator:        SessionValidatorAddress,
		PolicyRegistry:          PolicyRegistryAddress,
		Multicall3:              Multicall3Address,
		Paymaster:               &paymaster,
		PermissiveSessionStatus: true,
	}
}
