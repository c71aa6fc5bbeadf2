// Package network provides chain profile definitions and registry.
// This lets the clicker adapt to mainnet and testnet without scattered
// conditionals on the environment name.
package network

import (
	"github.com/ethereum/go-ethereum/common"
)

// Profile defines the endpoints, contracts and behaviour of one chain.
type Profile struct {
	// Name is the canonical identifier ("mainnet", "testnet").
	Name string

	ChainID int64
	RPCURL  string
	WSURL   string

	// ClickContract is the game contract exposing click().
	ClickContract common.Address

	// SessionValidator is the wallet module that reports session status.
	SessionValidator common.Address

	// PolicyRegistry and Multicall3 are immutable contracts whose eth_call
	// results may be memoized by the transport cache.
	PolicyRegistry common.Address
	Multicall3     common.Address

	// Paymaster sponsors gas when set. Nil means the wallet pays.
	Paymaster *common.Address

	// PermissiveSessionStatus accepts NotInitialized sessions as valid.
	PermissiveSessionStatus bool

	// ValidatesPolicies makes the signing client check call policies
	// against the policy registry before signing.
	ValidatesPolicies bool
}

// String returns the canonical name of the profile.
func (p *Profile) String() string {
	if p == nil {
		return "unknown"
	}
	return p.Name
}

// StaticContracts returns the addresses whose read results never change.
func (p *Profile) StaticContracts() []common.Address {
	return []common.Address{p.PolicyRegistry, p.Multicall3}
}

// IsTestnet reports whether the profile runs with testnet leniency.
func (p *Profile) IsTestnet() bool {
	return p.PermissiveSessionStatus
}
