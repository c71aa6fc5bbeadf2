package session

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gowebpki/jcs"

	"github.com/gateway-fm/clicker/internal/contract"
)

// Default session parameters.
const (
	DefaultLifetime = 30 * 24 * time.Hour
)

// DefaultFeeLimit is the lifetime gas fee allowance, 1 ether.
var DefaultFeeLimit = NewAmount(1_000_000_000_000_000_000)

// DefaultCallPolicies returns the only call the session may make: click()
// on the clicker contract, with no value.
func DefaultCallPolicies(clickContract common.Address) []CallPolicy {
	var sel Selector
	copy(sel[:], contract.ClickSelector)

	return []CallPolicy{
		{
			Target:         clickContract,
			Selector:       sel,
			ValueLimit:     LimitZero(),
			MaxValuePerUse: NewAmount(0),
			Constraints:    []Constraint{},
		},
	}
}

// NewConfig returns the session configuration requested from the wallet.
func NewConfig(signer, clickContract common.Address, now time.Time) Config {
	return Config{
		Signer:    signer,
		ExpiresAt: NewAmount(now.Add(DefaultLifetime).Unix()),
		FeeLimit: Limit{
			Type:   LimitLifetime,
			Limit:  DefaultFeeLimit,
			Period: NewAmount(0),
		},
		CallPolicies:     DefaultCallPolicies(clickContract),
		TransferPolicies: []TransferPolicy{},
	}
}

// PoliciesEqual compares two policy lists in canonical JSON form. Order and
// every field matter; numbers compare as decimal strings.
func PoliciesEqual(a, b []CallPolicy) bool {
	ca, err := canonicalPolicies(a)
	if err != nil {
		return false
	}
	cb, err := canonicalPolicies(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func canonicalPolicies(policies []CallPolicy) ([]byte, error) {
	normalized := make([]CallPolicy, len(policies))
	for i, p := range policies {
		if p.Constraints == nil {
			p.Constraints = []Constraint{}
		}
		normalized[i] = p
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}
