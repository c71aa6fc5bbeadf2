package session

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var usageLimitComponents = []abi.ArgumentMarshaling{
	{Name: "limitType", Type: "uint8"},
	{Name: "limit", Type: "uint256"},
	{Name: "period", Type: "uint256"},
}

var sessionSpecType = mustTupleType([]abi.ArgumentMarshaling{
	{Name: "signer", Type: "address"},
	{Name: "expiresAt", Type: "uint256"},
	{Name: "feeLimit", Type: "tuple", Components: usageLimitComponents},
	{Name: "callPolicies", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "selector", Type: "bytes4"},
		{Name: "maxValuePerUse", Type: "uint256"},
		{Name: "valueLimit", Type: "tuple", Components: usageLimitComponents},
		{Name: "constraints", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "condition", Type: "uint8"},
			{Name: "index", Type: "uint64"},
			{Name: "refValue", Type: "bytes32"},
			{Name: "limit", Type: "tuple", Components: usageLimitComponents},
		}},
	}},
	{Name: "transferPolicies", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "maxValuePerUse", Type: "uint256"},
		{Name: "valueLimit", Type: "tuple", Components: usageLimitComponents},
	}},
})

var (
	sessionSpecArgs = abi.Arguments{{Type: sessionSpecType}}
	withPeriodsArgs = abi.Arguments{{Type: sessionSpecType}, {Type: mustType("uint64[]")}}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid type %s: %v", name, err))
	}
	return t
}

func mustTupleType(components []abi.ArgumentMarshaling) abi.Type {
	t, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(fmt.Sprintf("invalid session spec type: %v", err))
	}
	return t
}

// ABI mirrors of the config types. Field names match the tuple components.
type abiUsageLimit struct {
	LimitType uint8
	Limit     *big.Int
	Period    *big.Int
}

type abiConstraint struct {
	Condition uint8
	Index     uint64
	RefValue  [32]byte
	Limit     abiUsageLimit
}

type abiCallSpec struct {
	Target         common.Address
	Selector       [4]byte
	MaxValuePerUse *big.Int
	ValueLimit     abiUsageLimit
	Constraints    []abiConstraint
}

type abiTransferSpec struct {
	Target         common.Address
	MaxValuePerUse *big.Int
	ValueLimit     abiUsageLimit
}

type abiSessionSpec struct {
	Signer           common.Address
	ExpiresAt        *big.Int
	FeeLimit         abiUsageLimit
	CallPolicies     []abiCallSpec
	TransferPolicies []abiTransferSpec
}

func toABILimit(l Limit) abiUsageLimit {
	return abiUsageLimit{LimitType: uint8(l.Type), Limit: l.Limit.Big(), Period: l.Period.Big()}
}

func toABISpec(cfg Config) abiSessionSpec {
	spec := abiSessionSpec{
		Signer:           cfg.Signer,
		ExpiresAt:        cfg.ExpiresAt.Big(),
		FeeLimit:         toABILimit(cfg.FeeLimit),
		CallPolicies:     make([]abiCallSpec, 0, len(cfg.CallPolicies)),
		TransferPolicies: make([]abiTransferSpec, 0, len(cfg.TransferPolicies)),
	}
	for _, p := range cfg.CallPolicies {
		call := abiCallSpec{
			Target:         p.Target,
			Selector:       p.Selector,
			MaxValuePerUse: p.MaxValuePerUse.Big(),
			ValueLimit:     toABILimit(p.ValueLimit),
			Constraints:    make([]abiConstraint, 0, len(p.Constraints)),
		}
		for _, c := range p.Constraints {
			call.Constraints = append(call.Constraints, abiConstraint{
				Condition: uint8(c.Condition),
				Index:     c.Index,
				RefValue:  c.RefValue,
				Limit:     toABILimit(c.Limit),
			})
		}
		spec.CallPolicies = append(spec.CallPolicies, call)
	}
	for _, p := range cfg.TransferPolicies {
		spec.TransferPolicies = append(spec.TransferPolicies, abiTransferSpec{
			Target:         p.Target,
			MaxValuePerUse: p.MaxValuePerUse.Big(),
			ValueLimit:     toABILimit(p.ValueLimit),
		})
	}
	return spec
}

// Encode returns the ABI encoding of the session spec tuple.
func Encode(cfg Config) ([]byte, error) {
	encoded, err := sessionSpecArgs.Pack(toABISpec(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to encode session config: %w", err)
	}
	return encoded, nil
}

// Hash returns the session hash the validator indexes sessions by:
// keccak256 of the ABI-encoded session spec.
func Hash(cfg Config) (common.Hash, error) {
	encoded, err := Encode(cfg)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// EncodeWithPeriods returns the validator hook payload: the session spec
// followed by the period ids of the limits a transaction touches.
func EncodeWithPeriods(cfg Config, periods []uint64) ([]byte, error) {
	encoded, err := withPeriodsArgs.Pack(toABISpec(cfg), periods)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session hook data: %w", err)
	}
	return encoded, nil
}
