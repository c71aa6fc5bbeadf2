// Package session persists, decrypts and validates the delegated signing key
// bound to the connected wallet.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// Amount is a uint256 that serialises as a decimal string, so values survive
// a JSON round trip without precision loss.
type Amount struct {
	v *big.Int
}

// NewAmount returns an Amount holding x.
func NewAmount(x int64) Amount {
	return Amount{v: big.NewInt(x)}
}

// AmountFromBig returns an Amount holding a copy of x.
func AmountFromBig(x *big.Int) Amount {
	if x == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(x)}
}

// Big returns the value as a new big.Int. The zero Amount is 0.
func (a Amount) Big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

func (a Amount) String() string {
	return a.Big().String()
}

// MarshalJSON encodes the amount as a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal or 0x-prefixed string, or a bare number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid uint256 %q", s)
	}
	a.v = v
	return nil
}

// LimitType selects how a usage limit is enforced.
type LimitType uint8

const (
	LimitUnlimited LimitType = 0
	LimitLifetime  LimitType = 1
	LimitAllowance LimitType = 2
)

// Limit is a usage limit.
type Limit struct {
	Type   LimitType `json:"limitType"`
	Limit  Amount    `json:"limit"`
	Period Amount    `json:"period"`
}

// LimitZero allows nothing.
func LimitZero() Limit {
	return Limit{Type: LimitLifetime, Limit: NewAmount(0), Period: NewAmount(0)}
}

// Condition is a calldata constraint comparison.
type Condition uint8

const (
	ConditionUnconstrained Condition = iota
	ConditionEqual
	ConditionGreater
	ConditionLess
	ConditionGreaterEqual
	ConditionLessEqual
	ConditionNotEqual
)

// Constraint restricts one 32-byte calldata word.
type Constraint struct {
	Condition Condition   `json:"condition"`
	Index     uint64      `json:"index"`
	RefValue  common.Hash `json:"refValue"`
	Limit     Limit       `json:"limit"`
}

// Selector is a 4-byte function selector.
type Selector [4]byte

// MarshalText encodes the selector as 0x-prefixed hex.
func (s Selector) MarshalText() ([]byte, error) {
	return hexutil.Bytes(s[:]).MarshalText()
}

// UnmarshalText decodes 0x-prefixed hex.
func (s *Selector) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Selector", input, s[:])
}

// CallPolicy authorises calls to one function of one contract.
type CallPolicy struct {
	Target         common.Address `json:"target"`
	Selector       Selector       `json:"selector"`
	ValueLimit     Limit          `json:"valueLimit"`
	MaxValuePerUse Amount         `json:"maxValuePerUse"`
	Constraints    []Constraint   `json:"constraints"`
}

// TransferPolicy authorises plain value transfers to one target.
type TransferPolicy struct {
	Target         common.Address `json:"target"`
	MaxValuePerUse Amount         `json:"maxValuePerUse"`
	ValueLimit     Limit          `json:"valueLimit"`
}

// Config is the session configuration the wallet authorised.
type Config struct {
	Signer           common.Address   `json:"signer"`
	ExpiresAt        Amount           `json:"expiresAt"`
	FeeLimit         Limit            `json:"feeLimit"`
	CallPolicies     []CallPolicy     `json:"callPolicies"`
	TransferPolicies []TransferPolicy `json:"transferPolicies"`
}

// Session is a loaded session: its configuration and the signer key.
type Session struct {
	Config     Config `json:"session"`
	PrivateKey string `json:"privateKey"`
}

// Status is the on-chain session state.
type Status uint8

const (
	StatusNotInitialized Status = 0
	StatusActive         Status = 1
	StatusClosed         Status = 2
	StatusExpired        Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusNotInitialized:
		return "not_initialized"
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Usable reports whether a session in this state may sign. Permissive
// networks also accept sessions that were never registered.
func (s Status) Usable(permissive bool) bool {
	return s == StatusActive || (permissive && s == StatusNotInitialized)
}
