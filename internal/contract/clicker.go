// Package contract binds the clicker game contract.
package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/clicker/internal/rpc"
)

// ClickerABIJSON is the ABI of the clicker contract.
const ClickerABIJSON = `[
	{"type":"function","name":"click","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"getClicks","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"getClicksForUser","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"totalClicks","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"userClicks","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"event","name":"Click","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"newClickCount","type":"uint256","indexed":false}
	]}
]`

// ClickerABI is the parsed clicker ABI.
var ClickerABI = mustParseABI(ClickerABIJSON)

// ClickSelector is the 4-byte selector of click().
var ClickSelector = Selector("click()")

// Selector returns the 4-byte function selector for a signature such as
// "click()".
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// ClickCalldata returns the calldata of the only mutating entry point.
func ClickCalldata() []byte {
	data := make([]byte, len(ClickSelector))
	copy(data, ClickSelector)
	return data
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// Reader performs eth_call reads.
type Reader interface {
	EthCall(ctx context.Context, msg rpc.CallMsg) ([]byte, error)
}

// Clicker reads counters from a deployed clicker contract.
type Clicker struct {
	reader  Reader
	address common.Address
}

// NewClicker binds the clicker contract at address.
func NewClicker(reader Reader, address common.Address) *Clicker {
	return &Clicker{reader: reader, address: address}
}

// Address returns the bound contract address.
func (c *Clicker) Address() common.Address {
	return c.address
}

// ClicksForUser returns the number of clicks recorded for user.
func (c *Clicker) ClicksForUser(ctx context.Context, user common.Address) (uint64, error) {
	return c.readUint(ctx, "getClicksForUser", user)
}

// TotalClicks returns the global click count.
func (c *Clicker) TotalClicks(ctx context.Context) (uint64, error) {
	return c.readUint(ctx, "totalClicks")
}

func (c *Clicker) readUint(ctx context.Context, method string, args ...interface{}) (uint64, error) {
	data, err := ClickerABI.Pack(method, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	out, err := c.reader.EthCall(ctx, rpc.CallMsg{To: c.address, Data: data})
	if err != nil {
		return 0, fmt.Errorf("%s call failed: %w", method, err)
	}

	values, err := ClickerABI.Unpack(method, out)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("%s returned %d values, want 1", method, len(values))
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s returned %T, want *big.Int", method, values[0])
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%s result %s overflows uint64", method, n)
	}
	return n.Uint64(), nil
}

// ClickEvent is a decoded Click log.
type ClickEvent struct {
	User          common.Address
	NewClickCount *big.Int
}

// ParseClickEvent decodes a Click log from its topics and data.
func ParseClickEvent(topics []common.Hash, data []byte) (*ClickEvent, error) {
	event := ClickerABI.Events["Click"]
	if len(topics) != 2 || topics[0] != event.ID {
		return nil, fmt.Errorf("not a Click event")
	}

	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack Click event: %w", err)
	}
	count, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("Click event count has type %T", values[0])
	}
	return &ClickEvent{
		User:          common.BytesToAddress(topics[1].Bytes()),
		NewClickCount: count,
	}, nil
}
