package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/clicker/internal/rpc"
)

const validatorABIJSON = `[
	{"type":"function","name":"sessionStatus","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"},{"name":"sessionHash","type":"bytes32"}],
	 "outputs":[{"name":"","type":"uint8"}]}
]`

var validatorABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(validatorABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid validator ABI: %v", err))
	}
	return parsed
}()

// StatusChecker queries the on-chain state of a session.
type StatusChecker interface {
	SessionStatus(ctx context.Context, account common.Address, hash common.Hash) (Status, error)
}

// Reader performs eth_call reads.
type Reader interface {
	EthCall(ctx context.Context, msg rpc.CallMsg) ([]byte, error)
}

// OnChainStatus reads sessionStatus from the session validator contract.
type OnChainStatus struct {
	reader    Reader
	validator common.Address
}

// NewOnChainStatus creates a StatusChecker bound to validator.
func NewOnChainStatus(reader Reader, validator common.Address) *OnChainStatus {
	return &OnChainStatus{reader: reader, validator: validator}
}

// SessionStatus returns the validator's status for (account, hash).
func (s *OnChainStatus) SessionStatus(ctx context.Context, account common.Address, hash common.Hash) (Status, error) {
	data, err := validatorABI.Pack("sessionStatus", account, hash)
	if err != nil {
		return 0, fmt.Errorf("failed to pack sessionStatus: %w", err)
	}

	out, err := s.reader.EthCall(ctx, rpc.CallMsg{To: s.validator, Data: data})
	if err != nil {
		return 0, fmt.Errorf("sessionStatus call failed: %w", err)
	}

	values, err := validatorABI.Unpack("sessionStatus", out)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack sessionStatus: %w", err)
	}
	raw, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("sessionStatus returned %T, want uint8", values[0])
	}
	return Status(raw), nil
}
