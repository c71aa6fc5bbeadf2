package contract

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// WalletABIJSON is the subset of the smart-contract wallet ABI the client reads.
const WalletABIJSON = `[
	{"type":"function","name":"listHooks","stateMutability":"view",
	 "inputs":[{"name":"isValidation","type":"bool"}],
	 "outputs":[{"name":"hookList","type":"address[]"}]}
]`

// WalletABI is the parsed wallet ABI.
var WalletABI = mustParseABI(WalletABIJSON)

// ListHooksCalldata returns calldata for listHooks(validation).
func ListHooksCalldata(validation bool) []byte {
	data, err := WalletABI.Pack("listHooks", validation)
	if err != nil {
		panic(fmt.Sprintf("pack listHooks: %v", err))
	}
	return data
}

// UnpackHooks decodes a raw listHooks result.
func UnpackHooks(raw []byte) ([]common.Address, error) {
	values, err := WalletABI.Unpack("listHooks", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack listHooks: %w", err)
	}
	hooks, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("listHooks returned %T, want []common.Address", values[0])
	}
	return hooks, nil
}
