package agw

import (
	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/gateway-fm/clicker/internal/contract"
)

var generalFlowArgs = abi.Arguments{{Type: mustType("bytes")}}

// GeneralPaymasterInput returns the paymaster input for the general flow:
// the ABI encoding of general(bytes).
func GeneralPaymasterInput(inner []byte) []byte {
	if inner == nil {
		inner = []byte{}
	}
	encoded, err := generalFlowArgs.Pack(inner)
	if err != nil {
		// Packing a byte slice cannot fail.
		panic(err)
	}
	return append(contract.Selector("general(bytes)"), encoded...)
}
