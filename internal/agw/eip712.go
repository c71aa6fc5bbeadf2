package agw

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TxType is the EIP-712 transaction type byte.
const TxType = 0x71

// DefaultGasPerPubdata is the pubdata price limit used when none is set.
const DefaultGasPerPubdata = 50_000

var transactionTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	"Transaction": {
		{Name: "txType", Type: "uint256"},
		{Name: "from", Type: "uint256"},
		{Name: "to", Type: "uint256"},
		{Name: "gasLimit", Type: "uint256"},
		{Name: "gasPerPubdataByteLimit", Type: "uint256"},
		{Name: "maxFeePerGas", Type: "uint256"},
		{Name: "maxPriorityFeePerGas", Type: "uint256"},
		{Name: "paymaster", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "factoryDeps", Type: "bytes32[]"},
		{Name: "paymasterInput", Type: "bytes"},
	},
}

// PreparedTx is a fully specified click transaction awaiting a signature.
type PreparedTx struct {
	From                 common.Address
	To                   common.Address
	Data                 []byte
	Value                *big.Int
	Nonce                uint64
	GasLimit             uint64
	GasPerPubdata        uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Paymaster            *common.Address
	PaymasterInput       []byte
}

func (tx *PreparedTx) value() *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return tx.Value
}

func (tx *PreparedTx) gasPerPubdata() uint64 {
	if tx.GasPerPubdata == 0 {
		return DefaultGasPerPubdata
	}
	return tx.GasPerPubdata
}

func addressAsUint(a common.Address) *big.Int {
	return new(big.Int).SetBytes(a.Bytes())
}

// SigningHash returns the EIP-712 digest of tx for chainID.
func SigningHash(tx *PreparedTx, chainID int64) (common.Hash, error) {
	if tx.MaxFeePerGas == nil || tx.MaxPriorityFeePerGas == nil {
		return common.Hash{}, fmt.Errorf("fee fields are required")
	}

	paymaster := new(big.Int)
	paymasterInput := []byte{}
	if tx.Paymaster != nil {
		paymaster = addressAsUint(*tx.Paymaster)
		paymasterInput = tx.PaymasterInput
	}

	typedData := apitypes.TypedData{
		Types:       transactionTypes,
		PrimaryType: "Transaction",
		Domain: apitypes.TypedDataDomain{
			Name:    "zkSync",
			Version: "2",
			ChainId: math.NewHexOrDecimal256(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"txType":                 big.NewInt(TxType),
			"from":                   addressAsUint(tx.From),
			"to":                     addressAsUint(tx.To),
			"gasLimit":               new(big.Int).SetUint64(tx.GasLimit),
			"gasPerPubdataByteLimit": new(big.Int).SetUint64(tx.gasPerPubdata()),
			"maxFeePerGas":           tx.MaxFeePerGas,
			"maxPriorityFeePerGas":   tx.MaxPriorityFeePerGas,
			"paymaster":              paymaster,
			"nonce":                  new(big.Int).SetUint64(tx.Nonce),
			"value":                  tx.value(),
			"data":                   hexutil.Bytes(tx.Data),
			"factoryDeps":            []interface{}{},
			"paymasterInput":         hexutil.Bytes(paymasterInput),
		},
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash transaction: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256Hash(rawData), nil
}

// Serialize RLP-encodes a signed EIP-712 transaction with its type prefix.
func Serialize(tx *PreparedTx, chainID int64, customSignature []byte) ([]byte, error) {
	var paymasterParams []interface{}
	if tx.Paymaster != nil && len(tx.PaymasterInput) > 0 {
		paymasterParams = []interface{}{*tx.Paymaster, tx.PaymasterInput}
	} else {
		paymasterParams = []interface{}{}
	}

	fields := []interface{}{
		tx.Nonce,
		tx.MaxPriorityFeePerGas,
		tx.MaxFeePerGas,
		tx.GasLimit,
		tx.To,
		tx.value(),
		tx.Data,
		uint64(chainID),
		[]byte{},
		[]byte{},
		uint64(chainID),
		tx.From,
		tx.gasPerPubdata(),
		[][]byte{},
		customSignature,
		paymasterParams,
	}

	encoded, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return append([]byte{TxType}, encoded...), nil
}
