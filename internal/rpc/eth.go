package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client is the typed chain interface used by the clicker components.
type Client interface {
	Caller

	// ChainID returns the chain id reported by the endpoint.
	ChainID(ctx context.Context) (*big.Int, error)

	// GetNonce returns the pending-inclusive transaction count for an address.
	GetNonce(ctx context.Context, address common.Address) (uint64, error)

	// GetCode returns contract code at an address.
	GetCode(ctx context.Context, address common.Address) ([]byte, error)

	// EthCall executes a read-only call against the latest block.
	EthCall(ctx context.Context, msg CallMsg) ([]byte, error)

	// EstimateGas simulates a call and returns the raw gas estimate.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// GetBaseFee returns the latest block's baseFeePerGas, or nil when the
	// block does not report one.
	GetBaseFee(ctx context.Context) (*big.Int, error)

	// GetMaxPriorityFee returns the node's suggested tip, or nil when the
	// node answers null.
	GetMaxPriorityFee(ctx context.Context) (*big.Int, error)

	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// SendRawTransaction broadcasts a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// GetTransactionReceipt returns the receipt for a transaction, or nil
	// when it is not mined yet.
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*TransactionReceipt, error)
}

// CallMsg describes an eth_call or eth_estimateGas request.
type CallMsg struct {
	From *common.Address
	To   common.Address
	Data []byte
}

// Args returns the JSON-RPC call object. Addresses are lowercased so equal
// calls always serialise identically.
func (m CallMsg) Args() map[string]interface{} {
	args := map[string]interface{}{
		"to":   strings.ToLower(m.To.Hex()),
		"data": hexutil.Encode(m.Data),
	}
	if m.From != nil {
		args["from"] = strings.ToLower(m.From.Hex())
	}
	return args
}

// TransactionReceipt represents an Ethereum transaction receipt.
type TransactionReceipt struct {
	TxHash            common.Hash `json:"transactionHash"`
	Status            uint64      `json:"status"`            // 1 = success, 0 = failure
	GasUsed           uint64      `json:"gasUsed"`           // Actual gas consumed
	BlockNumber       uint64      `json:"blockNumber"`       // Block this tx was included in
	EffectiveGasPrice uint64      `json:"effectiveGasPrice"` // Actual gas price paid
	Logs              []Log       `json:"logs"`
}

// Log is an event log emitted by a mined transaction.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// Succeeded reports whether the receipt carries a success status.
func (r *TransactionReceipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// EthClient implements Client on top of any Caller.
type EthClient struct {
	caller Caller
}

// NewEthClient wraps a Caller with typed helpers.
func NewEthClient(caller Caller) *EthClient {
	return &EthClient{caller: caller}
}

// Call forwards a raw JSON-RPC call.
func (c *EthClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return c.caller.Call(ctx, method, params)
}

// ChainID returns the chain id reported by the endpoint.
func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	result, err := c.caller.Call(ctx, "eth_chainId", nil)
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "chain id")
}

// GetNonce fetches the nonce for an address with the "pending" tag so that
// transactions already in the mempool are counted.
func (c *EthClient) GetNonce(ctx context.Context, address common.Address) (uint64, error) {
	result, err := c.caller.Call(ctx, "eth_getTransactionCount", []interface{}{address.Hex(), "pending"})
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "nonce")
}

// GetCode returns contract code at an address.
func (c *EthClient) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	result, err := c.caller.Call(ctx, "eth_getCode", []interface{}{strings.ToLower(address.Hex()), "latest"})
	if err != nil {
		return nil, err
	}
	return decodeBytes(result, "code")
}

// EthCall executes a read-only call against the latest block.
func (c *EthClient) EthCall(ctx context.Context, msg CallMsg) ([]byte, error) {
	result, err := c.caller.Call(ctx, "eth_call", []interface{}{msg.Args(), "latest"})
	if err != nil {
		return nil, err
	}
	return decodeBytes(result, "call result")
}

// EstimateGas simulates a call and returns the raw gas estimate.
func (c *EthClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	result, err := c.caller.Call(ctx, "eth_estimateGas", []interface{}{msg.Args()})
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "gas estimate")
}

// GetBaseFee returns the current block's baseFeePerGas from the latest block.
func (c *EthClient) GetBaseFee(ctx context.Context) (*big.Int, error) {
	result, err := c.caller.Call(ctx, "eth_getBlockByNumber", []interface{}{"latest", false})
	if err != nil {
		return nil, err
	}
	if isNull(result) {
		return nil, fmt.Errorf("latest block not found")
	}

	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	if block.BaseFeePerGas == nil {
		return nil, nil
	}
	return block.BaseFeePerGas.ToInt(), nil
}

// GetMaxPriorityFee returns the node's suggested priority fee.
func (c *EthClient) GetMaxPriorityFee(ctx context.Context) (*big.Int, error) {
	result, err := c.caller.Call(ctx, "eth_maxPriorityFeePerGas", nil)
	if err != nil {
		return nil, err
	}
	if isNull(result) {
		return nil, nil
	}
	return decodeBig(result, "priority fee")
}

// GetBlockNumber returns the latest block number.
func (c *EthClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.caller.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "block number")
}

// SendRawTransaction sends a signed transaction.
func (c *EthClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	result, err := c.caller.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(raw)})
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// GetTransactionReceipt returns the receipt for a transaction.
func (c *EthClient) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*TransactionReceipt, error) {
	result, err := c.caller.Call(ctx, "eth_getTransactionReceipt", []interface{}{hash.Hex()})
	if err != nil {
		return nil, err
	}

	if isNull(result) {
		return nil, nil // Not found yet
	}

	var rawReceipt struct {
		TransactionHash   common.Hash    `json:"transactionHash"`
		Status            hexutil.Uint64 `json:"status"`
		GasUsed           hexutil.Uint64 `json:"gasUsed"`
		BlockNumber       hexutil.Uint64 `json:"blockNumber"`
		EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
		Logs              []Log          `json:"logs"`
	}
	if err := json.Unmarshal(result, &rawReceipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	receipt := &TransactionReceipt{
		TxHash:      rawReceipt.TransactionHash,
		Status:      uint64(rawReceipt.Status),
		GasUsed:     uint64(rawReceipt.GasUsed),
		BlockNumber: uint64(rawReceipt.BlockNumber),
		Logs:        rawReceipt.Logs,
	}
	if rawReceipt.EffectiveGasPrice != nil {
		receipt.EffectiveGasPrice = rawReceipt.EffectiveGasPrice.ToInt().Uint64()
	}
	return receipt, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeUint64(raw json.RawMessage, what string) (uint64, error) {
	var v hexutil.Uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return uint64(v), nil
}

func decodeBig(raw json.RawMessage, what string) (*big.Int, error) {
	var v hexutil.Big
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return v.ToInt(), nil
}

func decodeBytes(raw json.RawMessage, what string) ([]byte, error) {
	var v hexutil.Bytes
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return v, nil
}
