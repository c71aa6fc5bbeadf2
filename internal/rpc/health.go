package rpc

import (
	"context"
	"fmt"
)

// HealthCheck checks an endpoint for reachability and the expected chain.
// Give it the plain HTTP client: a caching wrapper answers eth_chainId
// without reaching the node.
type HealthCheck struct {
	client  *EthClient
	chainID int64
}

// NewHealthCheck creates a HealthCheck over caller.
func NewHealthCheck(caller Caller, chainID int64) *HealthCheck {
	return &HealthCheck{client: NewEthClient(caller), chainID: chainID}
}

// CheckRPC returns nil when the endpoint answers with the expected chain id.
func (h *HealthCheck) CheckRPC(ctx context.Context) error {
	id, err := h.client.ChainID(ctx)
	if err != nil {
		return err
	}
	if !id.IsInt64() || id.Int64() != h.chainID {
		return fmt.Errorf("chain id %s, want %d", id, h.chainID)
	}
	return nil
}
