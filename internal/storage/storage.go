// Package storage persists session blobs and the click log.
package storage

import (
	"context"

	"github.com/gateway-fm/clicker/pkg/types"
)

// ClickLog is the persistent history of click transactions.
type ClickLog interface {
	SaveClick(ctx context.Context, rec types.ClickRecord) error
	UpdateClick(ctx context.Context, rec types.ClickRecord) error

	// History queries
	ListClicks(ctx context.Context, address string, limit, offset int) (*types.PaginatedClicks, error)
	GetClick(ctx context.Context, id string) (*types.ClickRecord, error)
	ClickStats(ctx context.Context, address string) (*types.ClickStats, error)

	// Lifecycle
	Close() error
}
