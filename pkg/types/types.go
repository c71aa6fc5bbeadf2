// Package types contains public API types for the clicker service.
// These types form the external interface and must remain backwards-compatible.
package types

// ClickSource says what produced a click.
type ClickSource string

const (
	SourceManual ClickSource = "manual"
	SourceAuto   ClickSource = "auto"
)

// ClickState is the lifecycle state of a click transaction.
type ClickState string

const (
	StateSubmitting ClickState = "submitting" // Signing and broadcasting
	StatePending    ClickState = "pending"    // Broadcast, waiting for a receipt
	StateConfirmed  ClickState = "confirmed"
	StateFailed     ClickState = "failed"
)

// Final reports whether the state is terminal.
func (s ClickState) Final() bool {
	return s == StateConfirmed || s == StateFailed
}

// ClickRecord is one click as shown in the live list and the click log.
type ClickRecord struct {
	ID            string      `json:"id"`
	Address       string      `json:"address"`
	Nonce         uint64      `json:"nonce"`
	TxHash        string      `json:"txHash,omitempty"`
	State         ClickState  `json:"state"`
	Source        ClickSource `json:"source"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	ClickedAtMs   int64       `json:"clickedAtMs"`
	FinalizedAtMs *int64      `json:"finalizedAtMs,omitempty"`
	LatencyMs     *int64      `json:"latencyMs,omitempty"` // Broadcast to receipt
}

// Tier is an auto-clicker tier.
type Tier struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Threshold  uint64 `json:"threshold"`
	IntervalMs int64  `json:"intervalMs"`
	Unlocked   bool   `json:"unlocked"`
}

// Readiness lists which submission prerequisites are present.
type Readiness struct {
	Address    bool `json:"address"`
	SessionKey bool `json:"sessionKey"`
	Gas        bool `json:"gas"`
	Nonce      bool `json:"nonce"`
}

// NonceInfo is the nonce tracker state.
type NonceInfo struct {
	Base      uint64 `json:"base"`
	Offset    uint64 `json:"offset"`
	Effective uint64 `json:"effective"`
}

// GasInfo is the cached gas estimate. Fee values are decimal wei strings.
type GasInfo struct {
	GasLimit             uint64 `json:"gasLimit"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	FetchedAtMs          int64  `json:"fetchedAtMs"`
}

// ClickCounts is the wallet's click count: on-chain base plus local offset.
type ClickCounts struct {
	OnChain   uint64 `json:"onChain"`
	Offset    uint64 `json:"offset"`
	Effective uint64 `json:"effective"`
}

// SessionInfo describes the loaded session without its key.
type SessionInfo struct {
	Signer      string `json:"signer"`
	ExpiresAt   int64  `json:"expiresAt"`
	Permissive  bool   `json:"permissive"`
	PolicyCount int    `json:"policyCount"`
}

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`     // ms
	Max     float64         `json:"max"`     // ms
	Avg     float64         `json:"avg"`     // ms
	P50     float64         `json:"p50"`     // ms
	P75     float64         `json:"p75"`     // ms
	P90     float64         `json:"p90"`     // ms
	P95     float64         `json:"p95"`     // ms
	P99     float64         `json:"p99"`     // ms
	Buckets []LatencyBucket `json:"buckets"` // histogram
}

// Status is the full game snapshot served by the API and the stream.
type Status struct {
	Network     string        `json:"network"`
	ChainID     int64         `json:"chainId"`
	Address     string        `json:"address,omitempty"`
	Ready       bool          `json:"ready"`
	Readiness   Readiness     `json:"readiness"`
	Session     *SessionInfo  `json:"session,omitempty"`
	Nonce       *NonceInfo    `json:"nonce,omitempty"`
	Gas         *GasInfo      `json:"gas,omitempty"`
	GasError    string        `json:"gasError,omitempty"`
	Clicks      ClickCounts   `json:"clicks"`
	TotalClicks *uint64       `json:"totalClicks,omitempty"` // Across all players
	Tiers       []Tier        `json:"tiers"`
	Records     []ClickRecord `json:"records"`
	InFlight    int           `json:"inFlight"`
	Latency     *LatencyStats `json:"latency,omitempty"` // Confirmation latency
}

// ClickResponse is returned by a manual click.
type ClickResponse struct {
	Record  ClickRecord `json:"record"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
}

// PaginatedClicks is a page of the click log.
type PaginatedClicks struct {
	Clicks []ClickRecord `json:"clicks"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ClickStats aggregates the click log for one wallet.
type ClickStats struct {
	Total        int     `json:"total"`
	Confirmed    int     `json:"confirmed"`
	Failed       int     `json:"failed"`
	Pending      int     `json:"pending"`
	Manual       int     `json:"manual"`
	Auto         int     `json:"auto"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
