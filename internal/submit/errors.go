package submit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a submission failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindPrerequisitesNotMet
	KindNonceTooLow
	KindNonceTooHigh
	KindInsufficientFunds
	KindRejected
	KindTimeout
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindPrerequisitesNotMet:
		return "prerequisites_not_met"
	case KindNonceTooLow:
		return "nonce_too_low"
	case KindNonceTooHigh:
		return "nonce_too_high"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindRejected:
		return "rejected"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network_error"
	default:
		return "unknown"
	}
}

// IsNonce reports whether the kind is a recoverable nonce rejection.
func (k Kind) IsNonce() bool {
	return k == KindNonceTooLow || k == KindNonceTooHigh
}

// UserMessage returns the message shown instead of the raw chain error.
func (k Kind) UserMessage() string {
	switch k {
	case KindPrerequisitesNotMet:
		return "Transaction pre-requisites not met."
	case KindNonceTooLow, KindNonceTooHigh:
		return "Transaction sync issue. Please try again."
	case KindInsufficientFunds:
		return "Insufficient funds for gas."
	case KindRejected:
		return "Transaction was rejected."
	case KindTimeout:
		return "Request timed out. Please try again."
	case KindNetwork:
		return "Network error. Please check your connection."
	default:
		return "Transaction failed. Please try again."
	}
}

// NonceRange is the window of nonces the node would have accepted.
type NonceRange struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

// TxError is a classified submission failure.
type TxError struct {
	Kind  Kind
	Raw   string
	Range *NonceRange
	Err   error
}

func (e *TxError) Error() string {
	if e.Raw == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Raw)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// UserMessage returns the user-facing message for the failure.
func (e *TxError) UserMessage() string {
	return e.Kind.UserMessage()
}

// nonceRangePattern matches the node's rejection text, e.g.
// "nonce too low, allowed nonce range: 10 - 20, actual: 9". The format is
// not a documented contract; ParseNonceRange is the only place that
// depends on it.
var nonceRangePattern = regexp.MustCompile(`(?i)allowed nonce range:\s*(\d+)\s*-\s*(\d+)`)

// ParseNonceRange extracts the allowed nonce window from a rejection message.
func ParseNonceRange(msg string) (NonceRange, bool) {
	m := nonceRangePattern.FindStringSubmatch(msg)
	if m == nil {
		return NonceRange{}, false
	}
	lo, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return NonceRange{}, false
	}
	hi, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil || hi < lo {
		return NonceRange{}, false
	}
	return NonceRange{Min: lo, Max: hi}, true
}

// Classify maps a raw submission error to a TxError. Matching is on the
// error text because the node does not return structured error types.
func Classify(err error) *TxError {
	if err == nil {
		return nil
	}
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr
	}

	raw := err.Error()
	out := &TxError{Kind: classifyMessage(raw), Raw: raw, Err: err}

	if out.Kind == KindUnknown {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			out.Kind = KindTimeout
		case errors.As(err, &netErr) && netErr.Timeout():
			out.Kind = KindTimeout
		case errors.As(err, &netErr):
			out.Kind = KindNetwork
		}
	}

	if out.Kind.IsNonce() {
		if r, ok := ParseNonceRange(raw); ok {
			out.Range = &r
		}
	}
	return out
}

func classifyMessage(raw string) Kind {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "nonce too low"):
		return KindNonceTooLow
	case strings.Contains(lower, "nonce too high"):
		return KindNonceTooHigh
	case strings.Contains(lower, "insufficient funds"):
		return KindInsufficientFunds
	case strings.Contains(lower, "rejected"), strings.Contains(lower, "denied"):
		return KindRejected
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return KindTimeout
	case strings.Contains(lower, "network"), strings.Contains(lower, "connection"):
		return KindNetwork
	default:
		return KindUnknown
	}
}

func prerequisitesError() *TxError {
	return &TxError{Kind: KindPrerequisitesNotMet}
}
