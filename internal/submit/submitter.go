// Package submit turns a click into a signed, broadcast transaction and
// recovers the nonce tracker when the chain rejects the chosen nonce.
package submit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/clicker/internal/agw"
	"github.com/gateway-fm/clicker/internal/contract"
	"github.com/gateway-fm/clicker/internal/gas"
	"github.com/gateway-fm/clicker/internal/network"
	"github.com/gateway-fm/clicker/internal/nonce"
	"github.com/gateway-fm/clicker/internal/session"
)

// Prerequisites are the four values a submission needs. Nil or empty means
// absent.
type Prerequisites struct {
	Address    *common.Address
	SessionKey string
	Gas        *gas.Estimate
	Nonce      *uint64
}

// IsReady is true only when all four prerequisites are present.
func IsReady(p Prerequisites) bool {
	return p.Address != nil &&
		p.SessionKey != "" &&
		p.Gas.Valid() &&
		p.Nonce != nil
}

// Credentials supplies the connected wallet and its loaded session.
type Credentials interface {
	Credentials() (*common.Address, *session.Session)
}

// GasSource returns the cached gas snapshot for an address.
type GasSource interface {
	Current(from common.Address) *gas.Estimate
}

// NonceSource is the nonce tracker surface the submitter drives.
type NonceSource interface {
	Current() (uint64, bool)
	ResyncTo(v uint64, reason string)
	Refresh(ctx context.Context) error
}

// Signer signs a prepared click transaction.
type Signer interface {
	SignTransaction(ctx context.Context, tx agw.PreparedTx) ([]byte, error)
}

// SignerFactory builds a Signer for a wallet session.
type SignerFactory func(account common.Address, sess *session.Session) (Signer, error)

// Broadcaster sends signed transactions to the live endpoint.
type Broadcaster interface {
	Send(ctx context.Context, raw []byte) (common.Hash, error)
}

// Recorder receives submission outcomes.
type Recorder interface {
	RecordSubmit(outcome string, elapsed time.Duration)
}

// Result is the outcome of one submission attempt.
type Result struct {
	Success bool
	TxHash  common.Hash
	Err     *TxError
	Elapsed time.Duration
}

// Config for creating a Submitter.
type Config struct {
	Profile     *network.Profile
	Credentials Credentials
	Gas         GasSource
	Nonce       NonceSource
	Signers     SignerFactory
	Broadcaster Broadcaster
	Metrics     Recorder
	Logger      *slog.Logger
}

// Submitter signs and sends click transactions. It never retries a nonce.
type Submitter struct {
	profile     *network.Profile
	credentials Credentials
	gas         GasSource
	nonce       NonceSource
	signers     SignerFactory
	broadcaster Broadcaster
	metrics     Recorder
	logger      *slog.Logger

	mu            sync.Mutex
	signerSession *session.Session
	signerAddr    common.Address
	signer        Signer
}

// New creates a Submitter.
func New(cfg Config) *Submitter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		profile:     cfg.Profile,
		credentials: cfg.Credentials,
		gas:         cfg.Gas,
		nonce:       cfg.Nonce,
		signers:     cfg.Signers,
		broadcaster: cfg.Broadcaster,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// Prerequisites gathers the live values from the session holder, the gas
// estimator and the nonce tracker.
func (s *Submitter) Prerequisites() Prerequisites {
	var p Prerequisites

	address, sess := s.credentials.Credentials()
	if address != nil {
		a := *address
		p.Address = &a
		p.Gas = s.gas.Current(a)
	}
	if sess != nil {
		p.SessionKey = sess.PrivateKey
	}
	if n, ok := s.nonce.Current(); ok {
		p.Nonce = &n
	}
	return p
}

// Ready reports whether a click may be submitted now.
func (s *Submitter) Ready() bool {
	return IsReady(s.Prerequisites())
}

// Submit signs and broadcasts a click with the given nonce. Gas values come
// from the cached estimate; nothing is re-estimated here.
func (s *Submitter) Submit(ctx context.Context, n uint64) Result {
	start := time.Now()

	p := s.Prerequisites()
	_, sess := s.credentials.Credentials()
	if !IsReady(p) || sess == nil {
		return s.finish(Result{Err: prerequisitesError()}, start, n)
	}

	signer, err := s.sessionSigner(*p.Address, sess)
	if err != nil {
		return s.finish(Result{Err: Classify(err)}, start, n)
	}

	tx := agw.PreparedTx{
		From:                 *p.Address,
		To:                   s.profile.ClickContract,
		Data:                 contract.ClickCalldata(),
		Nonce:                n,
		GasLimit:             p.Gas.GasLimit,
		MaxFeePerGas:         p.Gas.MaxFeePerGas,
		MaxPriorityFeePerGas: p.Gas.MaxPriorityFeePerGas,
	}
	if s.profile.Paymaster != nil {
		pm := *s.profile.Paymaster
		tx.Paymaster = &pm
		tx.PaymasterInput = agw.GeneralPaymasterInput(nil)
	}

	raw, err := signer.SignTransaction(ctx, tx)
	if err != nil {
		return s.fail(ctx, err, start, n)
	}

	hash, err := s.broadcaster.Send(ctx, raw)
	if err != nil {
		return s.fail(ctx, err, start, n)
	}

	return s.finish(Result{Success: true, TxHash: hash}, start, n)
}

func (s *Submitter) sessionSigner(address common.Address, sess *session.Session) (Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signer != nil && s.signerSession == sess && s.signerAddr == address {
		return s.signer, nil
	}
	signer, err := s.signers(address, sess)
	if err != nil {
		return nil, err
	}
	s.signer, s.signerSession, s.signerAddr = signer, sess, address
	return signer, nil
}

// fail classifies err and, for nonce rejections, resynchronises the tracker:
// too low jumps to the range minimum, too high to the maximum, and an
// unparseable range forces a full refresh.
func (s *Submitter) fail(ctx context.Context, err error, start time.Time, n uint64) Result {
	txErr := Classify(err)

	if txErr.Kind.IsNonce() {
		switch {
		case txErr.Range != nil && txErr.Kind == KindNonceTooLow:
			s.nonce.ResyncTo(txErr.Range.Min, nonce.ReasonTooLow)
		case txErr.Range != nil && txErr.Kind == KindNonceTooHigh:
			s.nonce.ResyncTo(txErr.Range.Max, nonce.ReasonTooHigh)
		default:
			if rerr := s.nonce.Refresh(ctx); rerr != nil {
				s.logger.Warn("nonce refresh after rejection failed", slog.String("error", rerr.Error()))
			}
		}
	}

	return s.finish(Result{Err: txErr}, start, n)
}

func (s *Submitter) finish(r Result, start time.Time, n uint64) Result {
	r.Elapsed = time.Since(start)

	outcome := "success"
	if r.Err != nil {
		outcome = r.Err.Kind.String()
		s.logger.Warn("click submission failed",
			slog.Uint64("nonce", n),
			slog.String("kind", outcome),
			slog.String("error", r.Err.Error()),
		)
	} else {
		s.logger.Info("transaction submitted",
			slog.Uint64("nonce", n),
			slog.String("tx_hash", r.TxHash.Hex()),
			slog.Duration("elapsed", r.Elapsed),
		)
	}
	if s.metrics != nil {
		s.metrics.RecordSubmit(outcome, r.Elapsed)
	}
	return r
}

// Reset drops the cached signer, as on disconnect.
func (s *Submitter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer, s.signerSession = nil, nil
}
