package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/clicker/internal/contract"
	"github.com/gateway-fm/clicker/internal/rpc"
)

// Load outcomes, used as metric labels.
const (
	OutcomeLoaded         = "loaded"
	OutcomeAbsent         = "absent"
	OutcomeCorrupt        = "corrupt"
	OutcomePolicyMismatch = "policy_mismatch"
	OutcomeInvalid        = "invalid"
	OutcomeStatusError    = "status_error"
	OutcomeBackendError   = "backend_error"
)

// ErrInvalidSession is returned by Save for a session that cannot be used
// by this wallet. Nothing is stored in that case.
var ErrInvalidSession = errors.New("invalid session")

// KeyPrefix namespaces session blobs by wallet address.
const KeyPrefix = "session:"

// Cache is the transport cache lifecycle the store drives.
type Cache interface {
	Init(address common.Address)
	SetHooks(encoded []byte)
	Clear()
}

// Recorder receives load outcomes.
type Recorder interface {
	RecordSessionLoad(outcome string)
}

// StoreConfig for creating a Store.
type StoreConfig struct {
	Blobs         BlobStore
	Cipher        *Cipher
	Status        StatusChecker
	Reader        Reader
	Cache         Cache
	ClickContract common.Address
	Permissive    bool
	Metrics       Recorder
	Logger        *slog.Logger
}

// Store loads and validates sessions. Load never returns an error: every
// failure clears the stored blob and yields no session.
type Store struct {
	blobs         BlobStore
	cipher        *Cipher
	status        StatusChecker
	reader        Reader
	cache         Cache
	clickContract common.Address
	permissive    bool
	metrics       Recorder
	logger        *slog.Logger
}

// NewStore creates a Store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		blobs:         cfg.Blobs,
		cipher:        cfg.Cipher,
		status:        cfg.Status,
		reader:        cfg.Reader,
		cache:         cfg.Cache,
		clickContract: cfg.ClickContract,
		permissive:    cfg.Permissive,
		metrics:       cfg.Metrics,
		logger:        logger,
	}
}

// Key returns the blob key for address.
func Key(address common.Address) string {
	return KeyPrefix + strings.ToLower(address.Hex())
}

// storedSession mirrors Session with optional fields so missing ones can be
// told apart from zero values.
type storedSession struct {
	Session    *Config `json:"session"`
	PrivateKey string  `json:"privateKey"`
}

// Load returns the stored session for address if it decrypts, matches the
// default call policies and is usable on chain. The transport cache is
// cleared first; on success it is initialised for address and the wallet's
// validation hooks are prefetched.
func (s *Store) Load(ctx context.Context, address common.Address) *Session {
	log := s.logger.With(slog.String("address", address.Hex()))

	// Nothing cached for an earlier session may survive a reload.
	if s.cache != nil {
		s.cache.Clear()
	}

	blob, err := s.blobs.Get(ctx, Key(address))
	if errors.Is(err, ErrNotFound) {
		s.record(OutcomeAbsent)
		return nil
	}
	if err != nil {
		log.Error("failed to read session blob", slog.String("error", err.Error()))
		s.record(OutcomeBackendError)
		return nil
	}

	plaintext, err := s.cipher.Open(address, blob)
	if err != nil {
		log.Warn("discarding unreadable session", slog.String("error", err.Error()))
		s.discard(ctx, address, OutcomeCorrupt)
		return nil
	}

	var stored storedSession
	if err := json.Unmarshal(plaintext, &stored); err != nil {
		log.Warn("discarding malformed session", slog.String("error", err.Error()))
		s.discard(ctx, address, OutcomeCorrupt)
		return nil
	}
	if stored.Session == nil || stored.PrivateKey == "" {
		log.Warn("corrupted session data: missing required fields",
			slog.Bool("has_session", stored.Session != nil),
			slog.Bool("has_private_key", stored.PrivateKey != ""),
		)
		s.discard(ctx, address, OutcomeCorrupt)
		return nil
	}

	if !PoliciesEqual(stored.Session.CallPolicies, DefaultCallPolicies(s.clickContract)) {
		log.Info("discarding session with outdated call policies")
		s.discard(ctx, address, OutcomePolicyMismatch)
		return nil
	}

	hash, err := Hash(*stored.Session)
	if err != nil {
		log.Warn("discarding session that cannot be hashed", slog.String("error", err.Error()))
		s.discard(ctx, address, OutcomeCorrupt)
		return nil
	}

	status, err := s.status.SessionStatus(ctx, address, hash)
	if err != nil {
		log.Error("failed to validate session",
			slog.String("session_hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
		s.discard(ctx, address, OutcomeStatusError)
		return nil
	}
	if !status.Usable(s.permissive) {
		log.Info("discarding unusable session",
			slog.String("session_hash", hash.Hex()),
			slog.String("status", status.String()),
		)
		s.discard(ctx, address, OutcomeInvalid)
		return nil
	}

	if s.cache != nil {
		s.cache.Init(address)
		s.prefetchHooks(ctx, address)
	}

	s.record(OutcomeLoaded)
	log.Info("session loaded",
		slog.String("session_hash", hash.Hex()),
		slog.String("status", status.String()),
	)
	return &Session{Config: *stored.Session, PrivateKey: stored.PrivateKey}
}

// prefetchHooks caches the wallet's validation hooks. Failure is ignored;
// the transport then serves that call live.
func (s *Store) prefetchHooks(ctx context.Context, address common.Address) {
	if s.reader == nil {
		return
	}
	raw, err := s.reader.EthCall(ctx, rpc.CallMsg{To: address, Data: contract.ListHooksCalldata(true)})
	if err != nil {
		s.logger.Debug("hook prefetch failed", slog.String("error", err.Error()))
		return
	}
	hooks, err := contract.UnpackHooks(raw)
	if err != nil {
		s.logger.Debug("hook prefetch returned malformed data", slog.String("error", err.Error()))
		return
	}
	s.cache.SetHooks(raw)
	s.logger.Debug("validation hooks cached", slog.Int("count", len(hooks)))
}

// Save encrypts and stores sess for address after checking the signer key
// matches the configured signer and the call policies are the defaults.
func (s *Store) Save(ctx context.Context, address common.Address, sess *Session) error {
	if sess == nil || sess.PrivateKey == "" {
		return fmt.Errorf("%w: session and private key are required", ErrInvalidSession)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(sess.PrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("%w: bad private key: %v", ErrInvalidSession, err)
	}
	if signer := crypto.PubkeyToAddress(key.PublicKey); signer != sess.Config.Signer {
		return fmt.Errorf("%w: private key belongs to %s, session signer is %s", ErrInvalidSession, signer.Hex(), sess.Config.Signer.Hex())
	}
	if !PoliciesEqual(sess.Config.CallPolicies, DefaultCallPolicies(s.clickContract)) {
		return fmt.Errorf("%w: call policies differ from the defaults", ErrInvalidSession)
	}

	plaintext, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	blob, err := s.cipher.Seal(address, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}
	if err := s.blobs.Put(ctx, Key(address), blob); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Clear removes the stored blob for address unconditionally.
func (s *Store) Clear(ctx context.Context, address common.Address) error {
	if err := s.blobs.Delete(ctx, Key(address)); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (s *Store) discard(ctx context.Context, address common.Address, outcome string) {
	if err := s.Clear(ctx, address); err != nil {
		s.logger.Error("failed to clear invalid session",
			slog.String("address", address.Hex()),
			slog.String("error", err.Error()),
		)
	}
	s.record(outcome)
}

func (s *Store) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSessionLoad(outcome)
	}
}
