// Package agw signs click transactions with a smart-contract wallet session
// key. It performs the wallet SDK's pre-sign reads through whatever
// rpc.Caller it is given, which in production is the transport cache.
package agw

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/clicker/internal/contract"
	"github.com/gateway-fm/clicker/internal/network"
	"github.com/gateway-fm/clicker/internal/rpc"
	"github.com/gateway-fm/clicker/internal/session"
)

var (
	// ErrChainMismatch is returned when the endpoint serves another chain.
	ErrChainMismatch = errors.New("endpoint chain id does not match network profile")

	// ErrWalletNotDeployed is returned when the wallet has no code.
	ErrWalletNotDeployed = errors.New("smart contract wallet is not deployed")

	// ErrPolicyNotAllowed is returned when a call is outside the session's
	// policies or a policy is not allowed by the registry.
	ErrPolicyNotAllowed = errors.New("call is not allowed by session policy")
)

// Config for creating a SessionClient.
type Config struct {
	// Caller serves every read made before signing.
	Caller  rpc.Caller
	Account common.Address
	Session *session.Session
	Profile *network.Profile
	Logger  *slog.Logger

	// Now overrides the clock used for period ids.
	Now func() time.Time
}

// SessionClient signs transactions for one wallet with one session key.
type SessionClient struct {
	client  *rpc.EthClient
	account common.Address
	session *session.Session
	profile *network.Profile
	key     *ecdsa.PrivateKey
	logger  *slog.Logger
	now     func() time.Time
}

// NewSessionClient derives the signer from the session's private key.
func NewSessionClient(cfg Config) (*SessionClient, error) {
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Profile == nil {
		return nil, errors.New("network profile is required")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Session.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid session key: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &SessionClient{
		client:  rpc.NewEthClient(cfg.Caller),
		account: cfg.Account,
		session: cfg.Session,
		profile: cfg.Profile,
		key:     key,
		logger:  logger,
		now:     now,
	}, nil
}

// Signer returns the session signer address.
func (c *SessionClient) Signer() common.Address {
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// SignTransaction validates tx against the wallet and session and returns
// the serialized signed transaction ready for eth_sendRawTransaction.
func (c *SessionClient) SignTransaction(ctx context.Context, tx PreparedTx) ([]byte, error) {
	tx.From = c.account

	policy, err := c.findCallPolicy(tx)
	if err != nil {
		return nil, err
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if chainID.Cmp(big.NewInt(c.profile.ChainID)) != 0 {
		return nil, fmt.Errorf("%w: got %s, want %d", ErrChainMismatch, chainID, c.profile.ChainID)
	}

	code, err := c.client.GetCode(ctx, c.account)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet code: %w", err)
	}
	if len(code) == 0 {
		return nil, ErrWalletNotDeployed
	}

	hooks, err := c.validationHooks(ctx)
	if err != nil {
		return nil, err
	}

	if c.profile.ValidatesPolicies {
		if err := c.checkPolicies(ctx); err != nil {
			return nil, err
		}
	}

	digest, err := SigningHash(&tx, c.profile.ChainID)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	hookData, err := c.hookData(hooks, policy)
	if err != nil {
		return nil, err
	}
	wrapped, err := wrapSignature(sig, c.profile.SessionValidator, hookData)
	if err != nil {
		return nil, err
	}

	return Serialize(&tx, c.profile.ChainID, wrapped)
}

func (c *SessionClient) findCallPolicy(tx PreparedTx) (*session.CallPolicy, error) {
	if len(tx.Data) < 4 {
		return nil, fmt.Errorf("%w: calldata has no selector", ErrPolicyNotAllowed)
	}
	for i := range c.session.Config.CallPolicies {
		p := &c.session.Config.CallPolicies[i]
		if p.Target == tx.To && string(p.Selector[:]) == string(tx.Data[:4]) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s selector %x", ErrPolicyNotAllowed, tx.To.Hex(), tx.Data[:4])
}

func (c *SessionClient) validationHooks(ctx context.Context) ([]common.Address, error) {
	raw, err := c.client.EthCall(ctx, rpc.CallMsg{To: c.account, Data: contract.ListHooksCalldata(true)})
	if err != nil {
		return nil, fmt.Errorf("failed to list validation hooks: %w", err)
	}
	return contract.UnpackHooks(raw)
}

// hookData returns one entry per validation hook. The session validator
// receives the encoded session spec and the current period ids; other hooks
// get empty data.
func (c *SessionClient) hookData(hooks []common.Address, policy *session.CallPolicy) ([][]byte, error) {
	data := make([][]byte, len(hooks))
	for i, hook := range hooks {
		if hook != c.profile.SessionValidator {
			data[i] = []byte{}
			continue
		}
		encoded, err := session.EncodeWithPeriods(c.session.Config, periodIDs(c.session.Config, policy, c.now()))
		if err != nil {
			return nil, err
		}
		data[i] = encoded
	}
	return data, nil
}

func periodID(limit session.Limit, now time.Time) uint64 {
	period := limit.Period.Big()
	if limit.Type != session.LimitAllowance || period.Sign() == 0 {
		return 0
	}
	return new(big.Int).Div(big.NewInt(now.Unix()), period).Uint64()
}

// periodIDs lists the fee limit period followed by the call policy's value
// limit and constraint limit periods.
func periodIDs(cfg session.Config, policy *session.CallPolicy, now time.Time) []uint64 {
	ids := []uint64{periodID(cfg.FeeLimit, now), periodID(policy.ValueLimit, now)}
	for _, c := range policy.Constraints {
		ids = append(ids, periodID(c.Limit, now))
	}
	return ids
}

var signatureArgs = abi.Arguments{
	{Type: mustType("bytes")},
	{Type: mustType("address")},
	{Type: mustType("bytes[]")},
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid type %s: %v", name, err))
	}
	return t
}

func wrapSignature(sig []byte, validator common.Address, hookData [][]byte) ([]byte, error) {
	wrapped, err := signatureArgs.Pack(sig, validator, hookData)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap signature: %w", err)
	}
	return wrapped, nil
}
