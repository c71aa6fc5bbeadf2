package agw

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/gateway-fm/clicker/internal/contract"
	"github.com/gateway-fm/clicker/internal/network"
	"github.com/gateway-fm/clicker/internal/session"
)

var testWallet = common.HexToAddress("0x00000000000000000000000000000000000000a1")

// fakeChain answers the pre-sign reads.
type fakeChain struct {
	chainID  string
	code     string
	hooks    []common.Address
	policyOK bool
	calls    map[string]int
}

func (f *fakeChain) Call(_ context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++

	switch method {
	case "eth_chainId":
		return json.RawMessage(`"` + f.chainID + `"`), nil
	case "eth_getCode":
		return json.RawMessage(`"` + f.code + `"`), nil
	case "eth_call":
		args := params[0].(map[string]interface{})
		data := args["data"].(string)
		switch {
		case strings.HasPrefix(data, "0xdb8a323f"):
			out, _ := contract.WalletABI.Methods["listHooks"].Outputs.Pack(f.hooks)
			return json.RawMessage(`"` + hexutil.Encode(out) + `"`), nil
		case strings.HasPrefix(data, hexutil.Encode(aggregate3Selector)):
			status := uint8(policyAllowed)
			if !f.policyOK {
				status = 2
			}
			ret, _ := registryABI.Methods["getCallPolicyStatus"].Outputs.Pack(status)
			out, _ := multicallABI.Methods["aggregate3"].Outputs.Pack([]multicallResult{{Success: true, ReturnData: ret}})
			return json.RawMessage(`"` + hexutil.Encode(out) + `"`), nil
		}
	}
	return nil, errors.New("unexpected call " + method)
}

func newTestClient(t *testing.T, profile *network.Profile, chain *fakeChain) (*SessionClient, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	sess := &session.Session{
		Config:     session.NewConfig(signer, profile.ClickContract, time.Now()),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}
	c, err := NewSessionClient(Config{Caller: chain, Account: testWallet, Session: sess, Profile: profile})
	if err != nil {
		t.Fatalf("NewSessionClient() error = %v", err)
	}
	return c, signer
}

func clickTx(profile *network.Profile) PreparedTx {
	return PreparedTx{
		To:                   profile.ClickContract,
		Data:                 contract.ClickCalldata(),
		Nonce:                7,
		GasLimit:             150_000,
		MaxFeePerGas:         big.NewInt(30_000_000),
		MaxPriorityFeePerGas: big.NewInt(0),
	}
}

func TestSignTransaction(t *testing.T) {
	profile := network.Mainnet()
	chain := &fakeChain{
		chainID:  "0xad5",
		code:     "0x0001",
		hooks:    []common.Address{profile.SessionValidator},
		policyOK: true,
	}
	c, signer := newTestClient(t, profile, chain)

	tx := clickTx(profile)
	raw, err := c.SignTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("SignTransaction() error = %v", err)
	}
	if raw[0] != TxType {
		t.Fatalf("type byte = %#x, want %#x", raw[0], TxType)
	}

	var fields []rlp.RawValue
	if err := rlp.DecodeBytes(raw[1:], &fields); err != nil {
		t.Fatalf("decode RLP: %v", err)
	}
	if len(fields) != 16 {
		t.Fatalf("RLP fields = %d, want 16", len(fields))
	}

	var nonce uint64
	if err := rlp.DecodeBytes(fields[0], &nonce); err != nil || nonce != 7 {
		t.Errorf("nonce field = %d, %v, want 7", nonce, err)
	}
	var from common.Address
	if err := rlp.DecodeBytes(fields[11], &from); err != nil || from != testWallet {
		t.Errorf("from field = %s, %v, want wallet", from.Hex(), err)
	}

	// The custom signature wraps an ECDSA signature recoverable to the
	// session signer.
	var customSig []byte
	if err := rlp.DecodeBytes(fields[14], &customSig); err != nil {
		t.Fatalf("decode custom signature: %v", err)
	}
	values, err := signatureArgs.Unpack(customSig)
	if err != nil {
		t.Fatalf("unpack custom signature: %v", err)
	}
	sig := values[0].([]byte)
	if values[1].(common.Address) != profile.SessionValidator {
		t.Errorf("validator = %v, want %s", values[1], profile.SessionValidator.Hex())
	}
	if hookData := values[2].([][]byte); len(hookData) != 1 || len(hookData[0]) == 0 {
		t.Errorf("hook data = %d entries, want one session payload", len(hookData))
	}

	tx.From = testWallet
	digest, err := SigningHash(&tx, profile.ChainID)
	if err != nil {
		t.Fatalf("SigningHash() error = %v", err)
	}
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		t.Fatalf("SigToPub() error = %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != signer {
		t.Errorf("recovered signer = %s, want %s", got.Hex(), signer.Hex())
	}

	for _, method := range []string{"eth_chainId", "eth_getCode"} {
		if chain.calls[method] != 1 {
			t.Errorf("%s called %d times, want 1", method, chain.calls[method])
		}
	}
	if chain.calls["eth_call"] != 2 {
		t.Errorf("eth_call called %d times, want 2 (hooks, policies)", chain.calls["eth_call"])
	}
}

func TestSignTransactionFailures(t *testing.T) {
	tests := []struct {
		name    string
		profile *network.Profile
		chain   *fakeChain
		mutate  func(tx *PreparedTx)
		wantErr error
	}{
		{
			name:    "chain mismatch",
			profile: network.Mainnet(),
			chain:   &fakeChain{chainID: "0x2b74", code: "0x01", policyOK: true},
			wantErr: ErrChainMismatch,
		},
		{
			name:    "wallet not deployed",
			profile: network.Mainnet(),
			chain:   &fakeChain{chainID: "0xad5", code: "0x", policyOK: true},
			wantErr: ErrWalletNotDeployed,
		},
		{
			name:    "policy denied by registry",
			profile: network.Mainnet(),
			chain:   &fakeChain{chainID: "0xad5", code: "0x01"},
			wantErr: ErrPolicyNotAllowed,
		},
		{
			name:    "call outside session",
			profile: network.Mainnet(),
			chain:   &fakeChain{chainID: "0xad5", code: "0x01", policyOK: true},
			mutate:  func(tx *PreparedTx) { tx.Data = contract.Selector("totalClicks()") },
			wantErr: ErrPolicyNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.profile, tt.chain)
			tx := clickTx(tt.profile)
			if tt.mutate != nil {
				tt.mutate(&tx)
			}
			if _, err := c.SignTransaction(context.Background(), tx); !errors.Is(err, tt.wantErr) {
				t.Errorf("SignTransaction() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignTransactionTestnetSkipsRegistry(t *testing.T) {
	profile := network.Testnet()
	chain := &fakeChain{chainID: "0x2b74", code: "0x01"}
	c, _ := newTestClient(t, profile, chain)

	tx := clickTx(profile)
	tx.Paymaster = profile.Paymaster
	tx.PaymasterInput = GeneralPaymasterInput(nil)

	raw, err := c.SignTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("SignTransaction() error = %v", err)
	}
	if chain.calls["eth_call"] != 1 {
		t.Errorf("eth_call called %d times, want 1 (hooks only)", chain.calls["eth_call"])
	}

	var fields []rlp.RawValue
	if err := rlp.DecodeBytes(raw[1:], &fields); err != nil {
		t.Fatalf("decode RLP: %v", err)
	}
	var paymaster []rlp.RawValue
	if err := rlp.DecodeBytes(fields[15], &paymaster); err != nil || len(paymaster) != 2 {
		t.Errorf("paymaster params = %d entries, %v, want 2", len(paymaster), err)
	}
}

func TestGeneralPaymasterInput(t *testing.T) {
	got := hexutil.Encode(GeneralPaymasterInput(nil))
	want := "0x8c5a3445" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000000"
	if got != want {
		t.Errorf("GeneralPaymasterInput(nil) = %s, want %s", got, want)
	}
}

func TestSigningHashChangesWithNonce(t *testing.T) {
	profile := network.Mainnet()
	tx := clickTx(profile)
	h1, err := SigningHash(&tx, profile.ChainID)
	if err != nil {
		t.Fatalf("SigningHash() error = %v", err)
	}
	tx.Nonce++
	h2, _ := SigningHash(&tx, profile.ChainID)
	if h1 == h2 {
		t.Error("SigningHash() unchanged after nonce change")
	}
	if _, err := SigningHash(&PreparedTx{}, profile.ChainID); err == nil {
		t.Error("SigningHash() without fees error = nil, want error")
	}
}
