package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MinSecretSize is the minimum master secret length in bytes.
const MinSecretSize = 32

const envelopeVersion = 1

var (
	// ErrSecretTooShort is returned by NewCipher for weak master secrets.
	ErrSecretTooShort = fmt.Errorf("session secret must be at least %d bytes", MinSecretSize)

	errDecrypt = errors.New("session blob is corrupted or was sealed with another key")
)

// envelope is the stored JSON structure around the ciphertext.
type envelope struct {
	V      int    `json:"v"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// Cipher seals session blobs with a per-address key derived from a master
// secret.
type Cipher struct {
	secret []byte
}

// NewCipher creates a Cipher from the process master secret.
func NewCipher(secret []byte) (*Cipher, error) {
	if len(secret) < MinSecretSize {
		return nil, ErrSecretTooShort
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Cipher{secret: s}, nil
}

func addressInfo(address common.Address) []byte {
	return []byte(strings.ToLower(address.Hex()))
}

func (c *Cipher) key(address common.Address) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, c.secret, nil, addressInfo(address))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext for address.
func (c *Cipher) Seal(address common.Address, plaintext []byte) ([]byte, error) {
	key, err := c.key(address)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return json.Marshal(envelope{
		V:      envelopeVersion,
		Nonce:  nonce,
		Cipher: aead.Seal(nil, nonce, plaintext, addressInfo(address)),
	})
}

// Open decrypts a blob sealed for address.
func (c *Cipher) Open(address common.Address, blob []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("malformed session envelope: %w", err)
	}
	if env.V != envelopeVersion {
		return nil, fmt.Errorf("unsupported session envelope version %d", env.V)
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("malformed session envelope: nonce is %d bytes", len(env.Nonce))
	}

	key, err := c.key(address)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Cipher, addressInfo(address))
	if err != nil {
		return nil, errDecrypt
	}
	return plaintext, nil
}
