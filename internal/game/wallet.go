package game

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/clicker/internal/session"
)

// Wallet holds the connected account and its loaded session key. It is
// shared by the game and the submitter.
type Wallet struct {
	mu        sync.RWMutex
	address   common.Address
	connected bool
	session   *session.Session
}

// NewWallet creates a disconnected wallet for address.
func NewWallet(address common.Address) *Wallet {
	return &Wallet{address: address}
}

// Address returns the configured account.
func (w *Wallet) Address() common.Address {
	return w.address
}

// Credentials returns the connected address and session. Either is nil
// while absent.
func (w *Wallet) Credentials() (*common.Address, *session.Session) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected {
		return nil, nil
	}
	a := w.address
	return &a, w.session
}

// Session returns the loaded session, or nil.
func (w *Wallet) Session() *session.Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session
}

func (w *Wallet) connect(sess *session.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	w.session = sess
}

func (w *Wallet) disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	w.session = nil
}
