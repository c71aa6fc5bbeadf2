package network

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name         string
		chainID      int64
		permissive   bool
		validates    bool
		hasPaymaster bool
	}{
		{"mainnet", 2741, false, true, false},
		{"testnet", 11124, true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.Get(tt.name)
			if p == nil {
				t.Fatalf("expected %s to be registered, got nil", tt.name)
			}
			if p.ChainID != tt.chainID {
				t.Errorf("ChainID = %d, want %d", p.ChainID, tt.chainID)
			}
			if p.PermissiveSessionStatus != tt.permissive {
				t.Errorf("PermissiveSessionStatus = %v, want %v", p.PermissiveSessionStatus, tt.permissive)
			}
			if p.ValidatesPolicies != tt.validates {
				t.Errorf("ValidatesPolicies = %v, want %v", p.ValidatesPolicies, tt.validates)
			}
			if (p.Paymaster != nil) != tt.hasPaymaster {
				t.Errorf("Paymaster set = %v, want %v", p.Paymaster != nil, tt.hasPaymaster)
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := DefaultRegistry()
	if p := r.Get("devnet"); p != nil {
		t.Errorf("expected nil for unknown network, got %+v", p)
	}
}

func TestRegistryRegisterCustom(t *testing.T) {
	r := NewRegistry()
	r.Register(nil)
	r.Register(&Profile{Name: "local", ChainID: 260})

	if got := len(r.Names()); got != 1 {
		t.Fatalf("Names() len = %d, want 1", got)
	}
	if p := r.Get("local"); p == nil || p.ChainID != 260 {
		t.Errorf("Get(local) = %+v, want chain 260", p)
	}
}

func TestStaticContracts(t *testing.T) {
	p := Mainnet()
	got := p.StaticContracts()
	want := []common.Address{PolicyRegistryAddress, Multicall3Address}
	if len(got) != len(want) {
		t.Fatalf("StaticContracts() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("StaticContracts()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestProfileString(t *testing.T) {
	var nilProfile *Profile
	if got := nilProfile.String(); got != "unknown" {
		t.Errorf("nil Profile.String() = %q, want %q", got, "unknown")
	}
	if got := Testnet().String(); got != "testnet" {
		t.Errorf("Testnet().String() = %q, want %q", got, "testnet")
	}
}
