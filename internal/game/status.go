package game

import (
	"github.com/gateway-fm/clicker/internal/nonce"
	"github.com/gateway-fm/clicker/pkg/types"
)

// Status returns a full snapshot of the game.
func (g *Game) Status() types.Status {
	address := g.wallet.Address()
	prereq := g.submitter.Prerequisites()
	base, offset := g.counter.Counts()
	effective := base + offset

	st := types.Status{
		Network: g.profile.Name,
		ChainID: g.profile.ChainID,
		Address: address.Hex(),
		Ready:   g.Ready(),
		Readiness: types.Readiness{
			Address:    prereq.Address != nil,
			SessionKey: prereq.SessionKey != "",
			Gas:        prereq.Gas.Valid(),
			Nonce:      prereq.Nonce != nil,
		},
		Clicks: types.ClickCounts{
			OnChain:   base,
			Offset:    offset,
			Effective: effective,
		},
		Tiers:    tierInfo(g.tiers, effective),
		Records:  g.Records(),
		InFlight: g.monitor.Active(),
	}

	if sess := g.wallet.Session(); sess != nil {
		info := &types.SessionInfo{
			Signer:      sess.Config.Signer.Hex(),
			Permissive:  g.profile.PermissiveSessionStatus,
			PolicyCount: len(sess.Config.CallPolicies),
		}
		if exp := sess.Config.ExpiresAt.Big(); exp.IsInt64() {
			info.ExpiresAt = exp.Int64()
		}
		st.Session = info
	}

	if ns := g.nonce.State(); ns.Known {
		st.Nonce = &types.NonceInfo{
			Base:      ns.Base,
			Offset:    ns.Offset,
			Effective: nonce.Effective(ns.Base, ns.Offset),
		}
	}

	if est := g.gas.Current(address); est.Valid() {
		st.Gas = &types.GasInfo{
			GasLimit:             est.GasLimit,
			MaxFeePerGas:         est.MaxFeePerGas.String(),
			MaxPriorityFeePerGas: est.MaxPriorityFeePerGas.String(),
			FetchedAtMs:          est.FetchedAt.UnixMilli(),
		}
	}
	if err := g.gas.Err(address); err != nil {
		st.GasError = err.Error()
	}

	g.mu.Lock()
	if g.total != nil {
		total := *g.total
		st.TotalClicks = &total
	}
	g.mu.Unlock()

	if g.stats != nil {
		st.Latency = g.stats.LatencyStats()
	}
	return st
}
