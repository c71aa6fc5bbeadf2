package game

import "github.com/gateway-fm/clicker/pkg/types"

// addRecord puts rec at the head of the list and drops the oldest past the cap.
func (g *Game) addRecord(rec *types.ClickRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.records = append([]*types.ClickRecord{rec}, g.records...)
	if len(g.records) > g.maxRecords {
		g.records = g.records[:g.maxRecords]
	}
}

// findRecord must be called with g.mu held.
func (g *Game) findRecord(id string) *types.ClickRecord {
	for _, r := range g.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// updateRecord applies fn to the record and returns a copy of the result.
func (g *Game) updateRecord(id string, fn func(*types.ClickRecord)) types.ClickRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.findRecord(id)
	if r == nil {
		return types.ClickRecord{}
	}
	fn(r)
	return *r
}

// Prune drops finalised records whose fade has completed and returns how
// many were removed.
func (g *Game) Prune() int {
	cutoff := g.now().Add(-(FadeDelay + FadeDuration)).UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.records[:0]
	for _, r := range g.records {
		if r.State.Final() && r.FinalizedAtMs != nil && *r.FinalizedAtMs <= cutoff {
			continue
		}
		kept = append(kept, r)
	}
	removed := len(g.records) - len(kept)
	clear(g.records[len(kept):])
	g.records = kept
	return removed
}

// Records returns the live click list, newest first.
func (g *Game) Records() []types.ClickRecord {
	g.Prune()

	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]types.ClickRecord, len(g.records))
	for i, r := range g.records {
		out[i] = *r
	}
	return out
}
