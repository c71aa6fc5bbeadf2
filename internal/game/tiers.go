package game

import (
	"time"

	"github.com/gateway-fm/clicker/pkg/types"
)

// Tier is an auto-clicker level unlocked by reaching a click threshold.
type Tier struct {
	ID        string
	Name      string
	Threshold uint64
	Interval  time.Duration
}

// DefaultTiers are the lumberjack tiers, lowest first.
var DefaultTiers = []Tier{
	{ID: "tier1", Name: "Rookie Logger", Threshold: 100, Interval: 10 * time.Second},
	{ID: "tier2", Name: "Apprentice Sawyer", Threshold: 500, Interval: 8 * time.Second},
	{ID: "tier3", Name: "Journeyman Feller", Threshold: 2000, Interval: 5 * time.Second},
	{ID: "tier4", Name: "Master Timberman", Threshold: 10000, Interval: 2 * time.Second},
	{ID: "tier5", Name: "Forest Whisperer", Threshold: 50000, Interval: time.Second},
	{ID: "tier6", Name: "Legendary Woodcutter", Threshold: 100000, Interval: 500 * time.Millisecond},
}

// Unlocked returns the tiers whose threshold clicks has reached.
func Unlocked(tiers []Tier, clicks uint64) []Tier {
	var out []Tier
	for _, t := range tiers {
		if clicks >= t.Threshold {
			out = append(out, t)
		}
	}
	return out
}

func tierInfo(tiers []Tier, clicks uint64) []types.Tier {
	out := make([]types.Tier, len(tiers))
	for i, t := range tiers {
		out[i] = types.Tier{
			ID:         t.ID,
			Name:       t.Name,
			Threshold:  t.Threshold,
			IntervalMs: t.Interval.Milliseconds(),
			Unlocked:   clicks >= t.Threshold,
		}
	}
	return out
}
