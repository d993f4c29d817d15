package intelligence

import (
	"math"
	"time"
)

// DefaultDecayBase is the fraction of recency kept per idle hour.
const DefaultDecayBase = 0.99

// RecencyDecay scores how recently a memory was touched:
//
//	recency = base ^ hours_since_last_access
//
// A memory touched now scores 1. With the default base the score halves
// roughly every 69 hours.
type RecencyDecay struct {
	base float64
}

// NewRecencyDecay creates a decay with the given per-hour base. A base
// outside (0, 1) falls back to DefaultDecayBase.
func NewRecencyDecay(base float64) RecencyDecay {
	if base <= 0 || base >= 1 {
		base = DefaultDecayBase
	}
	return RecencyDecay{base: base}
}

// Score returns the recency of a memory last accessed at accessedAt.
// A future accessedAt (clock skew) counts as now.
func (d RecencyDecay) Score(accessedAt, now time.Time) float64 {
	hours := now.Sub(accessedAt).Hours()
	if hours <= 0 {
		return 1
	}
	return math.Pow(d.baseOrDefault(), hours)
}

// HalfLife returns the idle time after which recency drops to 0.5.
func (d RecencyDecay) HalfLife() time.Duration {
	hours := math.Log(0.5) / math.Log(d.baseOrDefault())
	return time.Duration(hours * float64(time.Hour))
}

func (d RecencyDecay) baseOrDefault() float64 {
	if d.base == 0 {
		return DefaultDecayBase
	}
	return d.base
}
