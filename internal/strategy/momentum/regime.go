package momentum

import (
	"math"

	"automoney/internal/types"
)

type band struct {
	lo, hi     float64
	from, till float64
}

// regimeBands maps regime score bands onto multiplier ranges.
var regimeBands = []band{
	{lo: 0, hi: 20, from: 0.3, till: 0.3},
	{lo: 20, hi: 40, from: 0.3, till: 0.6},
	{lo: 40, hi: 60, from: 0.6, till: 1.0},
	{lo: 60, hi: 80, from: 1.0, till: 1.3},
	{lo: 80, hi: 100, from: 1.3, till: 1.6},
}

// RegimeMultiplier linearly interpolates within the band containing score.
// The result is always in [0.3, 1.6].
func RegimeMultiplier(score float64) float64 {
	if math.IsNaN(score) {
		return regimeBands[0].from
	}
	score = math.Max(0, math.Min(100, score))
	for _, b := range regimeBands {
		if score <= b.hi {
			t := (score - b.lo) / (b.hi - b.lo)
			return b.from + (b.till-b.from)*t
		}
	}
	return regimeBands[len(regimeBands)-1].till
}

func regimeRisk(score float64) types.RiskLevel {
	switch {
	case score < 40:
		return types.RiskHigh
	case score < 60:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}
