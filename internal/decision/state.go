package decision

import (
	"time"

	"automoney/internal/strategy"
	"automoney/internal/types"
)

// NextRuntimeState applies the consecutive-signal law to prev. A BUY at or
// above buy_threshold extends the bullish streak; a SELL below
// full_sell_threshold extends the bearish streak; anything else resets both.
// Counters track the decision, not whether a trade settled.
func NextRuntimeState(prev types.PortfolioRuntimeState, d types.SignalDecision, p strategy.Params, now time.Time) types.PortfolioRuntimeState {
	next := prev
	next.LastConvictionScore = d.ConvictionScore
	next.UpdatedAt = now

	switch {
	case d.Signal == types.SignalBuy && d.ConvictionScore >= p.BuyThreshold:
		if next.ConsecutiveBullishCount == 0 || next.ConsecutiveBullishSince == nil {
			since := now
			next.ConsecutiveBullishSince = &since
		}
		next.ConsecutiveBullishCount++
		next.ConsecutiveBearishCount = 0
		next.ConsecutiveBearishSince = nil
	case d.Signal == types.SignalSell && d.ConvictionScore < p.FullSellThreshold:
		if next.ConsecutiveBearishCount == 0 || next.ConsecutiveBearishSince == nil {
			since := now
			next.ConsecutiveBearishSince = &since
		}
		next.ConsecutiveBearishCount++
		next.ConsecutiveBullishCount = 0
		next.ConsecutiveBullishSince = nil
	default:
		next.ConsecutiveBullishCount = 0
		next.ConsecutiveBullishSince = nil
		next.ConsecutiveBearishCount = 0
		next.ConsecutiveBearishSince = nil
	}
	return next
}
