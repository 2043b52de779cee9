package momentum

import (
	"fmt"

	"automoney/internal/types"

	"github.com/shopspring/decimal"
)

// Sizing is the regime-adjusted risk budget for one bracket.
type Sizing struct {
	PortfolioValue float64
	RiskPct        float64
	Leverage       float64
	RewardRisk     float64
}

// BuildBracket places the stop ATR×stopATR away from entry on the losing side
// and the target |entry−stop|×RewardRisk away on the winning side. The amount
// is in base-asset units. The order is returned unvalidated.
func BuildBracket(asset string, side types.SignalClass, entry, atr, stopATR float64, s Sizing) (types.BracketOrder, error) {
	if side != types.SignalLong && side != types.SignalShort {
		return types.BracketOrder{}, fmt.Errorf("bracket side must be LONG or SHORT, got %q", side)
	}
	if entry <= 0 {
		return types.BracketOrder{}, fmt.Errorf("entry price %.8g must be positive", entry)
	}
	if atr <= 0 {
		return types.BracketOrder{}, fmt.Errorf("missing ATR for %s", asset)
	}
	if stopATR <= 0 {
		return types.BracketOrder{}, fmt.Errorf("stop distance %.4g ATR must be positive", stopATR)
	}
	dEntry := decimal.NewFromFloat(entry)
	dist := decimal.NewFromFloat(atr).Mul(decimal.NewFromFloat(stopATR))
	reward := dist.Mul(decimal.NewFromFloat(s.RewardRisk))

	var stop, target decimal.Decimal
	if side == types.SignalLong {
		stop = dEntry.Sub(dist)
		target = dEntry.Add(reward)
	} else {
		stop = dEntry.Add(dist)
		target = dEntry.Sub(reward)
	}

	amount := decimal.NewFromFloat(s.PortfolioValue).
		Mul(decimal.NewFromFloat(s.RiskPct)).
		Mul(decimal.NewFromFloat(s.Leverage)).
		Div(dist).
		Div(dEntry)

	order := types.BracketOrder{
		Asset:    asset,
		Side:     side,
		Leverage: s.Leverage,
	}
	order.EntryPrice, _ = dEntry.Float64()
	order.StopLossPrice, _ = stop.Float64()
	order.TakeProfitPrice, _ = target.Float64()
	order.EntryAmount, _ = amount.Float64()
	return order, nil
}
