// Package momentum implements the regime-modulated momentum policy: the
// momentum analyst picks asset and direction, the regime score only scales
// or vetoes the trade, and every order is bracket-validated before use.
package momentum

import (
	"errors"
	"fmt"
	"math"

	"automoney/internal/strategy"
	"automoney/internal/types"
)

const (
	PolicyName = "momentum_regime"

	regimeConvictionSpan = 20.0
)

// Input carries the two upstream analyses and the portfolio context.
type Input struct {
	RegimeScore      float64
	Momentum         types.MomentumPayload
	PortfolioValue   float64
	PositionFraction float64

	// Fallbacks when the momentum payload omits them.
	LastPrice float64
	ATR       float64
}

// Decide runs the policy. Only malformed params return an error; every
// trade-level rejection degrades to HOLD with reasons.
func Decide(in Input, p strategy.Params) (types.SignalDecision, error) {
	if err := p.ValidateMomentum(); err != nil {
		return types.SignalDecision{}, err
	}
	if math.IsNaN(in.RegimeScore) || in.RegimeScore < 0 || in.RegimeScore > 100 {
		return types.SignalDecision{}, &strategy.ConfigurationError{Field: "regime_score", Reason: fmt.Sprintf("must be in [0,100], got %v", in.RegimeScore)}
	}

	m := in.Momentum
	conviction := CompositeConviction(m, in.RegimeScore)
	multiplier := RegimeMultiplier(in.RegimeScore)
	hold := func(reasons ...string) types.SignalDecision {
		d := types.Hold(PolicyName, conviction, reasons...)
		d.RegimeScore = in.RegimeScore
		d.RegimeMultiplier = multiplier
		d.RiskLevel = regimeRisk(in.RegimeScore)
		d.SignalStrength = m.SignalStrength
		return d
	}

	if !m.HasOpportunity {
		return hold("momentum analysis reports no opportunity"), nil
	}
	if m.SignalStrength < p.MinSignalStrength {
		return hold(fmt.Sprintf("momentum strength %.2f below minimum %.2f", m.SignalStrength, p.MinSignalStrength)), nil
	}
	if in.RegimeScore < p.ExtremeRegimeThreshold && m.Direction == types.SignalLong {
		return hold(fmt.Sprintf("regime %.1f below %.1f: refusing LONG into unhealthy market", in.RegimeScore, p.ExtremeRegimeThreshold)), nil
	}

	sizing := EffectiveSizing(in.PortfolioValue, m.RewardRisk, multiplier, p)
	entry := m.EntryPrice
	if entry <= 0 {
		entry = in.LastPrice
	}
	atr := m.ATR
	if atr <= 0 {
		atr = in.ATR
	}
	order, err := BuildBracket(types.NormalizeAsset(m.Asset), m.Direction, entry, atr, m.StopDistanceATR, sizing)
	if err != nil {
		return hold("bracket rejected: " + err.Error()), nil
	}
	if err := order.Validate(); err != nil {
		reasons := []string{"bracket rejected"}
		var inv *types.InvalidBracketOrderError
		if errors.As(err, &inv) {
			reasons = append(reasons, inv.Reasons...)
		} else {
			reasons = append(reasons, err.Error())
		}
		return hold(reasons...), nil
	}

	d := types.SignalDecision{
		Policy:                 PolicyName,
		SignalStrength:         m.SignalStrength,
		SizingBasis:            types.SizingPortfolioValue,
		RiskLevel:              regimeRisk(in.RegimeScore),
		AccelerationMultiplier: 1,
		ConvictionScore:        conviction,
		RegimeScore:            in.RegimeScore,
		RegimeMultiplier:       multiplier,
		Bracket:                &order,
		ShouldExecute:          true,
	}
	if in.PortfolioValue > 0 {
		d.PositionSizeFraction = math.Min(order.EntryAmount*order.EntryPrice/in.PortfolioValue, 1)
	}
	d.Reasons = append(d.Reasons,
		fmt.Sprintf("momentum %s %s strength %.2f", m.Direction, order.Asset, m.SignalStrength),
		fmt.Sprintf("regime %.1f -> multiplier %.3f, risk %.4f, leverage %.3f, reward:risk %.2f",
			in.RegimeScore, multiplier, sizing.RiskPct, sizing.Leverage, sizing.RewardRisk),
	)

	switch order.Side {
	case types.SignalLong:
		d.Signal = types.SignalBuy
		if in.PositionFraction > p.MaxHoldingFraction {
			d.ShouldExecute = false
			d.Warnings = append(d.Warnings, fmt.Sprintf("position %.4f already above max holding %.4f", in.PositionFraction, p.MaxHoldingFraction))
		}
	case types.SignalShort:
		d.Signal = types.SignalSell
		if in.PositionFraction < p.MinSellableFraction {
			d.ShouldExecute = false
			d.Warnings = append(d.Warnings, fmt.Sprintf("position %.4f below %.4f: nothing to sell", in.PositionFraction, p.MinSellableFraction))
		}
	}
	return d, nil
}

// EffectiveSizing scales the base risk budget by the regime multiplier.
// Leverage grows with the square root of the multiplier, capped at max.
func EffectiveSizing(portfolioValue, rewardRisk, multiplier float64, p strategy.Params) Sizing {
	return Sizing{
		PortfolioValue: portfolioValue,
		RiskPct:        p.BaseRiskPct * multiplier,
		Leverage:       math.Min(p.BaseLeverage*math.Sqrt(multiplier), p.MaxLeverage),
		RewardRisk:     rewardRisk * multiplier,
	}
}

// CompositeConviction blends momentum strength and confidence (±100) with a
// ±20 point regime adjustment, reported on the 0..100 scale.
func CompositeConviction(m types.MomentumPayload, regimeScore float64) float64 {
	base := 0.0
	if m.HasOpportunity {
		base = m.Direction.Sign() * m.SignalStrength * m.Confidence * 100
	}
	adj := (regimeScore - 50) / 50 * regimeConvictionSpan
	composite := math.Max(-100, math.Min(100, base+adj))
	return (composite + 100) / 2
}
