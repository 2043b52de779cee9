package decision

import (
	"context"
	"fmt"

	"automoney/internal/strategy"
	"automoney/internal/strategy/conviction"
	"automoney/internal/strategy/momentum"
	"automoney/internal/strategy/signal"
	"automoney/internal/types"
)

// ConvictionPolicy is ConvictionCalculator followed by SignalGenerator.
type ConvictionPolicy struct{}

var _ Policy = ConvictionPolicy{}

func (ConvictionPolicy) Name() string { return signal.PolicyName }

func (ConvictionPolicy) Decide(_ context.Context, in Input) (types.SignalDecision, error) {
	risk := in.Market.RiskContext(in.Asset)
	res, err := conviction.Calculate(in.Outputs, risk, in.Params)
	if err != nil {
		return types.SignalDecision{}, err
	}
	d, err := signal.Generate(signal.Input{
		ConvictionScore:  res.Score,
		Risk:             risk,
		State:            in.State,
		PositionFraction: in.PositionFraction,
	}, in.Params)
	if err != nil {
		return types.SignalDecision{}, err
	}
	d.Conviction = &res
	return d, nil
}

// MomentumRegimePolicy reads one regime output and one momentum output.
type MomentumRegimePolicy struct{}

var _ Policy = MomentumRegimePolicy{}

func (MomentumRegimePolicy) Name() string { return momentum.PolicyName }

func (MomentumRegimePolicy) Decide(_ context.Context, in Input) (types.SignalDecision, error) {
	regime, ok := types.FirstOfKind(in.Outputs, types.KindRegime)
	if !ok || regime.Regime == nil {
		return types.SignalDecision{}, &strategy.ConfigurationError{Field: "analysts", Reason: "momentum_regime policy needs a regime analyst"}
	}
	mom, ok := types.FirstOfKind(in.Outputs, types.KindMomentum)
	if !ok || mom.Momentum == nil {
		return types.SignalDecision{}, &strategy.ConfigurationError{Field: "analysts", Reason: "momentum_regime policy needs a momentum analyst"}
	}
	payload := *mom.Momentum
	asset := payload.Asset
	if asset == "" {
		asset = in.Asset
	}
	quote, _ := in.Market.Quote(asset)
	d, err := momentum.Decide(momentum.Input{
		RegimeScore:      regime.Regime.Score,
		Momentum:         payload,
		PortfolioValue:   in.PortfolioValue,
		PositionFraction: in.PositionFraction,
		LastPrice:        quote.Price,
		ATR:              quote.ATR,
	}, in.Params)
	if err != nil {
		return types.SignalDecision{}, err
	}
	if d.Bracket != nil && types.NormalizeAsset(in.Asset) != d.Bracket.Asset {
		d.ShouldExecute = false
		d.Warnings = append(d.Warnings, fmt.Sprintf("opportunity on %s but portfolio trades %s", d.Bracket.Asset, types.NormalizeAsset(in.Asset)))
	}
	return d, nil
}

// PolicyKind names a policy in template files.
type PolicyKind string

const (
	KindConviction     PolicyKind = signal.PolicyName
	KindMomentumRegime PolicyKind = momentum.PolicyName
)

// NewPolicy resolves a policy kind to its implementation.
func NewPolicy(kind PolicyKind) (Policy, error) {
	switch kind {
	case KindConviction, "":
		return ConvictionPolicy{}, nil
	case KindMomentumRegime:
		return MomentumRegimePolicy{}, nil
	default:
		return nil, &strategy.ConfigurationError{Field: "policy", Reason: fmt.Sprintf("unknown policy %q", kind)}
	}
}
