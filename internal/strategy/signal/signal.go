// Package signal maps a conviction score plus market-risk context and the
// portfolio's streak counters onto a BUY/SELL/HOLD decision.
package signal

import (
	"fmt"
	"math"

	"automoney/internal/strategy"
	"automoney/internal/types"
)

const (
	PolicyName = "conviction"

	// buy strength is measured over the 50 points above buy_threshold.
	buyStrengthSpan = 50.0

	partialSellScale = 0.5

	highVolatilityScale     = 0.5
	elevatedVolatilityScale = 0.75
	lowSentimentScale       = 0.8

	greedSentiment = 75.0
)

// Input is everything the generator looks at. It carries no references to
// shared state, so identical inputs yield identical decisions.
type Input struct {
	ConvictionScore  float64
	Risk             types.RiskContext
	State            types.PortfolioRuntimeState
	PositionFraction float64
}

// Generate evaluates one cycle. Order: circuit breaker, base selection,
// acceleration, sizing, execution gating.
func Generate(in Input, p strategy.Params) (types.SignalDecision, error) {
	if err := p.ValidateSignal(); err != nil {
		return types.SignalDecision{}, err
	}
	if err := checkInput(in); err != nil {
		return types.SignalDecision{}, err
	}

	d := types.SignalDecision{
		Policy:                 PolicyName,
		ConvictionScore:        in.ConvictionScore,
		AccelerationMultiplier: 1,
		RiskLevel:              RiskLevel(in.Risk, p),
	}

	if tripped, why := CircuitBreaker(in.Risk, p); tripped {
		d.Signal = types.SignalHold
		d.RiskLevel = types.RiskHigh
		d.Reasons = append(d.Reasons, why)
		return d, nil
	}

	switch {
	case in.ConvictionScore >= p.BuyThreshold:
		d.Signal = types.SignalBuy
		d.SizingBasis = types.SizingPortfolioValue
		d.SignalStrength = clamp01((in.ConvictionScore - p.BuyThreshold) / buyStrengthSpan)
		d.Reasons = append(d.Reasons, fmt.Sprintf("conviction %.2f >= buy threshold %.2f", in.ConvictionScore, p.BuyThreshold))

		d.AccelerationMultiplier = Acceleration(in.State.ConsecutiveBullishCount, p)
		if d.AccelerationMultiplier > 1 {
			d.Reasons = append(d.Reasons, fmt.Sprintf("acceleration x%.3f after %d consecutive bullish cycles",
				d.AccelerationMultiplier, in.State.ConsecutiveBullishCount))
		}
		var warnings []string
		d.PositionSizeFraction, warnings = BuyPositionSize(d.SignalStrength, d.AccelerationMultiplier, in.Risk, p)
		d.Warnings = append(d.Warnings, warnings...)

		d.ShouldExecute = true
		if in.PositionFraction > p.MaxHoldingFraction {
			d.ShouldExecute = false
			d.Warnings = append(d.Warnings, fmt.Sprintf("position %.4f already above max holding %.4f", in.PositionFraction, p.MaxHoldingFraction))
		}
		if d.PositionSizeFraction < p.MinPositionPct {
			d.ShouldExecute = false
			d.Warnings = append(d.Warnings, fmt.Sprintf("buy size %.5f below minimum %.5f", d.PositionSizeFraction, p.MinPositionPct))
		}

	case in.ConvictionScore >= p.FullSellThreshold:
		d.Signal = types.SignalSell
		d.SizingBasis = types.SizingCurrentHolding
		d.SignalStrength = clamp01((p.BuyThreshold - in.ConvictionScore) / (p.BuyThreshold - p.FullSellThreshold))
		d.PositionSizeFraction = PartialSellFraction(d.SignalStrength)
		d.Reasons = append(d.Reasons, fmt.Sprintf("conviction %.2f in partial sell band [%.2f, %.2f)",
			in.ConvictionScore, p.FullSellThreshold, p.BuyThreshold))
		d.ShouldExecute = gateSell(&d, in.PositionFraction, p)

	default:
		d.Signal = types.SignalSell
		d.SizingBasis = types.SizingCurrentHolding
		d.SignalStrength = 1
		d.PositionSizeFraction = 1
		d.Reasons = append(d.Reasons, fmt.Sprintf("conviction %.2f below full sell threshold %.2f", in.ConvictionScore, p.FullSellThreshold))
		d.ShouldExecute = gateSell(&d, in.PositionFraction, p)
	}
	return d, nil
}

// CircuitBreaker reports whether extreme fear or an outsized 24h move forces HOLD.
func CircuitBreaker(risk types.RiskContext, p strategy.Params) (bool, string) {
	if risk.SentimentIndex < p.FGCircuitBreakerThreshold {
		return true, fmt.Sprintf("circuit breaker: sentiment %.1f below %.1f", risk.SentimentIndex, p.FGCircuitBreakerThreshold)
	}
	if math.Abs(risk.PriceChange24h) > p.PriceChangeCircuitBreaker {
		return true, fmt.Sprintf("circuit breaker: 24h change %.2f%% beyond %.2f%%", risk.PriceChange24h*100, p.PriceChangeCircuitBreaker*100)
	}
	return false, ""
}

// Acceleration interpolates from the min multiplier at the streak threshold
// to the max multiplier ramp_cycles later, clamped at the max.
func Acceleration(consecutiveBullish int, p strategy.Params) float64 {
	if consecutiveBullish < p.ConsecutiveSignalThreshold {
		return 1
	}
	progress := float64(consecutiveBullish-p.ConsecutiveSignalThreshold) / float64(p.AccelerationRampCycles)
	m := p.AccelerationMultiplierMin + (p.AccelerationMultiplierMax-p.AccelerationMultiplierMin)*progress
	return math.Min(m, p.AccelerationMultiplierMax)
}

// BuyPositionSize returns a fraction of total portfolio value to buy.
func BuyPositionSize(strength, acceleration float64, risk types.RiskContext, p strategy.Params) (float64, []string) {
	var warnings []string
	size := p.MinPositionPct + (p.MaxPositionPct-p.MinPositionPct)*clamp01(strength)
	size *= acceleration

	vol := math.Abs(risk.Volatility24h)
	switch {
	case vol > p.HighVolatility:
		size *= highVolatilityScale
		warnings = append(warnings, fmt.Sprintf("volatility %.2f%% above %.2f%%: size halved", vol*100, p.HighVolatility*100))
	case vol > p.ElevatedVolatility:
		size *= elevatedVolatilityScale
		warnings = append(warnings, fmt.Sprintf("volatility %.2f%% above %.2f%%: size cut 25%%", vol*100, p.ElevatedVolatility*100))
	}
	if risk.SentimentIndex < p.FGPositionAdjustThreshold {
		size *= lowSentimentScale
		warnings = append(warnings, fmt.Sprintf("sentiment %.1f below %.1f: size cut 20%%", risk.SentimentIndex, p.FGPositionAdjustThreshold))
	}
	return math.Max(size, p.MinPositionPct), warnings
}

// PartialSellFraction returns a fraction of the current holding, 0..50%.
func PartialSellFraction(strength float64) float64 {
	return partialSellScale * clamp01(strength)
}

// RiskLevel classifies the market conditions of one cycle.
func RiskLevel(risk types.RiskContext, p strategy.Params) types.RiskLevel {
	vol := math.Abs(risk.Volatility24h)
	switch {
	case vol > p.HighVolatility || risk.SentimentIndex < p.FGPositionAdjustThreshold:
		return types.RiskHigh
	case vol > p.ElevatedVolatility || risk.SentimentIndex >= greedSentiment:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

func gateSell(d *types.SignalDecision, position float64, p strategy.Params) bool {
	if position < p.MinSellableFraction {
		d.Warnings = append(d.Warnings, fmt.Sprintf("position %.4f below %.4f: nothing to sell", position, p.MinSellableFraction))
		return false
	}
	return true
}

func checkInput(in Input) error {
	switch {
	case math.IsNaN(in.ConvictionScore) || in.ConvictionScore < 0 || in.ConvictionScore > 100:
		return &strategy.ConfigurationError{Field: "conviction_score", Reason: fmt.Sprintf("must be in [0,100], got %v", in.ConvictionScore)}
	case math.IsNaN(in.PositionFraction) || in.PositionFraction < 0:
		return &strategy.ConfigurationError{Field: "position_fraction", Reason: fmt.Sprintf("must be >= 0, got %v", in.PositionFraction)}
	case math.IsNaN(in.Risk.SentimentIndex) || math.IsNaN(in.Risk.Volatility24h) || math.IsNaN(in.Risk.PriceChange24h):
		return &strategy.ConfigurationError{Field: "risk_context", Reason: "contains NaN"}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
