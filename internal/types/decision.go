package types

type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// SizingBasis tells what PositionSizeFraction is a fraction of.
type SizingBasis string

const (
	SizingNone           SizingBasis = ""
	SizingPortfolioValue SizingBasis = "PORTFOLIO_VALUE"
	SizingCurrentHolding SizingBasis = "CURRENT_HOLDING"
)

// ConvictionResult is recomputed every cycle and never stored as authoritative state.
type ConvictionResult struct {
	Score                float64            `json:"score"`
	RawWeightedScore     float64            `json:"raw_weighted_score"`
	Contributions        map[string]float64 `json:"contributions"`
	RiskAdjustment       float64            `json:"risk_adjustment_factor"`
	ConfidenceAdjustment float64            `json:"confidence_adjustment_factor"`
}

// SignalDecision is the ephemeral per-cycle output of a decision policy.
type SignalDecision struct {
	Policy                 string            `json:"policy"`
	Signal                 Signal            `json:"signal"`
	SignalStrength         float64           `json:"signal_strength"`
	PositionSizeFraction   float64           `json:"position_size_fraction"`
	SizingBasis            SizingBasis       `json:"sizing_basis,omitempty"`
	RiskLevel              RiskLevel         `json:"risk_level"`
	ShouldExecute          bool              `json:"should_execute"`
	Reasons                []string          `json:"reasons,omitempty"`
	Warnings               []string          `json:"warnings,omitempty"`
	AccelerationMultiplier float64           `json:"acceleration_multiplier"`
	ConvictionScore        float64           `json:"conviction_score"`
	Conviction             *ConvictionResult `json:"conviction,omitempty"`
	RegimeScore            float64           `json:"regime_score,omitempty"`
	RegimeMultiplier       float64           `json:"regime_multiplier,omitempty"`
	Bracket                *BracketOrder     `json:"bracket,omitempty"`
}

// Hold builds a non-executing HOLD decision.
func Hold(policy string, conviction float64, reasons ...string) SignalDecision {
	return SignalDecision{
		Policy:                 policy,
		Signal:                 SignalHold,
		RiskLevel:              RiskMedium,
		AccelerationMultiplier: 1,
		ConvictionScore:        conviction,
		Reasons:                reasons,
	}
}
