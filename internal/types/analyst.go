package types

import (
	"fmt"
	"math"
	"strings"
)

// SignalClass is the directional judgment of one analyst.
type SignalClass string

const (
	SignalBullish SignalClass = "BULLISH"
	SignalBearish SignalClass = "BEARISH"
	SignalLong    SignalClass = "LONG"
	SignalShort   SignalClass = "SHORT"
	SignalNeutral SignalClass = "NEUTRAL"
)

// ParseSignalClass accepts either vocabulary, case-insensitive.
func ParseSignalClass(raw string) (SignalClass, bool) {
	switch SignalClass(strings.ToUpper(strings.TrimSpace(raw))) {
	case SignalBullish:
		return SignalBullish, true
	case SignalBearish:
		return SignalBearish, true
	case SignalLong:
		return SignalLong, true
	case SignalShort:
		return SignalShort, true
	case SignalNeutral:
		return SignalNeutral, true
	default:
		return "", false
	}
}

// Sign maps the class onto +1 / -1 / 0.
func (s SignalClass) Sign() float64 {
	switch s {
	case SignalBullish, SignalLong:
		return 1
	case SignalBearish, SignalShort:
		return -1
	default:
		return 0
	}
}

// AnalystKind discriminates the payload carried by an AnalystOutput.
type AnalystKind string

const (
	KindMacro     AnalystKind = "macro"
	KindTechnical AnalystKind = "technical"
	KindOnChain   AnalystKind = "onchain"
	KindRegime    AnalystKind = "regime"
	KindMomentum  AnalystKind = "momentum"
)

func ParseAnalystKind(raw string) (AnalystKind, bool) {
	switch AnalystKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindMacro:
		return KindMacro, true
	case KindTechnical:
		return KindTechnical, true
	case KindOnChain:
		return KindOnChain, true
	case KindRegime:
		return KindRegime, true
	case KindMomentum:
		return KindMomentum, true
	default:
		return "", false
	}
}

// AnalystOutput is one analyst's judgment for one cycle. Regime and Momentum
// are set only for the matching Kind.
type AnalystOutput struct {
	AnalystID  string             `json:"analyst_id"`
	Kind       AnalystKind        `json:"kind"`
	Signal     SignalClass        `json:"signal"`
	Confidence float64            `json:"confidence"`
	Score      float64            `json:"score"`
	Rationale  string             `json:"rationale,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`

	Regime   *RegimePayload   `json:"regime,omitempty"`
	Momentum *MomentumPayload `json:"momentum,omitempty"`
}

// RegimePayload is the market-health blend produced by a regime analyst.
type RegimePayload struct {
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components,omitempty"`
}

// MomentumPayload nominates the single best trading opportunity across assets.
type MomentumPayload struct {
	HasOpportunity  bool        `json:"has_opportunity"`
	Asset           string      `json:"asset,omitempty"`
	Direction       SignalClass `json:"direction,omitempty"`
	EntryPrice      float64     `json:"entry_price,omitempty"`
	SignalStrength  float64     `json:"signal_strength"`
	Confidence      float64     `json:"confidence"`
	StopDistanceATR float64     `json:"stop_distance_atr,omitempty"`
	RewardRisk      float64     `json:"reward_risk,omitempty"`
	ATR             float64     `json:"atr,omitempty"`
}

// Validate checks value ranges and that the payload matches Kind.
func (o AnalystOutput) Validate() error {
	if strings.TrimSpace(o.AnalystID) == "" {
		return fmt.Errorf("analyst output missing analyst_id")
	}
	if _, ok := ParseSignalClass(string(o.Signal)); !ok {
		return fmt.Errorf("analyst %s: unknown signal %q", o.AnalystID, o.Signal)
	}
	if !finite(o.Confidence) || o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("analyst %s: confidence %v outside [0,1]", o.AnalystID, o.Confidence)
	}
	if !finite(o.Score) || o.Score < -100 || o.Score > 100 {
		return fmt.Errorf("analyst %s: score %v outside [-100,100]", o.AnalystID, o.Score)
	}
	switch o.Kind {
	case KindRegime:
		if o.Regime == nil {
			return fmt.Errorf("analyst %s: regime output without regime payload", o.AnalystID)
		}
		if !finite(o.Regime.Score) || o.Regime.Score < 0 || o.Regime.Score > 100 {
			return fmt.Errorf("analyst %s: regime score %v outside [0,100]", o.AnalystID, o.Regime.Score)
		}
	case KindMomentum:
		if o.Momentum == nil {
			return fmt.Errorf("analyst %s: momentum output without momentum payload", o.AnalystID)
		}
		m := o.Momentum
		if !finite(m.SignalStrength) || m.SignalStrength < 0 || m.SignalStrength > 1 {
			return fmt.Errorf("analyst %s: signal_strength %v outside [0,1]", o.AnalystID, m.SignalStrength)
		}
		if m.HasOpportunity {
			if strings.TrimSpace(m.Asset) == "" {
				return fmt.Errorf("analyst %s: opportunity without asset", o.AnalystID)
			}
			if m.Direction.Sign() == 0 {
				return fmt.Errorf("analyst %s: opportunity direction must be LONG or SHORT", o.AnalystID)
			}
		}
	case KindMacro, KindTechnical, KindOnChain:
		if o.Regime != nil || o.Momentum != nil {
			return fmt.Errorf("analyst %s: %s output carries a foreign payload", o.AnalystID, o.Kind)
		}
	default:
		return fmt.Errorf("analyst %s: unknown kind %q", o.AnalystID, o.Kind)
	}
	return nil
}

// Clone returns a deep copy so a shared output can be handed to several instances.
func (o AnalystOutput) Clone() AnalystOutput {
	out := o
	if o.Metrics != nil {
		out.Metrics = make(map[string]float64, len(o.Metrics))
		for k, v := range o.Metrics {
			out.Metrics[k] = v
		}
	}
	if o.Regime != nil {
		r := *o.Regime
		if o.Regime.Components != nil {
			r.Components = make(map[string]float64, len(o.Regime.Components))
			for k, v := range o.Regime.Components {
				r.Components[k] = v
			}
		}
		out.Regime = &r
	}
	if o.Momentum != nil {
		m := *o.Momentum
		out.Momentum = &m
	}
	return out
}

// CloneOutputs copies an analyst output set.
func CloneOutputs(in map[string]AnalystOutput) map[string]AnalystOutput {
	if in == nil {
		return nil
	}
	out := make(map[string]AnalystOutput, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

// FirstOfKind returns the first output of the requested kind in id order.
func FirstOfKind(outputs map[string]AnalystOutput, kind AnalystKind) (AnalystOutput, bool) {
	var (
		best   AnalystOutput
		bestID string
		found  bool
	)
	for id, out := range outputs {
		if out.Kind != kind {
			continue
		}
		if !found || id < bestID {
			best, bestID, found = out, id, true
		}
	}
	return best, found
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
