package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"automoney/internal/types"

	"github.com/mitchellh/mapstructure"
)

// ConfigurationError reports malformed thresholds or inputs. Values are never
// silently clamped; callers get this error instead.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) CycleErrorKind() types.ErrorKind { return types.ErrKindConfiguration }

func configErr(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Params is the full decision configuration surface for one portfolio instance:
// global defaults, then template params, then instance overrides.
type Params struct {
	// Signal generator.
	ConsecutiveSignalThreshold int     `mapstructure:"consecutive_signal_threshold" toml:"consecutive_signal_threshold" yaml:"consecutive_signal_threshold"`
	AccelerationMultiplierMin  float64 `mapstructure:"acceleration_multiplier_min" toml:"acceleration_multiplier_min" yaml:"acceleration_multiplier_min"`
	AccelerationMultiplierMax  float64 `mapstructure:"acceleration_multiplier_max" toml:"acceleration_multiplier_max" yaml:"acceleration_multiplier_max"`
	AccelerationRampCycles     int     `mapstructure:"acceleration_ramp_cycles" toml:"acceleration_ramp_cycles" yaml:"acceleration_ramp_cycles"`
	FGCircuitBreakerThreshold  float64 `mapstructure:"fg_circuit_breaker_threshold" toml:"fg_circuit_breaker_threshold" yaml:"fg_circuit_breaker_threshold"`
	FGPositionAdjustThreshold  float64 `mapstructure:"fg_position_adjust_threshold" toml:"fg_position_adjust_threshold" yaml:"fg_position_adjust_threshold"`
	PriceChangeCircuitBreaker  float64 `mapstructure:"price_change_circuit_breaker" toml:"price_change_circuit_breaker" yaml:"price_change_circuit_breaker"`
	BuyThreshold               float64 `mapstructure:"buy_threshold" toml:"buy_threshold" yaml:"buy_threshold"`
	FullSellThreshold          float64 `mapstructure:"full_sell_threshold" toml:"full_sell_threshold" yaml:"full_sell_threshold"`
	MinPositionPct             float64 `mapstructure:"min_position_pct" toml:"min_position_pct" yaml:"min_position_pct"`
	MaxPositionPct             float64 `mapstructure:"max_position_pct" toml:"max_position_pct" yaml:"max_position_pct"`
	MaxHoldingFraction         float64 `mapstructure:"max_holding_fraction" toml:"max_holding_fraction" yaml:"max_holding_fraction"`
	MinSellableFraction        float64 `mapstructure:"min_sellable_fraction" toml:"min_sellable_fraction" yaml:"min_sellable_fraction"`
	HighVolatility             float64 `mapstructure:"high_volatility" toml:"high_volatility" yaml:"high_volatility"`
	ElevatedVolatility         float64 `mapstructure:"elevated_volatility" toml:"elevated_volatility" yaml:"elevated_volatility"`

	// Momentum/regime policy.
	ExtremeRegimeThreshold float64 `mapstructure:"extreme_regime_threshold" toml:"extreme_regime_threshold" yaml:"extreme_regime_threshold"`
	MinSignalStrength      float64 `mapstructure:"min_signal_strength" toml:"min_signal_strength" yaml:"min_signal_strength"`
	BaseRiskPct            float64 `mapstructure:"base_risk_pct" toml:"base_risk_pct" yaml:"base_risk_pct"`
	BaseLeverage           float64 `mapstructure:"base_leverage" toml:"base_leverage" yaml:"base_leverage"`
	MaxLeverage            float64 `mapstructure:"max_leverage" toml:"max_leverage" yaml:"max_leverage"`

	// Conviction calculator: analyst id → weight.
	Weights map[string]float64 `mapstructure:"weights" toml:"weights" yaml:"weights"`
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		ConsecutiveSignalThreshold: 30,
		AccelerationMultiplierMin:  1.1,
		AccelerationMultiplierMax:  2.0,
		AccelerationRampCycles:     100,
		FGCircuitBreakerThreshold:  20,
		FGPositionAdjustThreshold:  30,
		PriceChangeCircuitBreaker:  0.15,
		BuyThreshold:               50,
		FullSellThreshold:          45,
		MinPositionPct:             0.002,
		MaxPositionPct:             0.005,
		MaxHoldingFraction:         0.95,
		MinSellableFraction:        0.01,
		HighVolatility:             0.10,
		ElevatedVolatility:         0.05,
		ExtremeRegimeThreshold:     25,
		MinSignalStrength:          0.6,
		BaseRiskPct:                0.02,
		BaseLeverage:               1.0,
		MaxLeverage:                3.0,
	}
}

// Clone deep-copies the weight map.
func (p Params) Clone() Params {
	out := p
	if p.Weights != nil {
		out.Weights = make(map[string]float64, len(p.Weights))
		for k, v := range p.Weights {
			out.Weights[k] = v
		}
	}
	return out
}

// WithOverrides decodes an override map on top of p. Unknown keys and
// type mismatches are ConfigurationErrors; weights merge per analyst.
func (p Params) WithOverrides(overrides map[string]any) (Params, error) {
	out := p.Clone()
	if len(overrides) == 0 {
		return out, nil
	}
	var weightPatch map[string]float64
	rest := make(map[string]any, len(overrides))
	for k, v := range overrides {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "weights" {
			if err := mapstructure.WeakDecode(v, &weightPatch); err != nil {
				return p, configErr("weights", "override is not a map of numbers: %v", err)
			}
			continue
		}
		rest[key] = v
	}
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Metadata:         &md,
	})
	if err != nil {
		return p, configErr("", "override decoder: %v", err)
	}
	if err := dec.Decode(rest); err != nil {
		return p, configErr("", "invalid override: %v", err)
	}
	if len(weightPatch) > 0 {
		if out.Weights == nil {
			out.Weights = make(map[string]float64, len(weightPatch))
		}
		for id, w := range weightPatch {
			out.Weights[id] = w
		}
	}
	return out, nil
}

// ValidateSignal checks the thresholds used by the signal generator.
func (p Params) ValidateSignal() error {
	switch {
	case p.ConsecutiveSignalThreshold < 0:
		return configErr("consecutive_signal_threshold", "must be >= 0, got %d", p.ConsecutiveSignalThreshold)
	case p.AccelerationRampCycles <= 0:
		return configErr("acceleration_ramp_cycles", "must be > 0, got %d", p.AccelerationRampCycles)
	case !finitePositive(p.AccelerationMultiplierMin) || p.AccelerationMultiplierMin < 1:
		return configErr("acceleration_multiplier_min", "must be >= 1, got %v", p.AccelerationMultiplierMin)
	case !isFinite(p.AccelerationMultiplierMax) || p.AccelerationMultiplierMax < p.AccelerationMultiplierMin:
		return configErr("acceleration_multiplier_max", "must be >= acceleration_multiplier_min, got %v", p.AccelerationMultiplierMax)
	case !inRange(p.FGCircuitBreakerThreshold, 0, 100):
		return configErr("fg_circuit_breaker_threshold", "must be in [0,100], got %v", p.FGCircuitBreakerThreshold)
	case !inRange(p.FGPositionAdjustThreshold, 0, 100):
		return configErr("fg_position_adjust_threshold", "must be in [0,100], got %v", p.FGPositionAdjustThreshold)
	case !finitePositive(p.PriceChangeCircuitBreaker):
		return configErr("price_change_circuit_breaker", "must be > 0, got %v", p.PriceChangeCircuitBreaker)
	case !inRange(p.BuyThreshold, 0, 100) || p.BuyThreshold == 0:
		return configErr("buy_threshold", "must be in (0,100], got %v", p.BuyThreshold)
	case !inRange(p.FullSellThreshold, 0, 100):
		return configErr("full_sell_threshold", "must be in [0,100], got %v", p.FullSellThreshold)
	case p.FullSellThreshold >= p.BuyThreshold:
		return configErr("full_sell_threshold", "must be below buy_threshold (%v >= %v)", p.FullSellThreshold, p.BuyThreshold)
	case !finitePositive(p.MinPositionPct) || p.MinPositionPct > 1:
		return configErr("min_position_pct", "must be in (0,1], got %v", p.MinPositionPct)
	case !isFinite(p.MaxPositionPct) || p.MaxPositionPct < p.MinPositionPct || p.MaxPositionPct > 1:
		return configErr("max_position_pct", "must be in [min_position_pct,1], got %v", p.MaxPositionPct)
	case !inRange(p.MaxHoldingFraction, 0, 1):
		return configErr("max_holding_fraction", "must be in [0,1], got %v", p.MaxHoldingFraction)
	case !inRange(p.MinSellableFraction, 0, 1):
		return configErr("min_sellable_fraction", "must be in [0,1], got %v", p.MinSellableFraction)
	case !finitePositive(p.ElevatedVolatility):
		return configErr("elevated_volatility", "must be > 0, got %v", p.ElevatedVolatility)
	case !isFinite(p.HighVolatility) || p.HighVolatility < p.ElevatedVolatility:
		return configErr("high_volatility", "must be >= elevated_volatility, got %v", p.HighVolatility)
	}
	return nil
}

// ValidateWeights checks the conviction weight map.
func (p Params) ValidateWeights() error {
	if len(p.Weights) == 0 {
		return configErr("weights", "at least one analyst weight is required")
	}
	total := 0.0
	for _, id := range p.WeightIDs() {
		w := p.Weights[id]
		if !isFinite(w) || w < 0 {
			return configErr("weights."+id, "must be a finite number >= 0, got %v", w)
		}
		total += w
	}
	if total <= 0 {
		return configErr("weights", "sum must be > 0")
	}
	return nil
}

// ValidateMomentum checks the momentum/regime bounds.
func (p Params) ValidateMomentum() error {
	switch {
	case !inRange(p.ExtremeRegimeThreshold, 0, 100):
		return configErr("extreme_regime_threshold", "must be in [0,100], got %v", p.ExtremeRegimeThreshold)
	case !inRange(p.MinSignalStrength, 0, 1):
		return configErr("min_signal_strength", "must be in [0,1], got %v", p.MinSignalStrength)
	case !finitePositive(p.BaseRiskPct) || p.BaseRiskPct > 1:
		return configErr("base_risk_pct", "must be in (0,1], got %v", p.BaseRiskPct)
	case !finitePositive(p.BaseLeverage):
		return configErr("base_leverage", "must be > 0, got %v", p.BaseLeverage)
	case !isFinite(p.MaxLeverage) || p.MaxLeverage < p.BaseLeverage:
		return configErr("max_leverage", "must be >= base_leverage, got %v", p.MaxLeverage)
	}
	return nil
}

// WeightIDs lists the weighted analysts in stable order.
func (p Params) WeightIDs() []string {
	ids := make([]string, 0, len(p.Weights))
	for id := range p.Weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func finitePositive(v float64) bool { return isFinite(v) && v > 0 }

func inRange(v, lo, hi float64) bool { return isFinite(v) && v >= lo && v <= hi }

// Validate checks every threshold except the weight map, which only the
// conviction policy requires.
func (p Params) Validate() error {
	if err := p.ValidateSignal(); err != nil {
		return err
	}
	return p.ValidateMomentum()
}
