// Package conviction folds weighted analyst outputs and market-risk context
// into a single 0..100 bullishness score.
package conviction

import (
	"math"
	"sort"

	"automoney/internal/strategy"
	"automoney/internal/types"
)

const (
	highVolatility     = 0.10
	elevatedVolatility = 0.05
	extremeFearIndex   = 10.0
	extremeGreedIndex  = 90.0
	strongDollar       = 0.01

	highVolatilityFactor     = 0.70
	elevatedVolatilityFactor = 0.85
	extremeSentimentFactor   = 0.80
	strongDollarFactor       = 0.90
	minRiskAdjustment        = 0.30

	minConfidenceAdjustment = 0.5
)

// Calculator holds the per-template analyst weights. Weights need not sum to
// one; each contribution is divided by the sum of all configured weights, so
// a missing analyst damps the score instead of being renormalized away.
type Calculator struct {
	weights map[string]float64
	total   float64
}

// New validates the weight map.
func New(weights map[string]float64) (*Calculator, error) {
	p := strategy.Params{Weights: weights}
	if err := p.ValidateWeights(); err != nil {
		return nil, err
	}
	c := &Calculator{weights: make(map[string]float64, len(weights))}
	for id, w := range weights {
		c.weights[id] = w
		c.total += w
	}
	return c, nil
}

// Calculate is deterministic and side-effect free. Outputs from analysts
// without a configured weight are ignored.
func (c *Calculator) Calculate(outputs map[string]types.AnalystOutput, risk types.RiskContext) (types.ConvictionResult, error) {
	if err := checkRisk(risk); err != nil {
		return types.ConvictionResult{}, err
	}
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		if _, ok := c.weights[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	res := types.ConvictionResult{Contributions: make(map[string]float64, len(ids))}
	confidences := make([]float64, 0, len(ids))
	for _, id := range ids {
		out := outputs[id]
		if !finite(out.Confidence) || out.Confidence < 0 || out.Confidence > 1 {
			return types.ConvictionResult{}, &strategy.ConfigurationError{Field: "confidence." + id, Reason: "must be in [0,1]"}
		}
		contrib := out.Signal.Sign() * out.Confidence * c.weights[id] / c.total
		res.Contributions[id] = contrib
		res.RawWeightedScore += contrib
		confidences = append(confidences, out.Confidence)
	}
	res.RiskAdjustment = RiskAdjustment(risk)
	res.ConfidenceAdjustment = ConfidenceAdjustment(confidences)
	res.Score = clamp((res.RawWeightedScore*res.RiskAdjustment*res.ConfidenceAdjustment+1)*50, 0, 100)
	return res, nil
}

// Calculate builds a calculator from params and runs it once.
func Calculate(outputs map[string]types.AnalystOutput, risk types.RiskContext, params strategy.Params) (types.ConvictionResult, error) {
	c, err := New(params.Weights)
	if err != nil {
		return types.ConvictionResult{}, err
	}
	return c.Calculate(outputs, risk)
}

// RiskAdjustment shrinks the raw score under volatility, sentiment or
// dollar-strength extremes. Result is in [0.30, 1].
func RiskAdjustment(risk types.RiskContext) float64 {
	factor := 1.0
	vol := math.Abs(risk.Volatility24h)
	switch {
	case vol > highVolatility:
		factor *= highVolatilityFactor
	case vol > elevatedVolatility:
		factor *= elevatedVolatilityFactor
	}
	if risk.SentimentIndex <= extremeFearIndex || risk.SentimentIndex >= extremeGreedIndex {
		factor *= extremeSentimentFactor
	}
	if risk.DollarStrength > strongDollar {
		factor *= strongDollarFactor
	}
	return math.Max(factor, minRiskAdjustment)
}

// ConfidenceAdjustment is 1 minus the population standard deviation of the
// confidences, clamped to [0.5, 1]. Fewer than two analysts cannot disagree.
func ConfidenceAdjustment(confidences []float64) float64 {
	if len(confidences) < 2 {
		return 1
	}
	mean := 0.0
	for _, c := range confidences {
		mean += c
	}
	mean /= float64(len(confidences))
	variance := 0.0
	for _, c := range confidences {
		d := c - mean
		variance += d * d
	}
	variance /= float64(len(confidences))
	return clamp(1-math.Sqrt(variance), minConfidenceAdjustment, 1)
}

func checkRisk(risk types.RiskContext) error {
	switch {
	case !finite(risk.SentimentIndex) || risk.SentimentIndex < 0 || risk.SentimentIndex > 100:
		return &strategy.ConfigurationError{Field: "sentiment_index", Reason: "must be in [0,100]"}
	case !finite(risk.Volatility24h):
		return &strategy.ConfigurationError{Field: "volatility_24h", Reason: "must be finite"}
	case !finite(risk.PriceChange24h):
		return &strategy.ConfigurationError{Field: "price_change_24h", Reason: "must be finite"}
	case !finite(risk.DollarStrength):
		return &strategy.ConfigurationError{Field: "dollar_strength", Reason: "must be finite"}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
