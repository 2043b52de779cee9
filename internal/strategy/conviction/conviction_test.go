package conviction

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"automoney/internal/strategy"
	"automoney/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var neutralRisk = types.RiskContext{SentimentIndex: 50}

func output(id string, kind types.AnalystKind, sig types.SignalClass, conf float64) types.AnalystOutput {
	return types.AnalystOutput{AnalystID: id, Kind: kind, Signal: sig, Confidence: conf}
}

func TestCalculateUnanimousBullish(t *testing.T) {
	c, err := New(map[string]float64{"macro": 0.5, "technical": 0.5})
	require.NoError(t, err)

	res, err := c.Calculate(map[string]types.AnalystOutput{
		"macro":     output("macro", types.KindMacro, types.SignalBullish, 0.8),
		"technical": output("technical", types.KindTechnical, types.SignalBullish, 0.8),
	}, neutralRisk)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, res.RawWeightedScore, 1e-9)
	assert.Equal(t, 1.0, res.RiskAdjustment)
	assert.Equal(t, 1.0, res.ConfidenceAdjustment)
	assert.InDelta(t, 90.0, res.Score, 1e-9)
	assert.InDelta(t, 0.4, res.Contributions["macro"], 1e-9)
}

func TestMissingAnalystDampsWithoutRenormalizing(t *testing.T) {
	c, err := New(map[string]float64{"macro": 0.5, "technical": 0.5})
	require.NoError(t, err)

	res, err := c.Calculate(map[string]types.AnalystOutput{
		"macro": output("macro", types.KindMacro, types.SignalBullish, 1.0),
	}, neutralRisk)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.RawWeightedScore, 1e-9)
	assert.InDelta(t, 75.0, res.Score, 1e-9)
}

func TestUnweightedOutputsAreIgnored(t *testing.T) {
	c, err := New(map[string]float64{"macro": 1})
	require.NoError(t, err)

	res, err := c.Calculate(map[string]types.AnalystOutput{
		"macro":  output("macro", types.KindMacro, types.SignalNeutral, 0.9),
		"random": output("random", types.KindTechnical, types.SignalBearish, 1.0),
	}, neutralRisk)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Score)
	assert.NotContains(t, res.Contributions, "random")
}

func TestRiskAdjustment(t *testing.T) {
	assert.Equal(t, 1.0, RiskAdjustment(neutralRisk))
	assert.InDelta(t, 0.85, RiskAdjustment(types.RiskContext{SentimentIndex: 50, Volatility24h: 0.06}), 1e-9)
	assert.InDelta(t, 0.70, RiskAdjustment(types.RiskContext{SentimentIndex: 50, Volatility24h: 0.12}), 1e-9)
	assert.InDelta(t, 0.70*0.80*0.90, RiskAdjustment(types.RiskContext{SentimentIndex: 95, Volatility24h: 0.2, DollarStrength: 0.02}), 1e-9)
}

func TestConfidenceAdjustmentShrinksOnDisagreement(t *testing.T) {
	assert.Equal(t, 1.0, ConfidenceAdjustment([]float64{0.7}))
	assert.Equal(t, 1.0, ConfidenceAdjustment([]float64{0.6, 0.6, 0.6}))
	assert.InDelta(t, 0.6, ConfidenceAdjustment([]float64{0.1, 0.9}), 1e-9)
	assert.Equal(t, 0.5, ConfidenceAdjustment([]float64{0, 1, 0, 1}))
}

func TestMalformedInputIsConfigurationError(t *testing.T) {
	_, err := New(map[string]float64{"macro": -1})
	var cfgErr *strategy.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	c, err := New(map[string]float64{"macro": 1})
	require.NoError(t, err)
	_, err = c.Calculate(map[string]types.AnalystOutput{
		"macro": output("macro", types.KindMacro, types.SignalBullish, 1.2),
	}, neutralRisk)
	assert.True(t, errors.As(err, &cfgErr))

	_, err = c.Calculate(nil, types.RiskContext{SentimentIndex: math.NaN()})
	assert.True(t, errors.As(err, &cfgErr))
}

func TestScoreAlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	classes := []types.SignalClass{types.SignalBullish, types.SignalBearish, types.SignalNeutral, types.SignalLong, types.SignalShort}
	ids := []string{"macro", "technical", "onchain", "regime", "momentum"}
	for i := 0; i < 500; i++ {
		weights := make(map[string]float64)
		outputs := make(map[string]types.AnalystOutput)
		for _, id := range ids {
			weights[id] = rng.Float64() * 3
			if rng.Intn(4) == 0 {
				continue
			}
			outputs[id] = output(id, types.KindTechnical, classes[rng.Intn(len(classes))], rng.Float64())
		}
		weights["macro"] += 0.01
		risk := types.RiskContext{
			SentimentIndex: rng.Float64() * 100,
			Volatility24h:  rng.Float64() * 0.3,
			PriceChange24h: rng.Float64()*0.4 - 0.2,
			DollarStrength: rng.Float64()*0.04 - 0.02,
		}
		res, err := Calculate(outputs, risk, strategy.Params{Weights: weights})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 100.0)
		assert.Greater(t, res.RiskAdjustment, 0.0)
		assert.LessOrEqual(t, res.RiskAdjustment, 1.0)
	}
}
