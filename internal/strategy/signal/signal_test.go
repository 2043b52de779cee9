package signal

import (
	"errors"
	"testing"

	"automoney/internal/strategy"
	"automoney/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var calm = types.RiskContext{SentimentIndex: 50}

func generate(t *testing.T, in Input) types.SignalDecision {
	t.Helper()
	d, err := Generate(in, strategy.DefaultParams())
	require.NoError(t, err)
	return d
}

func TestFullSellBelowFullSellThreshold(t *testing.T) {
	d := generate(t, Input{ConvictionScore: 44, Risk: calm, PositionFraction: 0.5})
	assert.Equal(t, types.SignalSell, d.Signal)
	assert.Equal(t, 1.0, d.PositionSizeFraction)
	assert.Equal(t, types.SizingCurrentHolding, d.SizingBasis)
	assert.True(t, d.ShouldExecute)
}

func TestPartialSellInBand(t *testing.T) {
	d := generate(t, Input{ConvictionScore: 47.5, Risk: calm, PositionFraction: 0.5})
	assert.Equal(t, types.SignalSell, d.Signal)
	assert.InDelta(t, 0.5, d.SignalStrength, 1e-9)
	assert.InDelta(t, 0.25, d.PositionSizeFraction, 1e-9)
	assert.True(t, d.ShouldExecute)
}

func TestBuyJustAboveThreshold(t *testing.T) {
	d := generate(t, Input{ConvictionScore: 51, Risk: calm})
	assert.Equal(t, types.SignalBuy, d.Signal)
	assert.Equal(t, 1.0, d.AccelerationMultiplier)
	assert.GreaterOrEqual(t, d.PositionSizeFraction, 0.002)
	assert.LessOrEqual(t, d.PositionSizeFraction, 0.005)
	assert.Equal(t, types.SizingPortfolioValue, d.SizingBasis)
	assert.Equal(t, types.RiskLow, d.RiskLevel)
	assert.True(t, d.ShouldExecute)
}

func TestCircuitBreakerForcesHoldForAnyScore(t *testing.T) {
	for score := 0.0; score <= 100; score += 2.5 {
		d := generate(t, Input{ConvictionScore: score, Risk: types.RiskContext{SentimentIndex: 19.9}, PositionFraction: 0.5})
		assert.Equal(t, types.SignalHold, d.Signal, "score %v", score)
		assert.False(t, d.ShouldExecute)
		assert.Equal(t, types.RiskHigh, d.RiskLevel)
	}
	d := generate(t, Input{ConvictionScore: 80, Risk: types.RiskContext{SentimentIndex: 50, PriceChange24h: -0.16}})
	assert.Equal(t, types.SignalHold, d.Signal)
}

func TestAccelerationRamp(t *testing.T) {
	p := strategy.DefaultParams()
	assert.Equal(t, 1.0, Acceleration(29, p))
	assert.InDelta(t, 1.1, Acceleration(30, p), 1e-9)
	assert.InDelta(t, 1.55, Acceleration(80, p), 1e-9)
	assert.InDelta(t, 2.0, Acceleration(130, p), 1e-9)
	assert.InDelta(t, 2.0, Acceleration(500, p), 1e-9)

	d := generate(t, Input{ConvictionScore: 100, Risk: calm, State: types.PortfolioRuntimeState{ConsecutiveBullishCount: 130}})
	assert.InDelta(t, 2.0, d.AccelerationMultiplier, 1e-9)
	assert.InDelta(t, 0.01, d.PositionSizeFraction, 1e-9)
}

func TestBuySizingScalesDownUnderRisk(t *testing.T) {
	p := strategy.DefaultParams()
	size, warnings := BuyPositionSize(1, 1, types.RiskContext{SentimentIndex: 25, Volatility24h: 0.12}, p)
	assert.InDelta(t, 0.005*0.5*0.8, size, 1e-12)
	assert.Len(t, warnings, 2)

	size, _ = BuyPositionSize(1, 1, types.RiskContext{SentimentIndex: 50, Volatility24h: 0.06}, p)
	assert.InDelta(t, 0.005*0.75, size, 1e-12)

	size, _ = BuyPositionSize(0, 1, types.RiskContext{SentimentIndex: 21, Volatility24h: 0.2}, p)
	assert.Equal(t, p.MinPositionPct, size)
}

func TestExecutionGating(t *testing.T) {
	d := generate(t, Input{ConvictionScore: 70, Risk: calm, PositionFraction: 0.96})
	assert.Equal(t, types.SignalBuy, d.Signal)
	assert.False(t, d.ShouldExecute)

	d = generate(t, Input{ConvictionScore: 30, Risk: calm, PositionFraction: 0.005})
	assert.Equal(t, types.SignalSell, d.Signal)
	assert.False(t, d.ShouldExecute)
	assert.NotEmpty(t, d.Warnings)
}

func TestRiskLevels(t *testing.T) {
	p := strategy.DefaultParams()
	assert.Equal(t, types.RiskLow, RiskLevel(calm, p))
	assert.Equal(t, types.RiskMedium, RiskLevel(types.RiskContext{SentimentIndex: 80}, p))
	assert.Equal(t, types.RiskMedium, RiskLevel(types.RiskContext{SentimentIndex: 50, Volatility24h: 0.07}, p))
	assert.Equal(t, types.RiskHigh, RiskLevel(types.RiskContext{SentimentIndex: 25}, p))
}

func TestGenerateIsDeterministic(t *testing.T) {
	in := Input{
		ConvictionScore:  63.3,
		Risk:             types.RiskContext{SentimentIndex: 27, Volatility24h: 0.07, PriceChange24h: 0.03},
		State:            types.PortfolioRuntimeState{ConsecutiveBullishCount: 45},
		PositionFraction: 0.4,
	}
	first := generate(t, in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, generate(t, in))
	}
}

func TestMalformedThresholdsAreRejected(t *testing.T) {
	p := strategy.DefaultParams()
	p.BuyThreshold = -10
	_, err := Generate(Input{ConvictionScore: 60, Risk: calm}, p)
	var cfgErr *strategy.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = Generate(Input{ConvictionScore: 120, Risk: calm}, strategy.DefaultParams())
	assert.True(t, errors.As(err, &cfgErr))
}
