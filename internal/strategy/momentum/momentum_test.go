package momentum

import (
	"testing"

	"automoney/internal/strategy"
	"automoney/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longSetup() types.MomentumPayload {
	return types.MomentumPayload{
		HasOpportunity:  true,
		Asset:           "btc/usdt",
		Direction:       types.SignalLong,
		EntryPrice:      43000,
		SignalStrength:  0.8,
		Confidence:      0.7,
		StopDistanceATR: 1.5,
		RewardRisk:      2.5,
		ATR:             500,
	}
}

func TestRegimeMultiplierBands(t *testing.T) {
	assert.InDelta(t, 0.3, RegimeMultiplier(0), 1e-12)
	assert.InDelta(t, 0.3, RegimeMultiplier(10), 1e-12)
	assert.InDelta(t, 0.45, RegimeMultiplier(30), 1e-12)
	assert.InDelta(t, 0.8, RegimeMultiplier(50), 1e-12)
	assert.InDelta(t, 1.0, RegimeMultiplier(60), 1e-12)
	assert.InDelta(t, 1.15, RegimeMultiplier(70), 1e-12)
	assert.InDelta(t, 1.6, RegimeMultiplier(100), 1e-12)

	m := RegimeMultiplier(90)
	assert.Greater(t, m, 1.3)
	assert.LessOrEqual(t, m, 1.6)
	assert.InDelta(t, 1.45, m, 1e-12)

	for s := 0.0; s <= 100; s += 0.5 {
		v := RegimeMultiplier(s)
		assert.GreaterOrEqual(t, v, 0.3)
		assert.LessOrEqual(t, v, 1.6)
	}
}

func TestBuildBracketLong(t *testing.T) {
	order, err := BuildBracket("BTC", types.SignalLong, 43000, 500, 1.5, Sizing{
		PortfolioValue: 10000, RiskPct: 0.02, Leverage: 1, RewardRisk: 2.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 42250, order.StopLossPrice, 1e-9)
	assert.InDelta(t, 44875, order.TakeProfitPrice, 1e-9)
	assert.InDelta(t, 10000*0.02/750/43000, order.EntryAmount, 1e-12)
	assert.NoError(t, order.Validate())
}

func TestBuildBracketShortMirrors(t *testing.T) {
	order, err := BuildBracket("ETH", types.SignalShort, 2000, 20, 2, Sizing{
		PortfolioValue: 5000, RiskPct: 0.02, Leverage: 1, RewardRisk: 2,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2040, order.StopLossPrice, 1e-9)
	assert.InDelta(t, 1920, order.TakeProfitPrice, 1e-9)
	assert.NoError(t, order.Validate())
}

func TestBracketValidationRejects(t *testing.T) {
	tight, err := BuildBracket("BTC", types.SignalLong, 43000, 10, 1, Sizing{PortfolioValue: 1000, RiskPct: 0.02, Leverage: 1, RewardRisk: 2})
	require.NoError(t, err)
	var inv *types.InvalidBracketOrderError
	assert.ErrorAs(t, tight.Validate(), &inv)

	lowRR, err := BuildBracket("BTC", types.SignalLong, 43000, 500, 1.5, Sizing{PortfolioValue: 1000, RiskPct: 0.02, Leverage: 1, RewardRisk: 1.2})
	require.NoError(t, err)
	assert.ErrorAs(t, lowRR.Validate(), &inv)

	_, err = BuildBracket("BTC", types.SignalLong, 43000, 0, 1.5, Sizing{RewardRisk: 2})
	assert.Error(t, err)
}

func TestDecideLongInHealthyRegime(t *testing.T) {
	p := strategy.DefaultParams()
	d, err := Decide(Input{RegimeScore: 60, Momentum: longSetup(), PortfolioValue: 10000}, p)
	require.NoError(t, err)
	assert.Equal(t, types.SignalBuy, d.Signal)
	assert.True(t, d.ShouldExecute)
	require.NotNil(t, d.Bracket)
	assert.Equal(t, "BTC", d.Bracket.Asset)
	assert.InDelta(t, 42250, d.Bracket.StopLossPrice, 1e-9)
	assert.InDelta(t, 44875, d.Bracket.TakeProfitPrice, 1e-9)
	assert.InDelta(t, 1.0, d.Bracket.Leverage, 1e-12)
	assert.InDelta(t, 1.0, d.RegimeMultiplier, 1e-12)
	assert.NoError(t, d.Bracket.Validate())
}

func TestDecideHoldsWithoutOpportunity(t *testing.T) {
	p := strategy.DefaultParams()
	weak := longSetup()
	weak.SignalStrength = 0.5
	d, err := Decide(Input{RegimeScore: 70, Momentum: weak, PortfolioValue: 10000}, p)
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, d.Signal)
	assert.False(t, d.ShouldExecute)

	d, err = Decide(Input{RegimeScore: 70, Momentum: types.MomentumPayload{}, PortfolioValue: 10000}, p)
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, d.Signal)
}

func TestDecideRefusesLongInExtremeRegime(t *testing.T) {
	d, err := Decide(Input{RegimeScore: 20, Momentum: longSetup(), PortfolioValue: 10000}, strategy.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, d.Signal)
	assert.Nil(t, d.Bracket)

	short := longSetup()
	short.Direction = types.SignalShort
	short.RewardRisk = 6
	d, err = Decide(Input{RegimeScore: 20, Momentum: short, PortfolioValue: 10000, PositionFraction: 0.5}, strategy.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, types.SignalSell, d.Signal)
	assert.True(t, d.ShouldExecute)
}

func TestDecideInvalidBracketDegradesToHold(t *testing.T) {
	m := longSetup()
	m.ATR = 0
	d, err := Decide(Input{RegimeScore: 60, Momentum: m, PortfolioValue: 10000}, strategy.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, d.Signal)
	assert.False(t, d.ShouldExecute)
	assert.Nil(t, d.Bracket)

	// reward:risk 2.5 x 0.45 falls under 1.5
	d, err = Decide(Input{RegimeScore: 30, Momentum: func() types.MomentumPayload {
		s := longSetup()
		s.Direction = types.SignalShort
		return s
	}(), PortfolioValue: 10000, PositionFraction: 0.5}, strategy.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, types.SignalHold, d.Signal)
	assert.Greater(t, len(d.Reasons), 1)
}

func TestDecideUsesSnapshotATRFallback(t *testing.T) {
	m := longSetup()
	m.ATR = 0
	d, err := Decide(Input{RegimeScore: 60, Momentum: m, PortfolioValue: 10000, ATR: 500}, strategy.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, types.SignalBuy, d.Signal)
}

func TestEffectiveSizingCapsLeverage(t *testing.T) {
	p := strategy.DefaultParams()
	p.BaseLeverage = 2.8
	s := EffectiveSizing(1000, 2, 1.6, p)
	assert.Equal(t, 3.0, s.Leverage)
	assert.InDelta(t, 0.032, s.RiskPct, 1e-12)
	assert.InDelta(t, 3.2, s.RewardRisk, 1e-12)
}

func TestCompositeConviction(t *testing.T) {
	m := longSetup()
	assert.InDelta(t, (0.8*0.7*100+100)/2, CompositeConviction(m, 50), 1e-9)
	assert.InDelta(t, 60.0, CompositeConviction(types.MomentumPayload{}, 100), 1e-9)
	m.Direction = types.SignalShort
	m.SignalStrength, m.Confidence = 1, 1
	assert.Equal(t, 0.0, CompositeConviction(m, 0))
}
