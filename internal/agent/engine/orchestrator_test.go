package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"automoney/internal/analyst"
	"automoney/internal/decision"
	"automoney/internal/store/gormstore"
	"automoney/internal/strategy"
	"automoney/internal/types"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) SubmitTrade(ctx context.Context, req types.TradeRequest) (types.TradeRecord, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(types.TradeRecord), args.Error(1)
}

type staticCatalog map[string][]analyst.Collaborator

func (c staticCatalog) AnalystsFor(templateID string) ([]analyst.Collaborator, error) {
	collabs, ok := c[templateID]
	if !ok {
		return nil, errors.New("unknown template")
	}
	return collabs, nil
}

type fixture struct {
	store    *gormstore.Store
	registry *decision.Registry
	orch     *Orchestrator
}

func newFixture(t *testing.T, exec interface {
	SubmitTrade(context.Context, types.TradeRequest) (types.TradeRecord, error)
}) *fixture {
	t.Helper()
	store, err := gormstore.Open(filepath.Join(t.TempDir(), "cycles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := decision.NewRegistry()
	p := strategy.DefaultParams()
	p.Weights = map[string]float64{"macro": 0.5, "technical": 0.5}
	require.NoError(t, reg.Bind("conv", decision.KindConviction, p))
	require.NoError(t, reg.Bind("mom", decision.KindMomentumRegime, strategy.DefaultParams()))

	if exec == nil {
		exec = store
	}
	orch, err := NewOrchestrator(Deps{
		Registry:   reg,
		Portfolios: store,
		Cycles:     store,
		Executor:   exec,
	})
	require.NoError(t, err)
	return &fixture{store: store, registry: reg, orch: orch}
}

func (f *fixture) portfolio(t *testing.T, id, template string) types.PortfolioInstance {
	t.Helper()
	p, err := f.store.CreatePortfolio(context.Background(), types.PortfolioInstance{
		ID: id, TemplateID: template, Asset: "BTC", InitialCapital: 10000,
	})
	require.NoError(t, err)
	return p
}

func market() *types.MarketSnapshot {
	return &types.MarketSnapshot{
		Timestamp:      time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		SentimentIndex: 50,
		Assets: map[string]types.AssetQuote{
			"BTC": {Asset: "BTC", Price: 43000, ATR: 500},
		},
	}
}

func bullishOutputs() map[string]types.AnalystOutput {
	return map[string]types.AnalystOutput{
		"macro":     {AnalystID: "macro", Kind: types.KindMacro, Signal: types.SignalBullish, Confidence: 0.8},
		"technical": {AnalystID: "technical", Kind: types.KindTechnical, Signal: types.SignalBullish, Confidence: 0.8},
	}
}

func TestRunCycleBuyExecutes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.portfolio(t, "p1", "conv")

	rec := f.orch.RunCycle(ctx, CycleRequest{BatchID: "b1", Portfolio: p, Outputs: bullishOutputs(), Market: market()})
	require.Nil(t, rec.Error)
	assert.Equal(t, types.CycleCompleted, rec.Status)
	assert.Equal(t, "conviction", rec.Policy)
	require.NotNil(t, rec.Decision)
	assert.Equal(t, types.SignalBuy, rec.Decision.Signal)
	assert.InDelta(t, 90, rec.Decision.ConvictionScore, 1e-9)
	require.NotNil(t, rec.Trade)
	assert.InDelta(t, 0.0044*10000/43000, rec.Trade.Amount, 1e-9)
	assert.Equal(t, 43000.0, rec.Input.Price)
	require.NotNil(t, rec.StateAfter)
	assert.Equal(t, 1, rec.StateAfter.ConsecutiveBullishCount)
	assert.InDelta(t, 0.0044, rec.StateAfter.CurrentPositionFraction, 1e-6)

	stored, err := f.store.ListCycles(ctx, gormstore.CycleFilter{BatchID: "b1"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, types.CycleCompleted, stored[0].Status)
	assert.Equal(t, rec.CycleID, stored[0].CycleID)

	st, err := f.store.LoadRuntimeState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConsecutiveBullishCount)
	assert.InDelta(t, 90, st.LastConvictionScore, 1e-9)
}

func TestRunCycleFullSellAfterSeveralBuys(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.portfolio(t, "p1", "conv")

	for i, price := range []float64{43000, 43117.37, 42871.91, 43350.53, 42990.13} {
		m := market()
		m.Assets["BTC"] = types.AssetQuote{Asset: "BTC", Price: price, ATR: 500}
		rec := f.orch.RunCycle(ctx, CycleRequest{BatchID: fmt.Sprintf("buy-%d", i), Portfolio: p, Outputs: bullishOutputs(), Market: m})
		require.Nil(t, rec.Error, "buy cycle %d", i)
		require.NotNil(t, rec.Trade, "buy cycle %d", i)
		assert.Equal(t, types.TradeBuy, rec.Trade.Side)
	}
	before, err := f.store.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	require.Greater(t, before.Holding, 0.0)

	bearish := map[string]types.AnalystOutput{
		"macro":     {AnalystID: "macro", Kind: types.KindMacro, Signal: types.SignalBearish, Confidence: 0.12},
		"technical": {AnalystID: "technical", Kind: types.KindTechnical, Signal: types.SignalBearish, Confidence: 0.12},
	}
	m := market()
	m.Assets["BTC"] = types.AssetQuote{Asset: "BTC", Price: 43208.77, ATR: 500}
	rec := f.orch.RunCycle(ctx, CycleRequest{BatchID: "sell", Portfolio: p, Outputs: bearish, Market: m})
	require.Nil(t, rec.Error)
	assert.Equal(t, types.CycleCompleted, rec.Status)
	assert.InDelta(t, 44, rec.Decision.ConvictionScore, 1e-9)
	assert.Equal(t, types.SignalSell, rec.Decision.Signal)
	assert.Equal(t, 1.0, rec.Decision.PositionSizeFraction)
	require.NotNil(t, rec.Trade)
	assert.Equal(t, types.TradeSell, rec.Trade.Side)

	after, err := f.store.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, after.Holding)
	assert.InDelta(t, before.Cash+before.Holding*43208.77, after.Cash, 1e-6)
	assert.Zero(t, rec.StateAfter.CurrentPositionFraction)
}

func TestRunCycleCountersSurviveTradeRejection(t *testing.T) {
	exec := &MockExecutor{}
	exec.On("SubmitTrade", mock.Anything, mock.AnythingOfType("types.TradeRequest")).
		Return(types.TradeRecord{}, types.ErrInsufficientFunds)
	f := newFixture(t, exec)
	ctx := context.Background()
	p := f.portfolio(t, "p1", "conv")

	rec := f.orch.RunCycle(ctx, CycleRequest{Portfolio: p, Outputs: bullishOutputs(), Market: market()})
	assert.Equal(t, types.CycleFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, types.ErrKindInsufficientFunds, rec.Error.Kind)
	assert.Nil(t, rec.Trade)
	require.NotNil(t, rec.Decision)

	st, err := f.store.LoadRuntimeState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConsecutiveBullishCount)
	exec.AssertExpectations(t)
}

func TestRunCycleRecoversPanics(t *testing.T) {
	exec := &MockExecutor{}
	exec.On("SubmitTrade", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("ledger exploded")
	})
	f := newFixture(t, exec)
	ctx := context.Background()
	p := f.portfolio(t, "p1", "conv")

	var rec types.ExecutionCycleRecord
	require.NotPanics(t, func() {
		rec = f.orch.RunCycle(ctx, CycleRequest{Portfolio: p, Outputs: bullishOutputs(), Market: market()})
	})
	assert.Equal(t, types.CycleFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, types.ErrKindInternal, rec.Error.Kind)
	assert.Contains(t, rec.Error.Message, "ledger exploded")

	stored, err := f.store.ListCycles(ctx, gormstore.CycleFilter{PortfolioID: "p1"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, types.CycleFailed, stored[0].Status)
}

func TestRunCycleHoldDoesNotTrade(t *testing.T) {
	exec := &MockExecutor{}
	f := newFixture(t, exec)
	p := f.portfolio(t, "p1", "conv")
	m := market()
	m.SentimentIndex = 10

	rec := f.orch.RunCycle(context.Background(), CycleRequest{Portfolio: p, Outputs: bullishOutputs(), Market: m})
	assert.Equal(t, types.CycleCompleted, rec.Status)
	assert.Equal(t, types.SignalHold, rec.Decision.Signal)
	assert.Zero(t, rec.StateAfter.ConsecutiveBullishCount)
	exec.AssertNotCalled(t, "SubmitTrade", mock.Anything, mock.Anything)
}

func TestRunCycleSingleInstanceAnalystFailure(t *testing.T) {
	f := newFixture(t, nil)
	inv := analyst.NewInvoker(analyst.Options{Timeout: time.Second, MaxRetries: 3})
	inv.SetSleeper(func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil })
	calls := 0
	f.orch.deps.Invoker = inv
	f.orch.deps.Analysts = staticCatalog{"conv": {
		analyst.Func{AnalystID: "macro", AnalystKind: types.KindMacro, Fn: func(ctx context.Context, snap types.MarketSnapshot) (types.AnalystOutput, error) {
			calls++
			return types.AnalystOutput{}, errors.New("upstream 503")
		}},
	}}
	p := f.portfolio(t, "p1", "conv")

	rec := f.orch.RunCycle(context.Background(), CycleRequest{Portfolio: p, Market: market()})
	assert.Equal(t, types.CycleFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, types.ErrKindAnalystFailure, rec.Error.Kind)
	assert.Equal(t, "macro", rec.Error.AnalystID)
	assert.Equal(t, 3, rec.Error.Retries)
	assert.Equal(t, 4, calls)
	assert.Nil(t, rec.Decision)

	trades, err := f.store.ListTrades(context.Background(), "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestRunCycleSingleInstanceFetchesAnalysts(t *testing.T) {
	f := newFixture(t, nil)
	inv := analyst.NewInvoker(analyst.Options{Timeout: time.Second})
	outs := bullishOutputs()
	f.orch.deps.Invoker = inv
	f.orch.deps.Analysts = staticCatalog{"conv": {
		analyst.Func{AnalystID: "macro", AnalystKind: types.KindMacro, Fn: func(context.Context, types.MarketSnapshot) (types.AnalystOutput, error) {
			return outs["macro"], nil
		}},
		analyst.Func{AnalystID: "technical", AnalystKind: types.KindTechnical, Fn: func(context.Context, types.MarketSnapshot) (types.AnalystOutput, error) {
			return outs["technical"], nil
		}},
	}}
	p := f.portfolio(t, "p1", "conv")

	rec := f.orch.RunCycle(context.Background(), CycleRequest{Portfolio: p, Market: market()})
	require.Nil(t, rec.Error)
	assert.Len(t, rec.Input.AnalystOutputs, 2)
	assert.NotNil(t, rec.Trade)
}

func TestRunCycleMomentumBracket(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.portfolio(t, "p1", "mom")
	outputs := map[string]types.AnalystOutput{
		"regime": {AnalystID: "regime", Kind: types.KindRegime, Signal: types.SignalNeutral, Confidence: 0.7, Regime: &types.RegimePayload{Score: 60}},
		"momentum": {AnalystID: "momentum", Kind: types.KindMomentum, Signal: types.SignalLong, Confidence: 0.8, Momentum: &types.MomentumPayload{
			HasOpportunity: true, Asset: "BTC", Direction: types.SignalLong, EntryPrice: 43000,
			SignalStrength: 0.8, Confidence: 0.8, StopDistanceATR: 1.5, RewardRisk: 2.5, ATR: 500,
		}},
	}

	rec := f.orch.RunCycle(ctx, CycleRequest{Portfolio: p, Outputs: outputs, Market: market()})
	require.Nil(t, rec.Error)
	require.NotNil(t, rec.Decision.Bracket)
	assert.InDelta(t, 42250, rec.Decision.Bracket.StopLossPrice, 1e-9)
	assert.InDelta(t, 44875, rec.Decision.Bracket.TakeProfitPrice, 1e-9)
	require.NotNil(t, rec.Trade)
	assert.InDelta(t, rec.Decision.Bracket.EntryAmount, rec.Trade.Amount, 1e-12)

	history, err := f.store.ListBrackets(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Executed)
	assert.Equal(t, rec.CycleID, history[0].CycleID)
}

func TestRunCycleUnknownTemplate(t *testing.T) {
	f := newFixture(t, nil)
	p := f.portfolio(t, "p1", "nope")
	rec := f.orch.RunCycle(context.Background(), CycleRequest{Portfolio: p, Outputs: bullishOutputs(), Market: market()})
	assert.Equal(t, types.CycleFailed, rec.Status)
	assert.Equal(t, types.ErrKindConfiguration, rec.Error.Kind)
}

func TestRunCycleBadOverridesFail(t *testing.T) {
	f := newFixture(t, nil)
	p := f.portfolio(t, "p1", "conv")
	p.Overrides = map[string]any{"buy_threshold": -5}
	rec := f.orch.RunCycle(context.Background(), CycleRequest{Portfolio: p, Outputs: bullishOutputs(), Market: market()})
	assert.Equal(t, types.CycleFailed, rec.Status)
	assert.Equal(t, types.ErrKindConfiguration, rec.Error.Kind)
}

func TestBuildTradeSizing(t *testing.T) {
	p := types.PortfolioInstance{ID: "p1", Asset: "BTC", Cash: 5000, Holding: 0.2}

	req, ok, _ := buildTrade(p, types.SignalDecision{Signal: types.SignalSell, PositionSizeFraction: 1}, 25000)
	require.True(t, ok)
	assert.Equal(t, types.TradeSell, req.Side)
	assert.Equal(t, 0.2, req.Amount)
	assert.True(t, req.Liquidate)

	req, ok, _ = buildTrade(p, types.SignalDecision{Signal: types.SignalSell, PositionSizeFraction: 0.25}, 25000)
	require.True(t, ok)
	assert.InDelta(t, 0.05, req.Amount, 1e-12)
	assert.False(t, req.Liquidate)

	req, ok, _ = buildTrade(p, types.SignalDecision{Signal: types.SignalBuy, PositionSizeFraction: 0.005}, 25000)
	require.True(t, ok)
	assert.InDelta(t, 0.005*10000/25000, req.Amount, 1e-12)

	_, ok, why := buildTrade(p, types.SignalDecision{Signal: types.SignalHold}, 25000)
	assert.False(t, ok)
	assert.NotEmpty(t, why)
}
