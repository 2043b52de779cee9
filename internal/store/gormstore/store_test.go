package gormstore

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automoney/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "automoney.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedPortfolio(t *testing.T, s *Store, id, template string, capital float64) types.PortfolioInstance {
	t.Helper()
	p, err := s.CreatePortfolio(context.Background(), types.PortfolioInstance{
		ID:             id,
		Name:           id,
		TemplateID:     template,
		Asset:          "btc",
		InitialCapital: capital,
	})
	require.NoError(t, err)
	return p
}

func TestCreateAndListPortfolios(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := seedPortfolio(t, s, "p1", "tpl-a", 10000)
	assert.Equal(t, "BTC", p.Asset)
	assert.Equal(t, 10000.0, p.Cash)
	assert.Equal(t, types.PortfolioActive, p.Status)

	seedPortfolio(t, s, "p2", "tpl-a", 5000)
	seedPortfolio(t, s, "p3", "tpl-b", 5000)
	require.NoError(t, s.SetPortfolioStatus(ctx, "p2", types.PortfolioPaused))

	active, err := s.ActivePortfolios(ctx, "tpl-a")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p1", active[0].ID)

	all, err := s.ActivePortfolios(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	listed, err := s.ListPortfolios(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	_, err = s.GetPortfolio(ctx, "missing")
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
	assert.ErrorIs(t, s.SetPortfolioStatus(ctx, "missing", types.PortfolioPaused), ErrPortfolioNotFound)
}

func TestPortfolioOverridesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreatePortfolio(ctx, types.PortfolioInstance{
		ID:             "p1",
		TemplateID:     "tpl",
		Asset:          "ETH",
		InitialCapital: 1000,
		Overrides:      map[string]any{"buy_threshold": 55.0},
	})
	require.NoError(t, err)
	got, err := s.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 55.0, got.Overrides["buy_threshold"])
}

func TestLedgerBuyAndSell(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPortfolio(t, s, "p1", "tpl", 10000)

	buy, err := s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", CycleID: "c1", Asset: "BTC", Side: types.TradeBuy, Amount: 0.1, Price: 40000})
	require.NoError(t, err)
	assert.InDelta(t, 4000, buy.Notional, 1e-9)

	p, err := s.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 6000, p.Cash, 1e-9)
	assert.InDelta(t, 0.1, p.Holding, 1e-12)

	_, err = s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", Asset: "BTC", Side: types.TradeSell, Amount: 0.1, Price: 42000})
	require.NoError(t, err)
	p, err = s.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 10200, p.Cash, 1e-9)
	assert.Zero(t, p.Holding)

	trades, err := s.ListTrades(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, types.TradeSell, trades[0].Side)
}

func TestLedgerSellsHoldingReadBackAfterIrregularBuys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("p%d", i)
		seedPortfolio(t, s, id, "tpl", 1e6)
		for j := 0; j < 3; j++ {
			_, err := s.SubmitTrade(ctx, types.TradeRequest{
				PortfolioID: id, Asset: "BTC", Side: types.TradeBuy,
				Amount: 0.01 + rng.Float64()*0.2,
				Price:  43000 + (rng.Float64()-0.5)*1000,
			})
			require.NoError(t, err)
		}
		p, err := s.GetPortfolio(ctx, id)
		require.NoError(t, err)

		sell, err := s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: id, Asset: "BTC", Side: types.TradeSell, Amount: p.Holding, Price: 43100})
		require.NoError(t, err, "portfolio %s holding %v", id, p.Holding)
		assert.InDelta(t, p.Holding, sell.Amount, 1e-12)

		p, err = s.GetPortfolio(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, p.Holding)
	}
}

func TestLedgerLiquidateClosesPosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPortfolio(t, s, "p1", "tpl", 100000)

	for _, price := range []float64{43127.91, 42988.03, 43410.57} {
		_, err := s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", Asset: "BTC", Side: types.TradeBuy, Amount: 0.123456789, Price: price})
		require.NoError(t, err)
	}
	p, err := s.GetPortfolio(ctx, "p1")
	require.NoError(t, err)

	_, err = s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", Asset: "BTC", Side: types.TradeSell, Amount: p.Holding * 1.001, Price: 43000})
	assert.ErrorIs(t, err, types.ErrInsufficientHolding)

	sell, err := s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", Asset: "BTC", Side: types.TradeSell, Amount: p.Holding, Price: 43000, Liquidate: true})
	require.NoError(t, err)
	assert.InDelta(t, p.Holding*43000, sell.Notional, 1e-6)

	after, err := s.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, after.Holding)
	assert.InDelta(t, p.Cash+p.Holding*43000, after.Cash, 1e-6)
}

func TestLedgerRejections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPortfolio(t, s, "p1", "tpl", 1000)

	_, err := s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", Asset: "BTC", Side: types.TradeBuy, Amount: 1, Price: 40000})
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	assert.Equal(t, types.ErrKindInsufficientFunds, types.ClassifyError(err).Kind)

	_, err = s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", Asset: "BTC", Side: types.TradeSell, Amount: 0.01, Price: 40000})
	assert.ErrorIs(t, err, types.ErrInsufficientHolding)

	_, err = s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", Asset: "BTC", Side: types.TradeSell, Amount: 0.01, Price: 40000, Liquidate: true})
	assert.ErrorIs(t, err, types.ErrInsufficientHolding)

	_, err = s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", Asset: "ETH", Side: types.TradeBuy, Amount: 0.01, Price: 2000})
	assert.Error(t, err)

	p, err := s.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, p.Cash)
	trades, err := s.ListTrades(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestUpdateValuationAndSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedPortfolio(t, s, "p1", "tpl", 10000)
	_, err := s.SubmitTrade(ctx, types.TradeRequest{PortfolioID: "p1", Asset: "BTC", Side: types.TradeBuy, Amount: 0.1, Price: 40000})
	require.NoError(t, err)

	at := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	p, err := s.UpdateValuation(ctx, "p1", 50000, at)
	require.NoError(t, err)
	assert.InDelta(t, 11000, p.TotalValue, 1e-9)

	require.NoError(t, s.SaveSnapshot(ctx, types.PortfolioSnapshot{PortfolioID: "p1", Timestamp: at, Price: 50000, Cash: p.Cash, Holding: p.Holding, TotalValue: p.TotalValue}))
	snaps, err := s.ListSnapshots(ctx, "p1", 5)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Timestamp.Equal(at))

	_, err = s.UpdateValuation(ctx, "p1", 0, at)
	assert.Error(t, err)
}

func TestRuntimeStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st, err := s.LoadRuntimeState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", st.PortfolioID)
	assert.Zero(t, st.ConsecutiveBullishCount)

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st.ConsecutiveBullishCount = 4
	st.ConsecutiveBullishSince = &since
	st.LastConvictionScore = 61.5
	require.NoError(t, s.SaveRuntimeState(ctx, st))

	st.ConsecutiveBullishCount = 5
	require.NoError(t, s.SaveRuntimeState(ctx, st))

	got, err := s.LoadRuntimeState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.ConsecutiveBullishCount)
	require.NotNil(t, got.ConsecutiveBullishSince)
	assert.True(t, got.ConsecutiveBullishSince.Equal(since))
	assert.Nil(t, got.ConsecutiveBearishSince)

	bad := got
	bad.ConsecutiveBearishCount = 1
	assert.Error(t, s.SaveRuntimeState(ctx, bad))
}

func TestSaveCycleUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := types.ExecutionCycleRecord{CycleID: "c1", BatchID: "b1", PortfolioID: "p1", TemplateID: "tpl", Status: types.CycleRunning, StartedAt: start}
	require.NoError(t, s.SaveCycle(ctx, rec))

	rec.Fail(types.ErrInsufficientFunds, start.Add(time.Second))
	rec.Decision = &types.SignalDecision{Signal: types.SignalBuy, ConvictionScore: 60}
	require.NoError(t, s.SaveCycle(ctx, rec))

	got, err := s.ListCycles(ctx, CycleFilter{BatchID: "b1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.CycleFailed, got[0].Status)
	require.NotNil(t, got[0].Error)
	assert.Equal(t, types.ErrKindInsufficientFunds, got[0].Error.Kind)
	assert.Equal(t, types.SignalBuy, got[0].Decision.Signal)

	assert.Error(t, s.SaveCycle(ctx, types.ExecutionCycleRecord{}))
}

func TestBracketHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	order := types.BracketOrder{Asset: "BTC", Side: types.SignalLong, EntryPrice: 43000, EntryAmount: 0.01, StopLossPrice: 42250, TakeProfitPrice: 44875, Leverage: 1}
	require.NoError(t, s.AppendBracket(ctx, types.BracketHistoryEntry{CycleID: "c1", PortfolioID: "p1", Order: order, Valid: true, Executed: true, CreatedAt: time.Now()}))
	require.NoError(t, s.AppendBracket(ctx, types.BracketHistoryEntry{CycleID: "c2", PortfolioID: "p1", Order: order, Reasons: []string{"too wide"}, CreatedAt: time.Now()}))

	got, err := s.ListBrackets(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].CycleID)
	assert.Equal(t, []string{"too wide"}, got[0].Reasons)
	assert.Equal(t, order, got[1].Order)
	assert.True(t, got[1].Executed)
}
