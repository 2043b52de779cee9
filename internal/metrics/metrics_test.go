package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automoney/internal/types"
)

func TestObserveCycleAndBatch(t *testing.T) {
	r := New()
	start := time.Now()
	r.ObserveBatch(types.BatchSummary{TemplateID: "tpl", Instances: 2, Completed: 2, StartedAt: start, FinishedAt: start.Add(2 * time.Second)})
	r.ObserveBatch(types.BatchSummary{TemplateID: "tpl", Error: &types.CycleError{Kind: types.ErrKindAnalystFailure}})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Batches.WithLabelValues("tpl", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Batches.WithLabelValues("tpl", "FAILED")))

	r.ObserveCycle(types.ExecutionCycleRecord{
		PortfolioID: "p1",
		TemplateID:  "tpl",
		Status:      types.CycleCompleted,
		Decision:    &types.SignalDecision{Policy: "conviction", Signal: types.SignalBuy, ShouldExecute: true, ConvictionScore: 58},
		Trade:       &types.TradeRecord{Side: types.TradeBuy},
	})
	r.ObserveCycle(types.ExecutionCycleRecord{
		PortfolioID: "p2",
		TemplateID:  "tpl",
		Status:      types.CycleFailed,
		Error:       &types.CycleError{Kind: types.ErrKindInsufficientFunds},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Cycles.WithLabelValues("tpl", "COMPLETED", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Cycles.WithLabelValues("tpl", "FAILED", "InsufficientFunds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Decisions.WithLabelValues("conviction", "BUY", "true")))
	assert.Equal(t, 58.0, testutil.ToFloat64(r.Conviction.WithLabelValues("p1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Trades.WithLabelValues("BUY")))
}

func TestObserveAnalystAttemptAndJobs(t *testing.T) {
	r := New()
	r.ObserveAnalystAttempt("macro", 1, time.Second, errors.New("boom"))
	r.ObserveAnalystAttempt("macro", 2, time.Second, nil)
	r.ObserveJob("valuation_refresh", nil)
	r.ObserveJob("valuation_refresh", errors.New("x"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.AnalystAttempts.WithLabelValues("macro", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AnalystAttempts.WithLabelValues("macro", "InternalError")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.JobRuns.WithLabelValues("valuation_refresh", "error")))
}

func TestHandlerServesRegistry(t *testing.T) {
	r := New()
	r.SetPortfolioValue("p1", 10500)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `automoney_portfolio_value{portfolio="p1"} 10500`))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.ObserveBatch(types.BatchSummary{})
	r.ObserveCycle(types.ExecutionCycleRecord{})
	r.ObserveJob("x", nil)
	r.SetCircuitState("x", 1)
	assert.NotNil(t, r.Handler())
}
