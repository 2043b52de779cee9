// Package engine runs one decision cycle for one portfolio instance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"automoney/internal/agent/interfaces"
	"automoney/internal/analyst"
	"automoney/internal/decision"
	"automoney/internal/logger"
	"automoney/internal/metrics"
	"automoney/internal/strategy"
	"automoney/internal/types"
)

// Deps are the collaborators of an Orchestrator. Analysts, Invoker and
// Snapshots are only needed in single-instance mode.
type Deps struct {
	Registry   *decision.Registry
	Analysts   interfaces.AnalystCatalog
	Invoker    *analyst.Invoker
	Snapshots  interfaces.SnapshotProvider
	Portfolios interfaces.PortfolioStore
	Cycles     interfaces.CycleStore
	Executor   interfaces.Executor
	Observer   decision.Observer
	Metrics    *metrics.Registry
}

// Orchestrator is safe for concurrent use across different portfolios. It
// never runs two cycles for the same portfolio on its own; callers (the
// batch runner) serialize per template.
type Orchestrator struct {
	deps  Deps
	now   func() time.Time
	newID func() string
	log   *logger.Entry
}

func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case deps.Portfolios == nil:
		return nil, errors.New("orchestrator: portfolio store is required")
	case deps.Cycles == nil:
		return nil, errors.New("orchestrator: cycle store is required")
	case deps.Executor == nil:
		return nil, errors.New("orchestrator: executor is required")
	}
	return &Orchestrator{
		deps:  deps,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   logger.Named("orchestrator"),
	}, nil
}

// SetClock replaces the time source; tests only.
func (o *Orchestrator) SetClock(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// CycleRequest asks for one cycle. With nil Outputs the orchestrator invokes
// the template's analysts itself; with nil Market it fetches a snapshot.
type CycleRequest struct {
	BatchID   string
	Portfolio types.PortfolioInstance
	Outputs   map[string]types.AnalystOutput
	Market    *types.MarketSnapshot
}

// RunCycle executes the full pipeline and always returns a finalized record.
// Errors and panics end up in the record, never in the caller.
func (o *Orchestrator) RunCycle(ctx context.Context, req CycleRequest) (rec types.ExecutionCycleRecord) {
	p := req.Portfolio
	rec = types.ExecutionCycleRecord{
		CycleID:     o.newID(),
		BatchID:     req.BatchID,
		PortfolioID: p.ID,
		TemplateID:  p.TemplateID,
		Status:      types.CycleRunning,
		StartedAt:   o.now(),
	}
	log := o.log.With("cycle", rec.CycleID, "portfolio", p.ID, "template", p.TemplateID)
	// Final writes must land even when the batch context is cancelled.
	persistCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("cycle panic: %v\n%s", r, debug.Stack())
			rec.Fail(fmt.Errorf("panic during cycle: %v", r), o.now())
		}
		if rec.Status == types.CycleRunning {
			rec.Fail(errors.New("cycle ended without a final status"), o.now())
		}
		o.save(persistCtx, log, rec)
		o.deps.Metrics.ObserveCycle(rec)
		if rec.Error != nil {
			log.Warnf("cycle FAILED kind=%s analyst=%s: %s", rec.Error.Kind, rec.Error.AnalystID, rec.Error.Message)
		} else {
			log.Infof("cycle COMPLETED signal=%s execute=%v", signalOf(rec.Decision), rec.Decision != nil && rec.Decision.ShouldExecute)
		}
	}()

	o.save(persistCtx, log, rec)

	if err := o.run(ctx, persistCtx, req, &rec, log); err != nil {
		rec.Fail(err, o.now())
		return rec
	}
	rec.Complete(o.now())
	return rec
}

func (o *Orchestrator) run(ctx, persistCtx context.Context, req CycleRequest, rec *types.ExecutionCycleRecord, log *logger.Entry) error {
	p := req.Portfolio

	// 1. policy
	binding, err := o.deps.Registry.Resolve(p.TemplateID)
	if err != nil {
		return err
	}
	rec.Policy = binding.Policy.Name()
	params, err := binding.ParamsFor(p.Overrides)
	if err != nil {
		return fmt.Errorf("portfolio %s overrides: %w", p.ID, err)
	}
	rec.Input.Overrides = p.Overrides

	// 2. inputs
	market, err := o.market(ctx, req)
	if err != nil {
		return err
	}
	summary := market.Summary()
	rec.Input.Market = &summary
	outputs := req.Outputs
	if outputs == nil {
		outputs, err = o.invokeAnalysts(ctx, p.TemplateID, market)
		if err != nil {
			return err
		}
	}
	outputs = types.CloneOutputs(outputs)
	rec.Input.AnalystOutputs = types.CloneOutputs(outputs)

	// 3. position
	quote, ok := market.Quote(p.Asset)
	if !ok || quote.Price <= 0 || math.IsNaN(quote.Price) {
		return fmt.Errorf("no market price for %s", p.Asset)
	}
	price := quote.Price
	current, err := o.deps.Portfolios.GetPortfolio(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}
	position := current.PositionFraction(price)
	value := current.ValueAt(price)
	rec.Input.Price = price
	rec.Input.PositionBefore = position
	rec.Input.PortfolioValue = value

	state, err := o.deps.Cycles.LoadRuntimeState(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load runtime state: %w", err)
	}
	state.PortfolioID = p.ID
	before := state
	rec.Input.StateBefore = &before

	// 4. decide
	started := o.now()
	d, err := decision.SafeDecide(ctx, binding.Policy, decision.Input{
		TemplateID:       p.TemplateID,
		PortfolioID:      p.ID,
		Asset:            current.Asset,
		Outputs:          outputs,
		Market:           market,
		State:            state,
		PositionFraction: position,
		PortfolioValue:   value,
		Params:           params,
	})
	if o.deps.Observer != nil {
		o.deps.Observer.AfterDecide(persistCtx, decision.Trace{
			CycleID:     rec.CycleID,
			BatchID:     rec.BatchID,
			TemplateID:  p.TemplateID,
			PortfolioID: p.ID,
			Policy:      binding.Policy.Name(),
			Decision:    d,
			Err:         err,
			Elapsed:     o.now().Sub(started),
		})
	}
	if err != nil {
		return err
	}
	rec.Decision = &d

	// 5. counters; persisted before any trade so a rejection cannot undo them
	next := decision.NextRuntimeState(state, d, params, o.now())
	next.CurrentPositionFraction = position
	if err := o.deps.Cycles.SaveRuntimeState(persistCtx, next); err != nil {
		return fmt.Errorf("save runtime state: %w", err)
	}
	rec.StateAfter = &next

	// 6. trade
	var tradeErr error
	executed := false
	if d.ShouldExecute {
		treq, ok, why := buildTrade(current, d, price)
		switch {
		case !ok:
			d.Warnings = append(d.Warnings, why)
			rec.Decision = &d
		default:
			treq.CycleID = rec.CycleID
			trade, err := o.deps.Executor.SubmitTrade(ctx, treq)
			if err != nil {
				tradeErr = fmt.Errorf("submit %s %.8f %s: %w", treq.Side, treq.Amount, treq.Asset, err)
			} else {
				rec.Trade = &trade
				executed = true
			}
		}
	}
	if d.Bracket != nil {
		entry := types.BracketHistoryEntry{
			CycleID:     rec.CycleID,
			PortfolioID: p.ID,
			Order:       *d.Bracket,
			Valid:       true,
			Executed:    executed,
			Reasons:     append([]string(nil), d.Warnings...),
			CreatedAt:   o.now(),
		}
		if err := o.deps.Cycles.AppendBracket(persistCtx, entry); err != nil {
			log.Warnf("append bracket history: %v", err)
		}
	}

	// 7. valuation
	valued, err := o.deps.Portfolios.UpdateValuation(persistCtx, p.ID, price, o.now())
	if err != nil {
		return errors.Join(tradeErr, fmt.Errorf("refresh valuation: %w", err))
	}
	o.deps.Metrics.SetPortfolioValue(p.ID, valued.TotalValue)
	if executed {
		next.CurrentPositionFraction = valued.PositionFraction(price)
		if err := o.deps.Cycles.SaveRuntimeState(persistCtx, next); err != nil {
			log.Warnf("save post-trade position: %v", err)
		}
		rec.StateAfter = &next
	}
	return tradeErr
}

func (o *Orchestrator) market(ctx context.Context, req CycleRequest) (types.MarketSnapshot, error) {
	if req.Market != nil {
		return *req.Market, nil
	}
	if o.deps.Snapshots == nil {
		return types.MarketSnapshot{}, &strategy.ConfigurationError{Field: "market", Reason: "no snapshot provider for single-instance cycles"}
	}
	snap, err := o.deps.Snapshots.Snapshot(ctx, []string{req.Portfolio.Asset})
	if err != nil {
		return types.MarketSnapshot{}, fmt.Errorf("market snapshot: %w", err)
	}
	return snap, nil
}

func (o *Orchestrator) invokeAnalysts(ctx context.Context, templateID string, snap types.MarketSnapshot) (map[string]types.AnalystOutput, error) {
	if o.deps.Analysts == nil || o.deps.Invoker == nil {
		return nil, &strategy.ConfigurationError{Field: "analysts", Reason: "no analyst invoker for single-instance cycles"}
	}
	collabs, err := o.deps.Analysts.AnalystsFor(templateID)
	if err != nil {
		return nil, err
	}
	return o.deps.Invoker.InvokeAll(ctx, collabs, snap)
}

func (o *Orchestrator) save(ctx context.Context, log *logger.Entry, rec types.ExecutionCycleRecord) {
	if err := o.deps.Cycles.SaveCycle(ctx, rec); err != nil {
		log.Errorf("persist cycle record status=%s: %v", rec.Status, err)
	}
}

// buildTrade converts a decision into base-asset units. BUY fractions are of
// portfolio value, SELL fractions of the current holding; a bracket order
// carries its own amount. A sell of the whole holding is flagged so the
// ledger closes the position exactly.
func buildTrade(p types.PortfolioInstance, d types.SignalDecision, price float64) (types.TradeRequest, bool, string) {
	req := types.TradeRequest{PortfolioID: p.ID, Asset: p.Asset, Price: price}
	switch d.Signal {
	case types.SignalBuy:
		req.Side = types.TradeBuy
		if d.Bracket != nil {
			req.Amount = d.Bracket.EntryAmount
		} else {
			req.Amount = d.PositionSizeFraction * p.ValueAt(price) / price
		}
	case types.SignalSell:
		req.Side = types.TradeSell
		switch {
		case d.Bracket != nil:
			req.Amount = math.Min(d.Bracket.EntryAmount, p.Holding)
			req.Liquidate = d.Bracket.EntryAmount >= p.Holding
		case d.PositionSizeFraction >= 1:
			req.Amount = p.Holding
			req.Liquidate = true
		default:
			req.Amount = d.PositionSizeFraction * p.Holding
		}
	default:
		return req, false, fmt.Sprintf("signal %s is not tradable", d.Signal)
	}
	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return req, false, fmt.Sprintf("computed %s amount %.8g is not positive", req.Side, req.Amount)
	}
	return req, true, ""
}

func signalOf(d *types.SignalDecision) types.Signal {
	if d == nil {
		return ""
	}
	return d.Signal
}
