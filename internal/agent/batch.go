// Package agent drives portfolio instances on a schedule: one batch per
// strategy template, plus the system valuation jobs.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"automoney/internal/agent/engine"
	"automoney/internal/agent/interfaces"
	"automoney/internal/analyst"
	"automoney/internal/logger"
	"automoney/internal/metrics"
	"automoney/internal/types"
)

// ErrBatchInProgress is returned when a batch for the same template is
// still running.
var ErrBatchInProgress = errors.New("batch already running for template")

// BatchDeps are the collaborators of a BatchRunner.
type BatchDeps struct {
	Analysts     interfaces.AnalystCatalog
	Invoker      *analyst.Invoker
	Snapshots    interfaces.SnapshotProvider
	Portfolios   interfaces.PortfolioStore
	Cycles       interfaces.CycleStore
	Orchestrator *engine.Orchestrator
	BatchLog     interfaces.BatchLog
	Metrics      *metrics.Registry
	// Watchlist returns extra assets a template's analysts look at beyond the
	// instances' own assets (momentum candidates).
	Watchlist func(templateID string) []string
}

// BatchResult is the outcome of one batch: the summary plus one finalized
// record per instance.
type BatchResult struct {
	Summary types.BatchSummary
	Records []types.ExecutionCycleRecord
}

// BatchRunner runs every active instance of a template against one shared
// snapshot and one shared set of analyst outputs.
type BatchRunner struct {
	deps  BatchDeps
	now   func() time.Time
	newID func() string
	log   *logger.Entry

	mu      sync.Mutex
	running map[string]*sync.Mutex
}

func NewBatchRunner(deps BatchDeps) (*BatchRunner, error) {
	switch {
	case deps.Analysts == nil:
		return nil, errors.New("batch runner: analyst catalog is required")
	case deps.Invoker == nil:
		return nil, errors.New("batch runner: invoker is required")
	case deps.Snapshots == nil:
		return nil, errors.New("batch runner: snapshot provider is required")
	case deps.Portfolios == nil:
		return nil, errors.New("batch runner: portfolio store is required")
	case deps.Cycles == nil:
		return nil, errors.New("batch runner: cycle store is required")
	case deps.Orchestrator == nil:
		return nil, errors.New("batch runner: orchestrator is required")
	}
	return &BatchRunner{
		deps:    deps,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		log:     logger.Named("batch"),
		running: make(map[string]*sync.Mutex),
	}, nil
}

// SetClock replaces the time source; tests only.
func (b *BatchRunner) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

func (b *BatchRunner) templateLock(templateID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.running[templateID]
	if !ok {
		l = &sync.Mutex{}
		b.running[templateID] = l
	}
	return l
}

// Run executes one batch for templateID. The returned error covers only
// infrastructure problems (lock contention, loading instances); analyst and
// per-instance failures are recorded in the result.
//
// If any analyst fails after retries or the market snapshot cannot be built,
// every instance gets a FAILED record with the same error and no trade is
// placed.
func (b *BatchRunner) Run(ctx context.Context, templateID string) (BatchResult, error) {
	lock := b.templateLock(templateID)
	if !lock.TryLock() {
		return BatchResult{}, fmt.Errorf("%w: %s", ErrBatchInProgress, templateID)
	}
	defer lock.Unlock()

	summary := types.BatchSummary{
		BatchID:    b.newID(),
		TemplateID: templateID,
		StartedAt:  b.now(),
	}
	log := b.log.With("batch", summary.BatchID, "template", templateID)

	instances, err := b.deps.Portfolios.ActivePortfolios(ctx, templateID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load active portfolios for %s: %w", templateID, err)
	}
	summary.Instances = len(instances)
	if len(instances) == 0 {
		log.Debugf("no active instances, batch skipped")
		return b.finish(ctx, log, summary, nil), nil
	}
	log.Infof("batch started instances=%d", len(instances))

	outputs, snap, err := b.gather(ctx, templateID, instances)
	if err != nil {
		summary.Error = types.ClassifyError(err)
		records := b.failAll(ctx, log, summary.BatchID, instances, err)
		summary.Failed = len(records)
		return b.finish(ctx, log, summary, records), nil
	}

	records := make([]types.ExecutionCycleRecord, 0, len(instances))
	for _, inst := range instances {
		rec := b.runOne(ctx, log, engine.CycleRequest{
			BatchID:   summary.BatchID,
			Portfolio: inst,
			Outputs:   outputs,
			Market:    &snap,
		})
		records = append(records, rec)
		switch rec.Status {
		case types.CycleCompleted:
			summary.Completed++
		default:
			summary.Failed++
		}
		if rec.Trade != nil {
			summary.Trades++
		}
	}
	return b.finish(ctx, log, summary, records), nil
}

// gather builds the shared snapshot and invokes every analyst of the template.
func (b *BatchRunner) gather(ctx context.Context, templateID string, instances []types.PortfolioInstance) (map[string]types.AnalystOutput, types.MarketSnapshot, error) {
	assets := b.assets(templateID, instances)
	snap, err := b.deps.Snapshots.Snapshot(ctx, assets)
	if err != nil {
		return nil, types.MarketSnapshot{}, fmt.Errorf("market snapshot: %w", err)
	}
	collabs, err := b.deps.Analysts.AnalystsFor(templateID)
	if err != nil {
		return nil, types.MarketSnapshot{}, err
	}
	outputs, err := b.deps.Invoker.InvokeAll(ctx, collabs, snap)
	if err != nil {
		return nil, types.MarketSnapshot{}, err
	}
	return outputs, snap, nil
}

func (b *BatchRunner) assets(templateID string, instances []types.PortfolioInstance) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(a string) {
		a = types.NormalizeAsset(a)
		if a == "" {
			return
		}
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, inst := range instances {
		add(inst.Asset)
	}
	if b.deps.Watchlist != nil {
		for _, a := range b.deps.Watchlist(templateID) {
			add(a)
		}
	}
	sort.Strings(out)
	return out
}

// runOne shields the batch from anything the orchestrator lets escape.
func (b *BatchRunner) runOne(ctx context.Context, log *logger.Entry, req engine.CycleRequest) (rec types.ExecutionCycleRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("instance %s panic: %v\n%s", req.Portfolio.ID, r, debug.Stack())
			rec = b.failedRecord(req.BatchID, req.Portfolio, fmt.Errorf("panic during cycle: %v", r))
			b.persist(ctx, log, rec)
		}
	}()
	return b.deps.Orchestrator.RunCycle(ctx, req)
}

func (b *BatchRunner) failAll(ctx context.Context, log *logger.Entry, batchID string, instances []types.PortfolioInstance, cause error) []types.ExecutionCycleRecord {
	log.Errorf("batch failed closed for %d instances: %v", len(instances), cause)
	records := make([]types.ExecutionCycleRecord, 0, len(instances))
	for _, inst := range instances {
		rec := b.failedRecord(batchID, inst, cause)
		b.persist(ctx, log, rec)
		b.deps.Metrics.ObserveCycle(rec)
		records = append(records, rec)
	}
	return records
}

func (b *BatchRunner) failedRecord(batchID string, inst types.PortfolioInstance, cause error) types.ExecutionCycleRecord {
	rec := types.ExecutionCycleRecord{
		CycleID:     b.newID(),
		BatchID:     batchID,
		PortfolioID: inst.ID,
		TemplateID:  inst.TemplateID,
		Status:      types.CycleRunning,
		StartedAt:   b.now(),
	}
	rec.Fail(cause, b.now())
	return rec
}

func (b *BatchRunner) persist(ctx context.Context, log *logger.Entry, rec types.ExecutionCycleRecord) {
	if err := b.deps.Cycles.SaveCycle(context.WithoutCancel(ctx), rec); err != nil {
		log.Errorf("persist failed record for %s: %v", rec.PortfolioID, err)
	}
}

func (b *BatchRunner) finish(ctx context.Context, log *logger.Entry, summary types.BatchSummary, records []types.ExecutionCycleRecord) BatchResult {
	summary.FinishedAt = b.now()
	if summary.Instances == 0 {
		return BatchResult{Summary: summary}
	}
	if b.deps.BatchLog != nil {
		if err := b.deps.BatchLog.RecordBatch(context.WithoutCancel(ctx), summary); err != nil {
			log.Warnf("record batch summary: %v", err)
		}
	}
	b.deps.Metrics.ObserveBatch(summary)
	log.Infof("batch %s completed=%d failed=%d trades=%d in %s",
		summary.Status(), summary.Completed, summary.Failed, summary.Trades, summary.FinishedAt.Sub(summary.StartedAt))
	return BatchResult{Summary: summary, Records: records}
}
