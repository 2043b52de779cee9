package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"automoney/internal/agent"
	"automoney/internal/agent/engine"
	"automoney/internal/analyst"
	"automoney/internal/config"
	"automoney/internal/config/loader"
	"automoney/internal/decision"
	"automoney/internal/logger"
	"automoney/internal/metrics"
	"automoney/internal/scheduler"
	"automoney/internal/store/decisionlog"
	"automoney/internal/store/gormstore"
)

type AppBuilder struct {
	cfg *config.Config

	marketStackFn func(context.Context, *config.Config) (*MarketStack, error)
	httpClient    *http.Client
}

type AppBuilderOption func(*AppBuilder)

// WithMarketStack replaces the exchange-backed market data, mainly for tests
// and offline runs.
func WithMarketStack(fn func(context.Context, *config.Config) (*MarketStack, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.marketStackFn = fn
		}
	}
}

// WithHTTPClient sets the client used by remote analysts.
func WithHTTPClient(c *http.Client) AppBuilderOption {
	return func(b *AppBuilder) {
		b.httpClient = c
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		marketStackFn: buildMarketStack,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)

	for _, p := range []string{cfg.Store.DBPath, cfg.Store.DecisionLogPath} {
		if err := ensureDir(p); err != nil {
			return nil, err
		}
	}
	store, err := gormstore.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, err
	}
	success := false
	defer func() {
		if !success {
			_ = store.Close()
		}
	}()
	dlog, err := decisionlog.NewDecisionLogStore(cfg.Store.DecisionLogPath)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	defer func() {
		if !success {
			_ = dlog.Close()
		}
	}()

	stack, err := b.marketStackFn(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := metrics.New()
	invoker := analyst.NewInvoker(analyst.Options{
		Timeout:       cfg.Analysts.Timeout(),
		MaxRetries:    cfg.Analysts.MaxRetries,
		BaseBackoff:   cfg.Analysts.BaseBackoff(),
		MaxBackoff:    cfg.Analysts.MaxBackoff(),
		RatePerMinute: cfg.Analysts.RatePerMinute,
		Burst:         cfg.Analysts.Burst,
	})
	invoker.SetAttemptHook(reg.ObserveAnalystAttempt)

	registry := decision.NewRegistry()
	catalog := newTemplateCatalog()
	orch, err := engine.NewOrchestrator(engine.Deps{
		Registry:   registry,
		Analysts:   catalog,
		Invoker:    invoker,
		Snapshots:  stack.Snapshots,
		Portfolios: store,
		Cycles:     store,
		Executor:   store,
		Observer:   decisionlog.NewDecisionLogObserver(dlog),
		Metrics:    reg,
	})
	if err != nil {
		return nil, err
	}
	runner, err := agent.NewBatchRunner(agent.BatchDeps{
		Analysts:     catalog,
		Invoker:      invoker,
		Snapshots:    stack.Snapshots,
		Portfolios:   store,
		Cycles:       store,
		Orchestrator: orch,
		BatchLog:     dlog,
		Metrics:      reg,
		Watchlist:    catalog.Watchlist,
	})
	if err != nil {
		return nil, err
	}

	sched := scheduler.New()
	valuationEvery, err := scheduler.ParseCadence(cfg.Scheduler.ValuationInterval)
	if err != nil {
		return nil, err
	}
	snapshotEvery, err := scheduler.ParseCadence(cfg.Scheduler.SnapshotInterval)
	if err != nil {
		return nil, err
	}
	jobs, err := agent.NewSystemJobs(agent.SystemJobsConfig{
		ValuationInterval: valuationEvery,
		SnapshotInterval:  snapshotEvery,
		BreakerThreshold:  cfg.Scheduler.BreakerThreshold,
		BreakerCooldown:   cfg.Scheduler.BreakerCooldown(),
	}, stack.Prices, store, reg)
	if err != nil {
		return nil, err
	}
	if err := jobs.Register(sched); err != nil {
		return nil, err
	}

	templates, err := loader.NewTemplateLoader(cfg.Templates.Path)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:          cfg,
		store:        store,
		decisionLog:  dlog,
		metrics:      reg,
		registry:     registry,
		catalog:      catalog,
		orchestrator: orch,
		runner:       runner,
		scheduler:    sched,
		templateSync: agent.NewTemplateSync(sched, runner),
		templates:    templates,
		httpClient:   b.httpClient,
		log:          logger.Named("app"),
	}
	if err := app.applyTemplates(templates.Snapshot()); err != nil {
		return nil, err
	}
	app.Summary = newStartupSummary(cfg, templates.Snapshot(), sched.Jobs())
	success = true
	return app, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(strings.TrimSpace(path))
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return nil
}
