package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"automoney/internal/agent"
	"automoney/internal/agent/engine"
	"automoney/internal/config"
	"automoney/internal/config/loader"
	"automoney/internal/decision"
	"automoney/internal/logger"
	"automoney/internal/metrics"
	"automoney/internal/scheduler"
	"automoney/internal/store/decisionlog"
	"automoney/internal/store/gormstore"
	"automoney/internal/types"

	"golang.org/x/sync/errgroup"
)

// App 持有已装配的组件：存储、决策注册表、批次调度与模板热加载。
type App struct {
	cfg          *config.Config
	store        *gormstore.Store
	decisionLog  *decisionlog.DecisionLogStore
	metrics      *metrics.Registry
	registry     *decision.Registry
	catalog      *templateCatalog
	orchestrator *engine.Orchestrator
	runner       *agent.BatchRunner
	scheduler    *scheduler.Scheduler
	templateSync *agent.TemplateSync
	templates    *loader.TemplateLoader
	httpClient   *http.Client
	log          *logger.Entry

	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(ctx context.Context, cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	return NewAppBuilder(cfg, opts...).Build(ctx)
}

// Run starts the scheduler, the template watcher and the optional metrics
// endpoint, and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	a.templates.Subscribe(func(snap loader.Snapshot) {
		if err := a.applyTemplates(snap); err != nil {
			a.log.Errorf("template reload rejected, keeping previous set: %v", err)
		}
	})
	if err := a.templates.Watch(); err != nil {
		a.log.Warnf("template hot reload disabled: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler start: %w", err)
		}
		<-ctx.Done()
		a.scheduler.Stop()
		return nil
	})

	if addr := strings.TrimSpace(a.cfg.App.MetricsAddr); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			a.log.Infof("metrics listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return group.Wait()
}

func (a *App) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// RunBatch runs one batch of templateID outside the schedule.
func (a *App) RunBatch(ctx context.Context, templateID string) (agent.BatchResult, error) {
	templateID = strings.TrimSpace(templateID)
	if _, ok := a.templates.Snapshot().Templates[templateID]; !ok {
		return agent.BatchResult{}, fmt.Errorf("unknown template %q", templateID)
	}
	return a.runner.Run(ctx, templateID)
}

// RunCycle runs a single portfolio on its own, fetching a fresh snapshot and
// fresh analyst outputs for it.
func (a *App) RunCycle(ctx context.Context, portfolioID string) (types.ExecutionCycleRecord, error) {
	p, err := a.store.GetPortfolio(ctx, strings.TrimSpace(portfolioID))
	if err != nil {
		return types.ExecutionCycleRecord{}, err
	}
	return a.orchestrator.RunCycle(ctx, engine.CycleRequest{Portfolio: p}), nil
}

// applyTemplates resolves snap completely before touching the registry,
// the analyst catalog or the scheduler.
func (a *App) applyTemplates(snap loader.Snapshot) error {
	plan, err := planTemplates(snap, a.cfg, a.httpClient)
	if err != nil {
		return err
	}
	if err := a.registry.Replace(plan.specs); err != nil {
		return err
	}
	a.catalog.replace(plan.analysts, plan.watchlists)
	if err := a.templateSync.Apply(plan.schedules); err != nil {
		return err
	}
	a.log.Infof("templates applied: version=%d enabled=%d", snap.Version, len(plan.specs))
	return nil
}

func (a *App) Store() *gormstore.Store {
	return a.store
}

func (a *App) DecisionLog() *decisionlog.DecisionLogStore {
	return a.decisionLog
}

func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.decisionLog != nil {
		errs = append(errs, a.decisionLog.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
