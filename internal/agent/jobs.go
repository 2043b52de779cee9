package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"automoney/internal/agent/interfaces"
	"automoney/internal/logger"
	"automoney/internal/metrics"
	"automoney/internal/pkg/circuit"
	"automoney/internal/scheduler"
	"automoney/internal/types"
)

const (
	JobValuationRefresh  = "valuation_refresh"
	JobPortfolioSnapshot = "portfolio_snapshot"
)

// SystemJobsConfig sets the cadence of the fixed system jobs and the breaker
// guarding their price feed.
type SystemJobsConfig struct {
	ValuationInterval time.Duration
	SnapshotInterval  time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

func (c SystemJobsConfig) withDefaults() SystemJobsConfig {
	if c.ValuationInterval <= 0 {
		c.ValuationInterval = 5 * time.Minute
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = time.Hour
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 10 * time.Minute
	}
	return c
}

// SystemJobs revalues every active portfolio and records periodic snapshots.
// Each job has its own breaker so one failing feed does not hammer the
// exchange every tick.
type SystemJobs struct {
	cfg        SystemJobsConfig
	prices     interfaces.PriceSource
	portfolios interfaces.PortfolioStore
	metrics    *metrics.Registry
	valuation  *circuit.CircuitBreaker
	snapshot   *circuit.CircuitBreaker
	now        func() time.Time
	log        *logger.Entry
}

func NewSystemJobs(cfg SystemJobsConfig, prices interfaces.PriceSource, portfolios interfaces.PortfolioStore, m *metrics.Registry) (*SystemJobs, error) {
	if prices == nil || portfolios == nil {
		return nil, errors.New("system jobs: price source and portfolio store are required")
	}
	cfg = cfg.withDefaults()
	j := &SystemJobs{
		cfg:        cfg,
		prices:     prices,
		portfolios: portfolios,
		metrics:    m,
		valuation:  circuit.NewCircuitBreaker(JobValuationRefresh, cfg.BreakerThreshold, cfg.BreakerCooldown),
		snapshot:   circuit.NewCircuitBreaker(JobPortfolioSnapshot, cfg.BreakerThreshold, cfg.BreakerCooldown),
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.Named("jobs"),
	}
	for _, cb := range []*circuit.CircuitBreaker{j.valuation, j.snapshot} {
		m.SetCircuitState(cb.Name(), int(cb.State()))
		cb.SetStateChangeHandler(func(name string, from, to circuit.State) {
			m.SetCircuitState(name, int(to))
		})
	}
	return j, nil
}

// SetClock replaces the time source of the jobs and their breakers; tests only.
func (j *SystemJobs) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	j.now = now
	j.valuation.SetClock(now)
	j.snapshot.SetClock(now)
}

// Register adds both jobs to s.
func (j *SystemJobs) Register(s *scheduler.Scheduler) error {
	if err := s.Every(JobValuationRefresh, j.cfg.ValuationInterval, j.task(JobValuationRefresh, j.RefreshValuations)); err != nil {
		return err
	}
	return s.Every(JobPortfolioSnapshot, j.cfg.SnapshotInterval, j.task(JobPortfolioSnapshot, j.TakeSnapshots))
}

func (j *SystemJobs) task(name string, fn func(context.Context) error) scheduler.Task {
	return func(ctx context.Context) {
		err := fn(ctx)
		j.metrics.ObserveJob(name, err)
		switch {
		case errors.Is(err, circuit.ErrOpen):
			j.log.Debugf("%s skipped: %v", name, err)
		case err != nil:
			j.log.Warnf("%s failed: %v", name, err)
		}
	}
}

// RefreshValuations marks every active portfolio to the latest price.
func (j *SystemJobs) RefreshValuations(ctx context.Context) error {
	return j.valuation.Execute(func() error {
		return j.forEachPriced(ctx, func(p types.PortfolioInstance, price float64, at time.Time) error {
			valued, err := j.portfolios.UpdateValuation(ctx, p.ID, price, at)
			if err != nil {
				return err
			}
			j.metrics.SetPortfolioValue(p.ID, valued.TotalValue)
			return nil
		})
	})
}

// TakeSnapshots revalues every active portfolio and stores a snapshot row.
func (j *SystemJobs) TakeSnapshots(ctx context.Context) error {
	return j.snapshot.Execute(func() error {
		return j.forEachPriced(ctx, func(p types.PortfolioInstance, price float64, at time.Time) error {
			valued, err := j.portfolios.UpdateValuation(ctx, p.ID, price, at)
			if err != nil {
				return err
			}
			return j.portfolios.SaveSnapshot(ctx, types.PortfolioSnapshot{
				PortfolioID: valued.ID,
				Timestamp:   at,
				Price:       price,
				Cash:        valued.Cash,
				Holding:     valued.Holding,
				TotalValue:  valued.TotalValue,
			})
		})
	})
}

// forEachPriced fetches prices once for all assets. A feed error trips the
// breaker; per-portfolio store errors are joined and also count as failure.
func (j *SystemJobs) forEachPriced(ctx context.Context, fn func(types.PortfolioInstance, float64, time.Time) error) error {
	list, err := j.portfolios.ActivePortfolios(ctx, "")
	if err != nil {
		return fmt.Errorf("list active portfolios: %w", err)
	}
	if len(list) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	assets := make([]string, 0, len(list))
	for _, p := range list {
		if _, ok := seen[p.Asset]; ok {
			continue
		}
		seen[p.Asset] = struct{}{}
		assets = append(assets, p.Asset)
	}
	prices, err := j.prices.LatestPrices(ctx, assets)
	if err != nil {
		return fmt.Errorf("latest prices: %w", err)
	}
	at := j.now()
	var errs []error
	for _, p := range list {
		price, ok := prices[types.NormalizeAsset(p.Asset)]
		if !ok || price <= 0 {
			errs = append(errs, fmt.Errorf("no price for %s (portfolio %s)", p.Asset, p.ID))
			continue
		}
		if err := fn(p, price, at); err != nil {
			errs = append(errs, fmt.Errorf("portfolio %s: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}
