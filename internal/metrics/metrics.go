// Package metrics exposes batch, cycle, analyst and job counters on a
// private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"automoney/internal/types"
)

// Registry holds every collector. A nil *Registry is a valid no-op.
type Registry struct {
	reg *prometheus.Registry

	Batches         *prometheus.CounterVec
	BatchDuration   *prometheus.HistogramVec
	Cycles          *prometheus.CounterVec
	Decisions       *prometheus.CounterVec
	AnalystAttempts *prometheus.CounterVec
	AnalystLatency  *prometheus.HistogramVec
	Trades          *prometheus.CounterVec
	JobRuns         *prometheus.CounterVec
	Conviction      *prometheus.GaugeVec
	PortfolioValue  *prometheus.GaugeVec
	CircuitState    *prometheus.GaugeVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automoney_batches_total",
				Help: "Batch runs by template and outcome",
			},
			[]string{"template", "status"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automoney_batch_duration_seconds",
				Help:    "Wall time of one batch run",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"template"},
		),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automoney_cycles_total",
				Help: "Finished execution cycles by status and error kind",
			},
			[]string{"template", "status", "error_kind"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automoney_decisions_total",
				Help: "Policy decisions by signal and whether they were executable",
			},
			[]string{"policy", "signal", "execute"},
		),
		AnalystAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automoney_analyst_attempts_total",
				Help: "Analyst call attempts by outcome",
			},
			[]string{"analyst", "result"},
		),
		AnalystLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automoney_analyst_attempt_seconds",
				Help:    "Duration of single analyst call attempts",
				Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"analyst"},
		),
		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automoney_trades_total",
				Help: "Simulated trades submitted by side",
			},
			[]string{"side"},
		),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automoney_job_runs_total",
				Help: "Scheduled job runs by outcome",
			},
			[]string{"job", "result"},
		),
		Conviction: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "automoney_conviction_score",
				Help: "Last conviction score per portfolio",
			},
			[]string{"portfolio"},
		),
		PortfolioValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "automoney_portfolio_value",
				Help: "Last marked total value per portfolio",
			},
			[]string{"portfolio"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "automoney_circuit_state",
				Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"breaker"},
		),
	}
	r.reg.MustRegister(
		r.Batches,
		r.BatchDuration,
		r.Cycles,
		r.Decisions,
		r.AnalystAttempts,
		r.AnalystLatency,
		r.Trades,
		r.JobRuns,
		r.Conviction,
		r.PortfolioValue,
		r.CircuitState,
	)
	return r
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

func (r *Registry) ObserveBatch(b types.BatchSummary) {
	if r == nil {
		return
	}
	r.Batches.WithLabelValues(b.TemplateID, b.Status()).Inc()
	if !b.FinishedAt.IsZero() && !b.StartedAt.IsZero() {
		r.BatchDuration.WithLabelValues(b.TemplateID).Observe(b.FinishedAt.Sub(b.StartedAt).Seconds())
	}
}

func (r *Registry) ObserveCycle(rec types.ExecutionCycleRecord) {
	if r == nil {
		return
	}
	kind := ""
	if rec.Error != nil {
		kind = string(rec.Error.Kind)
	}
	r.Cycles.WithLabelValues(rec.TemplateID, string(rec.Status), kind).Inc()
	if d := rec.Decision; d != nil {
		execute := "false"
		if d.ShouldExecute {
			execute = "true"
		}
		r.Decisions.WithLabelValues(d.Policy, string(d.Signal), execute).Inc()
		r.Conviction.WithLabelValues(rec.PortfolioID).Set(d.ConvictionScore)
	}
	if rec.Trade != nil {
		r.Trades.WithLabelValues(string(rec.Trade.Side)).Inc()
	}
}

// ObserveAnalystAttempt matches analyst.AttemptHook.
func (r *Registry) ObserveAnalystAttempt(analystID string, attempt int, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(types.ClassifyError(err).Kind)
	}
	r.AnalystAttempts.WithLabelValues(analystID, result).Inc()
	r.AnalystLatency.WithLabelValues(analystID).Observe(elapsed.Seconds())
}

func (r *Registry) ObserveJob(job string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.JobRuns.WithLabelValues(job, result).Inc()
}

func (r *Registry) SetPortfolioValue(portfolioID string, value float64) {
	if r == nil {
		return
	}
	r.PortfolioValue.WithLabelValues(portfolioID).Set(value)
}

func (r *Registry) SetCircuitState(breaker string, state int) {
	if r == nil {
		return
	}
	r.CircuitState.WithLabelValues(breaker).Set(float64(state))
}
