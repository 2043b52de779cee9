// Package interfaces holds the collaborator ports the orchestrator and batch
// runner depend on.
package interfaces

import (
	"context"
	"time"

	"automoney/internal/analyst"
	"automoney/internal/types"
)

// AnalystCatalog resolves the analyst set configured for a template.
type AnalystCatalog interface {
	AnalystsFor(templateID string) ([]analyst.Collaborator, error)
}

// SnapshotProvider builds a read-only market snapshot for the given assets.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, assets []string) (types.MarketSnapshot, error)
}

// PriceSource returns last prices keyed by normalized asset.
type PriceSource interface {
	LatestPrices(ctx context.Context, assets []string) (map[string]float64, error)
}

// Executor submits simulated trades. It fails with types.ErrInsufficientFunds
// or types.ErrInsufficientHolding.
type Executor interface {
	SubmitTrade(ctx context.Context, req types.TradeRequest) (types.TradeRecord, error)
}

// CycleStore persists cycle records, runtime state and bracket history.
// Writes are at-least-once per cycle; SaveCycle upserts by cycle id.
type CycleStore interface {
	SaveCycle(ctx context.Context, rec types.ExecutionCycleRecord) error
	// LoadRuntimeState returns a zero state for unknown portfolios.
	LoadRuntimeState(ctx context.Context, portfolioID string) (types.PortfolioRuntimeState, error)
	SaveRuntimeState(ctx context.Context, st types.PortfolioRuntimeState) error
	AppendBracket(ctx context.Context, entry types.BracketHistoryEntry) error
}

// PortfolioStore reads instances and writes valuations.
type PortfolioStore interface {
	// ActivePortfolios lists active instances; an empty templateID lists all.
	ActivePortfolios(ctx context.Context, templateID string) ([]types.PortfolioInstance, error)
	GetPortfolio(ctx context.Context, id string) (types.PortfolioInstance, error)
	UpdateValuation(ctx context.Context, id string, price float64, at time.Time) (types.PortfolioInstance, error)
	SaveSnapshot(ctx context.Context, snap types.PortfolioSnapshot) error
}

// BatchLog records one summary per batch run.
type BatchLog interface {
	RecordBatch(ctx context.Context, summary types.BatchSummary) error
}
