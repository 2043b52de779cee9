package types

import "time"

type PortfolioStatus string

const (
	PortfolioActive PortfolioStatus = "active"
	PortfolioPaused PortfolioStatus = "paused"
)

// PortfolioInstance is one simulated portfolio bound to a strategy template.
type PortfolioInstance struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	TemplateID     string          `json:"template_id"`
	Asset          string          `json:"asset"`
	Status         PortfolioStatus `json:"status"`
	InitialCapital float64         `json:"initial_capital"`
	Cash           float64         `json:"cash"`
	Holding        float64         `json:"holding"`
	TotalValue     float64         `json:"total_value"`
	Overrides      map[string]any  `json:"overrides,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ValueAt returns cash plus the holding marked at price.
func (p PortfolioInstance) ValueAt(price float64) float64 {
	if price <= 0 {
		return p.Cash
	}
	return p.Cash + p.Holding*price
}

// PositionFraction is the share of portfolio value held in the asset.
func (p PortfolioInstance) PositionFraction(price float64) float64 {
	total := p.ValueAt(price)
	if total <= 0 || price <= 0 || p.Holding <= 0 {
		return 0
	}
	frac := p.Holding * price / total
	if frac > 1 {
		return 1
	}
	return frac
}

// PortfolioRuntimeState persists across cycles and is written only by the
// orchestrator processing that portfolio. The two counters are never both non-zero.
type PortfolioRuntimeState struct {
	PortfolioID             string     `json:"portfolio_id"`
	ConsecutiveBullishCount int        `json:"consecutive_bullish_count"`
	ConsecutiveBullishSince *time.Time `json:"consecutive_bullish_since,omitempty"`
	ConsecutiveBearishCount int        `json:"consecutive_bearish_count"`
	ConsecutiveBearishSince *time.Time `json:"consecutive_bearish_since,omitempty"`
	LastConvictionScore     float64    `json:"last_conviction_score"`
	CurrentPositionFraction float64    `json:"current_position_fraction"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// PortfolioSnapshot is a periodic valuation point.
type PortfolioSnapshot struct {
	PortfolioID string    `json:"portfolio_id"`
	Timestamp   time.Time `json:"timestamp"`
	Price       float64   `json:"price"`
	Cash        float64   `json:"cash"`
	Holding     float64   `json:"holding"`
	TotalValue  float64   `json:"total_value"`
}
