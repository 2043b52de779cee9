package types

import (
	"errors"
	"time"
)

type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientHolding = errors.New("insufficient holding")
)

// TradeRequest is what the orchestrator hands to the execution collaborator.
type TradeRequest struct {
	PortfolioID string    `json:"portfolio_id"`
	CycleID     string    `json:"cycle_id"`
	Asset       string    `json:"asset"`
	Side        TradeSide `json:"side"`
	Amount      float64   `json:"amount"`
	Price       float64   `json:"price"`

	// Liquidate sells the whole stored holding; Amount is then informational.
	Liquidate bool `json:"liquidate,omitempty"`
}

// TradeRecord is the simulated fill returned by the execution collaborator.
type TradeRecord struct {
	ID          int64     `json:"id"`
	PortfolioID string    `json:"portfolio_id"`
	CycleID     string    `json:"cycle_id"`
	Asset       string    `json:"asset"`
	Side        TradeSide `json:"side"`
	Amount      float64   `json:"amount"`
	Price       float64   `json:"price"`
	Notional    float64   `json:"notional"`
	ExecutedAt  time.Time `json:"executed_at"`
}
