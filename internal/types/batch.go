package types

import "time"

// BracketHistoryEntry is one bracket order produced by the momentum policy,
// kept whether or not it was executed.
type BracketHistoryEntry struct {
	CycleID     string       `json:"cycle_id"`
	PortfolioID string       `json:"portfolio_id"`
	Order       BracketOrder `json:"order"`
	Valid       bool         `json:"valid"`
	Executed    bool         `json:"executed"`
	Reasons     []string     `json:"reasons,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// BatchSummary is the audit entry of one per-template batch run.
type BatchSummary struct {
	BatchID    string      `json:"batch_id"`
	TemplateID string      `json:"template_id"`
	Instances  int         `json:"instances"`
	Completed  int         `json:"completed"`
	Failed     int         `json:"failed"`
	Trades     int         `json:"trades"`
	Error      *CycleError `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Status is FAILED when the batch failed closed (analysts or market data),
// PARTIAL when some instance failed, COMPLETED otherwise.
func (b BatchSummary) Status() string {
	switch {
	case b.Error != nil:
		return "FAILED"
	case b.Failed > 0:
		return "PARTIAL"
	default:
		return "COMPLETED"
	}
}
