package types

import (
	"context"
	"errors"
	"time"
)

type CycleStatus string

const (
	CycleRunning   CycleStatus = "RUNNING"
	CycleCompleted CycleStatus = "COMPLETED"
	CycleFailed    CycleStatus = "FAILED"
)

// ErrorKind is the failure taxonomy recorded on FAILED cycles.
type ErrorKind string

const (
	ErrKindAnalystTimeout      ErrorKind = "AnalystTimeout"
	ErrKindAnalystFailure      ErrorKind = "AnalystFailure"
	ErrKindAnalystParse        ErrorKind = "AnalystParseError"
	ErrKindInvalidBracket      ErrorKind = "InvalidBracketOrder"
	ErrKindInsufficientFunds   ErrorKind = "InsufficientFunds"
	ErrKindInsufficientHolding ErrorKind = "InsufficientHolding"
	ErrKindConfiguration       ErrorKind = "ConfigurationError"
	ErrKindInternalDecision    ErrorKind = "InternalDecisionError"
	ErrKindInternal            ErrorKind = "InternalError"
)

// CycleError is the structured error stored on an ExecutionCycleRecord.
type CycleError struct {
	Kind      ErrorKind `json:"kind"`
	AnalystID string    `json:"analyst_id,omitempty"`
	Retries   int       `json:"retries,omitempty"`
	Message   string    `json:"message"`
}

// Kinded is implemented by errors that know their taxonomy kind.
type Kinded interface {
	error
	CycleErrorKind() ErrorKind
}

// AnalystFailureDetail is implemented by analyst errors carrying the failing id.
type AnalystFailureDetail interface {
	error
	FailedAnalyst() string
	RetryCount() int
}

// ClassifyError maps an error chain to a CycleError.
func ClassifyError(err error) *CycleError {
	if err == nil {
		return nil
	}
	out := &CycleError{Kind: ErrKindInternal, Message: err.Error()}
	var kinded Kinded
	if errors.As(err, &kinded) {
		out.Kind = kinded.CycleErrorKind()
	}
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		out.Kind = ErrKindInsufficientFunds
	case errors.Is(err, ErrInsufficientHolding):
		out.Kind = ErrKindInsufficientHolding
	case out.Kind == ErrKindInternal && errors.Is(err, context.DeadlineExceeded):
		out.Kind = ErrKindAnalystTimeout
	}
	var detail AnalystFailureDetail
	if errors.As(err, &detail) {
		out.AnalystID = detail.FailedAnalyst()
		out.Retries = detail.RetryCount()
	}
	return out
}

// CycleInput is the snapshot of everything a cycle decided on.
type CycleInput struct {
	AnalystOutputs map[string]AnalystOutput `json:"analyst_outputs,omitempty"`
	Market         *MarketSnapshot          `json:"market,omitempty"`
	StateBefore    *PortfolioRuntimeState   `json:"state_before,omitempty"`
	Price          float64                  `json:"price,omitempty"`
	PositionBefore float64                  `json:"position_before,omitempty"`
	PortfolioValue float64                  `json:"portfolio_value,omitempty"`
	Overrides      map[string]any           `json:"overrides,omitempty"`
}

// ExecutionCycleRecord is the append-only audit record of one orchestrator run.
type ExecutionCycleRecord struct {
	CycleID     string                 `json:"cycle_id"`
	BatchID     string                 `json:"batch_id,omitempty"`
	PortfolioID string                 `json:"portfolio_id"`
	TemplateID  string                 `json:"template_id"`
	Policy      string                 `json:"policy,omitempty"`
	Status      CycleStatus            `json:"status"`
	Input       CycleInput             `json:"input"`
	Decision    *SignalDecision        `json:"decision,omitempty"`
	StateAfter  *PortfolioRuntimeState `json:"state_after,omitempty"`
	Trade       *TradeRecord           `json:"trade,omitempty"`
	Error       *CycleError            `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
}

// Fail finalizes the record as FAILED with the classified error.
func (r *ExecutionCycleRecord) Fail(err error, at time.Time) {
	r.Status = CycleFailed
	r.Error = ClassifyError(err)
	r.FinishedAt = &at
}

// Complete finalizes the record as COMPLETED.
func (r *ExecutionCycleRecord) Complete(at time.Time) {
	r.Status = CycleCompleted
	r.Error = nil
	r.FinishedAt = &at
}
