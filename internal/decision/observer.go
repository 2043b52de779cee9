package decision

import (
	"context"
	"time"

	"automoney/internal/types"
)

// Observer is notified after every policy evaluation, successful or not.
type Observer interface {
	AfterDecide(ctx context.Context, trace Trace)
}

// Trace describes one policy evaluation.
type Trace struct {
	CycleID     string
	BatchID     string
	TemplateID  string
	PortfolioID string
	Policy      string
	Decision    types.SignalDecision
	Err         error
	Elapsed     time.Duration
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, trace Trace)

func (f ObserverFunc) AfterDecide(ctx context.Context, trace Trace) { f(ctx, trace) }
