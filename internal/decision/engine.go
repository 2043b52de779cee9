// Package decision binds strategy templates to decision policies and owns the
// consecutive-signal update law.
package decision

import (
	"context"
	"fmt"
	"runtime/debug"

	"automoney/internal/strategy"
	"automoney/internal/types"
)

// Input is everything a policy may read for one portfolio in one cycle.
type Input struct {
	TemplateID       string
	PortfolioID      string
	Asset            string
	Outputs          map[string]types.AnalystOutput
	Market           types.MarketSnapshot
	State            types.PortfolioRuntimeState
	PositionFraction float64
	PortfolioValue   float64
	Params           strategy.Params
}

// Policy turns analyst outputs into a signal decision. Implementations must
// be pure with respect to Input.
type Policy interface {
	Name() string
	Decide(ctx context.Context, in Input) (types.SignalDecision, error)
}

// InternalDecisionError wraps an unexpected panic inside a policy.
type InternalDecisionError struct {
	Policy string
	Cause  any
	Stack  string
}

func (e *InternalDecisionError) Error() string {
	return fmt.Sprintf("internal decision error in %s: %v", e.Policy, e.Cause)
}

func (e *InternalDecisionError) CycleErrorKind() types.ErrorKind { return types.ErrKindInternalDecision }

// SafeDecide runs p.Decide and converts a panic into InternalDecisionError.
func SafeDecide(ctx context.Context, p Policy, in Input) (d types.SignalDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = types.SignalDecision{}
			err = &InternalDecisionError{Policy: p.Name(), Cause: r, Stack: string(debug.Stack())}
		}
	}()
	d, err = p.Decide(ctx, in)
	if err == nil && d.Policy == "" {
		d.Policy = p.Name()
	}
	return d, err
}
