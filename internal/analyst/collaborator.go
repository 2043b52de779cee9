// Package analyst invokes external analysts and turns their responses into
// typed AnalystOutputs.
package analyst

import (
	"context"

	"automoney/internal/types"
)

// Collaborator produces one judgment per cycle from a market snapshot.
// Implementations fail with *TimeoutError or *ParseError, or any transient error.
type Collaborator interface {
	ID() string
	Kind() types.AnalystKind
	Invoke(ctx context.Context, snap types.MarketSnapshot) (types.AnalystOutput, error)
}

// Func adapts a function to Collaborator.
type Func struct {
	AnalystID   string
	AnalystKind types.AnalystKind
	Fn          func(ctx context.Context, snap types.MarketSnapshot) (types.AnalystOutput, error)
}

func (f Func) ID() string              { return f.AnalystID }
func (f Func) Kind() types.AnalystKind { return f.AnalystKind }
func (f Func) Invoke(ctx context.Context, snap types.MarketSnapshot) (types.AnalystOutput, error) {
	return f.Fn(ctx, snap)
}
