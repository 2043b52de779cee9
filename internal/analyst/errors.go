package analyst

import (
	"fmt"
	"time"

	"automoney/internal/types"
)

// TimeoutError is returned when one analyst call outlives its deadline.
type TimeoutError struct {
	AnalystID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analyst %s timed out after %s", e.AnalystID, e.Timeout)
}

func (e *TimeoutError) CycleErrorKind() types.ErrorKind { return types.ErrKindAnalystTimeout }
func (e *TimeoutError) FailedAnalyst() string           { return e.AnalystID }
func (e *TimeoutError) RetryCount() int                 { return 0 }

// ParseError is returned when an analyst response cannot be turned into a
// valid AnalystOutput. It is never papered over with a fabricated output.
type ParseError struct {
	AnalystID string
	Reason    string
	Raw       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("analyst %s response unparseable: %s", e.AnalystID, e.Reason)
}

func (e *ParseError) CycleErrorKind() types.ErrorKind { return types.ErrKindAnalystParse }
func (e *ParseError) FailedAnalyst() string           { return e.AnalystID }
func (e *ParseError) RetryCount() int                 { return 0 }

// FailureError is returned once every retry has been spent.
type FailureError struct {
	AnalystID string
	Retries   int
	Err       error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("analyst %s failed after %d retries: %v", e.AnalystID, e.Retries, e.Err)
}

func (e *FailureError) Unwrap() error                   { return e.Err }
func (e *FailureError) CycleErrorKind() types.ErrorKind { return types.ErrKindAnalystFailure }
func (e *FailureError) FailedAnalyst() string           { return e.AnalystID }
func (e *FailureError) RetryCount() int                 { return e.Retries }
