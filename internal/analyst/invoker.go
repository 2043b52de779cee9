package analyst

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"automoney/internal/logger"
	"automoney/internal/types"
)

const (
	defaultTimeout     = 5 * time.Minute
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Options configures timeout, retry and rate limiting for analyst calls.
type Options struct {
	Timeout       time.Duration
	MaxRetries    int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	RatePerMinute float64
	Burst         int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = defaultBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

// DefaultOptions is a 5 minute timeout and 3 retries backing off 1s, 2s, 4s.
func DefaultOptions() Options {
	return Options{MaxRetries: defaultMaxRetries}.withDefaults()
}

// AttemptHook observes every single call attempt.
type AttemptHook func(analystID string, attempt int, elapsed time.Duration, err error)

// Invoker wraps collaborators with a per-call timeout, bounded retries with
// exponential backoff, and a shared rate limiter.
type Invoker struct {
	opts    Options
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) bool
	hook    AttemptHook
	log     *logger.Entry
}

func NewInvoker(opts Options) *Invoker {
	opts = opts.withDefaults()
	inv := &Invoker{
		opts:  opts,
		sleep: sleepWithContext,
		log:   logger.Named("analyst"),
	}
	if opts.RatePerMinute > 0 {
		inv.limiter = rate.NewLimiter(rate.Limit(opts.RatePerMinute/60.0), opts.Burst)
	}
	return inv
}

// SetSleeper replaces the backoff sleep; tests use it to skip real waits.
func (i *Invoker) SetSleeper(fn func(ctx context.Context, d time.Duration) bool) {
	if fn != nil {
		i.sleep = fn
	}
}

func (i *Invoker) SetAttemptHook(h AttemptHook) { i.hook = h }

func (i *Invoker) Options() Options { return i.opts }

// Invoke calls c until it succeeds or MaxRetries retries are spent. Timeouts,
// parse failures and transient errors are all retried. The terminal error is
// a *FailureError wrapping the last attempt's error.
func (i *Invoker) Invoke(ctx context.Context, c Collaborator, snap types.MarketSnapshot) (types.AnalystOutput, error) {
	var (
		lastErr error
		retries int
		delay   = i.opts.BaseBackoff
	)
	for attempt := 0; attempt <= i.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if !i.sleep(ctx, delay) {
				break
			}
			delay = nextDelay(delay, i.opts.MaxBackoff)
			retries = attempt
		}
		if i.limiter != nil {
			if err := i.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}
		start := time.Now()
		out, err := i.invokeOnce(ctx, c, snap)
		if i.hook != nil {
			i.hook(c.ID(), attempt, time.Since(start), err)
		}
		if err == nil {
			if attempt > 0 {
				i.log.Infof("analyst %s succeeded on retry %d", c.ID(), attempt)
			}
			return out, nil
		}
		lastErr = err
		i.log.Warnf("analyst %s attempt %d/%d failed: %v", c.ID(), attempt+1, i.opts.MaxRetries+1, err)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return types.AnalystOutput{}, &FailureError{AnalystID: c.ID(), Retries: retries, Err: lastErr}
}

type callResult struct {
	out types.AnalystOutput
	err error
}

func (i *Invoker) invokeOnce(ctx context.Context, c Collaborator, snap types.MarketSnapshot) (types.AnalystOutput, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("analyst %s panic: %v", c.ID(), r)}
			}
		}()
		out, err := c.Invoke(callCtx, snap)
		done <- callResult{out: out, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return types.AnalystOutput{}, &TimeoutError{AnalystID: c.ID(), Timeout: i.opts.Timeout}
		}
		return types.AnalystOutput{}, res.err
	}

	out := res.out
	if out.AnalystID == "" {
		out.AnalystID = c.ID()
	}
	if out.Kind == "" {
		out.Kind = c.Kind()
	}
	if out.AnalystID != c.ID() {
		return types.AnalystOutput{}, &ParseError{AnalystID: c.ID(), Reason: fmt.Sprintf("response names analyst %q", out.AnalystID)}
	}
	if err := out.Validate(); err != nil {
		return types.AnalystOutput{}, &ParseError{AnalystID: c.ID(), Reason: err.Error()}
	}
	return out, nil
}

// InvokeAll calls every collaborator concurrently and waits for all of them.
// The first terminal failure cancels the rest and is returned; partial
// results are never returned alongside an error.
func (i *Invoker) InvokeAll(ctx context.Context, collabs []Collaborator, snap types.MarketSnapshot) (map[string]types.AnalystOutput, error) {
	seen := make(map[string]struct{}, len(collabs))
	for _, c := range collabs {
		if _, dup := seen[c.ID()]; dup {
			return nil, fmt.Errorf("duplicate analyst id %q", c.ID())
		}
		seen[c.ID()] = struct{}{}
	}

	var (
		mu      sync.Mutex
		outputs = make(map[string]types.AnalystOutput, len(collabs))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range collabs {
		c := c
		g.Go(func() error {
			out, err := i.Invoke(gctx, c, snap)
			if err != nil {
				return err
			}
			mu.Lock()
			outputs[c.ID()] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current, limit time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > limit {
		next = limit
	}
	return next
}
