package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"automoney/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit open")

// CircuitBreaker trips after threshold consecutive failures and lets a single
// probe through once cooldown has elapsed.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	cooldown      time.Duration
	lastFailure   time.Time
	name          string
	now           func() time.Time
	onStateChange func(name string, from, to State)
	log           *logger.Entry
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
		log:       logger.Named("circuit").With("breaker", name),
	}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// SetClock replaces the time source; tests only.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	cb.mu.Lock()
	cb.now = now
	cb.mu.Unlock()
}

// The handler runs synchronously after each transition, outside the lock.
func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	allowed, from, to := cb.allowLocked()
	handler := cb.onStateChange
	cb.mu.Unlock()
	cb.notify(handler, from, to)
	return allowed
}

func (cb *CircuitBreaker) allowLocked() (bool, State, State) {
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.cooldown {
			return true, cb.transition(StateHalfOpen), StateHalfOpen
		}
		return false, cb.state, cb.state
	default:
		return true, cb.state, cb.state
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from, to := cb.state, cb.state
	if cb.state == StateHalfOpen {
		from = cb.transition(StateClosed)
		to = StateClosed
	}
	cb.failures = 0
	handler := cb.onStateChange
	cb.mu.Unlock()
	cb.notify(handler, from, to)
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.failures++
	cb.lastFailure = cb.now()
	from, to := cb.state, cb.state
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			from = cb.transition(StateOpen)
			to = StateOpen
		}
	case StateHalfOpen:
		from = cb.transition(StateOpen)
		to = StateOpen
	}
	handler := cb.onStateChange
	cb.mu.Unlock()
	cb.notify(handler, from, to)
}

// Execute runs fn when the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return fmt.Errorf("%s: %w", cb.name, ErrOpen)
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

func (cb *CircuitBreaker) transition(to State) State {
	from := cb.state
	cb.state = to
	cb.log.Warnf("state change %s -> %s (failures=%d/%d, cooldown=%s)", from, to, cb.failures, cb.threshold, cb.cooldown)
	return from
}

func (cb *CircuitBreaker) notify(handler func(string, State, State), from, to State) {
	if handler != nil && from != to {
		handler(cb.name, from, to)
	}
}
