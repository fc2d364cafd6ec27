package docstore

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreaker stops a Manager from dialing a database that keeps failing.
//
// States:
//   - Closed: connection attempts pass through
//   - Open: attempts fail fast with ErrBackendUnavailable
//   - Half-Open: after the cool-down one trial attempt reaches the database
//
// Example:
//
//	breaker := NewCircuitBreaker(5, 30*time.Second)
//	manager, err := NewManager(cfg, WithConnectBreaker(breaker))
type CircuitBreaker struct {
	mu            sync.RWMutex
	maxFailures   int
	cooldown      time.Duration
	failures      int
	openedAt      time.Time
	state         BreakerState
	onStateChange func(from, to BreakerState)
}

// NewCircuitBreaker opens after maxFailures consecutive failures and allows
// one trial attempt once cooldown has elapsed.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       BreakerClosed,
	}
}

// WithStateChangeCallback registers fn to observe transitions.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to BreakerState)) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
	return cb
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.allow() {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"reason":   "circuit breaker is open",
			"failures": cb.Failures(),
		})
	}

	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return true
	}
	if time.Since(cb.openedAt) >= cb.cooldown {
		cb.transition(BreakerHalfOpen)
		return true
	}
	return false
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		if cb.state != BreakerClosed {
			cb.transition(BreakerClosed)
		}
		return
	}

	cb.failures++
	// A failed trial reopens immediately.
	if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.openedAt = time.Now()
		if cb.state != BreakerOpen {
			cb.transition(BreakerOpen)
		}
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset closes the breaker and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	if cb.state != BreakerClosed {
		cb.transition(BreakerClosed)
	}
}
