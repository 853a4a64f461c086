package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call when the circuit rejects the request.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker implements a per-collaborator circuit breaker.
type CircuitBreaker struct {
	mu            sync.Mutex
	circuits      map[string]*circuit
	failThreshold int
	resetTimeout  time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

type circuit struct {
	state       CircuitState
	failures    int
	probing     bool
	lastFailure time.Time
}

// NewCircuitBreaker creates a circuit breaker with configurable thresholds.
func NewCircuitBreaker(failThreshold int, resetTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if failThreshold <= 0 {
		failThreshold = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		circuits:      make(map[string]*circuit),
		failThreshold: failThreshold,
		resetTimeout:  resetTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// Check returns whether the circuit for the given key allows a request.
// In half-open state only one trial call is let through at a time.
func (cb *CircuitBreaker) Check(_ context.Context, key string) Result {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuit(key)
	switch c.state {
	case CircuitOpen:
		since := cb.now().Sub(c.lastFailure)
		if since <= cb.resetTimeout {
			return Result{
				Allowed: false,
				Reason:  fmt.Sprintf("circuit open for %s, resets in %s", key, cb.resetTimeout-since),
				Guard:   "circuit_breaker",
			}
		}
		cb.transition(key, c, CircuitHalfOpen)
		c.probing = true
		return Result{Allowed: true}
	case CircuitHalfOpen:
		if c.probing {
			return Result{
				Allowed: false,
				Reason:  "circuit half-open, trial call in flight",
				Guard:   "circuit_breaker",
			}
		}
		c.probing = true
		return Result{Allowed: true}
	default:
		return Result{Allowed: true}
	}
}

// RecordSuccess marks a successful execution for the given key.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuit(key)
	c.failures = 0
	c.probing = false
	if c.state != CircuitClosed {
		cb.transition(key, c, CircuitClosed)
	}
}

// RecordFailure marks a failed execution for the given key.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuit(key)
	c.failures++
	c.probing = false
	c.lastFailure = cb.now()

	if c.state == CircuitHalfOpen || (c.state == CircuitClosed && c.failures >= cb.failThreshold) {
		cb.transition(key, c, CircuitOpen)
	}
}

// Call runs fn under timeout with circuit protection. Errors for which
// countable returns false are business outcomes and count as successes.
func (cb *CircuitBreaker) Call(ctx context.Context, key string, timeout time.Duration, countable func(error) bool, fn func(context.Context) error) error {
	if res := cb.Check(ctx, key); !res.Allowed {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, res.Reason)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && (countable == nil || countable(err)) {
		cb.RecordFailure(key)
		return err
	}
	cb.RecordSuccess(key)
	return err
}

// State returns the current state for key.
func (cb *CircuitBreaker) State(key string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.circuit(key).state
}

func (cb *CircuitBreaker) circuit(key string) *circuit {
	c, ok := cb.circuits[key]
	if !ok {
		c = &circuit{state: CircuitClosed}
		cb.circuits[key] = c
	}
	return c
}

func (cb *CircuitBreaker) transition(key string, c *circuit, to CircuitState) {
	cb.logger.Warn("circuit state change",
		"collaborator", key,
		"from", c.state.String(),
		"to", to.String(),
		"failures", c.failures)
	c.state = to
}
