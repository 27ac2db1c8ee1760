package agent

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a workflow's circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal: runs go through
	CircuitOpen                         // Tripped: runs fail fast
	CircuitHalfOpen                     // Probe: one run allowed to test recovery
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

// CircuitBreaker counts remote run failures per workflow and opens the
// circuit when they reach the threshold within the window, so a struggling
// remote service is not hammered by every incoming request. Tool-level
// failures never feed it.
type CircuitBreaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	window    time.Duration
	now       func() time.Time
}

type circuit struct {
	failures      []time.Time
	state         CircuitState
	openedAt      time.Time
	probeInFlight bool
}

// NewCircuitBreaker creates a circuit breaker.
// threshold: failures in window to trip the circuit (default 5).
// window: sliding window and open duration (default 60s).
func NewCircuitBreaker(threshold int, window time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &CircuitBreaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// Check returns nil if a run for workflow may proceed. In half-open state it
// admits a single probe.
func (cb *CircuitBreaker) Check(workflow string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[workflow]
	if !ok {
		return nil
	}

	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.openedAt) > cb.window {
			c.state = CircuitHalfOpen
			c.probeInFlight = true
			return nil
		}
		return fmt.Errorf("%s: %w after repeated remote failures", workflow, ErrCircuitOpen)
	case CircuitHalfOpen:
		if c.probeInFlight {
			return fmt.Errorf("%s: %w, probe in progress", workflow, ErrCircuitOpen)
		}
		c.probeInFlight = true
		return nil
	}
	return nil
}

// RecordFailure records a failed run. A failed half-open probe reopens the
// circuit immediately.
func (cb *CircuitBreaker) RecordFailure(workflow string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[workflow]
	if !ok {
		c = &circuit{}
		cb.circuits[workflow] = c
	}

	now := cb.now()
	if c.state == CircuitHalfOpen {
		c.state = CircuitOpen
		c.openedAt = now
		c.probeInFlight = false
		return
	}

	c.failures = append(filterAfter(c.failures, now.Add(-cb.window)), now)
	if len(c.failures) >= cb.threshold {
		c.state = CircuitOpen
		c.openedAt = now
	}
}

// RecordSuccess records a completed run. A successful half-open probe closes
// the circuit.
func (cb *CircuitBreaker) RecordSuccess(workflow string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[workflow]
	if !ok {
		return
	}
	if c.state == CircuitHalfOpen {
		c.state = CircuitClosed
		c.failures = nil
		c.probeInFlight = false
	}
}

// Release frees a half-open probe slot without judging the remote service,
// for runs that ended before reaching it.
func (cb *CircuitBreaker) Release(workflow string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if c, ok := cb.circuits[workflow]; ok {
		c.probeInFlight = false
	}
}

// Reset clears the circuit for workflow (operator override).
func (cb *CircuitBreaker) Reset(workflow string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, workflow)
}

// State returns the current circuit state for workflow.
func (cb *CircuitBreaker) State(workflow string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[workflow]
	if !ok {
		return CircuitClosed
	}
	return c.state
}

func filterAfter(times []time.Time, cutoff time.Time) []time.Time {
	var result []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}
