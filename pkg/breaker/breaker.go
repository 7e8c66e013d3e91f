// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package breaker provides a circuit breaker for calls into external
// collaborators, primarily the device authorization service. A cache-miss
// publish holds the session's cache lock across the authorizer call, so a
// hanging or failing authorizer stalls the whole publish path; the breaker
// converts a run of failures into immediate errors until the collaborator
// recovers.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit is open and calls are shed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	// MaxFailures is the number of consecutive failures in the closed
	// state before the circuit opens.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before a probe
	// call is allowed (half-open).
	ResetTimeout time.Duration

	// SuccessThreshold is the number of consecutive successes in the
	// half-open state before the circuit closes again.
	SuccessThreshold int
}

// CircuitBreaker tracks collaborator failures and sheds calls while open.
type CircuitBreaker struct {
	mu            sync.RWMutex
	cfg           Config
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	onStateChange func(from, to State)
}

// New creates a circuit breaker. Zero config fields get defaults of
// 5 failures, 60s reset, and 2 successes.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Call runs fn unless the circuit is open, and records the result.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(err)
	return err
}

// allow reports whether a call may proceed, transitioning open→half-open
// after the reset timeout.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) <= cb.cfg.ResetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
	}
	return true
}

// record updates counters and state from a call result.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.failures++
	cb.successes = 0
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe re-opens immediately.
		cb.transition(StateOpen)
	}
}

// transition changes state and resets counters. Callers hold cb.mu.
func (cb *CircuitBreaker) transition(next State) {
	if cb.state == next {
		return
	}
	from := cb.state
	cb.state = next

	switch next {
	case StateOpen:
		cb.openedAt = time.Now()
	case StateHalfOpen:
		cb.successes = 0
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
	}

	if cb.onStateChange != nil {
		go cb.onStateChange(from, next)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// OnStateChange registers a callback invoked on every state transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}
