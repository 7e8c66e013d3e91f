// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }
func succeeding() error { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := cb.Call(failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected %v, got %v", i, errBoom, err)
		}
	}
	if state := cb.State(); state != StateOpen {
		t.Errorf("expected open after 3 failures, got %v", state)
	}
	if err := cb.Call(succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 2, ResetTimeout: time.Minute})

	_ = cb.Call(failing)
	_ = cb.Call(succeeding)
	_ = cb.Call(failing)

	if state := cb.State(); state != StateClosed {
		t.Errorf("expected closed after interleaved success, got %v", state)
	}
}

func TestHalfOpenProbeClosesAfterThreshold(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, SuccessThreshold: 2})

	_ = cb.Call(failing)
	if state := cb.State(); state != StateOpen {
		t.Fatalf("expected open, got %v", state)
	}

	time.Sleep(30 * time.Millisecond)

	if err := cb.Call(succeeding); err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if state := cb.State(); state != StateHalfOpen {
		t.Fatalf("expected half-open after one probe success, got %v", state)
	}
	if err := cb.Call(succeeding); err != nil {
		t.Fatalf("expected second probe to pass, got %v", err)
	}
	if state := cb.State(); state != StateClosed {
		t.Errorf("expected closed after success threshold, got %v", state)
	}
}

func TestFailedProbeReopens(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	_ = cb.Call(failing)
	time.Sleep(30 * time.Millisecond)

	if err := cb.Call(failing); !errors.Is(err, errBoom) {
		t.Fatalf("expected probe failure to surface, got %v", err)
	}
	if state := cb.State(); state != StateOpen {
		t.Errorf("expected reopened after failed probe, got %v", state)
	}
	if err := cb.Call(succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestOnStateChange(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Minute})

	transitions := make(chan [2]State, 1)
	cb.OnStateChange(func(from, to State) {
		transitions <- [2]State{from, to}
	})

	_ = cb.Call(failing)

	select {
	case tr := <-transitions:
		if tr[0] != StateClosed || tr[1] != StateOpen {
			t.Errorf("expected closed->open, got %v->%v", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("state change callback was not invoked")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateHalfOpen: "half_open",
		StateOpen:     "open",
		State(42):     "unknown",
	}
	for state, expected := range cases {
		if got := state.String(); got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	}
}
