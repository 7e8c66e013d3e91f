// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fogrise/mqttgate/pkg/auth"
	errs "github.com/fogrise/mqttgate/pkg/errors"
)

// fakeAuthorizer counts calls and answers from a fixed table.
type fakeAuthorizer struct {
	mu       sync.Mutex
	calls    map[string]int
	total    atomic.Int64
	outcomes map[string]auth.Outcome
	err      error
}

func newFakeAuthorizer() *fakeAuthorizer {
	return &fakeAuthorizer{
		calls:    make(map[string]int),
		outcomes: make(map[string]auth.Outcome),
	}
}

func (f *fakeAuthorizer) AuthorizeAs(_ context.Context, _, _, as string) (auth.Outcome, error) {
	f.mu.Lock()
	f.calls[as]++
	f.mu.Unlock()
	f.total.Add(1)

	if f.err != nil {
		return auth.Outcome{}, f.err
	}
	if outcome, ok := f.outcomes[as]; ok {
		return outcome, nil
	}
	return auth.Outcome{Result: auth.Fail}, nil
}

func (f *fakeAuthorizer) callCount(as string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[as]
}

func newTestCache(t *testing.T, authorizer auth.Authorizer, capacity int) *Cache {
	t.Helper()
	c, err := New(Config{
		Application: "a1",
		Device:      "d1",
		Capacity:    capacity,
		Authorizer:  authorizer,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestResolveGrantIsCached(t *testing.T) {
	authorizer := newFakeAuthorizer()
	authorizer.outcomes["d2"] = auth.Outcome{Result: auth.Pass, As: auth.Device{Name: "d2"}}
	c := newTestCache(t, authorizer, 0)

	for i := 0; i < 3; i++ {
		device, err := c.Resolve(context.Background(), "d2")
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if device.Name != "d2" {
			t.Fatalf("Resolve() device = %q, want d2", device.Name)
		}
	}

	if got := authorizer.callCount("d2"); got != 1 {
		t.Errorf("authorizer called %d times, want 1", got)
	}
}

func TestResolveDenialIsCached(t *testing.T) {
	authorizer := newFakeAuthorizer()
	c := newTestCache(t, authorizer, 0)

	for i := 0; i < 2; i++ {
		if _, err := c.Resolve(context.Background(), "d2"); !errors.Is(err, errs.ErrNotAuthorized) {
			t.Fatalf("Resolve() error = %v, want ErrNotAuthorized", err)
		}
	}

	if got := authorizer.callCount("d2"); got != 1 {
		t.Errorf("authorizer called %d times, want 1: denial must be cached", got)
	}
}

func TestResolveAuthorizerFailureNotMemoized(t *testing.T) {
	authorizer := newFakeAuthorizer()
	authorizer.err = errors.New("connection refused")
	c := newTestCache(t, authorizer, 0)

	if _, err := c.Resolve(context.Background(), "d2"); !errors.Is(err, errs.ErrInternal) {
		t.Fatalf("Resolve() error = %v, want ErrInternal", err)
	}
	if c.Len() != 0 {
		t.Fatalf("cache holds %d entries after a failure, want 0", c.Len())
	}

	// The authorizer recovers; the next lookup must reach it.
	authorizer.err = nil
	authorizer.outcomes["d2"] = auth.Outcome{Result: auth.Pass, As: auth.Device{Name: "d2"}}

	device, err := c.Resolve(context.Background(), "d2")
	if err != nil {
		t.Fatalf("Resolve() error after recovery: %v", err)
	}
	if device.Name != "d2" {
		t.Errorf("Resolve() device = %q, want d2", device.Name)
	}
	if got := authorizer.callCount("d2"); got != 2 {
		t.Errorf("authorizer called %d times, want 2", got)
	}
}

func TestCapacityBoundAndLRUEviction(t *testing.T) {
	authorizer := newFakeAuthorizer()
	const capacity = 4
	for i := 0; i < capacity+1; i++ {
		name := fmt.Sprintf("d%d", i)
		authorizer.outcomes[name] = auth.Outcome{Result: auth.Pass, As: auth.Device{Name: name}}
	}
	c := newTestCache(t, authorizer, capacity)

	for i := 0; i < capacity; i++ {
		if _, err := c.Resolve(context.Background(), fmt.Sprintf("d%d", i)); err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
	}

	// Touch d0 so d1 becomes the least recently used entry.
	if _, err := c.Resolve(context.Background(), "d0"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	// The (capacity+1)-th distinct key evicts d1, not d0.
	if _, err := c.Resolve(context.Background(), fmt.Sprintf("d%d", capacity)); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if c.Len() != capacity {
		t.Errorf("cache holds %d entries, want %d", c.Len(), capacity)
	}
	if c.Contains("d1") {
		t.Errorf("least recently used entry d1 still cached")
	}
	if !c.Contains("d0") {
		t.Errorf("recently used entry d0 was evicted")
	}
}

func TestConcurrentMissesSerialize(t *testing.T) {
	authorizer := newFakeAuthorizer()
	authorizer.outcomes["d2"] = auth.Outcome{Result: auth.Pass, As: auth.Device{Name: "d2"}}
	c := newTestCache(t, authorizer, 0)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Resolve(context.Background(), "d2"); err != nil {
				t.Errorf("Resolve() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := authorizer.callCount("d2"); got != 1 {
		t.Errorf("authorizer called %d times under concurrent misses, want 1", got)
	}
}

func TestDefaultCapacity(t *testing.T) {
	authorizer := newFakeAuthorizer()
	c := newTestCache(t, authorizer, 0)

	for i := 0; i < DefaultCapacity+10; i++ {
		name := fmt.Sprintf("d%d", i)
		if _, err := c.Resolve(context.Background(), name); !errors.Is(err, errs.ErrNotAuthorized) {
			t.Fatalf("Resolve(%q) error = %v, want ErrNotAuthorized", name, err)
		}
	}

	if c.Len() != DefaultCapacity {
		t.Errorf("cache holds %d entries, want %d", c.Len(), DefaultCapacity)
	}
}
