// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the session-scoped authorization cache. It maps a
// proxied ("as") device name to a previously computed authorization decision,
// amortizing calls to the device authorization service across the publishes
// of one connection.
package cache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/fogrise/mqttgate/pkg/auth"
	errs "github.com/fogrise/mqttgate/pkg/errors"
	"github.com/fogrise/mqttgate/pkg/metrics"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 128

// Config holds authorization cache configuration.
type Config struct {
	// Application is the application the owning session belongs to.
	Application string

	// Device is the session's authenticated device name.
	Device string

	// Capacity bounds the number of cached decisions. Zero means
	// DefaultCapacity. Insertion beyond capacity evicts the
	// least-recently-used entry.
	Capacity int

	// Authorizer is consulted on cache misses.
	Authorizer auth.Authorizer

	// Logger for cache events.
	Logger *slog.Logger

	// Metrics is optional instrumentation.
	Metrics *metrics.Metrics
}

// entry is a cached decision. A nil device marks a denial; denials are
// cached exactly like grants and never expire by time, only by LRU pressure
// or session end.
type entry struct {
	device *auth.Device
}

// Cache is a bounded, strictly least-recently-used authorization cache.
// It is scoped to a single session: keys are only meaningful relative to the
// session's application/device pair.
type Cache struct {
	mu          sync.Mutex
	entries     *simplelru.LRU[string, entry]
	authorizer  auth.Authorizer
	application string
	device      string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates an authorization cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Cache{
		authorizer:  cfg.Authorizer,
		application: cfg.Application,
		device:      cfg.Device,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}

	entries, err := simplelru.NewLRU[string, entry](cfg.Capacity, func(string, entry) {
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries

	return c, nil
}

// Resolve returns the device identity the session may act under for the
// proxied device named as. A denial, cached or fresh, is reported as
// errors.ErrNotAuthorized; an authorizer failure as errors.ErrInternal.
//
// The lock is held across the authorizer call on the miss path. That
// serializes concurrent misses for the same key within the session: exactly
// one authorizer call happens, and the second caller observes the freshly
// cached decision. Authorizer failures are not memoized; only definitive
// pass/fail outcomes are.
func (c *Cache) Resolve(ctx context.Context, as string) (auth.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries.Get(as); ok {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		if e.device == nil {
			return auth.Device{}, errs.ErrNotAuthorized
		}
		return *e.device, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	outcome, err := c.authorizer.AuthorizeAs(ctx, c.application, c.device, as)
	if err != nil {
		c.logger.Info("authorize as failed",
			slog.String("application", c.application),
			slog.String("device", c.device),
			slog.String("as", as),
			slog.String("error", err.Error()))
		if c.metrics != nil {
			c.metrics.AuthorizerCalls.WithLabelValues("error").Inc()
		}
		return auth.Device{}, errs.Internal("failed to authorize device")
	}

	if c.metrics != nil {
		c.metrics.AuthorizerCalls.WithLabelValues(outcome.Result.String()).Inc()
	}

	if outcome.Result != auth.Pass {
		c.entries.Add(as, entry{})
		return auth.Device{}, errs.ErrNotAuthorized
	}

	device := outcome.As
	c.entries.Add(as, entry{device: &device})
	return device, nil
}

// Len returns the number of cached decisions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Contains reports whether a decision for as is cached, without updating
// recency.
func (c *Cache) Contains(as string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(as)
}
