// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"

	"github.com/fogrise/mqttgate/pkg/auth"
	"github.com/fogrise/mqttgate/pkg/command"
	"github.com/fogrise/mqttgate/pkg/metrics"
	"github.com/fogrise/mqttgate/pkg/ratelimit"
	"github.com/fogrise/mqttgate/pkg/sender"
)

// FactoryConfig bundles the collaborators shared by every session.
type FactoryConfig struct {
	// Sender forwards publishes to the downstream bus.
	Sender sender.Publisher

	// Source delivers command messages.
	Source command.Source

	// Authorizer resolves proxied-device authorization.
	Authorizer auth.Authorizer

	// CacheCapacity bounds each session's authorization cache. Zero
	// means the default.
	CacheCapacity int

	// PublishRateCapacity and PublishRateRefill configure an optional
	// per-session publish rate limit. Zero capacity disables limiting.
	PublishRateCapacity int64
	PublishRateRefill   int64

	// Logger for session events.
	Logger *slog.Logger

	// Metrics is optional instrumentation shared by all sessions.
	Metrics *metrics.Metrics
}

// Factory creates Sessions for authenticated connections. The transport
// calls New once per connection after CONNECT authentication succeeds.
type Factory struct {
	cfg FactoryConfig
}

// NewFactory creates a session factory.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{cfg: cfg}
}

// New creates the Session for one authenticated connection.
func (f *Factory) New(application string, device auth.Device, sink Sink) (*Session, error) {
	var rate *ratelimit.TokenBucket
	if f.cfg.PublishRateCapacity > 0 {
		rate = ratelimit.NewTokenBucket(f.cfg.PublishRateCapacity, f.cfg.PublishRateRefill)
	}

	return New(Config{
		Application:   application,
		Device:        device,
		Sender:        f.cfg.Sender,
		Source:        f.cfg.Source,
		Sink:          sink,
		Authorizer:    f.cfg.Authorizer,
		CacheCapacity: f.cfg.CacheCapacity,
		RateLimit:     rate,
		Logger:        f.cfg.Logger,
		Metrics:       f.cfg.Metrics,
	})
}
