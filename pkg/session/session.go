// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fogrise/mqttgate/pkg/auth"
	"github.com/fogrise/mqttgate/pkg/cache"
	"github.com/fogrise/mqttgate/pkg/command"
	errs "github.com/fogrise/mqttgate/pkg/errors"
	"github.com/fogrise/mqttgate/pkg/metrics"
	"github.com/fogrise/mqttgate/pkg/ratelimit"
	"github.com/fogrise/mqttgate/pkg/sender"
	"github.com/fogrise/mqttgate/pkg/topic"
)

// Sink is the connection's outbound side. The transport implements it to
// deliver command messages back to the device.
type Sink interface {
	// Send delivers one message to the connection.
	Send(ctx context.Context, topic string, payload []byte) error
}

// ID is the session's composite identifier, used for logging and
// correlation.
type ID struct {
	Application string
	Device      string
}

// String returns "application/device".
func (id ID) String() string {
	return id.Application + "/" + id.Device
}

// SubAckReason is a subscribe acknowledgement reason code (MQTT v5 subset).
type SubAckReason byte

const (
	SubAckGrantedQoS0                 SubAckReason = 0x00
	SubAckUnspecifiedError            SubAckReason = 0x80
	SubAckSubscriptionIDsNotSupported SubAckReason = 0xA1
)

// String returns a string representation of the reason.
func (r SubAckReason) String() string {
	switch r {
	case SubAckGrantedQoS0:
		return "granted_qos0"
	case SubAckUnspecifiedError:
		return "unspecified_error"
	case SubAckSubscriptionIDsNotSupported:
		return "subscription_ids_not_supported"
	default:
		return "unknown"
	}
}

// UnsubAckReason is an unsubscribe acknowledgement reason code (MQTT v5
// subset).
type UnsubAckReason byte

const (
	UnsubAckSuccess               UnsubAckReason = 0x00
	UnsubAckNoSubscriptionExisted UnsubAckReason = 0x11
)

// String returns a string representation of the reason.
func (r UnsubAckReason) String() string {
	switch r {
	case UnsubAckSuccess:
		return "success"
	case UnsubAckNoSubscriptionExisted:
		return "no_subscription_existed"
	default:
		return "unknown"
	}
}

// PublishRequest is one publish event from the transport.
type PublishRequest struct {
	// Topic is the publish topic as received.
	Topic string

	// ContentType is the declared content type from the message
	// properties, empty when absent.
	ContentType string

	// Payload is the raw payload.
	Payload []byte
}

// SubscribeRequest is one subscription batch from the transport.
type SubscribeRequest struct {
	// ID is the protocol-level subscription identifier, if the batch
	// carried one. Subscription identifiers are not supported: a non-nil
	// ID rejects the whole batch.
	ID *uint32

	// Topics are the requested topic filters, in order.
	Topics []string
}

// Config holds everything a Session needs. Sender, Source, and Authorizer
// are shared, externally synchronized collaborators.
type Config struct {
	// Application is the authenticated application name.
	Application string

	// Device is the authenticated device identity. Immutable for the
	// session's lifetime.
	Device auth.Device

	// Sender forwards publishes to the downstream bus.
	Sender sender.Publisher

	// Source delivers command messages for inbox subscriptions.
	Source command.Source

	// Sink is the connection's outbound side.
	Sink Sink

	// Authorizer resolves proxied-device authorization on cache misses.
	Authorizer auth.Authorizer

	// CacheCapacity bounds the authorization cache. Zero means the
	// default of 128.
	CacheCapacity int

	// RateLimit optionally bounds this session's publish rate. An
	// over-limit publish fails with ErrQuotaExceeded.
	RateLimit *ratelimit.TokenBucket

	// Logger for session events.
	Logger *slog.Logger

	// Metrics is optional instrumentation.
	Metrics *metrics.Metrics
}

// Session is the per-connection session handler. Created on successful
// connection authentication, destroyed on disconnect via Close.
type Session struct {
	id        ID
	sessionID string
	device    auth.Device
	sender    sender.Publisher
	source    command.Source
	sink      Sink
	cache     *cache.Cache
	rate      *ratelimit.TokenBucket
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	inbox map[string]*inboxSubscription

	closeOnce sync.Once
	started   time.Time
}

// New creates a Session for an authenticated connection.
func New(cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := ID{Application: cfg.Application, Device: cfg.Device.Name}
	sessionID := uuid.New().String()
	logger := cfg.Logger.With(
		slog.String("session", sessionID),
		slog.String("id", id.String()))

	authCache, err := cache.New(cache.Config{
		Application: cfg.Application,
		Device:      cfg.Device.Name,
		Capacity:    cfg.CacheCapacity,
		Authorizer:  cfg.Authorizer,
		Logger:      logger,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization cache: %w", err)
	}

	if cfg.Metrics != nil {
		cfg.Metrics.ActiveSessions.Inc()
	}

	return &Session{
		id:        id,
		sessionID: sessionID,
		device:    cfg.Device,
		sender:    cfg.Sender,
		source:    cfg.Source,
		sink:      cfg.Sink,
		cache:     authCache,
		rate:      cfg.RateLimit,
		logger:    logger,
		metrics:   cfg.Metrics,
		inbox:     make(map[string]*inboxSubscription),
		started:   time.Now(),
	}, nil
}

// ID returns the session's composite identifier.
func (s *Session) ID() ID {
	return s.id
}

// evalDevice resolves a publish topic into the target channel and the
// acting device identity. One segment publishes as the session's own
// device; two segments publish as the named proxied device, authorized
// through the cache.
func (s *Session) evalDevice(ctx context.Context, name string) (string, auth.Device, error) {
	pt, ok := topic.ParsePublish(name)
	if !ok {
		return "", auth.Device{}, errs.ErrTopicNameInvalid
	}
	if !pt.Proxied {
		return pt.Channel, s.device, nil
	}

	device, err := s.cache.Resolve(ctx, pt.AsDevice)
	if err != nil {
		return "", auth.Device{}, err
	}
	return pt.Channel, device, nil
}

// Publish forwards one publish to the downstream bus, resolving the acting
// device first. The returned error maps one-to-one onto a protocol error:
// ErrTopicNameInvalid, ErrNotAuthorized, ErrQuotaExceeded (bus overload),
// ErrUnspecified (bus rejection), or ErrInternal (transport failure). The
// caller decides whether any of these disconnect the session.
func (s *Session) Publish(ctx context.Context, req PublishRequest) error {
	start := time.Now()

	if s.rate != nil && !s.rate.Allow() {
		s.metrics.ObservePublish("rate_limited", len(req.Payload), time.Since(start))
		return errs.New("publish", s.id.Application, s.id.Device, errs.ErrQuotaExceeded)
	}

	channel, device, err := s.evalDevice(ctx, req.Topic)
	if err != nil {
		s.metrics.ObservePublish(outcomeLabel(err), len(req.Payload), time.Since(start))
		return errs.New("publish", s.id.Application, s.id.Device, err)
	}

	s.logger.Debug("publish",
		slog.String("channel", channel),
		slog.String("device", device.Name),
		slog.String("sender", s.device.Name))

	outcome, err := s.sender.Publish(ctx, sender.Publish{
		Channel:     channel,
		Application: s.id.Application,
		Device:      device.Name,
		Sender:      s.device.Name,
		Options:     sender.PublishOptions{ContentType: req.ContentType},
	}, req.Payload)
	if err != nil {
		s.metrics.ObservePublish("internal_error", len(req.Payload), time.Since(start))
		return errs.New("publish", s.id.Application, s.id.Device, errs.Internal(err.Error()))
	}

	s.metrics.ObservePublish(outcome.String(), len(req.Payload), time.Since(start))

	switch outcome {
	case sender.Accepted:
		return nil
	case sender.QueueFull:
		return errs.New("publish", s.id.Application, s.id.Device, errs.ErrQuotaExceeded)
	default:
		return errs.New("publish", s.id.Application, s.id.Device, errs.ErrUnspecified)
	}
}

// Subscribe processes one subscription batch and returns an acknowledgement
// reason per requested topic. A batch carrying a subscription identifier is
// rejected as a whole: every entry gets SubAckSubscriptionIDsNotSupported
// and nothing is registered.
func (s *Session) Subscribe(ctx context.Context, req SubscribeRequest) []SubAckReason {
	reasons := make([]SubAckReason, len(req.Topics))

	if req.ID != nil {
		s.logger.Info("rejecting subscribe request with subscription identifier")
		for i := range reasons {
			reasons[i] = SubAckSubscriptionIDsNotSupported
			s.countSubscribe(SubAckSubscriptionIDsNotSupported)
		}
		return reasons
	}

	for i, t := range req.Topics {
		st := topic.ParseSubscribe(t)
		switch st.Shape {
		case topic.ShapeWildcard:
			s.subscribeInbox(ctx, t, command.Wildcard(s.id.Application, s.id.Device), false)
			reasons[i] = SubAckGrantedQoS0
		case topic.ShapeDevice:
			s.subscribeInbox(ctx, t, command.ForDevice(s.id.Application, s.id.Device), false)
			reasons[i] = SubAckGrantedQoS0
		case topic.ShapeProxiedDevice:
			s.subscribeInbox(ctx, t, command.ProxiedDevice(s.id.Application, s.id.Device, st.Device), true)
			reasons[i] = SubAckGrantedQoS0
		default:
			s.logger.Info("subscribing to topic not allowed", slog.String("topic", t))
			reasons[i] = SubAckUnspecifiedError
		}
		s.countSubscribe(reasons[i])
	}

	return reasons
}

// subscribeInbox registers a command relay for the filter key, unless one
// already exists (idempotent re-subscribe).
func (s *Session) subscribeInbox(_ context.Context, filterKey string, filter command.Filter, forceDevice bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inbox[filterKey]; ok {
		s.logger.Info("already subscribed to command inbox", slog.String("filter", filterKey))
		return
	}

	s.logger.Debug("subscribing to command inbox",
		slog.String("filter", filterKey),
		slog.String("kind", filter.Kind.String()),
		slog.Bool("force_device", forceDevice))

	s.inbox[filterKey] = newInboxSubscription(filter, s.source, s.sink, forceDevice, s.logger, s.metrics)
}

// Unsubscribe removes the requested filters and returns an acknowledgement
// reason per topic. Removal awaits the relay's full shutdown: a removed
// relay never forwards another command.
func (s *Session) Unsubscribe(_ context.Context, topics []string) []UnsubAckReason {
	s.mu.Lock()
	defer s.mu.Unlock()

	reasons := make([]UnsubAckReason, len(topics))
	for i, t := range topics {
		sub, ok := s.inbox[t]
		if !ok {
			s.logger.Info("unsubscribe from not-subscribed inbox", slog.String("filter", t))
			reasons[i] = UnsubAckNoSubscriptionExisted
			s.countUnsubscribe(reasons[i])
			continue
		}
		delete(s.inbox, t)
		sub.Close()
		reasons[i] = UnsubAckSuccess
		s.countUnsubscribe(reasons[i])
	}
	return reasons
}

// Close tears the session down on disconnect: every live command relay is
// drained and fully stopped before Close returns. Safe to call more than
// once; only the first call does the work.
func (s *Session) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("connection closed")

		s.mu.Lock()
		subs := s.inbox
		s.inbox = make(map[string]*inboxSubscription)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.Close()
		}

		if s.metrics != nil {
			s.metrics.ActiveSessions.Dec()
			s.metrics.SessionDuration.Observe(time.Since(s.started).Seconds())
		}
	})
	return nil
}

// outcomeLabel maps a resolution error onto a metrics label.
func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, errs.ErrTopicNameInvalid):
		return "topic_invalid"
	case errors.Is(err, errs.ErrNotAuthorized):
		return "not_authorized"
	default:
		return "internal_error"
	}
}

func (s *Session) countSubscribe(reason SubAckReason) {
	if s.metrics != nil {
		s.metrics.SubscribeResults.WithLabelValues(reason.String()).Inc()
	}
}

func (s *Session) countUnsubscribe(reason UnsubAckReason) {
	if s.metrics != nil {
		s.metrics.UnsubscribeResults.WithLabelValues(reason.String()).Inc()
	}
}
