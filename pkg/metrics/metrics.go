// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the MQTT endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the endpoint. A nil *Metrics is
// valid everywhere it is accepted; instrumentation is simply skipped.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Publish metrics
	PublishesTotal  *prometheus.CounterVec
	PublishDuration prometheus.Histogram
	PayloadSize     prometheus.Histogram

	// Authorization metrics
	AuthorizerCalls *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheEvictions  prometheus.Counter

	// Command inbox metrics
	InboxSubscriptions prometheus.Gauge
	CommandsRelayed    prometheus.Counter

	// Subscription handling metrics
	SubscribeResults   *prometheus.CounterVec
	UnsubscribeResults *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mqttgate"
	}

	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of currently active device sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session duration in seconds",
			Buckets:   []float64{.1, 1, 10, 60, 300, 600, 1800, 3600, 14400},
		}),
		PublishesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Total number of publish requests by outcome",
		}, []string{"outcome"}),
		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Publish forwarding duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		PayloadSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payload_size_bytes",
			Help:      "Publish payload size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}),
		AuthorizerCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorizer_calls_total",
			Help:      "Total number of authorize-as calls by outcome",
		}, []string{"outcome"}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_cache_hits_total",
			Help:      "Total number of authorization cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_cache_misses_total",
			Help:      "Total number of authorization cache misses",
		}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_cache_evictions_total",
			Help:      "Total number of authorization cache evictions",
		}),
		InboxSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbox_subscriptions",
			Help:      "Number of currently active command inbox subscriptions",
		}),
		CommandsRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_relayed_total",
			Help:      "Total number of commands relayed to connections",
		}),
		SubscribeResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribe_results_total",
			Help:      "Total number of subscribe entries by ack reason",
		}, []string{"reason"}),
		UnsubscribeResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsubscribe_results_total",
			Help:      "Total number of unsubscribe entries by ack reason",
		}, []string{"reason"}),
	}
}

// ObserveSession tracks a session lifecycle around fn.
func (m *Metrics) ObserveSession(fn func() error) error {
	if m == nil {
		return fn()
	}

	m.ActiveSessions.Inc()
	defer m.ActiveSessions.Dec()

	start := time.Now()
	defer func() {
		m.SessionDuration.Observe(time.Since(start).Seconds())
	}()

	return fn()
}

// ObservePublish records one publish with its outcome label and duration.
func (m *Metrics) ObservePublish(outcome string, size int, d time.Duration) {
	if m == nil {
		return
	}
	m.PublishesTotal.WithLabelValues(outcome).Inc()
	m.PublishDuration.Observe(d.Seconds())
	m.PayloadSize.Observe(float64(size))
}
