// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package sender defines the downstream telemetry bus boundary: forwarding
// accepted publishes with their acting and sending identities, and the
// tri-state outcome the bus answers with.
package sender

import (
	"context"
	"log/slog"
)

// Outcome is the downstream bus's tri-state result for a forwarded publish.
type Outcome int

const (
	// Accepted means the bus took the message.
	Accepted Outcome = iota

	// Rejected means the bus refused the message.
	Rejected

	// QueueFull means the bus is overloaded and signals backpressure.
	QueueFull
)

// String returns a string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case QueueFull:
		return "queue_full"
	default:
		return "unknown"
	}
}

// PublishOptions carries optional protocol-level message properties.
type PublishOptions struct {
	// ContentType is the declared payload content type, if any.
	ContentType string
}

// Publish describes one forwarded message.
type Publish struct {
	// Channel the message is addressed to.
	Channel string

	// Application the session belongs to.
	Application string

	// Device is the acting device the message is attributed to.
	Device string

	// Sender is the authenticated device that sent the message. It
	// differs from Device only in the proxied case.
	Sender string

	// Options carries optional message properties.
	Options PublishOptions
}

// Publisher forwards messages to the downstream bus. An error reports a
// transport failure; bus-level refusal and overload are Outcomes.
type Publisher interface {
	Publish(ctx context.Context, p Publish, payload []byte) (Outcome, error)
}

// Log is a Publisher that logs and accepts every message. It backs tests
// and the loopback example.
type Log struct {
	logger *slog.Logger
}

var _ Publisher = (*Log)(nil)

// NewLog creates a logging publisher.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Publish implements Publisher.
func (l *Log) Publish(_ context.Context, p Publish, payload []byte) (Outcome, error) {
	l.logger.Info("publish",
		slog.String("channel", p.Channel),
		slog.String("application", p.Application),
		slog.String("device", p.Device),
		slog.String("sender", p.Sender),
		slog.String("content_type", p.Options.ContentType),
		slog.Int("payload_size", len(payload)))
	return Accepted, nil
}
