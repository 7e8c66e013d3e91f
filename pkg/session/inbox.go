// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"

	"github.com/fogrise/mqttgate/pkg/command"
	"github.com/fogrise/mqttgate/pkg/metrics"
)

// inboxSubscription is one live command relay: it subscribes to the shared
// command source with its filter and forwards every matching command to the
// connection's outbound sink until closed.
type inboxSubscription struct {
	filter      command.Filter
	forceDevice bool
	cancel      command.CancelFunc
	done        chan struct{}
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// newInboxSubscription subscribes to the source and starts the relay task.
func newInboxSubscription(filter command.Filter, source command.Source, sink Sink, forceDevice bool, logger *slog.Logger, m *metrics.Metrics) *inboxSubscription {
	ch, cancel := source.Subscribe(filter)

	sub := &inboxSubscription{
		filter:      filter,
		forceDevice: forceDevice,
		cancel:      cancel,
		done:        make(chan struct{}),
		logger:      logger,
		metrics:     m,
	}

	if m != nil {
		m.InboxSubscriptions.Inc()
	}

	go sub.run(ch, sink)
	return sub
}

// run forwards matching commands until the source channel closes.
func (s *inboxSubscription) run(ch <-chan command.Command, sink Sink) {
	defer close(s.done)

	for cmd := range ch {
		if !s.filter.Matches(cmd, s.forceDevice) {
			continue
		}

		if err := sink.Send(context.Background(), s.inboxTopic(cmd), cmd.Payload); err != nil {
			s.logger.Warn("failed to forward command",
				slog.String("device", cmd.Device),
				slog.String("command", cmd.Name),
				slog.String("error", err.Error()))
			continue
		}

		if s.metrics != nil {
			s.metrics.CommandsRelayed.Inc()
		}
	}
}

// inboxTopic builds the topic the command is delivered on. Commands for the
// session's own device use the empty device segment.
func (s *inboxSubscription) inboxTopic(cmd command.Command) string {
	device := cmd.Device
	if device == s.filter.Device {
		device = ""
	}
	return "command/inbox/" + device + "/" + cmd.Name
}

// Close releases the source subscription and waits until the relay task has
// fully stopped. After Close returns the relay forwards nothing.
func (s *inboxSubscription) Close() {
	s.cancel()
	<-s.done

	if s.metrics != nil {
		s.metrics.InboxSubscriptions.Dec()
	}
}
