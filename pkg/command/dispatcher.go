// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscription channel depth. A subscriber that
// falls further behind loses commands rather than stalling the dispatcher.
const subscriberBuffer = 32

// Dispatcher is an in-process Source implementation: commands handed to
// Dispatch fan out to every subscription whose filter matches.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
	logger *slog.Logger
}

type subscription struct {
	filter Filter
	ch     chan Command
}

var _ Source = (*Dispatcher)(nil)

// NewDispatcher creates a command dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		subs:   make(map[uint64]*subscription),
		logger: logger,
	}
}

// Subscribe implements Source.
func (d *Dispatcher) Subscribe(filter Filter) (<-chan Command, CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan Command, subscriberBuffer)
	if d.closed {
		close(ch)
		return ch, func() {}
	}

	id := d.nextID
	d.nextID++
	d.subs[id] = &subscription{filter: filter, ch: ch}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if sub, ok := d.subs[id]; ok {
				delete(d.subs, id)
				close(sub.ch)
			}
		})
	}
	return ch, cancel
}

// Dispatch delivers cmd to every matching subscription and returns the
// number of deliveries. Slow subscribers are skipped, not awaited.
func (d *Dispatcher) Dispatch(cmd Command) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	delivered := 0
	for _, sub := range d.subs {
		if !sub.filter.Matches(cmd, false) {
			continue
		}
		select {
		case sub.ch <- cmd:
			delivered++
		default:
			d.logger.Warn("dropping command for slow subscriber",
				slog.String("application", cmd.Application),
				slog.String("device", cmd.Device),
				slog.String("command", cmd.Name))
		}
	}
	return delivered
}

// Len returns the number of active subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Close releases every subscription. Subsequent Subscribe calls return a
// closed channel.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for id, sub := range d.subs {
		delete(d.subs, id)
		close(sub.ch)
	}
}
