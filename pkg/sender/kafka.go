// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package sender

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds configuration for the Kafka downstream sender.
type KafkaConfig struct {
	// Brokers is the list of bootstrap broker addresses.
	Brokers []string

	// Topic is the event stream topic telemetry is forwarded to.
	Topic string

	// BatchTimeout bounds how long a message may linger before the
	// writer flushes. Zero means 10ms.
	BatchTimeout time.Duration

	// Logger for sender events.
	Logger *slog.Logger
}

// Kafka forwards publishes to a Kafka-backed event stream. Messages are
// keyed by application/device so one device's events stay ordered within a
// partition.
type Kafka struct {
	writer *kafka.Writer
	logger *slog.Logger
}

var _ Publisher = (*Kafka)(nil)

// NewKafka creates a Kafka sender.
func NewKafka(cfg KafkaConfig) *Kafka {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
	}

	return &Kafka{writer: writer, logger: cfg.Logger}
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, p Publish, payload []byte) (Outcome, error) {
	headers := []kafka.Header{
		{Key: "channel", Value: []byte(p.Channel)},
		{Key: "application", Value: []byte(p.Application)},
		{Key: "device", Value: []byte(p.Device)},
		{Key: "sender", Value: []byte(p.Sender)},
	}
	if p.Options.ContentType != "" {
		headers = append(headers, kafka.Header{Key: "content-type", Value: []byte(p.Options.ContentType)})
	}

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(p.Application + "/" + p.Device),
		Value:   payload,
		Headers: headers,
	})
	return classify(err)
}

// classify maps a write result onto the tri-state outcome. Broker refusals
// of the record become Rejected, capacity conditions become QueueFull, and
// everything else is a transport error.
func classify(err error) (Outcome, error) {
	if err == nil {
		return Accepted, nil
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafka.MessageSizeTooLarge, kafka.PolicyViolation, kafka.InvalidTopic:
			return Rejected, nil
		case kafka.RequestTimedOut, kafka.NotEnoughReplicas, kafka.NotEnoughReplicasAfterAppend:
			return QueueFull, nil
		}
	}
	return 0, err
}

// Close flushes and releases the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
