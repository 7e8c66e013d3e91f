// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package session implements the per-connection session handler of the MQTT
// endpoint. One Session exists per established, authenticated connection and
// mediates between the device (or a gateway acting as another device) and
// the downstream telemetry/command bus.
//
// # Responsibilities
//
//   - Publish handling: classify the topic, resolve the acting device
//     identity (self or an authorized proxied device, via the session's
//     authorization cache), forward to the downstream bus, and map the bus's
//     tri-state outcome onto protocol errors.
//   - Subscribe handling: validate requested filters against the command
//     inbox grammar and register a live command relay per accepted filter.
//   - Unsubscribe and close: tear relays down gracefully, awaiting full
//     shutdown before acknowledging.
//
// The transport layer delivers publish/subscribe/unsubscribe/close events to
// the Session and owns the wire codec, keep-alive, and any retry or
// disconnect policy. Publish failures are returned per message; subscribe
// and unsubscribe results are per-entry acknowledgement reasons, never
// connection-fatal.
package session
