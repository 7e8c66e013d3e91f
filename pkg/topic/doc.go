// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package topic classifies slash-delimited MQTT topic strings into the small
// closed set of shapes the endpoint recognizes.
//
// # Publish shapes
//
//	<channel>        publish as the authenticated device itself
//	<channel>/<as>   publish as the proxied device <as>
//
// Any other shape is invalid.
//
// # Subscribe shapes
//
//	command/inbox/#        all commands, any device
//	command/inbox/+/#      all commands, any device (wildcard form)
//	command/inbox//#       commands for the authenticated device only
//	command/inbox/<dev>/#  commands proxied for <dev>
//
// Any other filter is invalid. The empty middle segment in command/inbox//#
// is a deliberate semantic marker for "self only"; it is matched exactly and
// never generalized, since looser matching would silently admit unintended
// proxied subscriptions.
//
// Classification is a pure function of the input string: no normalization,
// no wildcard expansion beyond the enumerated shapes.
package topic
