// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package topic

import "strings"

// PublishTopic is the classification of a publish topic.
type PublishTopic struct {
	// Channel is the downstream channel the message is addressed to.
	Channel string

	// AsDevice is the proxied device name, when Proxied is true.
	AsDevice string

	// Proxied reports whether the topic carried an "as" device segment.
	Proxied bool
}

// ParsePublish classifies a publish topic. It returns false for any shape
// other than <channel> or <channel>/<as>.
func ParsePublish(name string) (PublishTopic, bool) {
	segments := strings.Split(name, "/")
	switch len(segments) {
	case 1:
		return PublishTopic{Channel: segments[0]}, true
	case 2:
		return PublishTopic{Channel: segments[0], AsDevice: segments[1], Proxied: true}, true
	default:
		return PublishTopic{}, false
	}
}

// SubscribeShape enumerates the legal inbox subscription shapes.
type SubscribeShape int

const (
	// ShapeInvalid marks a filter outside the recognized grammar.
	ShapeInvalid SubscribeShape = iota

	// ShapeWildcard matches commands for any device under the session
	// (command/inbox/# and command/inbox/+/#).
	ShapeWildcard

	// ShapeDevice matches commands addressed to the authenticated device
	// only (command/inbox//#).
	ShapeDevice

	// ShapeProxiedDevice matches commands proxied for one named device
	// (command/inbox/<dev>/#).
	ShapeProxiedDevice
)

// String returns a string representation of the shape.
func (s SubscribeShape) String() string {
	switch s {
	case ShapeWildcard:
		return "wildcard"
	case ShapeDevice:
		return "device"
	case ShapeProxiedDevice:
		return "proxied_device"
	default:
		return "invalid"
	}
}

// SubscribeTopic is the classification of a subscribe filter.
type SubscribeTopic struct {
	Shape SubscribeShape

	// Device is the proxied device name for ShapeProxiedDevice.
	Device string
}

// ParseSubscribe classifies a subscribe filter against the inbox grammar.
func ParseSubscribe(filter string) SubscribeTopic {
	segments := strings.Split(filter, "/")
	switch len(segments) {
	case 3:
		if segments[0] == "command" && segments[1] == "inbox" && segments[2] == "#" {
			return SubscribeTopic{Shape: ShapeWildcard}
		}
	case 4:
		if segments[0] != "command" || segments[1] != "inbox" || segments[3] != "#" {
			break
		}
		switch segments[2] {
		case "+":
			return SubscribeTopic{Shape: ShapeWildcard}
		case "":
			return SubscribeTopic{Shape: ShapeDevice}
		default:
			return SubscribeTopic{Shape: ShapeProxiedDevice, Device: segments[2]}
		}
	}
	return SubscribeTopic{Shape: ShapeInvalid}
}
