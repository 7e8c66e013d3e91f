// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package command models the command stream a connection can subscribe to:
// filters scoping which commands a session receives, and a source delivering
// matching command messages.
package command

// Command is one command message destined for a device.
type Command struct {
	// Application owning the target device.
	Application string

	// Device the command is addressed to.
	Device string

	// Gateway is the routing hint naming the device expected to deliver
	// the command. Empty for directly connected devices.
	Gateway string

	// Name of the command.
	Name string

	// ContentType of the payload, if declared.
	ContentType string

	// Payload is the raw command payload.
	Payload []byte
}

// FilterKind enumerates the closed set of filter variants.
type FilterKind int

const (
	// KindWildcard matches every command the session's device should
	// see, whatever the target device.
	KindWildcard FilterKind = iota

	// KindDevice matches commands addressed to the session's device
	// itself, not proxied ones.
	KindDevice

	// KindProxiedDevice matches commands for one named proxied device.
	KindProxiedDevice
)

// String returns a string representation of the kind.
func (k FilterKind) String() string {
	switch k {
	case KindWildcard:
		return "wildcard"
	case KindDevice:
		return "device"
	case KindProxiedDevice:
		return "proxied_device"
	default:
		return "unknown"
	}
}

// Filter scopes a command subscription. Exactly three shapes exist, so it is
// a closed tagged variant rather than an open hierarchy.
type Filter struct {
	Kind FilterKind

	// Application and Device identify the subscribing session.
	Application string
	Device      string

	// Name is the proxied device name, for KindProxiedDevice only.
	Name string
}

// Wildcard builds a filter over all commands for the session.
func Wildcard(application, device string) Filter {
	return Filter{Kind: KindWildcard, Application: application, Device: device}
}

// ForDevice builds a filter for commands addressed to the session's device
// itself.
func ForDevice(application, device string) Filter {
	return Filter{Kind: KindDevice, Application: application, Device: device}
}

// ProxiedDevice builds a filter for commands proxied for the named device.
func ProxiedDevice(application, device, name string) Filter {
	return Filter{Kind: KindProxiedDevice, Application: application, Device: device, Name: name}
}

// Matches reports whether cmd falls inside the filter's scope. When
// forceDevice is set, a proxied-device filter requires the command to carry
// the exact proxied-device identity the filter was created for, not merely
// to fall inside the broader application/device scope. This guards against
// a gateway receiving commands for devices it is not currently proxying.
func (f Filter) Matches(cmd Command, forceDevice bool) bool {
	if cmd.Application != f.Application {
		return false
	}

	switch f.Kind {
	case KindWildcard:
		return cmd.Device == f.Device || cmd.Gateway == f.Device
	case KindDevice:
		return cmd.Device == f.Device
	case KindProxiedDevice:
		if forceDevice {
			return cmd.Device == f.Name
		}
		return cmd.Device == f.Name || cmd.Gateway == f.Device
	default:
		return false
	}
}

// CancelFunc releases a subscription. It is idempotent; after the first
// call the subscription's channel is closed and delivers no new commands.
type CancelFunc func()

// Source delivers command messages matching a filter. Implementations are
// externally synchronized; sessions access them without additional locking.
type Source interface {
	// Subscribe registers interest in commands matching filter. Matching
	// commands arrive on the returned channel until cancel is called,
	// after which the channel is closed.
	Subscribe(filter Filter) (<-chan Command, CancelFunc)
}
