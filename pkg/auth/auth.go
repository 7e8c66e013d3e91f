// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package auth defines the device authorization boundary: given an
// authenticated gateway device, may it act as another device?
package auth

import "context"

// Device is a resolved device identity from the registry.
type Device struct {
	Name string `json:"name"`
}

// Result is the definitive outcome of an authorize-as request.
type Result int

const (
	// Fail denies the gateway from acting as the requested device.
	Fail Result = iota

	// Pass grants the gateway the identity in Outcome.As.
	Pass
)

// String returns a string representation of the result.
func (r Result) String() string {
	if r == Pass {
		return "pass"
	}
	return "fail"
}

// Outcome is a definitive authorization decision. A transport or service
// failure is reported as an error instead and is never an Outcome.
type Outcome struct {
	Result Result

	// As is the granted device identity. Only set when Result is Pass.
	As Device
}

// Authorizer decides whether an authenticated device may publish on behalf
// of another device.
type Authorizer interface {
	// AuthorizeAs asks whether device, authenticated under application,
	// may act as the proxied device named as. An error indicates the
	// authorizer itself failed; it is not an authorization denial.
	AuthorizeAs(ctx context.Context, application, device, as string) (Outcome, error)
}
