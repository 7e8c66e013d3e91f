// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fogrise/mqttgate/pkg/breaker"
)

// ClientConfig holds configuration for the authorization service client.
type ClientConfig struct {
	// URL is the base URL of the device authentication service.
	URL string

	// Timeout bounds a single authorize-as request. Zero means the
	// default of 10 seconds.
	Timeout time.Duration

	// Logger for client events.
	Logger *slog.Logger
}

// Client calls the device authentication service over HTTP. It performs no
// retries; retry policy belongs to the caller.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

var _ Authorizer = (*Client)(nil)

// NewClient creates a new authorization service client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		url:    cfg.URL,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}
}

type authorizeAsRequest struct {
	Application string `json:"application"`
	Device      string `json:"device"`
	As          string `json:"as"`
}

type authorizeAsResponse struct {
	Outcome string  `json:"outcome"`
	As      *Device `json:"as,omitempty"`
}

// AuthorizeAs implements Authorizer against the HTTP authorization service.
func (c *Client) AuthorizeAs(ctx context.Context, application, device, as string) (Outcome, error) {
	body, err := json.Marshal(authorizeAsRequest{
		Application: application,
		Device:      device,
		As:          as,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode authorize-as request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/v1/auth/authorize_as", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to build authorize-as request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("authorize-as request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("authorize-as request failed: status %d", resp.StatusCode)
	}

	var decoded authorizeAsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Outcome{}, fmt.Errorf("failed to decode authorize-as response: %w", err)
	}

	c.logger.Debug("authorize-as outcome",
		slog.String("application", application),
		slog.String("device", device),
		slog.String("as", as),
		slog.String("outcome", decoded.Outcome))

	if decoded.Outcome == "pass" && decoded.As != nil {
		return Outcome{Result: Pass, As: *decoded.As}, nil
	}
	return Outcome{Result: Fail}, nil
}

// BreakerAuthorizer decorates an Authorizer with a circuit breaker so a
// failing authorization service sheds load instead of stalling every
// cache-miss publish.
type BreakerAuthorizer struct {
	next    Authorizer
	breaker *breaker.CircuitBreaker
}

var _ Authorizer = (*BreakerAuthorizer)(nil)

// NewBreakerAuthorizer wraps next with the given circuit breaker.
func NewBreakerAuthorizer(next Authorizer, cb *breaker.CircuitBreaker) *BreakerAuthorizer {
	return &BreakerAuthorizer{next: next, breaker: cb}
}

// AuthorizeAs implements Authorizer. When the breaker is open the call fails
// immediately with breaker.ErrCircuitOpen.
func (b *BreakerAuthorizer) AuthorizeAs(ctx context.Context, application, device, as string) (Outcome, error) {
	var outcome Outcome
	err := b.breaker.Call(func() error {
		var err error
		outcome, err = b.next.AuthorizeAs(ctx, application, device, as)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}
