// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fogrise/mqttgate/pkg/breaker"
)

func TestClientAuthorizeAsPass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/authorize_as" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %q", r.Method)
		}

		var req struct {
			Application string `json:"application"`
			Device      string `json:"device"`
			As          string `json:"as"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Application != "app1" || req.Device != "gateway1" || req.As != "sensor1" {
			t.Errorf("unexpected request: %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"outcome": "pass",
			"as":      map[string]string{"name": "sensor1"},
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{URL: srv.URL})

	outcome, err := client.AuthorizeAs(context.Background(), "app1", "gateway1", "sensor1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != Pass {
		t.Errorf("expected %v, got %v", Pass, outcome.Result)
	}
	if outcome.As.Name != "sensor1" {
		t.Errorf("expected device %q, got %q", "sensor1", outcome.As.Name)
	}
}

func TestClientAuthorizeAsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"outcome": "fail"})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{URL: srv.URL})

	outcome, err := client.AuthorizeAs(context.Background(), "app1", "gateway1", "sensor1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != Fail {
		t.Errorf("expected %v, got %v", Fail, outcome.Result)
	}
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{URL: srv.URL})

	if _, err := client.AuthorizeAs(context.Background(), "app1", "gateway1", "sensor1"); err == nil {
		t.Error("expected an error for a 500 response")
	}
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient(ClientConfig{URL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})

	if _, err := client.AuthorizeAs(context.Background(), "app1", "gateway1", "sensor1"); err == nil {
		t.Error("expected an error for an unreachable service")
	}
}

type flakyAuthorizer struct {
	err error
}

func (f *flakyAuthorizer) AuthorizeAs(context.Context, string, string, string) (Outcome, error) {
	if f.err != nil {
		return Outcome{}, f.err
	}
	return Outcome{Result: Pass, As: Device{Name: "sensor1"}}, nil
}

func TestBreakerAuthorizerShedsWhileOpen(t *testing.T) {
	inner := &flakyAuthorizer{err: errors.New("down")}
	cb := breaker.New(breaker.Config{MaxFailures: 2, ResetTimeout: time.Minute})
	authorizer := NewBreakerAuthorizer(inner, cb)

	for i := 0; i < 2; i++ {
		if _, err := authorizer.AuthorizeAs(context.Background(), "app1", "gw", "s1"); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}

	inner.err = nil
	if _, err := authorizer.AuthorizeAs(context.Background(), "app1", "gw", "s1"); !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerAuthorizerPassesThrough(t *testing.T) {
	authorizer := NewBreakerAuthorizer(&flakyAuthorizer{}, breaker.New(breaker.Config{}))

	outcome, err := authorizer.AuthorizeAs(context.Background(), "app1", "gw", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Result != Pass || outcome.As.Name != "sensor1" {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
}

func TestResultString(t *testing.T) {
	cases := map[Result]string{
		Pass: "pass",
		Fail: "fail",
	}
	for result, expected := range cases {
		if got := result.String(); got != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	}
}
