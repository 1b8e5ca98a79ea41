/*
Copyright 2026 The Kvgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httplocator implements locator.Locator against an HTTP location
// service. Requests go through a circuit breaker so a failing service is
// reported as unavailable without waiting on every call.
package httplocator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
	"kvgate.io/kvgate/go/kv/log"
)

// maxBodySize caps the location document read from the service.
const maxBodySize = 1 << 20

// callerDone marks a lookup abandoned because the caller's context ended.
// It says nothing about the health of the service.
type callerDone struct{ err error }

func (e callerDone) Error() string { return e.err.Error() }
func (e callerDone) Unwrap() error { return e.err }

// Config configures a Locator.
type Config struct {
	// BaseURL is the root of the location service, e.g. http://loc:8080.
	BaseURL string
	// Timeout bounds each request. Defaults to 5s.
	Timeout time.Duration
	// TripAfter is the number of consecutive failures that opens the
	// breaker. Defaults to 5.
	TripAfter uint32
	// OpenTimeout is how long the breaker stays open before probing
	// again. Defaults to 30s.
	OpenTimeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
}

// Locator is a locator.Locator over HTTP.
type Locator struct {
	base   *url.URL
	client *http.Client
	cb     *gobreaker.CircuitBreaker[*locator.Location]
}

var _ locator.Locator = (*Locator)(nil)

// New returns a Locator for cfg.
func New(cfg Config) (*Locator, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, kverrors.Errorf(kverrors.InvalidArgument, "invalid location service url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	l := &Locator{base: base, client: client}
	l.cb = gobreaker.NewCircuitBreaker[*locator.Location](gobreaker.Settings{
		Name:        "location-service",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warningf("%s circuit breaker: %v -> %v", name, from, to)
		},
		// An answer that the table does not exist is still a healthy
		// service, and a caller giving up is no answer at all.
		IsSuccessful: func(err error) bool {
			return err == nil || kverrors.Code(err) == kverrors.NotFound || errors.As(err, new(callerDone))
		},
	})
	return l, nil
}

// State returns the current breaker state.
func (l *Locator) State() gobreaker.State {
	return l.cb.State()
}

func (l *Locator) locationURL(namespace, tableID string) string {
	return l.base.JoinPath("v1", "locations", locator.PathElement(namespace), tableID).String()
}

// Locate implements locator.Locator.
func (l *Locator) Locate(ctx context.Context, namespace, tableID string) (*locator.Location, error) {
	loc, err := l.cb.Execute(func() (*locator.Location, error) {
		loc, err := l.fetch(ctx, namespace, tableID)
		if err != nil && ctx.Err() != nil {
			return nil, kverrors.Errorf(kverrors.Unavailable, "location lookup: %w", callerDone{ctx.Err()})
		}
		return loc, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, kverrors.Errorf(kverrors.Unavailable, "location service: %v", err)
	}
	return loc, err
}

func (l *Locator) fetch(ctx context.Context, namespace, tableID string) (*locator.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.locationURL(namespace, tableID), nil)
	if err != nil {
		return nil, kverrors.Errorf(kverrors.Internal, "location request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, kverrors.Errorf(kverrors.Unavailable, "location service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, kverrors.Errorf(kverrors.Unavailable, "location service: reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, kverrors.Errorf(kverrors.NotFound, "table %s/%s not found", locator.PathElement(namespace), tableID)
	case resp.StatusCode >= 500:
		return nil, kverrors.Errorf(kverrors.Unavailable, "location service returned %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, kverrors.Errorf(kverrors.Internal, "location service returned %s: %s", resp.Status, truncate(body))
	}
	return locator.Decode(body)
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return fmt.Sprintf("%s...", b[:limit])
	}
	return string(b)
}
