// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

// Package cloudfn provides the Google Cloud Functions backend adapter for
// HTTP-triggered functions (2nd gen Cloud Run endpoints included). Private
// functions are called with a Google-signed ID token for the configured
// audience; public ones with a plain HTTP client.
package cloudfn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/api/idtoken"

	"faasflow/platform/orchestrator/routing"
)

// maxResponseBytes caps how much of a response body the adapter reads.
const maxResponseBytes = 8 << 20

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter invokes one HTTP-triggered Cloud Function.
type Adapter struct {
	endpoint string
	client   HTTPClient
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the HTTP client. Used by tests.
func WithHTTPClient(client HTTPClient) Option {
	return func(a *Adapter) { a.client = client }
}

// New builds an adapter for the given backend. When Settings["audience"]
// is set the adapter authenticates with a Google-signed ID token for that
// audience; otherwise the function is assumed to allow unauthenticated
// invocations.
func New(backend routing.Backend, opts ...Option) (*Adapter, error) {
	if backend.Endpoint == "" {
		return nil, fmt.Errorf("cloud function backend %q has no endpoint", backend.ID)
	}
	a := &Adapter{endpoint: backend.Endpoint}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		if audience := backend.Settings["audience"]; audience != "" {
			client, err := idtoken.NewClient(context.Background(), audience)
			if err != nil {
				return nil, fmt.Errorf("failed to create ID token client: %w", err)
			}
			a.client = client
		} else {
			a.client = &http.Client{}
		}
	}
	return a, nil
}

// Invoke posts the payload to the function endpoint, enforcing the timeout
// through the context deadline.
func (a *Adapter) Invoke(ctx context.Context, payload []byte, timeout time.Duration) (*routing.InvokeResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := a.client.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		res := &routing.InvokeResult{
			Status:  routing.StatusRetryableFailure,
			Elapsed: elapsed,
			Err:     err.Error(),
		}
		if errors.Is(err, context.DeadlineExceeded) {
			res.Timeout = true
		}
		return res, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return &routing.InvokeResult{
			Status:     routing.StatusRetryableFailure,
			Elapsed:    elapsed,
			StatusCode: resp.StatusCode,
			Err:        fmt.Sprintf("failed to read response: %v", readErr),
		}, nil
	}

	res := &routing.InvokeResult{
		Body:       body,
		Elapsed:    elapsed,
		StatusCode: resp.StatusCode,
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res.Status = routing.StatusSuccess
	case resp.StatusCode == http.StatusTooManyRequests:
		res.Status = routing.StatusRetryableFailure
		res.Err = "function throttled the request"
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		res.Status = routing.StatusNonRetryableFailure
		res.Err = fmt.Sprintf("function rejected the request (status %d)", resp.StatusCode)
	default:
		res.Status = routing.StatusRetryableFailure
		res.Err = fmt.Sprintf("function error (status %d)", resp.StatusCode)
	}
	return res, nil
}

// Ensure Adapter implements the backend adapter capability.
var _ routing.BackendAdapter = (*Adapter)(nil)

// Factory adapts New to the adapter registry's factory signature.
func Factory(backend routing.Backend) (routing.BackendAdapter, error) {
	return New(backend)
}
