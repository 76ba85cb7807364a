// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

// Package azurefn provides the Azure Functions backend adapter for
// HTTP-triggered functions. Authentication uses the function key, supplied
// inline or resolved from a secrets manager at first use.
package azurefn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"faasflow/platform/orchestrator/routing"
)

// functionKeyHeader carries the Azure Functions host key.
const functionKeyHeader = "x-functions-key"

// maxResponseBytes caps how much of a response body the adapter reads.
const maxResponseBytes = 8 << 20

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeyResolver resolves a secret reference into its key/value payload.
// Satisfied by the secrets package's Manager.
type KeyResolver interface {
	GetSecret(ctx context.Context, ref string) (map[string]string, error)
}

// Adapter invokes one HTTP-triggered Azure Function.
type Adapter struct {
	endpoint string
	client   HTTPClient

	mu        sync.Mutex
	key       string
	secretARN string
	resolver  KeyResolver
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the HTTP client. Used by tests.
func WithHTTPClient(client HTTPClient) Option {
	return func(a *Adapter) { a.client = client }
}

// WithKeyResolver sets the resolver used when the backend references its
// function key through a secret ARN instead of carrying it inline.
func WithKeyResolver(resolver KeyResolver) Option {
	return func(a *Adapter) { a.resolver = resolver }
}

// New builds an adapter for the given backend. The function key comes from
// Settings["function_key"] or, when SecretARN is set, from the "function_key"
// entry of the resolved secret.
func New(backend routing.Backend, opts ...Option) (*Adapter, error) {
	if backend.Endpoint == "" {
		return nil, fmt.Errorf("azure function backend %q has no endpoint", backend.ID)
	}
	a := &Adapter{
		endpoint:  backend.Endpoint,
		client:    &http.Client{},
		key:       backend.Settings["function_key"],
		secretARN: backend.SecretARN,
	}
	for _, opt := range opts {
		opt(a)
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

	key, err := a.functionKey(ctx)
	if err != nil {
		return &routing.InvokeResult{
			Status: routing.StatusRetryableFailure,
			Err:    fmt.Sprintf("failed to resolve function key: %v", err),
		}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(functionKeyHeader, key)
	}

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

	return classifyHTTP(resp.StatusCode, body, elapsed), nil
}

// functionKey returns the cached key, resolving it from the secret store on
// first use.
func (a *Adapter) functionKey(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key != "" || a.secretARN == "" {
		return a.key, nil
	}
	if a.resolver == nil {
		return "", fmt.Errorf("backend references secret %s but no resolver is configured", a.secretARN)
	}
	secret, err := a.resolver.GetSecret(ctx, a.secretARN)
	if err != nil {
		return "", err
	}
	a.key = secret["function_key"]
	return a.key, nil
}

// classifyHTTP maps an HTTP status into the shared three-way classification:
// 2xx success, 4xx non-retryable (429 excepted), everything else retryable.
func classifyHTTP(statusCode int, body []byte, elapsed time.Duration) *routing.InvokeResult {
	res := &routing.InvokeResult{
		Body:       body,
		Elapsed:    elapsed,
		StatusCode: statusCode,
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		res.Status = routing.StatusSuccess
	case statusCode == http.StatusTooManyRequests:
		res.Status = routing.StatusRetryableFailure
		res.Err = "function host throttled the request"
	case statusCode >= 400 && statusCode < 500:
		res.Status = routing.StatusNonRetryableFailure
		res.Err = fmt.Sprintf("function rejected the request (status %d)", statusCode)
	default:
		res.Status = routing.StatusRetryableFailure
		res.Err = fmt.Sprintf("function host error (status %d)", statusCode)
	}
	return res
}

// Ensure Adapter implements the backend adapter capability.
var _ routing.BackendAdapter = (*Adapter)(nil)

// Factory returns an adapter factory bound to the given key resolver.
func Factory(resolver KeyResolver) routing.AdapterFactory {
	return func(backend routing.Backend) (routing.BackendAdapter, error) {
		return New(backend, WithKeyResolver(resolver))
	}
}
