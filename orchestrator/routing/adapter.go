// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StatusCategory is the three-way classification every adapter maps its
// provider's native errors into.
type StatusCategory string

const (
	// StatusSuccess means the backend executed the call and returned a
	// usable response body.
	StatusSuccess StatusCategory = "success"

	// StatusRetryableFailure covers timeouts, transport errors, throttling
	// and 5xx responses. The coordinator advances to the next candidate.
	StatusRetryableFailure StatusCategory = "retryable_failure"

	// StatusNonRetryableFailure covers malformed-request/4xx responses.
	// The coordinator aborts immediately.
	StatusNonRetryableFailure StatusCategory = "non_retryable_failure"
)

// InvokeResult is the uniform outcome of one adapter invocation.
type InvokeResult struct {
	// Status is the three-way outcome classification.
	Status StatusCategory

	// Body is the response payload on success (may carry an error body on
	// failure for diagnostics).
	Body []byte

	// Elapsed is the measured wall time of the call.
	Elapsed time.Duration

	// StatusCode is the transport status code when one exists.
	StatusCode int

	// Timeout is set when the per-attempt deadline elapsed before the
	// backend answered. Timeouts are always retryable.
	Timeout bool

	// Err describes the failure for non-success results.
	Err string
}

// BackendAdapter is the single capability a provider integration must
// implement. Implementations must be safe for concurrent use and must
// enforce the supplied timeout themselves via the context deadline, never
// relying on the caller to stop waiting.
type BackendAdapter interface {
	// Invoke calls the backend with the given payload. It returns a
	// classified result; transport-level errors are folded into the result
	// rather than returned, so err is non-nil only for programming errors
	// (nil payload handling is adapter-specific).
	Invoke(ctx context.Context, payload []byte, timeout time.Duration) (*InvokeResult, error)
}

// AdapterFactory constructs an adapter for a backend of its kind.
type AdapterFactory func(backend Backend) (BackendAdapter, error)

// AdapterRegistry maps provider kinds to adapter factories and caches
// constructed adapters per backend. Nothing outside the adapter packages
// branches on provider kind; new providers are added by registering a
// factory here.
type AdapterRegistry struct {
	mu        sync.RWMutex
	factories map[ProviderKind]AdapterFactory
	adapters  map[string]BackendAdapter
}

// NewAdapterRegistry creates an empty adapter registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		factories: make(map[ProviderKind]AdapterFactory),
		adapters:  make(map[string]BackendAdapter),
	}
}

// RegisterFactory registers the factory for a provider kind, replacing any
// previous registration.
func (r *AdapterRegistry) RegisterFactory(kind ProviderKind, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// RegisterAdapter installs a pre-built adapter for a specific backend ID.
// Used by tests and for custom backends.
func (r *AdapterRegistry) RegisterAdapter(backendID string, adapter BackendAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[backendID] = adapter
}

// Get returns the adapter for a backend, building it lazily from the
// factory for its kind on first use.
func (r *AdapterRegistry) Get(backend *Backend) (BackendAdapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[backend.ID]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.adapters[backend.ID]; ok {
		return adapter, nil
	}
	factory, ok := r.factories[backend.Kind]
	if !ok {
		return nil, fmt.Errorf("no adapter factory registered for kind %q", backend.Kind)
	}
	adapter, err := factory(*backend)
	if err != nil {
		return nil, fmt.Errorf("failed to build adapter for backend %q: %w", backend.ID, err)
	}
	r.adapters[backend.ID] = adapter
	return adapter, nil
}

// Kinds returns the registered provider kinds, sorted.
func (r *AdapterRegistry) Kinds() []ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]ProviderKind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Evict drops the cached adapter for a backend ID. Called on configuration
// reload so replaced backends get fresh adapters.
func (r *AdapterRegistry) Evict(backendID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, backendID)
}

// outcomeFor maps an invoke result to the attempt outcome recorded in the
// decision trail.
func outcomeFor(res *InvokeResult) AttemptOutcome {
	switch res.Status {
	case StatusSuccess:
		return OutcomeSuccess
	case StatusNonRetryableFailure:
		return OutcomeRejected
	default:
		if res.Timeout {
			return OutcomeTimeout
		}
		return OutcomeTransportError
	}
}
