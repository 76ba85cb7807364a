// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the routing core.
var (
	// ErrNoBackendsConfigured indicates the registry snapshot is empty.
	ErrNoBackendsConfigured = errors.New("no backends configured")

	// ErrNoAvailableBackend indicates every registered backend was
	// excluded by the failure-rate cutoff or an active cooldown.
	ErrNoAvailableBackend = errors.New("no available backend")

	// ErrDeadlineExceeded indicates the overall request deadline elapsed
	// before any backend succeeded.
	ErrDeadlineExceeded = errors.New("request deadline exceeded")
)

// ConfigError reports an invalid or incomplete configuration. It is fatal
// to startup, never per-request.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// BackendError reports the failure of a single invocation attempt against a
// specific backend, classified by outcome.
type BackendError struct {
	BackendID string
	Outcome   AttemptOutcome
	Cause     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.BackendID, e.Outcome, e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }

// Retryable reports whether another candidate may be tried after this
// failure. Rejections are client errors and retrying them against a
// different backend would not help.
func (e *BackendError) Retryable() bool {
	return e.Outcome != OutcomeRejected
}

// RejectedError wraps the non-retryable rejection that aborted a request.
type RejectedError struct {
	BackendID string
	Cause     error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected by backend %s: %v", e.BackendID, e.Cause)
}

func (e *RejectedError) Unwrap() error { return e.Cause }

// ExhaustedError is returned when every ranked candidate failed retryably.
// It carries the full attempt trail for diagnosis.
type ExhaustedError struct {
	Attempts []InvocationAttempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d candidates failed retryably", len(e.Attempts))
}

// PersistenceError reports a telemetry write failure. It is logged and
// suppressed by the recorder, never propagated to the orchestrate caller.
type PersistenceError struct {
	Store string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure (%s): %v", e.Store, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
