// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"sync"
	"time"
)

// testLogger records log entries for assertions.
type testLogger struct {
	mu      sync.Mutex
	entries []testLogEntry
}

type testLogEntry struct {
	Level     string
	RequestID string
	Message   string
	Fields    map[string]interface{}
}

func (l *testLogger) log(level, requestID, message string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, testLogEntry{Level: level, RequestID: requestID, Message: message, Fields: fields})
}

func (l *testLogger) Info(requestID, message string, fields map[string]interface{}) {
	l.log("INFO", requestID, message, fields)
}

func (l *testLogger) Warn(requestID, message string, fields map[string]interface{}) {
	l.log("WARN", requestID, message, fields)
}

func (l *testLogger) Error(requestID, message string, fields map[string]interface{}) {
	l.log("ERROR", requestID, message, fields)
}

func (l *testLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// scriptedAdapter returns its canned results in order, repeating the last
// one when the script runs out.
type scriptedAdapter struct {
	mu      sync.Mutex
	script  []*InvokeResult
	calls   int
	payload []byte
}

func (a *scriptedAdapter) Invoke(ctx context.Context, payload []byte, timeout time.Duration) (*InvokeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payload = payload
	idx := a.calls
	if idx >= len(a.script) {
		idx = len(a.script) - 1
	}
	a.calls++
	return a.script[idx], nil
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func successResult(latency time.Duration) *InvokeResult {
	return &InvokeResult{Status: StatusSuccess, Body: []byte(`{"ok":true}`), Elapsed: latency}
}

func retryableResult(msg string) *InvokeResult {
	return &InvokeResult{Status: StatusRetryableFailure, Err: msg}
}

func timeoutResult() *InvokeResult {
	return &InvokeResult{Status: StatusRetryableFailure, Timeout: true, Err: "attempt timed out"}
}

func rejectedResult(msg string, code int) *InvokeResult {
	return &InvokeResult{Status: StatusNonRetryableFailure, StatusCode: code, Err: msg}
}

// registryWith builds an adapter registry with pre-bound adapters.
func registryWith(adapters map[string]BackendAdapter) *AdapterRegistry {
	r := NewAdapterRegistry()
	for id, a := range adapters {
		r.RegisterAdapter(id, a)
	}
	return r
}

// candidatesFor wraps the given backends as ranked candidates in
// declaration order, bypassing the evaluator.
func candidatesFor(backends ...Backend) []RankedCandidate {
	out := make([]RankedCandidate, 0, len(backends))
	for i := range backends {
		out = append(out, RankedCandidate{Backend: &backends[i]})
	}
	return out
}
