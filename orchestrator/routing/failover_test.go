// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		AttemptTimeout: 100 * time.Millisecond,
		BackoffBase:    10 * time.Millisecond,
		BackoffCap:     80 * time.Millisecond,
	}
}

func newDecision() *RoutingDecision {
	return &RoutingDecision{ID: "dec-1", Function: "resize-image", StartedAt: time.Now()}
}

func TestExecuteFirstCandidateSucceeds(t *testing.T) {
	primary := &scriptedAdapter{script: []*InvokeResult{successResult(40 * time.Millisecond)}}
	fallback := &scriptedAdapter{script: []*InvokeResult{successResult(60 * time.Millisecond)}}

	c := NewFailoverCoordinator(registryWith(map[string]BackendAdapter{
		"primary":  primary,
		"fallback": fallback,
	}), &testLogger{})

	decision := newDecision()
	candidates := candidatesFor(
		Backend{ID: "primary", Kind: KindAWSLambda, Endpoint: "fn"},
		Backend{ID: "fallback", Kind: KindCloudFunctions, Endpoint: "https://x.test"},
	)

	res, err := c.Execute(context.Background(), decision, []byte(`{}`), candidates, testPolicy())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if res.Status != StatusSuccess {
		t.Errorf("Expected success, got %s", res.Status)
	}
	if decision.Final != StateSuccess {
		t.Errorf("Expected final state %s, got %s", StateSuccess, decision.Final)
	}
	if decision.ChosenBackend != "primary" {
		t.Errorf("Expected primary chosen, got %s", decision.ChosenBackend)
	}
	if len(decision.Attempts) != 1 {
		t.Errorf("Expected 1 attempt, got %d", len(decision.Attempts))
	}
	if fallback.callCount() != 0 {
		t.Error("Fallback must not be invoked when the first candidate succeeds")
	}
}

// TestExecuteFailoverRankOrder covers the timeout-then-fallback path: the
// top candidate times out retryably, the next in rank succeeds, and the
// decision records both attempts in order.
func TestExecuteFailoverRankOrder(t *testing.T) {
	gcp := &scriptedAdapter{script: []*InvokeResult{timeoutResult()}}
	azure := &scriptedAdapter{script: []*InvokeResult{successResult(210 * time.Millisecond)}}

	c := NewFailoverCoordinator(registryWith(map[string]BackendAdapter{
		"gcp":   gcp,
		"azure": azure,
	}), &testLogger{})
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	decision := newDecision()
	candidates := []RankedCandidate{
		{Backend: &Backend{ID: "gcp", Kind: KindCloudFunctions, Endpoint: "https://g.test"}},
		{Backend: &Backend{ID: "azure", Kind: KindAzureFunctions, Endpoint: "https://a.test"}, LatencyViolation: true},
	}
	decision.Candidates = candidates

	res, err := c.Execute(context.Background(), decision, []byte(`{}`), candidates, testPolicy())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("Expected success, got %s", res.Status)
	}

	if decision.ChosenBackend != "azure" {
		t.Errorf("Expected azure chosen, got %s", decision.ChosenBackend)
	}
	if len(decision.Attempts) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(decision.Attempts))
	}
	if decision.Attempts[0].BackendID != "gcp" || decision.Attempts[1].BackendID != "azure" {
		t.Errorf("Attempts out of rank order: %s then %s",
			decision.Attempts[0].BackendID, decision.Attempts[1].BackendID)
	}
	if decision.Attempts[0].Outcome != OutcomeTimeout {
		t.Errorf("Expected first attempt outcome timeout, got %s", decision.Attempts[0].Outcome)
	}
	if decision.Attempts[0].Seq != 1 || decision.Attempts[1].Seq != 2 {
		t.Error("Attempt sequence numbers must be 1, 2")
	}

	// The violation flag on the winning candidate survives in the
	// decision's candidate list.
	if !decision.Candidates[1].LatencyViolation {
		t.Error("Expected latency violation flag preserved on azure candidate")
	}
}

// TestExecuteNonRetryableAborts covers the rejection path: a payload the
// first backend rejects must abort immediately with one recorded attempt.
func TestExecuteNonRetryableAborts(t *testing.T) {
	first := &scriptedAdapter{script: []*InvokeResult{rejectedResult("payload validation failed", 400)}}
	second := &scriptedAdapter{script: []*InvokeResult{successResult(50 * time.Millisecond)}}

	c := NewFailoverCoordinator(registryWith(map[string]BackendAdapter{
		"first":  first,
		"second": second,
	}), &testLogger{})

	decision := newDecision()
	candidates := candidatesFor(
		Backend{ID: "first", Kind: KindAWSLambda, Endpoint: "fn"},
		Backend{ID: "second", Kind: KindAWSLambda, Endpoint: "fn"},
	)

	_, err := c.Execute(context.Background(), decision, []byte(`not json`), candidates, testPolicy())

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected RejectedError, got %v", err)
	}
	if rejected.BackendID != "first" {
		t.Errorf("Expected rejection from first, got %s", rejected.BackendID)
	}
	if decision.Final != StateAborted {
		t.Errorf("Expected final state %s, got %s", StateAborted, decision.Final)
	}
	if len(decision.Attempts) != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", len(decision.Attempts))
	}
	if second.callCount() != 0 {
		t.Error("No further candidate may be attempted after a rejection")
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		if backendErr.Retryable() {
			t.Error("Rejection must not be retryable")
		}
	} else {
		t.Error("Expected a wrapped BackendError")
	}
}

// TestExecuteExhaustion covers the all-fail path: every candidate fails
// retryably within budget and the decision ends exhausted with all
// attempts recorded in rank order.
func TestExecuteExhaustion(t *testing.T) {
	mk := func() *scriptedAdapter {
		return &scriptedAdapter{script: []*InvokeResult{retryableResult("connection refused")}}
	}
	a, b, d := mk(), mk(), mk()

	c := NewFailoverCoordinator(registryWith(map[string]BackendAdapter{
		"aws": a, "azure": b, "gcp": d,
	}), &testLogger{})
	c.sleep = func(ctx context.Context, dur time.Duration) error { return nil }

	decision := newDecision()
	candidates := candidatesFor(
		Backend{ID: "aws", Kind: KindAWSLambda, Endpoint: "fn"},
		Backend{ID: "azure", Kind: KindAzureFunctions, Endpoint: "https://a.test"},
		Backend{ID: "gcp", Kind: KindCloudFunctions, Endpoint: "https://g.test"},
	)

	_, err := c.Execute(context.Background(), decision, []byte(`{}`), candidates, testPolicy())

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %v", err)
	}
	if decision.Final != StateExhausted {
		t.Errorf("Expected final state %s, got %s", StateExhausted, decision.Final)
	}
	if len(exhausted.Attempts) != 3 {
		t.Fatalf("Expected 3 attempts, got %d", len(exhausted.Attempts))
	}
	order := []string{"aws", "azure", "gcp"}
	for i, want := range order {
		if exhausted.Attempts[i].BackendID != want {
			t.Errorf("Attempt %d: expected %s, got %s", i, want, exhausted.Attempts[i].BackendID)
		}
	}
}

func TestExecuteAttemptBudget(t *testing.T) {
	failing := &scriptedAdapter{script: []*InvokeResult{retryableResult("down")}}

	c := NewFailoverCoordinator(registryWith(map[string]BackendAdapter{
		"a": failing, "b": failing, "c": failing,
	}), &testLogger{})
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	policy := testPolicy()
	policy.MaxAttempts = 2

	decision := newDecision()
	candidates := candidatesFor(
		Backend{ID: "a", Kind: KindAWSLambda, Endpoint: "fn"},
		Backend{ID: "b", Kind: KindAWSLambda, Endpoint: "fn"},
		Backend{ID: "c", Kind: KindAWSLambda, Endpoint: "fn"},
	)

	_, err := c.Execute(context.Background(), decision, []byte(`{}`), candidates, policy)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %v", err)
	}
	if len(decision.Attempts) != 2 {
		t.Errorf("Attempt budget of 2 must stop after 2 attempts, got %d", len(decision.Attempts))
	}
}

// TestExecuteDeadlineGate verifies no attempt starts when the remaining
// budget cannot fit one full attempt timeout.
func TestExecuteDeadlineGate(t *testing.T) {
	adapter := &scriptedAdapter{script: []*InvokeResult{successResult(10 * time.Millisecond)}}

	c := NewFailoverCoordinator(registryWith(map[string]BackendAdapter{"a": adapter}), &testLogger{})

	policy := testPolicy()
	policy.AttemptTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	decision := newDecision()
	candidates := candidatesFor(Backend{ID: "a", Kind: KindAWSLambda, Endpoint: "fn"})

	_, err := c.Execute(ctx, decision, []byte(`{}`), candidates, policy)

	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("Expected ErrDeadlineExceeded, got %v", err)
	}
	if decision.Final != StateDeadlineExceeded {
		t.Errorf("Expected final state %s, got %s", StateDeadlineExceeded, decision.Final)
	}
	if len(decision.Attempts) != 0 {
		t.Errorf("Expected no attempts, got %d", len(decision.Attempts))
	}
	if adapter.callCount() != 0 {
		t.Error("Adapter must not be invoked when the budget cannot fit an attempt")
	}
}

func TestExecuteBackoffBetweenAttempts(t *testing.T) {
	failing := &scriptedAdapter{script: []*InvokeResult{retryableResult("down")}}

	c := NewFailoverCoordinator(registryWith(map[string]BackendAdapter{
		"a": failing, "b": failing, "c": failing,
	}), &testLogger{})

	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	policy := testPolicy()
	policy.BackoffBase = 10 * time.Millisecond
	policy.BackoffCap = 15 * time.Millisecond

	decision := newDecision()
	candidates := candidatesFor(
		Backend{ID: "a", Kind: KindAWSLambda, Endpoint: "fn"},
		Backend{ID: "b", Kind: KindAWSLambda, Endpoint: "fn"},
		Backend{ID: "c", Kind: KindAWSLambda, Endpoint: "fn"},
	)

	_, _ = c.Execute(context.Background(), decision, []byte(`{}`), candidates, policy)

	// No backoff before the first attempt; 10ms before the second; the
	// doubled 20ms clamps to the 15ms cap before the third.
	if len(delays) != 2 {
		t.Fatalf("Expected 2 backoff sleeps, got %d", len(delays))
	}
	if delays[0] != 10*time.Millisecond {
		t.Errorf("Expected first backoff 10ms, got %v", delays[0])
	}
	if delays[1] != 15*time.Millisecond {
		t.Errorf("Expected second backoff capped at 15ms, got %v", delays[1])
	}
}

func TestExecuteUnbuildableAdapterIsRetryable(t *testing.T) {
	// "ghost" has no registered adapter or factory; the coordinator must
	// treat that as a retryable failure and move on.
	working := &scriptedAdapter{script: []*InvokeResult{successResult(30 * time.Millisecond)}}

	c := NewFailoverCoordinator(registryWith(map[string]BackendAdapter{"working": working}), &testLogger{})
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	decision := newDecision()
	candidates := candidatesFor(
		Backend{ID: "ghost", Kind: "unknown-kind", Endpoint: "fn"},
		Backend{ID: "working", Kind: KindAWSLambda, Endpoint: "fn"},
	)

	res, err := c.Execute(context.Background(), decision, []byte(`{}`), candidates, testPolicy())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Errorf("Expected success via the second candidate, got %s", res.Status)
	}
	if len(decision.Attempts) != 2 {
		t.Errorf("Expected 2 attempts, got %d", len(decision.Attempts))
	}
	if decision.Attempts[0].Outcome != OutcomeTransportError {
		t.Errorf("Expected transport_error outcome for unbuildable adapter, got %s", decision.Attempts[0].Outcome)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		cap      time.Duration
		attempt  int
		expected time.Duration
	}{
		{"first retry", 100 * time.Millisecond, 2 * time.Second, 1, 100 * time.Millisecond},
		{"second retry doubles", 100 * time.Millisecond, 2 * time.Second, 2, 200 * time.Millisecond},
		{"third retry doubles again", 100 * time.Millisecond, 2 * time.Second, 3, 400 * time.Millisecond},
		{"cap applies", 100 * time.Millisecond, 250 * time.Millisecond, 3, 250 * time.Millisecond},
		{"zero base disables backoff", 0, time.Second, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backoffDelay(tt.base, tt.cap, tt.attempt); got != tt.expected {
				t.Errorf("backoffDelay(%v, %v, %d) = %v, want %v", tt.base, tt.cap, tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestSleepCtxCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepCtx(ctx, time.Minute)
	if err == nil {
		t.Fatal("Expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("sleepCtx must return promptly when the context is done")
	}
}
