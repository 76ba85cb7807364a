// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"time"
)

// FailoverCoordinator drives sequential attempts across a ranked candidate
// list under a deadline. Each request moves through an implicit state
// machine: pending, then attempting candidate i, ending in exactly one of
// the FinalState terminals. One coordinator serves all requests;
// per-request state lives in the RoutingDecision being built.
type FailoverCoordinator struct {
	adapters *AdapterRegistry
	logger   Logger

	// sleep is the backoff delay hook, injectable for tests. It must
	// return early with the context's error when the context is done.
	sleep func(ctx context.Context, d time.Duration) error

	now func() time.Time
}

// Logger is the narrow logging capability the routing core needs.
type Logger interface {
	Info(requestID, message string, fields map[string]interface{})
	Warn(requestID, message string, fields map[string]interface{})
	Error(requestID, message string, fields map[string]interface{})
}

// NewFailoverCoordinator creates a coordinator invoking backends through
// the given adapter registry.
func NewFailoverCoordinator(adapters *AdapterRegistry, logger Logger) *FailoverCoordinator {
	return &FailoverCoordinator{
		adapters: adapters,
		logger:   logger,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// Execute tries the ranked candidates in strict order until one succeeds,
// a non-retryable failure aborts, the attempt budget is spent, or the
// overall deadline leaves no room for another try. Every attempt is
// appended to the decision before the next transition, and the decision's
// Final state and ChosenBackend are filled in before returning.
//
// On success the winning candidate's invoke result is returned. The error
// is one of ErrDeadlineExceeded, *RejectedError, or *ExhaustedError.
func (c *FailoverCoordinator) Execute(ctx context.Context, decision *RoutingDecision, payload []byte, candidates []RankedCandidate, policy Policy) (*InvokeResult, error) {
	deadline, hasDeadline := ctx.Deadline()

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > len(candidates) {
		maxAttempts = len(candidates)
	}

	for i := 0; i < maxAttempts; i++ {
		// A new attempt only starts if the remaining budget still fits
		// one full per-attempt timeout.
		if hasDeadline && time.Until(deadline) < policy.AttemptTimeout {
			decision.Final = StateDeadlineExceeded
			return nil, ErrDeadlineExceeded
		}
		if err := ctx.Err(); err != nil {
			decision.Final = StateDeadlineExceeded
			return nil, ErrDeadlineExceeded
		}

		if i > 0 {
			delay := backoffDelay(policy.BackoffBase, policy.BackoffCap, i)
			if hasDeadline {
				// Never let the backoff itself eat the budget for the
				// next attempt.
				if room := time.Until(deadline) - policy.AttemptTimeout; delay > room {
					delay = room
				}
			}
			if delay > 0 {
				if err := c.sleep(ctx, delay); err != nil {
					decision.Final = StateDeadlineExceeded
					return nil, ErrDeadlineExceeded
				}
			}
		}

		candidate := candidates[i]
		res := c.attempt(ctx, decision, payload, candidate, policy)

		switch res.Status {
		case StatusSuccess:
			decision.Final = StateSuccess
			decision.ChosenBackend = candidate.Backend.ID
			return res, nil

		case StatusNonRetryableFailure:
			decision.Final = StateAborted
			return nil, &RejectedError{
				BackendID: candidate.Backend.ID,
				Cause:     &BackendError{BackendID: candidate.Backend.ID, Outcome: OutcomeRejected, Cause: resultErr(res)},
			}

		default:
			c.logger.Warn(decision.ID, "backend attempt failed, considering next candidate", map[string]interface{}{
				"backend": candidate.Backend.ID,
				"outcome": string(outcomeFor(res)),
				"error":   res.Err,
			})
		}
	}

	decision.Final = StateExhausted
	return nil, &ExhaustedError{Attempts: decision.Attempts}
}

// attempt performs a single invocation and appends its record to the
// decision's attempt trail.
func (c *FailoverCoordinator) attempt(ctx context.Context, decision *RoutingDecision, payload []byte, candidate RankedCandidate, policy Policy) *InvokeResult {
	started := c.now()

	adapter, err := c.adapters.Get(candidate.Backend)
	if err != nil {
		// An unbuildable adapter counts as a retryable transport failure
		// so the remaining candidates still get their turn.
		res := &InvokeResult{Status: StatusRetryableFailure, Err: err.Error()}
		c.record(decision, candidate, started, c.now(), res)
		return res
	}

	res, err := adapter.Invoke(ctx, payload, policy.AttemptTimeout)
	if err != nil {
		res = &InvokeResult{Status: StatusRetryableFailure, Err: err.Error(), Elapsed: c.now().Sub(started)}
	}
	c.record(decision, candidate, started, c.now(), res)
	return res
}

func (c *FailoverCoordinator) record(decision *RoutingDecision, candidate RankedCandidate, started, ended time.Time, res *InvokeResult) {
	latency := res.Elapsed
	if latency == 0 {
		latency = ended.Sub(started)
	}
	decision.Attempts = append(decision.Attempts, InvocationAttempt{
		Seq:           len(decision.Attempts) + 1,
		BackendID:     candidate.Backend.ID,
		StartedAt:     started,
		EndedAt:       ended,
		Outcome:       outcomeFor(res),
		Latency:       latency,
		EstimatedCost: candidate.Backend.CostPerInvocation,
		Error:         res.Err,
	})
}

// backoffDelay computes the exponential backoff before attempt i (i >= 1),
// capped at cap.
func backoffDelay(base, cap time.Duration, i int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << uint(i-1)
	if cap > 0 && delay > cap {
		delay = cap
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resultErr(res *InvokeResult) error {
	if res.Err == "" {
		return nil
	}
	return &adapterFailure{message: res.Err, statusCode: res.StatusCode}
}

type adapterFailure struct {
	message    string
	statusCode int
}

func (e *adapterFailure) Error() string { return e.message }
