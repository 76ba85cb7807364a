// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"time"
)

// persistTimeout bounds the durable write so a slow store cannot hold the
// request path hostage.
const persistTimeout = 5 * time.Second

// cooldownTimeout bounds the shared cooldown write.
const cooldownTimeout = 2 * time.Second

// Archiver receives concluded decisions for long-term archival. Archival
// failures must be swallowed by the implementation; the recorder treats it
// as fire-and-forget.
type Archiver interface {
	Archive(ctx context.Context, decision *RoutingDecision)
}

// MetricsRecorder persists every concluded decision and feeds the health
// tracker. Persistence failures are logged and suppressed: telemetry loss
// must not turn a successful invocation into a reported failure.
type MetricsRecorder struct {
	store    DecisionStore
	health   *HealthTracker
	cooldown *CooldownStore
	archiver Archiver
	metrics  *Collectors
	logger   Logger
}

// RecorderOption configures the MetricsRecorder.
type RecorderOption func(*MetricsRecorder)

// WithDecisionStore sets the durable decision store.
func WithDecisionStore(store DecisionStore) RecorderOption {
	return func(r *MetricsRecorder) { r.store = store }
}

// WithCooldownStore sets the shared backend cooldown store.
func WithCooldownStore(cooldown *CooldownStore) RecorderOption {
	return func(r *MetricsRecorder) { r.cooldown = cooldown }
}

// WithArchiver sets the decision archiver.
func WithArchiver(a Archiver) RecorderOption {
	return func(r *MetricsRecorder) { r.archiver = a }
}

// WithCollectors sets the Prometheus collectors.
func WithCollectors(c *Collectors) RecorderOption {
	return func(r *MetricsRecorder) { r.metrics = c }
}

// NewMetricsRecorder creates a recorder updating the given health tracker.
func NewMetricsRecorder(health *HealthTracker, logger Logger, opts ...RecorderOption) *MetricsRecorder {
	r := &MetricsRecorder{health: health, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record folds the decision's executed attempts into the health tracker,
// updates the exported metrics, and persists the decision. Only attempts
// that actually ran are observed, never unranked candidates. Record never
// returns an error to its caller.
func (r *MetricsRecorder) Record(ctx context.Context, decision *RoutingDecision, policy Policy) {
	for _, a := range decision.Attempts {
		failed := a.Outcome != OutcomeSuccess
		r.health.Observe(a.BackendID, a.Latency, failed)
		if r.metrics != nil {
			r.metrics.AttemptsTotal.WithLabelValues(a.BackendID, string(a.Outcome)).Inc()
		}

		if failed && r.cooldown != nil && policy.FailureRateCeiling > 0 {
			if stat := r.health.Stat(a.BackendID); stat.FailureRate > policy.FailureRateCeiling {
				if err := r.trip(a.BackendID); err != nil {
					r.logger.Warn(decision.ID, "failed to share backend cooldown", map[string]interface{}{
						"backend": a.BackendID,
						"error":   err.Error(),
					})
				}
			}
		}
	}

	if r.metrics != nil {
		r.metrics.RequestsTotal.WithLabelValues(string(decision.Final)).Inc()
		r.metrics.RequestDuration.WithLabelValues(string(decision.Final)).
			Observe(decision.ConcludedAt.Sub(decision.StartedAt).Seconds())
		if len(decision.Attempts) > 1 {
			r.metrics.FailoversTotal.Inc()
		}
	}

	r.persist(decision)

	if r.archiver != nil {
		r.archiver.Archive(ctx, decision)
	}
}

// trip shares a backend cooldown on its own context. The request context
// is typically already expired when the failures worth sharing happened.
func (r *MetricsRecorder) trip(backendID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cooldownTimeout)
	defer cancel()
	return r.cooldown.Trip(ctx, backendID)
}

// persist writes the decision to the durable store, suppressing failures.
// It uses a fresh context so a cancelled request still gets its decision
// recorded.
func (r *MetricsRecorder) persist(decision *RoutingDecision) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := r.store.SaveDecision(ctx, decision); err != nil {
		perr := &PersistenceError{Store: "decision", Cause: err}
		r.logger.Error(decision.ID, "failed to persist routing decision", map[string]interface{}{
			"error": perr.Error(),
		})
		if r.metrics != nil {
			r.metrics.PersistenceErrors.Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.DecisionsPersist.Inc()
	}
}
