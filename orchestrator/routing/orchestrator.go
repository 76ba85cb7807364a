// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Orchestrator is the composition root tying the config store, evaluator,
// failover coordinator and recorder together behind the single Orchestrate
// operation. It is safe for concurrent use; throughput is bounded only by
// the policy's MaxConcurrent limit.
type Orchestrator struct {
	config      *ConfigStore
	adapters    *AdapterRegistry
	evaluator   *PolicyEvaluator
	coordinator *FailoverCoordinator
	recorder    *MetricsRecorder
	health      *HealthTracker
	cooldown    *CooldownStore
	logger      Logger

	// sem bounds concurrent orchestrations when the policy sets
	// MaxConcurrent. Sized once at construction from the initial policy.
	sem chan struct{}
}

// OrchestratorOption configures the Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCooldown makes ranking consult the shared backend cooldown.
func WithCooldown(cooldown *CooldownStore) OrchestratorOption {
	return func(o *Orchestrator) { o.cooldown = cooldown }
}

// NewOrchestrator wires the routing core together.
func NewOrchestrator(config *ConfigStore, adapters *AdapterRegistry, recorder *MetricsRecorder, health *HealthTracker, logger Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		config:      config,
		adapters:    adapters,
		evaluator:   NewPolicyEvaluator(),
		coordinator: NewFailoverCoordinator(adapters, logger),
		recorder:    recorder,
		health:      health,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	snap := config.Snapshot()
	if limit := snap.Policy.MaxConcurrent; limit > 0 {
		o.sem = make(chan struct{}, limit)
	}
	o.seedHealth(snap)
	return o
}

// Orchestrate routes one function call: it pins the current configuration
// snapshot, ranks the backends, drives failover attempts in rank order, and
// records the full decision trail before returning.
func (o *Orchestrator) Orchestrate(ctx context.Context, req InvocationRequest) (*OrchestrationResult, error) {
	if o.sem != nil {
		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-ctx.Done():
			return nil, ErrDeadlineExceeded
		}
	}

	snap := o.config.Snapshot()
	policy := snap.Policy

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = policy.DefaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	decision := &RoutingDecision{
		ID:        uuid.NewString(),
		Function:  req.Function,
		StartedAt: time.Now(),
	}

	candidates, err := o.rank(ctx, policy, snap.Backends)
	if err != nil {
		o.logger.Warn(decision.ID, "ranking produced no candidates", map[string]interface{}{
			"function": req.Function,
			"error":    err.Error(),
		})
		return nil, err
	}
	decision.Candidates = candidates

	res, execErr := o.coordinator.Execute(ctx, decision, req.Payload, candidates, policy)
	decision.ConcludedAt = time.Now()

	o.recorder.Record(ctx, decision, policy)

	if execErr != nil {
		return nil, execErr
	}

	result := &OrchestrationResult{
		RequestID:    decision.ID,
		ProviderUsed: decision.ChosenBackend,
		Latency:      res.Elapsed,
		Attempts:     decision.Summarize(),
		Body:         res.Body,
	}
	for _, c := range candidates {
		if c.Backend.ID == decision.ChosenBackend {
			result.CostEstimate = c.Backend.CostPerInvocation
			result.CostViolation = c.CostViolation
			result.LatencyViolation = c.LatencyViolation
			break
		}
	}

	o.logger.Info(decision.ID, "request routed", map[string]interface{}{
		"function": req.Function,
		"provider": decision.ChosenBackend,
		"attempts": len(decision.Attempts),
	})
	return result, nil
}

// rank filters backends under an active cooldown, then delegates to the
// policy evaluator.
func (o *Orchestrator) rank(ctx context.Context, policy Policy, backends []Backend) ([]RankedCandidate, error) {
	eligible := backends
	if o.cooldown != nil {
		eligible = make([]Backend, 0, len(backends))
		for _, b := range backends {
			if o.cooldown.Active(ctx, b.ID) {
				continue
			}
			eligible = append(eligible, b)
		}
		if len(eligible) == 0 && len(backends) > 0 {
			return nil, ErrNoAvailableBackend
		}
	}
	return o.evaluator.Rank(policy, eligible, o.health.Snapshot())
}

// Health returns the per-backend rolling health snapshot.
func (o *Orchestrator) Health() map[string]HealthStat {
	return o.health.Snapshot()
}

// Reload triggers a configuration hot-reload. Cached adapters for backends
// that were removed or redefined are evicted, so the next invocation builds
// a fresh adapter from the new definition instead of reusing one bound to
// stale endpoints or credentials.
func (o *Orchestrator) Reload() error {
	before := o.config.Snapshot()
	if err := o.config.Reload(); err != nil {
		return err
	}
	after := o.config.Snapshot()

	current := make(map[string]Backend, len(after.Backends))
	for _, b := range after.Backends {
		current[b.ID] = b
	}
	for _, old := range before.Backends {
		if b, ok := current[old.ID]; !ok || !sameBackend(old, b) {
			o.adapters.Evict(old.ID)
		}
	}

	o.seedHealth(after)
	return nil
}

// seedHealth installs the policy latency threshold as the baseline for
// backends without observations, so a fresh backend ranks on its cost
// instead of a zero latency average.
func (o *Orchestrator) seedHealth(snap *Snapshot) {
	for _, b := range snap.Backends {
		o.health.Seed(b.ID, snap.Policy.LatencyThreshold)
	}
}

// sameBackend reports whether two backend definitions are identical,
// settings included.
func sameBackend(a, b Backend) bool {
	if a.ID != b.ID || a.Kind != b.Kind || a.Endpoint != b.Endpoint ||
		a.Region != b.Region || a.CostPerInvocation != b.CostPerInvocation ||
		a.Priority != b.Priority || a.SecretARN != b.SecretARN {
		return false
	}
	if len(a.Settings) != len(b.Settings) {
		return false
	}
	for k, v := range a.Settings {
		if b.Settings[k] != v {
			return false
		}
	}
	return true
}

// Snapshot exposes the currently published configuration snapshot.
func (o *Orchestrator) Snapshot() *Snapshot {
	return o.config.Snapshot()
}
