// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"sort"
	"time"
)

// violationPenalty is added to the composite score for each soft policy
// violation, pushing violating backends behind every compliant one while
// keeping them eligible. Availability beats policy compliance.
const violationPenalty = 1000.0

// PolicyEvaluator ranks backends for a request using the active policy and
// the health tracker's rolling statistics. It is stateless and safe for
// concurrent use.
type PolicyEvaluator struct{}

// NewPolicyEvaluator creates a policy evaluator.
func NewPolicyEvaluator() *PolicyEvaluator {
	return &PolicyEvaluator{}
}

// Rank computes the ordered candidate list for a request.
//
// Each backend's composite score is
//
//	costWeight*norm(cost, costThreshold) + latencyWeight*norm(avgLatency, latencyThreshold)
//
// with lower scores ranking first. Soft cost/latency violations add
// violationPenalty per violation; backends whose failure rate exceeds the
// policy ceiling are excluded entirely. Ties break on the policy's default
// provider first, then declared priority (higher first), then backend ID
// for determinism.
//
// Rank returns ErrNoBackendsConfigured for an empty registry and
// ErrNoAvailableBackend when every backend is excluded by the hard cutoff.
func (e *PolicyEvaluator) Rank(policy Policy, backends []Backend, stats map[string]HealthStat) ([]RankedCandidate, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackendsConfigured
	}

	candidates := make([]RankedCandidate, 0, len(backends))
	for i := range backends {
		b := &backends[i]
		stat := stats[b.ID]

		if policy.FailureRateCeiling > 0 && stat.FailureRate > policy.FailureRateCeiling {
			continue
		}

		c := RankedCandidate{Backend: b}
		c.Score = policy.CostWeight*normalize(b.CostPerInvocation, policy.CostThreshold) +
			policy.LatencyWeight*normalizeDuration(stat.AvgLatency, policy.LatencyThreshold)

		if policy.CostThreshold > 0 && b.CostPerInvocation > policy.CostThreshold {
			c.CostViolation = true
			c.Score += violationPenalty
		}
		if policy.LatencyThreshold > 0 && stat.AvgLatency > policy.LatencyThreshold {
			c.LatencyViolation = true
			c.Score += violationPenalty
		}

		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, ErrNoAvailableBackend
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		aDefault := a.Backend.ID == policy.DefaultProvider
		bDefault := b.Backend.ID == policy.DefaultProvider
		if aDefault != bDefault {
			return aDefault
		}
		if a.Backend.Priority != b.Backend.Priority {
			return a.Backend.Priority > b.Backend.Priority
		}
		return a.Backend.ID < b.Backend.ID
	})

	return candidates, nil
}

// normalize scales a value against its policy threshold so cost and latency
// contribute comparably to the composite score. A zero threshold leaves the
// raw value in place.
func normalize(value, threshold float64) float64 {
	if threshold <= 0 {
		return value
	}
	return value / threshold
}

func normalizeDuration(value, threshold time.Duration) float64 {
	if threshold <= 0 {
		return float64(value) / float64(time.Second)
	}
	return float64(value) / float64(threshold)
}
