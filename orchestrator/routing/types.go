// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

// Package routing implements the function-invocation routing core of the
// FaaSFlow platform: given a logical function call it ranks the registered
// cloud backends against the active policy, invokes them in order with
// automatic failover, and records the full decision trail for audit.
package routing

import (
	"encoding/json"
	"time"
)

// ProviderKind identifies the type of compute backend.
// Standard kinds are defined as constants, but custom kinds can be used
// for self-hosted or third-party function runtimes.
type ProviderKind string

// Standard provider kinds supported out of the box.
const (
	// KindAWSLambda represents an AWS Lambda function.
	KindAWSLambda ProviderKind = "aws-lambda"

	// KindAzureFunctions represents an HTTP-triggered Azure Function.
	KindAzureFunctions ProviderKind = "azure-functions"

	// KindCloudFunctions represents a Google Cloud Function (HTTP trigger).
	KindCloudFunctions ProviderKind = "google-cloud-functions"

	// KindCustom represents a custom HTTP-invocable backend.
	KindCustom ProviderKind = "custom"
)

// Backend describes one deployed compute target the orchestrator can invoke.
// A Backend is immutable once registered; the registry is replaced wholesale
// on configuration reload, never mutated field by field.
type Backend struct {
	// ID is the unique identifier for this backend instance.
	// Example: "lambda-us-east-1", "azfn-westeurope".
	ID string `json:"id" yaml:"id"`

	// Kind identifies the adapter implementation to use.
	Kind ProviderKind `json:"kind" yaml:"kind"`

	// Endpoint is the invocation target. For HTTP-triggered backends this
	// is the full URL; for AWS Lambda it is the function name or ARN.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Region is the cloud region the backend is deployed in.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// CostPerInvocation is the static per-call cost estimate in currency
	// units, used by the policy evaluator.
	CostPerInvocation float64 `json:"cost_per_invocation" yaml:"cost_per_invocation"`

	// Priority breaks score ties during ranking (higher = more preferred).
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// SecretARN optionally references an AWS Secrets Manager secret holding
	// the backend's invocation credentials (e.g. an Azure function key).
	SecretARN string `json:"secret_arn,omitempty" yaml:"secret_arn,omitempty"`

	// Settings contains adapter-specific configuration such as function
	// keys, audiences, or static credentials.
	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Policy holds the thresholds and attempt limits governing backend
// selection. A request pins exactly one Policy for its entire lifetime,
// even if a reload happens mid-flight.
type Policy struct {
	// DefaultProvider is ranked first among equally-scored candidates.
	DefaultProvider string `json:"default_provider" yaml:"default_provider"`

	// CostThreshold is the per-invocation cost above which a backend is
	// flagged as violating (currency units).
	CostThreshold float64 `json:"cost_threshold" yaml:"cost_threshold"`

	// LatencyThreshold is the average latency above which a backend is
	// flagged as violating.
	LatencyThreshold time.Duration `json:"latency_threshold" yaml:"latency_threshold"`

	// FailureRateCeiling excludes a backend entirely when its observed
	// failure rate exceeds it (hard cutoff, range 0..1).
	FailureRateCeiling float64 `json:"failure_rate_ceiling" yaml:"failure_rate_ceiling"`

	// MaxAttempts caps the number of failover attempts per request.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// AttemptTimeout is the per-attempt invocation timeout.
	AttemptTimeout time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"`

	// BackoffBase and BackoffCap parameterize the exponential backoff
	// applied between failover attempts.
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap" yaml:"backoff_cap"`

	// DefaultDeadline is the overall request deadline applied when the
	// caller does not supply one.
	DefaultDeadline time.Duration `json:"default_deadline" yaml:"default_deadline"`

	// CostWeight and LatencyWeight are the composite score weights.
	CostWeight    float64 `json:"cost_weight" yaml:"cost_weight"`
	LatencyWeight float64 `json:"latency_weight" yaml:"latency_weight"`

	// MaxConcurrent bounds the number of requests the orchestrator
	// processes at once (0 = unbounded).
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
}

// InvocationRequest is a single logical function call entering the
// orchestrator.
type InvocationRequest struct {
	// Function is the logical target function name.
	Function string `json:"function"`

	// Payload is the opaque request body handed to the chosen backend.
	Payload json.RawMessage `json:"payload"`

	// Deadline optionally overrides the policy's default overall deadline.
	Deadline time.Duration `json:"deadline,omitempty"`
}

// RankedCandidate is one backend with its composite score and policy flags
// as computed at decision time.
type RankedCandidate struct {
	Backend *Backend `json:"backend"`

	// Score is the composite cost/latency score; lower ranks first.
	Score float64 `json:"score"`

	// CostViolation is set when the backend's static cost exceeds the
	// policy threshold. The backend is deprioritized, not excluded.
	CostViolation bool `json:"cost_violation"`

	// LatencyViolation is set when the backend's average latency exceeds
	// the policy threshold. The backend is deprioritized, not excluded.
	LatencyViolation bool `json:"latency_violation"`
}

// AttemptOutcome classifies how a single invocation attempt ended.
type AttemptOutcome string

const (
	OutcomeSuccess        AttemptOutcome = "success"
	OutcomeTimeout        AttemptOutcome = "timeout"
	OutcomeTransportError AttemptOutcome = "transport_error"
	OutcomeRejected       AttemptOutcome = "rejected"
)

// InvocationAttempt records one try of invoking a specific backend.
// Attempts are append-only and ordered by Seq within a request.
type InvocationAttempt struct {
	Seq           int            `json:"seq"`
	BackendID     string         `json:"backend_id"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       time.Time      `json:"ended_at"`
	Outcome       AttemptOutcome `json:"outcome"`
	Latency       time.Duration  `json:"latency"`
	EstimatedCost float64        `json:"estimated_cost"`
	Error         string         `json:"error,omitempty"`
}

// FinalState is the terminal state of a request's failover state machine.
type FinalState string

const (
	// StateSuccess means a backend returned a successful result.
	StateSuccess FinalState = "success"

	// StateAborted means a backend rejected the request non-retryably;
	// no further candidates were tried.
	StateAborted FinalState = "aborted"

	// StateDeadlineExceeded means the overall deadline ran out before a
	// backend succeeded.
	StateDeadlineExceeded FinalState = "deadline_exceeded"

	// StateExhausted means every eligible candidate failed retryably.
	StateExhausted FinalState = "exhausted_failure"
)

// RoutingDecision is the durable record of one request: the ranked
// candidate list at decision time, the ordered attempt trail, and the final
// outcome. It is persisted verbatim when the request concludes and never
// edited afterwards.
type RoutingDecision struct {
	ID            string              `json:"id"`
	Function      string              `json:"function"`
	Candidates    []RankedCandidate   `json:"candidates"`
	Attempts      []InvocationAttempt `json:"attempts"`
	Final         FinalState          `json:"final"`
	ChosenBackend string              `json:"chosen_backend,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	ConcludedAt   time.Time           `json:"concluded_at"`
}

// HealthStat is the rolling health snapshot for one backend. Values are
// exponentially-weighted moving averages maintained by the health tracker.
type HealthStat struct {
	// AvgLatency is the EWMA of observed invocation latency.
	AvgLatency time.Duration `json:"avg_latency"`

	// FailureRate is the EWMA of the failure indicator (0..1).
	FailureRate float64 `json:"failure_rate"`

	// Samples is the number of observations folded in so far.
	Samples int64 `json:"samples"`

	// LastUpdated is when the most recent attempt was observed.
	LastUpdated time.Time `json:"last_updated"`
}

// AttemptSummary is the caller-facing view of one attempt.
type AttemptSummary struct {
	BackendID string         `json:"backend_id"`
	Outcome   AttemptOutcome `json:"outcome"`
	LatencyMs int64          `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`
}

// OrchestrationResult is returned to the caller of Orchestrate.
type OrchestrationResult struct {
	RequestID        string           `json:"request_id"`
	ProviderUsed     string           `json:"provider_used"`
	Latency          time.Duration    `json:"latency"`
	CostEstimate     float64          `json:"cost_estimate"`
	Attempts         []AttemptSummary `json:"attempts"`
	Body             []byte           `json:"-"`
	CostViolation    bool             `json:"cost_violation"`
	LatencyViolation bool             `json:"latency_violation"`
}

// Summarize converts the decision's attempt trail into caller-facing
// attempt summaries.
func (d *RoutingDecision) Summarize() []AttemptSummary {
	out := make([]AttemptSummary, 0, len(d.Attempts))
	for _, a := range d.Attempts {
		out = append(out, AttemptSummary{
			BackendID: a.BackendID,
			Outcome:   a.Outcome,
			LatencyMs: a.Latency.Milliseconds(),
			Error:     a.Error,
		})
	}
	return out
}
