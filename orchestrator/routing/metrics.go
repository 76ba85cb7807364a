// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds the Prometheus instruments the routing core exports.
type Collectors struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	AttemptsTotal     *prometheus.CounterVec
	FailoversTotal    prometheus.Counter
	DecisionsPersist  prometheus.Counter
	PersistenceErrors prometheus.Counter
}

// NewCollectors creates the routing metric collectors.
func NewCollectors() *Collectors {
	return &Collectors{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faasflow_requests_total",
				Help: "Orchestration requests by final state",
			},
			[]string{"final"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faasflow_request_duration_seconds",
				Help:    "End-to-end orchestration latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"final"},
		),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faasflow_attempts_total",
				Help: "Backend invocation attempts by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		FailoversTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "faasflow_failovers_total",
				Help: "Requests that needed more than one attempt",
			},
		),
		DecisionsPersist: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "faasflow_decisions_persisted_total",
				Help: "Routing decisions written to the durable store",
			},
		),
		PersistenceErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "faasflow_persistence_errors_total",
				Help: "Failed decision writes (logged and suppressed)",
			},
		),
	}
}

// Register registers every collector with the given registerer.
func (c *Collectors) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.RequestsTotal,
		c.RequestDuration,
		c.AttemptsTotal,
		c.FailoversTotal,
		c.DecisionsPersist,
		c.PersistenceErrors,
	)
}
