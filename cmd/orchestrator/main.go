// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the FaaSFlow Orchestrator service.
//
// The Orchestrator routes function invocations across cloud backends:
// - Ranks backends by cost, observed latency and policy constraints
// - Drives failover across providers when invocations fail
// - Records every routing decision for audit and analysis
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8082)
//	CONFIG_PATH - routing configuration file (default: /etc/faasflow/routing.yaml)
//	AWS_REGION - region for the Secrets Manager client (optional)
package main

import (
	"faasflow/platform/orchestrator"
)

func main() {
	orchestrator.Run()
}
