// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

/*
Command orchestrator runs the FaaSFlow Orchestrator service.

The Orchestrator is the routing core of the FaaSFlow system: it decides
which cloud backend should serve each function invocation and coordinates
failover when attempts fail.

# Usage

	orchestrator

# Environment Variables

Required:
  - CONFIG_PATH: routing configuration file

Optional:
  - PORT: HTTP server port (default: 8082)
  - AWS_REGION: region for the Secrets Manager client
  - DEFAULT_PROVIDER: overrides the configured default provider
  - COST_THRESHOLD: overrides the configured cost threshold
  - LATENCY_THRESHOLD_MS: overrides the configured latency threshold
  - MAX_ATTEMPTS: overrides the configured attempt budget

# Endpoints

The service exposes:

  - POST /invoke - route one function invocation
  - GET /health - liveness plus per-backend health statistics
  - GET /metrics - Prometheus metrics
  - POST /admin/config/reload - hot-reload the routing configuration
  - GET /admin/backends - configured backends with health

# Exit Codes

The service exits non-zero when the configuration cannot be loaded or a
required component fails to initialize.
*/
package main
