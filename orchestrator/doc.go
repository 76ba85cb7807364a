// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

/*
Package orchestrator provides the FaaSFlow Orchestrator service - the
multi-cloud function routing and failover engine.

# Overview

The Orchestrator receives function invocation requests and handles:

  - Policy-driven backend ranking by cost, latency and health
  - Failover across cloud providers in strict rank order
  - Rolling per-backend health tracking (EWMA latency, failure rate)
  - Durable recording of every routing decision
  - Optional object-storage archival and cross-instance cooldown

# Architecture

The Orchestrator processes invocations through a pipeline:

	Request → Policy Evaluator → Failover Coordinator → Backend Adapter → Recorder

Each routing decision captures the ranked candidates, the full attempt
trail and the final state, and is persisted out of the request path.

# Routing Core

The routing core lives in the routing subpackage. Provider adapters for
AWS Lambda, Azure Functions and Google Cloud Functions live in their own
subpackages under routing.

# Entry Point

The service entry point is Run, called from cmd/orchestrator.
*/
package orchestrator
