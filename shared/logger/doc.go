// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging for FaaSFlow components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (orchestrator, recorder, etc.)
  - Host name (for distributed tracing)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("orchestrator")

Log messages with request context:

	log.Info("req-456", "Processing invocation", map[string]interface{}{
	    "function": "resize-image",
	    "backend":  "aws-primary",
	})

Log errors with status codes:

	log.ErrorWithCode("req-456", "Invocation failed", 502, err, map[string]interface{}{
	    "backend": "aws-primary",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("req-456", "Invocation completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"orchestrator","host":"node-xyz","request_id":"req-456",
	 "message":"Processing invocation","fields":{"function":"resize-image"}}

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
