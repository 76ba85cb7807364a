// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

// Package archive writes concluded routing decisions to object storage for
// long-term retention, one JSON object per decision keyed by date. Sinks
// exist for Amazon S3, Google Cloud Storage and Azure Blob Storage;
// archival is strictly fire-and-forget, failures are logged and dropped.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"faasflow/platform/orchestrator/routing"
)

// ObjectSink stores one serialized decision under a key.
type ObjectSink interface {
	// Name identifies the sink in logs ("s3", "gcs", "azure-blob").
	Name() string

	// Put writes data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error
}

// putTimeout bounds a single archive write.
const putTimeout = 10 * time.Second

// Archiver serializes decisions and hands them to a sink.
type Archiver struct {
	sink   ObjectSink
	prefix string
	logger routing.Logger

	now func() time.Time
}

// New creates an archiver writing through the given sink. prefix is
// prepended to every object key and may be empty.
func New(sink ObjectSink, prefix string, logger routing.Logger) *Archiver {
	return &Archiver{sink: sink, prefix: prefix, logger: logger, now: time.Now}
}

// Archive writes the decision to the sink. Errors are logged, never
// returned: losing an archive copy must not affect the request path.
func (a *Archiver) Archive(_ context.Context, decision *routing.RoutingDecision) {
	data, err := json.Marshal(decision)
	if err != nil {
		a.logger.Error(decision.ID, "failed to serialize decision for archive", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	// Fresh context: the request that produced this decision may already
	// be done.
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	key := a.Key(decision)
	if err := a.sink.Put(ctx, key, data); err != nil {
		a.logger.Error(decision.ID, "failed to archive decision", map[string]interface{}{
			"sink":  a.sink.Name(),
			"key":   key,
			"error": err.Error(),
		})
	}
}

// Key returns the object key for a decision: <prefix>/decisions/YYYY/MM/DD/<id>.json,
// dated by the decision's start time.
func (a *Archiver) Key(decision *routing.RoutingDecision) string {
	t := decision.StartedAt
	if t.IsZero() {
		t = a.now()
	}
	return path.Join(a.prefix, "decisions", fmt.Sprintf("%04d/%02d/%02d", t.Year(), int(t.Month()), t.Day()), decision.ID+".json")
}

// Ensure Archiver satisfies the recorder's archiver capability.
var _ routing.Archiver = (*Archiver)(nil)
