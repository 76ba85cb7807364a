// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMongoSaveDecisionNil(t *testing.T) {
	store := &MongoDecisionStore{}
	if err := store.SaveDecision(context.Background(), nil); err == nil {
		t.Error("Expected error for nil decision")
	}
}

func TestNewMongoDecision(t *testing.T) {
	decision := sampleDecision()
	doc := newMongoDecision(decision)

	assert.Equal(t, "dec-42", doc.ID)
	assert.Equal(t, "resize-image", doc.Function)
	assert.Equal(t, "success", doc.Final)
	assert.Equal(t, "gcp", doc.ChosenBackend)
	assert.Equal(t, decision.StartedAt.UTC(), doc.StartedAt)
	assert.Equal(t, decision.ConcludedAt.UTC(), doc.ConcludedAt)

	require.Len(t, doc.Candidates, 2)
	assert.Equal(t, bson.M{
		"backend_id":        "gcp",
		"score":             0.8,
		"cost_violation":    false,
		"latency_violation": false,
	}, doc.Candidates[0])
	assert.Equal(t, true, doc.Candidates[1]["cost_violation"])

	require.Len(t, doc.Attempts, 2)
	first := doc.Attempts[0]
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, "aws", first.BackendID)
	assert.Equal(t, "timeout", first.Outcome)
	assert.Equal(t, int64(5000), first.LatencyMs)
	assert.Equal(t, 0.02, first.EstimatedCost)
	assert.Equal(t, "attempt timed out", first.Error)
	assert.Equal(t, int64(150), doc.Attempts[1].LatencyMs)
	assert.Empty(t, doc.Attempts[1].Error)
}

func TestNewMongoDecisionBackendIDs(t *testing.T) {
	decision := sampleDecision()
	decision.Attempts = append(decision.Attempts, InvocationAttempt{
		Seq:       3,
		BackendID: "aws",
		Outcome:   OutcomeSuccess,
		Latency:   90 * time.Millisecond,
	})

	doc := newMongoDecision(decision)

	// Distinct backends in attempt order, duplicates collapsed.
	assert.Equal(t, []string{"aws", "gcp"}, doc.BackendIDs)
}

func TestNewMongoDecisionNoAttempts(t *testing.T) {
	decision := sampleDecision()
	decision.Attempts = nil
	decision.ChosenBackend = ""
	decision.Final = StateDeadlineExceeded

	doc := newMongoDecision(decision)

	assert.Empty(t, doc.Attempts)
	assert.Empty(t, doc.BackendIDs)
	assert.Equal(t, string(StateDeadlineExceeded), doc.Final)
	assert.Empty(t, doc.ChosenBackend)
}
