// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// decisionsCollection is the MongoDB collection holding routing decisions,
// one document per decision with the attempts embedded.
const decisionsCollection = "routing_decisions"

// MongoDecisionStore implements DecisionStore on MongoDB.
type MongoDecisionStore struct {
	coll *mongo.Collection
}

// NewMongoDecisionStore creates a MongoDB-backed decision store using the
// given database.
func NewMongoDecisionStore(db *mongo.Database) *MongoDecisionStore {
	return &MongoDecisionStore{coll: db.Collection(decisionsCollection)}
}

type mongoDecision struct {
	ID            string         `bson:"_id"`
	Function      string         `bson:"function"`
	Final         string         `bson:"final"`
	ChosenBackend string         `bson:"chosen_backend,omitempty"`
	Candidates    []bson.M       `bson:"candidates"`
	Attempts      []mongoAttempt `bson:"attempts"`
	BackendIDs    []string       `bson:"backend_ids"`
	StartedAt     time.Time      `bson:"started_at"`
	ConcludedAt   time.Time      `bson:"concluded_at"`
}

type mongoAttempt struct {
	Seq           int       `bson:"seq"`
	BackendID     string    `bson:"backend_id"`
	Outcome       string    `bson:"outcome"`
	LatencyMs     int64     `bson:"latency_ms"`
	EstimatedCost float64   `bson:"estimated_cost"`
	StartedAt     time.Time `bson:"started_at"`
	EndedAt       time.Time `bson:"ended_at"`
	Error         string    `bson:"error,omitempty"`
}

// newMongoDecision maps a decision onto its document form. BackendIDs
// collects the distinct attempted backends in attempt order so
// QueryByBackend can match on a plain indexed array.
func newMongoDecision(decision *RoutingDecision) mongoDecision {
	doc := mongoDecision{
		ID:            decision.ID,
		Function:      decision.Function,
		Final:         string(decision.Final),
		ChosenBackend: decision.ChosenBackend,
		StartedAt:     decision.StartedAt.UTC(),
		ConcludedAt:   decision.ConcludedAt.UTC(),
	}
	for _, c := range decision.Candidates {
		doc.Candidates = append(doc.Candidates, bson.M{
			"backend_id":        c.Backend.ID,
			"score":             c.Score,
			"cost_violation":    c.CostViolation,
			"latency_violation": c.LatencyViolation,
		})
	}
	seen := make(map[string]bool)
	for _, a := range decision.Attempts {
		doc.Attempts = append(doc.Attempts, mongoAttempt{
			Seq:           a.Seq,
			BackendID:     a.BackendID,
			Outcome:       string(a.Outcome),
			LatencyMs:     a.Latency.Milliseconds(),
			EstimatedCost: a.EstimatedCost,
			StartedAt:     a.StartedAt.UTC(),
			EndedAt:       a.EndedAt.UTC(),
			Error:         a.Error,
		})
		if !seen[a.BackendID] {
			seen[a.BackendID] = true
			doc.BackendIDs = append(doc.BackendIDs, a.BackendID)
		}
	}
	return doc
}

// SaveDecision inserts the decision as a single document.
func (s *MongoDecisionStore) SaveDecision(ctx context.Context, decision *RoutingDecision) error {
	if decision == nil {
		return errors.New("decision cannot be nil")
	}

	if _, err := s.coll.InsertOne(ctx, newMongoDecision(decision)); err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// QueryByBackend returns decisions that attempted the given backend within
// the time range, newest first.
func (s *MongoDecisionStore) QueryByBackend(ctx context.Context, backendID string, since, until time.Time) ([]DecisionRecord, error) {
	filter := bson.M{
		"backend_ids": backendID,
		"started_at":  bson.M{"$gte": since.UTC(), "$lt": until.UTC()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer cursor.Close(ctx)

	var records []DecisionRecord
	for cursor.Next(ctx) {
		var doc mongoDecision
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode decision: %w", err)
		}
		records = append(records, DecisionRecord{
			ID:            doc.ID,
			Function:      doc.Function,
			Final:         FinalState(doc.Final),
			ChosenBackend: doc.ChosenBackend,
			AttemptCount:  len(doc.Attempts),
			StartedAt:     doc.StartedAt,
			ConcludedAt:   doc.ConcludedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return records, nil
}

// BackendAggregates returns per-backend attempt aggregates since the given
// time, computed with an unwind/group pipeline.
func (s *MongoDecisionStore) BackendAggregates(ctx context.Context, since time.Time) ([]BackendAggregate, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"started_at": bson.M{"$gte": since.UTC()}}}},
		{{Key: "$unwind", Value: "$attempts"}},
		{{Key: "$group", Value: bson.M{
			"_id":      "$attempts.backend_id",
			"attempts": bson.M{"$sum": 1},
			"successes": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$attempts.outcome", "success"}}, 1, 0},
			}},
			"avg_latency_ms": bson.M{"$avg": "$attempts.latency_ms"},
			"total_cost":     bson.M{"$sum": "$attempts.estimated_cost"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate attempts: %w", err)
	}
	defer cursor.Close(ctx)

	var aggs []BackendAggregate
	for cursor.Next(ctx) {
		var row struct {
			BackendID    string  `bson:"_id"`
			Attempts     int64   `bson:"attempts"`
			Successes    int64   `bson:"successes"`
			AvgLatencyMs float64 `bson:"avg_latency_ms"`
			TotalCost    float64 `bson:"total_cost"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode aggregate: %w", err)
		}
		aggs = append(aggs, BackendAggregate(row))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregates: %w", err)
	}
	return aggs, nil
}

// Ensure MongoDecisionStore implements DecisionStore.
var _ DecisionStore = (*MongoDecisionStore)(nil)
