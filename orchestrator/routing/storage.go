// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DecisionStore persists routing decisions for operational analysis.
// Records are append-only: a decision is written exactly once, when its
// request concludes, and never edited afterwards.
type DecisionStore interface {
	// SaveDecision persists the decision and its ordered attempts as a
	// single logical write.
	SaveDecision(ctx context.Context, decision *RoutingDecision) error

	// QueryByBackend returns the decisions that attempted the given
	// backend within [since, until), newest first.
	QueryByBackend(ctx context.Context, backendID string, since, until time.Time) ([]DecisionRecord, error)

	// BackendAggregates returns per-backend attempt aggregates since the
	// given time.
	BackendAggregates(ctx context.Context, since time.Time) ([]BackendAggregate, error)
}

// DecisionRecord is the stored view of a decision returned by queries.
type DecisionRecord struct {
	ID            string     `json:"id"`
	Function      string     `json:"function"`
	Final         FinalState `json:"final"`
	ChosenBackend string     `json:"chosen_backend,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	StartedAt     time.Time  `json:"started_at"`
	ConcludedAt   time.Time  `json:"concluded_at"`
}

// BackendAggregate summarizes the attempts against one backend.
type BackendAggregate struct {
	BackendID    string  `json:"backend_id"`
	Attempts     int64   `json:"attempts"`
	Successes    int64   `json:"successes"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TotalCost    float64 `json:"total_cost"`
}

// SQLDialect selects the placeholder style for the SQL store.
type SQLDialect string

const (
	DialectPostgres SQLDialect = "postgres"
	DialectMySQL    SQLDialect = "mysql"
)

// SQLDecisionStore implements DecisionStore on PostgreSQL or MySQL.
type SQLDecisionStore struct {
	db      *sql.DB
	dialect SQLDialect
}

// NewSQLDecisionStore creates a SQL-backed decision store.
func NewSQLDecisionStore(db *sql.DB, dialect SQLDialect) (*SQLDecisionStore, error) {
	switch dialect {
	case DialectPostgres, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	return &SQLDecisionStore{db: db, dialect: dialect}, nil
}

// EnsureSchema creates the decision tables if they do not exist.
func (s *SQLDecisionStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS routing_decisions (
			id VARCHAR(64) PRIMARY KEY,
			function_name VARCHAR(255) NOT NULL,
			final_state VARCHAR(32) NOT NULL,
			chosen_backend VARCHAR(255),
			candidates TEXT,
			started_at TIMESTAMP NOT NULL,
			concluded_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS routing_attempts (
			decision_id VARCHAR(64) NOT NULL,
			seq INT NOT NULL,
			backend_id VARCHAR(255) NOT NULL,
			outcome VARCHAR(32) NOT NULL,
			latency_ms BIGINT NOT NULL,
			estimated_cost DOUBLE PRECISION NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			error_message TEXT,
			PRIMARY KEY (decision_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// SaveDecision writes the decision and its attempts in one transaction.
func (s *SQLDecisionStore) SaveDecision(ctx context.Context, decision *RoutingDecision) error {
	if decision == nil {
		return errors.New("decision cannot be nil")
	}

	candidatesJSON, err := json.Marshal(decision.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO routing_decisions (
			id, function_name, final_state, chosen_backend,
			candidates, started_at, concluded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		decision.ID,
		decision.Function,
		string(decision.Final),
		decision.ChosenBackend,
		string(candidatesJSON),
		decision.StartedAt.UTC(),
		decision.ConcludedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	attemptStmt := s.rebind(`
		INSERT INTO routing_attempts (
			decision_id, seq, backend_id, outcome, latency_ms,
			estimated_cost, started_at, ended_at, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, a := range decision.Attempts {
		_, err = tx.ExecContext(ctx, attemptStmt,
			decision.ID,
			a.Seq,
			a.BackendID,
			string(a.Outcome),
			a.Latency.Milliseconds(),
			a.EstimatedCost,
			a.StartedAt.UTC(),
			a.EndedAt.UTC(),
			a.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to insert attempt %d: %w", a.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit decision: %w", err)
	}
	return nil
}

// QueryByBackend returns decisions that attempted the given backend within
// the time range, newest first.
func (s *SQLDecisionStore) QueryByBackend(ctx context.Context, backendID string, since, until time.Time) ([]DecisionRecord, error) {
	query := s.rebind(`
		SELECT d.id, d.function_name, d.final_state, d.chosen_backend,
		       COUNT(a2.seq), d.started_at, d.concluded_at
		FROM routing_decisions d
		JOIN routing_attempts a ON a.decision_id = d.id AND a.backend_id = ?
		JOIN routing_attempts a2 ON a2.decision_id = d.id
		WHERE d.started_at >= ? AND d.started_at < ?
		GROUP BY d.id, d.function_name, d.final_state, d.chosen_backend,
		         d.started_at, d.concluded_at
		ORDER BY d.started_at DESC`)

	rows, err := s.db.QueryContext(ctx, query, backendID, since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var chosen sql.NullString
		var final string
		if err := rows.Scan(&r.ID, &r.Function, &final, &chosen, &r.AttemptCount, &r.StartedAt, &r.ConcludedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		r.Final = FinalState(final)
		r.ChosenBackend = chosen.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return records, nil
}

// BackendAggregates returns per-backend attempt aggregates since the given
// time.
func (s *SQLDecisionStore) BackendAggregates(ctx context.Context, since time.Time) ([]BackendAggregate, error) {
	query := s.rebind(`
		SELECT backend_id,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
		       AVG(latency_ms),
		       SUM(estimated_cost)
		FROM routing_attempts
		WHERE started_at >= ?
		GROUP BY backend_id
		ORDER BY backend_id`)

	rows, err := s.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []BackendAggregate
	for rows.Next() {
		var a BackendAggregate
		if err := rows.Scan(&a.BackendID, &a.Attempts, &a.Successes, &a.AvgLatencyMs, &a.TotalCost); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregates: %w", err)
	}
	return aggs, nil
}

// rebind rewrites ? placeholders to the dialect's style. MySQL keeps ?;
// PostgreSQL gets $1..$n.
func (s *SQLDecisionStore) rebind(query string) string {
	if s.dialect == DialectMySQL {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ensure SQLDecisionStore implements DecisionStore.
var _ DecisionStore = (*SQLDecisionStore)(nil)
