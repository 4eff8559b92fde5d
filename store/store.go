// SPDX-License-Identifier: MIT

// Package store persists calibration runs in Postgres: one row per run, one
// row per residual evaluation and the optimal parameters of every area.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/gravity"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// ErrNoDSN is returned by Open when the connection string is empty.
var ErrNoDSN = errors.New("store: empty DSN")

const schema = `
CREATE TABLE IF NOT EXISTS calibration_runs (
	id            UUID PRIMARY KEY,
	cost_function TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS calibration_evaluations (
	run_id          UUID NOT NULL REFERENCES calibration_runs(id) ON DELETE CASCADE,
	area            TEXT NOT NULL,
	loop_number     INTEGER NOT NULL,
	runtime_seconds DOUBLE PRECISION NOT NULL,
	params          JSONB NOT NULL,
	furness_iters   INTEGER NOT NULL,
	furness_rmse    DOUBLE PRECISION NOT NULL,
	convergence     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, area, loop_number)
);
CREATE TABLE IF NOT EXISTS calibration_params (
	run_id       UUID NOT NULL REFERENCES calibration_runs(id) ON DELETE CASCADE,
	area         TEXT NOT NULL,
	params       JSONB NOT NULL,
	convergence  DOUBLE PRECISION NOT NULL,
	met_target   BOOLEAN NOT NULL,
	perceived    BOOLEAN NOT NULL,
	evaluations  INTEGER NOT NULL,
	PRIMARY KEY (run_id, area)
)`

// Store wraps a Postgres connection pool.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}

	return nil
}

// RunRow is one calibration run.
type RunRow struct {
	ID           uuid.UUID  `db:"id"`
	CostFunction string     `db:"cost_function"`
	Status       string     `db:"status"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
}

// StartRun inserts a new run in the running state and returns its id.
func (s *Store) StartRun(ctx context.Context, costFunction string) (uuid.UUID, error) {
	const query = `
		INSERT INTO calibration_runs (id, cost_function, status, started_at)
		VALUES ($1, $2, $3, NOW())`

	id := uuid.New()
	if _, err := s.db.ExecContext(ctx, query, id, costFunction, StatusRunning); err != nil {
		return uuid.Nil, fmt.Errorf("store: start run: %w", err)
	}

	return id, nil
}

// FinishRun sets the final status of run id.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status string) error {
	const query = `UPDATE calibration_runs SET status = $2, finished_at = NOW() WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("store: finish run %s: %w", id, err)
	}

	return nil
}

// GetRun loads run id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (RunRow, error) {
	const query = `
		SELECT id, cost_function, status, started_at, finished_at
		FROM calibration_runs
		WHERE id = $1`

	var row RunRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return RunRow{}, fmt.Errorf("store: get run %s: %w", id, err)
	}

	return row, nil
}

// EvaluationRow is one persisted running-log row.
type EvaluationRow struct {
	RunID             uuid.UUID `db:"run_id"`
	Area              string    `db:"area"`
	Loop              int       `db:"loop_number"`
	RuntimeSeconds    float64   `db:"runtime_seconds"`
	Params            []byte    `db:"params"`
	FurnessIterations int       `db:"furness_iters"`
	FurnessRMSE       float64   `db:"furness_rmse"`
	Convergence       float64   `db:"convergence"`
}

// DecodeParams unmarshals the stored parameter object.
func (r EvaluationRow) DecodeParams() (costfn.Params, error) {
	var p costfn.Params
	if err := json.Unmarshal(r.Params, &p); err != nil {
		return nil, fmt.Errorf("store: decode params: %w", err)
	}

	return p, nil
}

// Evaluations lists the evaluations of one area in loop order.
func (s *Store) Evaluations(ctx context.Context, runID uuid.UUID, area string) ([]EvaluationRow, error) {
	const query = `
		SELECT run_id, area, loop_number, runtime_seconds, params,
		       furness_iters, furness_rmse, convergence
		FROM calibration_evaluations
		WHERE run_id = $1 AND area = $2
		ORDER BY loop_number`

	var rows []EvaluationRow
	if err := s.db.SelectContext(ctx, &rows, query, runID, area); err != nil {
		return nil, fmt.Errorf("store: list evaluations: %w", err)
	}

	return rows, nil
}

// SaveOutcome records the optimal parameters of one area.
func (s *Store) SaveOutcome(ctx context.Context, runID uuid.UUID, area string, out *gravity.Outcome) error {
	const query = `
		INSERT INTO calibration_params (
			run_id, area, params, convergence, met_target, perceived, evaluations
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, area) DO UPDATE SET
			params = EXCLUDED.params,
			convergence = EXCLUDED.convergence,
			met_target = EXCLUDED.met_target,
			perceived = EXCLUDED.perceived,
			evaluations = EXCLUDED.evaluations`

	params, err := json.Marshal(out.OptimalParams)
	if err != nil {
		return fmt.Errorf("store: marshal params: %w", err)
	}
	var conv float64
	if out.Final != nil {
		conv = out.Final.Convergence
	}
	_, err = s.db.ExecContext(ctx, query,
		runID, area, params, conv,
		out.MetTarget, out.PerceivedFactorsApplied, out.Evaluations,
	)
	if err != nil {
		return fmt.Errorf("store: save outcome for %s: %w", area, err)
	}

	return nil
}

// Sink returns a gravity.LogSink that records evaluations under runID.
func (s *Store) Sink(runID uuid.UUID) gravity.LogSink {
	return &runSink{db: s.db, runID: runID}
}

type runSink struct {
	db    *sqlx.DB
	runID uuid.UUID
}

// Append implements gravity.LogSink.
func (r *runSink) Append(ctx context.Context, rec gravity.LogRecord) error {
	const query = `
		INSERT INTO calibration_evaluations (
			run_id, area, loop_number, runtime_seconds, params,
			furness_iters, furness_rmse, convergence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("store: marshal params: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query,
		r.runID, rec.Area, rec.Loop, rec.Runtime.Seconds(), params,
		rec.FurnessIterations, rec.FurnessRMSE, rec.Convergence,
	)
	if err != nil {
		return fmt.Errorf("store: append evaluation %s/%d: %w", rec.Area, rec.Loop, err)
	}

	return nil
}
