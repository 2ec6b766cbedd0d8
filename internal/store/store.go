// Package store is the single source of truth for queue order and results.
// All job state transitions go through its transactional operations; workers
// and the intake layer never touch the tables directly.
package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"optibench/internal/common/db"
	"optibench/internal/model"
	appErr "optibench/pkg/errors"
)

// Store owns the jobs and results tables.
type Store struct {
	db *sqlx.DB
}

// New creates a Store over an open SQLite pool.
func New(sqlite *db.SQLite) *Store {
	return &Store{db: sqlite.DB()}
}

// Enqueue creates a job in REGISTERING state and returns its fresh id.
// The archive key may be a placeholder; intake calls Activate once the
// archive is durably stored under its final key (which embeds this id).
func (s *Store) Enqueue(ctx context.Context, name, archiveKey string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (name, archive_key, state, submitted_at) VALUES (?, ?, ?, ?)`,
		name, archiveKey, model.JobStateRegistering, time.Now().Unix())
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "insert job failed: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "read job id failed: %v", err)
	}
	return id, nil
}

// Activate transitions a job from REGISTERING to PENDING, recording the
// final archive key. Only PENDING jobs are eligible for dequeue.
func (s *Store) Activate(ctx context.Context, id int64, archiveKey string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET archive_key = ?, state = ? WHERE id = ? AND state = ?`,
		archiveKey, model.JobStatePending, id, model.JobStateRegistering)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "activate job failed: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "activate job failed: %v", err)
	}
	if n == 0 {
		return appErr.Newf(appErr.JobNotActive, "job %d is not in REGISTERING state", id)
	}
	return nil
}

// ClaimNext atomically selects the lowest-id PENDING job, marks it RUNNING
// and returns it. Returns (nil, nil) when the queue is empty.
//
// The whole claim runs inside BEGIN IMMEDIATE on a dedicated connection, so
// the write lock is held across the select and the update. Concurrent
// claimers serialize on that lock; a plain select-then-update would let two
// workers pick the same job.
func (s *Store) ClaimNext(ctx context.Context) (*model.Job, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "acquire connection failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, appErr.Wrapf(err, appErr.TransactionFailed, "begin claim transaction failed: %v", err)
	}

	var job model.Job
	err = conn.GetContext(ctx, &job,
		`SELECT id, name, archive_key, state, submitted_at
		 FROM jobs WHERE state = ? ORDER BY id ASC LIMIT 1`,
		model.JobStatePending)
	if db.IsNoRows(err) {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return nil, appErr.Wrapf(err, appErr.TransactionFailed, "commit empty claim failed: %v", err)
		}
		return nil, nil
	}
	if err != nil {
		abortClaim(ctx, conn)
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "select next pending job failed: %v", err)
	}

	if _, err := conn.ExecContext(ctx,
		`UPDATE jobs SET state = ? WHERE id = ?`, model.JobStateRunning, job.ID); err != nil {
		abortClaim(ctx, conn)
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "mark job running failed: %v", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		abortClaim(ctx, conn)
		return nil, appErr.Wrapf(err, appErr.TransactionFailed, "commit claim failed: %v", err)
	}

	job.State = model.JobStateRunning
	return &job, nil
}

// abortClaim rolls a claim transaction back. If the rollback cannot be
// delivered (cancelled context, broken connection), the connection still
// holds SQLite's write lock; mark it bad so the pool discards it instead of
// handing an open write transaction to the next writer.
func abortClaim(ctx context.Context, conn *sqlx.Conn) {
	if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
}

// CompleteSuccess atomically inserts a success result and deletes the active
// job row. Completing a job that is no longer active returns JobNotActive
// and inserts nothing; a result is never duplicated.
func (s *Store) CompleteSuccess(ctx context.Context, jobID int64, name string, latencyPct, score float64, perProblem []model.PerProblem) error {
	var detail *string
	if len(perProblem) > 0 {
		raw, err := json.Marshal(perProblem)
		if err != nil {
			return appErr.Wrapf(err, appErr.InternalServerError, "serialize per-problem detail failed: %v", err)
		}
		encoded := string(raw)
		detail = &encoded
	}
	return s.complete(ctx, jobID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO results (job_id, name, latency_reduction, score, per_problem_scores, outcome, error_message, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`,
			jobID, name, latencyPct, score, detail, model.OutcomeSuccess, time.Now().Unix())
		return err
	})
}

// CompleteError atomically inserts an error result and deletes the active
// job row. Same idempotence contract as CompleteSuccess.
func (s *Store) CompleteError(ctx context.Context, jobID int64, name, message string) error {
	return s.complete(ctx, jobID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO results (job_id, name, latency_reduction, score, per_problem_scores, outcome, error_message, completed_at)
			 VALUES (?, ?, NULL, NULL, NULL, ?, ?, ?)`,
			jobID, name, model.OutcomeError, message, time.Now().Unix())
		return err
	})
}

func (s *Store) complete(ctx context.Context, jobID int64, insert func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErr.Wrapf(err, appErr.TransactionFailed, "begin complete transaction failed: %v", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		_ = tx.Rollback()
		return appErr.Wrapf(err, appErr.DatabaseError, "delete active job failed: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return appErr.Wrapf(err, appErr.DatabaseError, "delete active job failed: %v", err)
	}
	if n == 0 {
		// Already completed; refuse rather than write a duplicate result.
		_ = tx.Rollback()
		return appErr.Newf(appErr.JobNotActive, "job %d is not active", jobID)
	}

	if err := insert(tx); err != nil {
		_ = tx.Rollback()
		return appErr.Wrapf(err, appErr.DatabaseError, "insert result failed: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return appErr.Wrapf(err, appErr.TransactionFailed, "commit complete failed: %v", err)
	}
	return nil
}

// Snapshot returns completed results in ranking order and all active jobs in
// queue order. It is a pure read used by the leaderboard view.
//
// SQLite sorts NULL smallest, so DESC on score pushes error results (NULL
// score) below every scored run, matching the ranking contract.
func (s *Store) Snapshot(ctx context.Context) ([]model.Result, []model.Job, error) {
	var results []model.Result
	err := s.db.SelectContext(ctx, &results,
		`SELECT id, job_id, name, latency_reduction, score, per_problem_scores, outcome, error_message, completed_at
		 FROM results
		 ORDER BY score DESC, latency_reduction DESC, completed_at ASC, id ASC`)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "select results failed: %v", err)
	}

	var jobs []model.Job
	err = s.db.SelectContext(ctx, &jobs,
		`SELECT id, name, archive_key, state, submitted_at FROM jobs ORDER BY id ASC`)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "select active jobs failed: %v", err)
	}

	return results, jobs, nil
}
