package store

import (
	"context"

	appErr "optibench/pkg/errors"
)

// AUTOINCREMENT keeps job ids monotonically increasing and never reused,
// even after the row is deleted on completion. Queue order and queue-position
// estimates both derive from the id.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	archive_key TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'REGISTERING',
	submitted_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	latency_reduction REAL,
	score REAL,
	per_problem_scores TEXT,
	outcome TEXT NOT NULL,
	error_message TEXT,
	completed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_state_id ON jobs (state, id);
`

// InitSchema creates the jobs and results tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "init schema failed: %v", err)
	}
	return nil
}
