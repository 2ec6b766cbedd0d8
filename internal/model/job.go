package model

import "time"

// JobState is the lifecycle state of a queued submission. States only move
// forward: REGISTERING -> PENDING -> RUNNING -> (job row deleted, result row
// inserted).
type JobState string

const (
	JobStateRegistering JobState = "REGISTERING"
	JobStatePending     JobState = "PENDING"
	JobStateRunning     JobState = "RUNNING"
)

// Job is one queued submission awaiting or undergoing benchmarking.
// Timestamps are unix seconds; SQLite stores them as plain integers.
type Job struct {
	ID          int64    `db:"id"`
	Name        string   `db:"name"`
	ArchiveKey  string   `db:"archive_key"`
	State       JobState `db:"state"`
	SubmittedAt int64    `db:"submitted_at"`
}

// SubmittedTime converts the stored unix timestamp.
func (j Job) SubmittedTime() time.Time {
	return time.Unix(j.SubmittedAt, 0).UTC()
}

// Outcome is the terminal classification of a finished job.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)
