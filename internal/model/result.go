package model

import "time"

// PerProblem is the scored detail for one benchmark problem. Correct and
// Score are pointers because the harness report may omit or garble the
// correctness verdict; such entries are kept for diagnostics with Score nil.
type PerProblem struct {
	Problem         string   `json:"problem"`
	StarterTimeMS   float64  `json:"starter_time_ms"`
	OptimizedTimeMS float64  `json:"optimized_time_ms"`
	ImprovementMS   float64  `json:"improvement_ms"`
	Correct         *bool    `json:"correct"`
	Score           *float64 `json:"score"`
}

// Result is the permanent record of a finished job. Rows are append-only.
// CompletedAt is unix seconds.
type Result struct {
	ID               int64    `db:"id"`
	JobID            int64    `db:"job_id"`
	Name             string   `db:"name"`
	LatencyReduction *float64 `db:"latency_reduction"`
	Score            *float64 `db:"score"`
	PerProblemJSON   *string  `db:"per_problem_scores"`
	Outcome          Outcome  `db:"outcome"`
	ErrorMessage     *string  `db:"error_message"`
	CompletedAt      int64    `db:"completed_at"`
}

// CompletedTime converts the stored unix timestamp.
func (r Result) CompletedTime() time.Time {
	return time.Unix(r.CompletedAt, 0).UTC()
}
