// Package board projects the job queue and result log into the leaderboard
// shown to submitters.
package board

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"optibench/internal/model"
	"optibench/pkg/utils/logger"
)

// Snapshotter is the read surface the board needs from the store.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]model.Result, []model.Job, error)
}

// Entry is one ranked leaderboard row. Score and LatencyReduction are nil
// for error outcomes.
type Entry struct {
	Rank             int                `json:"rank"`
	Name             string             `json:"name"`
	Score            *float64           `json:"score"`
	LatencyReduction *float64           `json:"latency_reduction_pct"`
	PerProblem       []model.PerProblem `json:"per_problem,omitempty"`
	Outcome          model.Outcome      `json:"outcome"`
	ErrorMessage     *string            `json:"error_message,omitempty"`
	CompletedAt      time.Time          `json:"completed_at"`
}

// QueueItem is one job not yet finished. Ahead is the number of pending
// jobs in front of it; nil while the job is running or still registering.
type QueueItem struct {
	Name        string         `json:"name"`
	State       model.JobState `json:"state"`
	Ahead       *int           `json:"ahead,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// View is a consistent leaderboard snapshot.
type View struct {
	Entries []Entry     `json:"entries"`
	Queue   []QueueItem `json:"queue"`
}

// Service builds leaderboard views.
type Service struct {
	store Snapshotter
}

// NewService creates a board service over the given store.
func NewService(store Snapshotter) *Service {
	return &Service{store: store}
}

// View returns the current leaderboard. Ranks are assigned in the store's
// snapshot order; tied ranks are not collapsed.
func (s *Service) View(ctx context.Context) (*View, error) {
	results, jobs, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(results))
	for i, res := range results {
		entries = append(entries, Entry{
			Rank:             i + 1,
			Name:             res.Name,
			Score:            res.Score,
			LatencyReduction: res.LatencyReduction,
			PerProblem:       decodePerProblem(ctx, res),
			Outcome:          res.Outcome,
			ErrorMessage:     res.ErrorMessage,
			CompletedAt:      res.CompletedTime(),
		})
	}

	queue := make([]QueueItem, 0, len(jobs))
	pendingSeen := 0
	for _, job := range jobs {
		item := QueueItem{
			Name:        job.Name,
			State:       job.State,
			SubmittedAt: job.SubmittedTime(),
		}
		if job.State == model.JobStatePending {
			ahead := pendingSeen
			item.Ahead = &ahead
			pendingSeen++
		}
		queue = append(queue, item)
	}

	return &View{Entries: entries, Queue: queue}, nil
}

// decodePerProblem tolerates corrupt detail JSON; the row's headline score
// is still displayable without it.
func decodePerProblem(ctx context.Context, res model.Result) []model.PerProblem {
	if res.PerProblemJSON == nil || *res.PerProblemJSON == "" {
		return nil
	}
	var detail []model.PerProblem
	if err := json.Unmarshal([]byte(*res.PerProblemJSON), &detail); err != nil {
		logger.Warn(ctx, "unreadable per-problem detail",
			zap.Int64("result_id", res.ID), zap.Error(err))
		return nil
	}
	return detail
}
