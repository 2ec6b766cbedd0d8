// Package worker drains the job queue: each worker claims one job at a
// time and runs it through the stage/execute/score pipeline.
package worker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"optibench/internal/executor"
	"optibench/internal/model"
	"optibench/internal/score"
	appErr "optibench/pkg/errors"
	"optibench/pkg/utils/logger"
)

// Stager prepares a claimed job's working tree.
type Stager interface {
	Stage(ctx context.Context, job *model.Job) (string, error)
}

// Runner executes the harness in a prepared work dir.
type Runner interface {
	Run(ctx context.Context, workDir string) (*executor.RunOutput, error)
}

// JobStore is the queue surface the pipeline needs.
type JobStore interface {
	ClaimNext(ctx context.Context) (*model.Job, error)
	CompleteSuccess(ctx context.Context, jobID int64, name string, latencyPct, score float64, perProblem []model.PerProblem) error
	CompleteError(ctx context.Context, jobID int64, name, message string) error
}

// ArchiveChecker verifies a submission archive is still retrievable.
type ArchiveChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Pipeline turns one claimed job into exactly one committed result.
type Pipeline struct {
	store    JobStore
	archives ArchiveChecker
	stager   Stager
	runner   Runner
}

// NewPipeline wires the per-job processing steps.
func NewPipeline(store JobStore, archives ArchiveChecker, stager Stager, runner Runner) *Pipeline {
	return &Pipeline{store: store, archives: archives, stager: stager, runner: runner}
}

// Process runs the job end to end and records its result. Every failure
// mode, including a panic in a pipeline step, ends in a committed error
// result so the job never lingers in RUNNING.
//
// The caller's cancellation is deliberately severed: once a job is claimed
// it must run to a committed result, even while the pool is shutting down.
// Shutdown stops new claims; the per-run bound is the executor's own
// timeout.
func (p *Pipeline) Process(ctx context.Context, workerID int, job *model.Job) {
	ctx = logger.WithJob(context.WithoutCancel(ctx), workerID, job.ID)
	logger.Info(ctx, "processing job", zap.String("name", job.Name))

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic while processing job", zap.Any("panic", r))
			p.recordError(ctx, job, fmt.Sprintf("internal error: panic: %v", r))
		}
	}()

	if err := p.run(ctx, job); err != nil {
		p.recordError(ctx, job, resultMessage(err))
	}
}

func (p *Pipeline) run(ctx context.Context, job *model.Job) error {
	exists, err := p.archives.Exists(ctx, job.ArchiveKey)
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveNotFound, "archive not found: %v", err)
	}
	if !exists {
		return appErr.Newf(appErr.ArchiveNotFound, "archive not found: %s", job.ArchiveKey)
	}

	workDir, err := p.stager.Stage(ctx, job)
	if err != nil {
		retainWorkDir(ctx, workDir)
		return err
	}

	out, err := p.runner.Run(ctx, workDir)
	if err != nil {
		retainWorkDir(ctx, workDir)
		return err
	}

	report, err := score.Parse(out.Stdout)
	if err != nil {
		retainWorkDir(ctx, workDir)
		return err
	}

	err = p.store.CompleteSuccess(ctx, job.ID, job.Name,
		report.LatencyReductionPct, report.TotalScore, report.PerProblem)
	if err != nil {
		// The work dir holds the evidence for why a commit was attempted.
		retainWorkDir(ctx, workDir)
		return err
	}

	logger.Info(ctx, "job scored",
		zap.Float64("score", report.TotalScore),
		zap.Float64("latency_reduction_pct", report.LatencyReductionPct))
	if err := os.RemoveAll(workDir); err != nil {
		logger.Warn(ctx, "failed to remove work dir",
			zap.String("work_dir", workDir), zap.Error(err))
	}
	return nil
}

func (p *Pipeline) recordError(ctx context.Context, job *model.Job, message string) {
	logger.Warn(ctx, "job failed", zap.String("reason", message))
	if err := p.store.CompleteError(ctx, job.ID, job.Name, message); err != nil {
		if appErr.Is(err, appErr.JobNotActive) {
			logger.Warn(ctx, "job already completed elsewhere")
			return
		}
		logger.Error(ctx, "failed to record job error", zap.Error(err))
	}
}

// retainWorkDir keeps a failed job's tree on disk for postmortems and logs
// where to find it. Stage may fail before a dir exists; that's fine.
func retainWorkDir(ctx context.Context, workDir string) {
	if workDir == "" {
		return
	}
	logger.Warn(ctx, "retaining work dir for inspection", zap.String("work_dir", workDir))
}

// resultMessage produces the submitter-facing error text stored on the
// leaderboard. Submission and harness faults are shown as-is; everything in
// the system range is flagged as an internal fault.
func resultMessage(err error) string {
	e := appErr.GetError(err)
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message()
	}
	if e.Code.UserAttributable() || e.Code >= appErr.HarnessFailed {
		return msg
	}
	if strings.HasPrefix(msg, "internal error:") {
		return msg
	}
	return "internal error: " + msg
}
