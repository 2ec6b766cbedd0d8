package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"optibench/internal/executor"
	"optibench/internal/model"
	appErr "optibench/pkg/errors"
)

type fakeStore struct {
	mu       sync.Mutex
	queue    []*model.Job
	success  []successCall
	failures []errorCall
}

type successCall struct {
	jobID int64
	score float64
}

type errorCall struct {
	jobID   int64
	message string
}

func (f *fakeStore) ClaimNext(_ context.Context) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, nil
	}
	job := f.queue[0]
	f.queue = f.queue[1:]
	return job, nil
}

func (f *fakeStore) CompleteSuccess(_ context.Context, jobID int64, _ string, _, score float64, _ []model.PerProblem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.success = append(f.success, successCall{jobID: jobID, score: score})
	return nil
}

func (f *fakeStore) CompleteError(_ context.Context, jobID int64, _, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errorCall{jobID: jobID, message: message})
	return nil
}

type fakeArchives struct {
	missing bool
}

func (f *fakeArchives) Exists(_ context.Context, _ string) (bool, error) {
	return !f.missing, nil
}

type fakeStager struct {
	workDir string
	err     error
}

func (f *fakeStager) Stage(_ context.Context, _ *model.Job) (string, error) {
	return f.workDir, f.err
}

type fakeRunner struct {
	stdout string
	err    error
	panics bool
}

func (f *fakeRunner) Run(_ context.Context, _ string) (*executor.RunOutput, error) {
	if f.panics {
		panic("runner exploded")
	}
	return &executor.RunOutput{Stdout: f.stdout}, f.err
}

func testJob() *model.Job {
	return &model.Job{ID: 7, Name: "alice", ArchiveKey: "7_sub.zip", State: model.JobStateRunning}
}

func TestProcessSuccessRemovesWorkDir(t *testing.T) {
	workDir := filepath.Join(t.TempDir(), "job-7")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	store := &fakeStore{}
	pipeline := NewPipeline(store, &fakeArchives{},
		&fakeStager{workDir: workDir},
		&fakeRunner{stdout: "problem-1: starter_time=100.00ms, optimized_time=80.00ms, improvement=20.00ms, correct=True\nTOTAL SCORE: 7.5\n"})

	pipeline.Process(context.Background(), 0, testJob())

	if len(store.success) != 1 || store.success[0].jobID != 7 {
		t.Fatalf("expected one success for job 7, got %+v", store.success)
	}
	if store.success[0].score != 7.5 {
		t.Fatalf("score = %v, want 7.5", store.success[0].score)
	}
	if len(store.failures) != 0 {
		t.Fatalf("unexpected failures: %+v", store.failures)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatalf("work dir should be removed after success, err=%v", err)
	}
}

func TestProcessStageFailureRetainsWorkDir(t *testing.T) {
	workDir := filepath.Join(t.TempDir(), "job-7")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	store := &fakeStore{}
	pipeline := NewPipeline(store, &fakeArchives{},
		&fakeStager{workDir: workDir, err: appErr.Newf(appErr.MissingAgentEntry, "missing my-agent.py")},
		&fakeRunner{})

	pipeline.Process(context.Background(), 0, testJob())

	if len(store.failures) != 1 {
		t.Fatalf("expected one error result, got %+v", store.failures)
	}
	if store.failures[0].message != "missing my-agent.py" {
		t.Fatalf("message = %q", store.failures[0].message)
	}
	if _, err := os.Stat(workDir); err != nil {
		t.Fatalf("failed job's work dir must be retained: %v", err)
	}
}

func TestProcessMissingArchive(t *testing.T) {
	store := &fakeStore{}
	pipeline := NewPipeline(store, &fakeArchives{missing: true}, &fakeStager{}, &fakeRunner{})

	pipeline.Process(context.Background(), 0, testJob())

	if len(store.failures) != 1 {
		t.Fatalf("expected one error result, got %+v", store.failures)
	}
	if !strings.Contains(store.failures[0].message, "archive not found") {
		t.Fatalf("message = %q", store.failures[0].message)
	}
}

func TestProcessHarnessFailure(t *testing.T) {
	store := &fakeStore{}
	pipeline := NewPipeline(store, &fakeArchives{},
		&fakeStager{workDir: t.TempDir()},
		&fakeRunner{err: appErr.Newf(appErr.HarnessFailed, "scorer_tool.py failed, rc 2")})

	pipeline.Process(context.Background(), 0, testJob())

	if len(store.failures) != 1 || !strings.Contains(store.failures[0].message, "rc 2") {
		t.Fatalf("expected harness failure result, got %+v", store.failures)
	}
	if len(store.success) != 0 {
		t.Fatalf("failed run must not record success: %+v", store.success)
	}
}

func TestProcessUnparseableOutput(t *testing.T) {
	store := &fakeStore{}
	pipeline := NewPipeline(store, &fakeArchives{},
		&fakeStager{workDir: t.TempDir()},
		&fakeRunner{stdout: "no score line here\n"})

	pipeline.Process(context.Background(), 0, testJob())

	if len(store.failures) != 1 {
		t.Fatalf("expected one error result, got %+v", store.failures)
	}
	if !strings.Contains(store.failures[0].message, "TOTAL SCORE") {
		t.Fatalf("message = %q", store.failures[0].message)
	}
}

func TestProcessPanicRecordsInternalError(t *testing.T) {
	store := &fakeStore{}
	pipeline := NewPipeline(store, &fakeArchives{},
		&fakeStager{workDir: t.TempDir()},
		&fakeRunner{panics: true})

	pipeline.Process(context.Background(), 0, testJob())

	if len(store.failures) != 1 {
		t.Fatalf("panic must still record a result, got %+v", store.failures)
	}
	msg := store.failures[0].message
	if !strings.HasPrefix(msg, "internal error:") || !strings.Contains(msg, "runner exploded") {
		t.Fatalf("message = %q", msg)
	}
}

// slowRunner fails if its context is already cancelled, then reports the
// given stdout after a delay. It stands in for a harness run that outlives
// a shutdown signal.
type slowRunner struct {
	delay  time.Duration
	stdout string
}

func (r *slowRunner) Run(ctx context.Context, _ string) (*executor.RunOutput, error) {
	select {
	case <-ctx.Done():
		return nil, appErr.Wrapf(ctx.Err(), appErr.HarnessFailed, "harness killed: %v", ctx.Err())
	case <-time.After(r.delay):
	}
	if err := ctx.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.HarnessFailed, "harness killed: %v", err)
	}
	return &executor.RunOutput{Stdout: r.stdout}, nil
}

func TestProcessFinishesClaimedJobAfterCancellation(t *testing.T) {
	store := &fakeStore{}
	pipeline := NewPipeline(store, &fakeArchives{},
		&fakeStager{workDir: t.TempDir()},
		&slowRunner{delay: 50 * time.Millisecond, stdout: "TOTAL SCORE: 2.0\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pipeline.Process(ctx, 0, testJob())

	if len(store.failures) != 0 {
		t.Fatalf("cancelled pool context must not kill a claimed job: %+v", store.failures)
	}
	if len(store.success) != 1 || store.success[0].score != 2.0 {
		t.Fatalf("job should run to a committed result, got %+v", store.success)
	}
}

func TestPoolDrainCommitsInFlightJob(t *testing.T) {
	store := &fakeStore{queue: []*model.Job{
		{ID: 1, Name: "a", ArchiveKey: "1_a.zip", State: model.JobStateRunning},
	}}
	pipeline := NewPipeline(store, &fakeArchives{},
		&fakeStager{workDir: t.TempDir()},
		&slowRunner{delay: 200 * time.Millisecond, stdout: "TOTAL SCORE: 1.0\n"})
	pool := NewPool(store, pipeline, Config{Workers: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	// Wait for the job to be claimed, then signal shutdown mid-run.
	deadline := time.After(5 * time.Second)
	for {
		store.mu.Lock()
		claimed := len(store.queue) == 0
		store.mu.Unlock()
		if claimed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job was never claimed")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.failures) != 0 {
		t.Fatalf("drain must not fail the in-flight job: %+v", store.failures)
	}
	if len(store.success) != 1 {
		t.Fatalf("in-flight job must commit before the pool stops, got %+v", store.success)
	}
}

func TestPoolDrainsQueue(t *testing.T) {
	store := &fakeStore{queue: []*model.Job{
		{ID: 1, Name: "a", ArchiveKey: "1_a.zip", State: model.JobStateRunning},
		{ID: 2, Name: "b", ArchiveKey: "2_b.zip", State: model.JobStateRunning},
		{ID: 3, Name: "c", ArchiveKey: "3_c.zip", State: model.JobStateRunning},
	}}
	pipeline := NewPipeline(store, &fakeArchives{},
		&fakeStager{workDir: t.TempDir()},
		&fakeRunner{stdout: "TOTAL SCORE: 1.0\n"})
	pool := NewPool(store, pipeline, Config{Workers: 2, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.success)
		store.mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pool did not drain queue, completed %d of 3", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
