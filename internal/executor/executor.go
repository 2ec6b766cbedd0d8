// Package executor runs the benchmark harness against a staged submission
// under a hard wall-clock limit and returns its raw output.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"optibench/internal/common/fsutil"
	appErr "optibench/pkg/errors"
	"optibench/pkg/utils/logger"
	"optibench/pkg/utils/textutil"
)

const (
	// HarnessFileName is the name the harness script runs under inside the
	// work dir. The default command references it by this name.
	HarnessFileName = "scorer_tool.py"

	// BenchmarksDirName is where benchmark cases are copied inside the work
	// dir; the harness resolves them relative to its own directory.
	BenchmarksDirName = "local_benchmarks"

	// openAITokenEnv is the variable the harness reads its API key from.
	openAITokenEnv = "ECE30861_OPENAI_TOKEN"

	diagTailLines = 5
)

// Config holds harness execution settings.
type Config struct {
	// HarnessPath is the source location of the harness script.
	HarnessPath string `yaml:"harnessPath"`

	// BenchmarksDir is the source directory of benchmark cases.
	BenchmarksDir string `yaml:"benchmarksDir"`

	// SecretPath is the file holding the OpenAI API token. Only read when
	// the backend is "openai".
	SecretPath string `yaml:"secretPath"`

	// Command overrides the default harness invocation. Parsed with shell
	// word splitting; empty means the built-in default.
	Command string `yaml:"command"`

	// Trials is passed to the harness as --trials.
	Trials int `yaml:"trials"`

	// Timeout bounds one harness run end to end.
	Timeout time.Duration `yaml:"timeout"`

	// Python is the interpreter for the default command.
	Python string `yaml:"python"`
}

// RunOutput carries the harness's captured streams.
type RunOutput struct {
	Stdout string
	Stderr string
}

// Executor prepares a staged work dir with benchmark assets and runs the
// harness in it.
type Executor struct {
	cfg     Config
	backend string
	argv    []string
}

// NewExecutor validates the configuration and pre-parses any command
// override so a bad override fails at startup, not per job.
func NewExecutor(backend string, cfg Config) (*Executor, error) {
	if cfg.HarnessPath == "" {
		return nil, fmt.Errorf("harness path is required")
	}
	if cfg.BenchmarksDir == "" {
		return nil, fmt.Errorf("benchmarks dir is required")
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 11
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}

	var argv []string
	if cfg.Command != "" {
		parsed, err := shlex.Split(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("invalid harness command override: %w", err)
		}
		if len(parsed) == 0 {
			return nil, fmt.Errorf("harness command override is empty")
		}
		argv = parsed
	} else {
		argv = []string{
			cfg.Python, HarnessFileName,
			"--LLM-client", backend,
			"--trials", fmt.Sprintf("%d", cfg.Trials),
		}
	}
	return &Executor{cfg: cfg, backend: backend, argv: argv}, nil
}

// Run copies the benchmark assets into workDir and executes the harness
// there. Output is returned even on failure so callers can log or surface
// diagnostic tails.
func (e *Executor) Run(ctx context.Context, workDir string) (*RunOutput, error) {
	if err := e.prepareAssets(workDir); err != nil {
		return nil, err
	}

	env, err := e.buildEnv(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.argv[0], e.argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = env
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Info(ctx, "running benchmark harness",
		zap.Strings("argv", e.argv),
		zap.Duration("timeout", e.cfg.Timeout))
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	out := &RunOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr == nil {
		logger.Info(ctx, "harness finished", zap.Duration("elapsed", elapsed))
		return out, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return out, appErr.Newf(appErr.HarnessTimeout,
			"timeout after %s running %s", e.cfg.Timeout, HarnessFileName)
	}

	rc := -1
	if cmd.ProcessState != nil {
		rc = cmd.ProcessState.ExitCode()
	}
	parts := []string{fmt.Sprintf("%s failed, rc %d", HarnessFileName, rc)}
	if tail := textutil.TailLines(out.Stdout, diagTailLines); tail != "" {
		parts = append(parts, "tail of stdout: "+tail)
	}
	if tail := textutil.TailLines(out.Stderr, diagTailLines); tail != "" {
		parts = append(parts, "tail of stderr: "+tail)
	}
	return out, appErr.New(appErr.HarnessFailed).
		WithMessage(strings.Join(parts, "; "))
}

// prepareAssets copies the benchmark cases and the harness script into the
// work dir. Missing assets are an operator problem, never the submitter's.
func (e *Executor) prepareAssets(workDir string) error {
	if _, err := os.Stat(e.cfg.BenchmarksDir); err != nil {
		return appErr.Newf(appErr.BenchmarkAssetsMissing,
			"internal error: benchmarks dir not found at %s", e.cfg.BenchmarksDir)
	}
	if err := fsutil.CopyTree(e.cfg.BenchmarksDir, filepath.Join(workDir, BenchmarksDirName)); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to copy benchmarks: %v", err)
	}

	if _, err := os.Stat(e.cfg.HarnessPath); err != nil {
		return appErr.Newf(appErr.BenchmarkAssetsMissing,
			"internal error: harness not found at %s", e.cfg.HarnessPath)
	}
	if err := fsutil.CopyFile(e.cfg.HarnessPath, filepath.Join(workDir, HarnessFileName)); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to copy harness: %v", err)
	}
	return nil
}

// buildEnv clones the process environment and, for the openai backend,
// injects the API token read from the secret file. The token value itself
// is never logged.
func (e *Executor) buildEnv(ctx context.Context) ([]string, error) {
	env := append([]string(nil), os.Environ()...)
	if e.backend != "openai" {
		return env, nil
	}

	raw, err := os.ReadFile(e.cfg.SecretPath)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CredentialMissing,
			"internal error: failed to read API token from %s: %v", e.cfg.SecretPath, err)
	}
	token := strings.TrimSpace(string(raw))
	logger.Info(ctx, "loaded API token for harness",
		zap.Bool("present", token != ""))
	env = append(env, openAITokenEnv+"="+token)
	return env, nil
}
