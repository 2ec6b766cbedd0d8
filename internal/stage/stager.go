// Package stage turns a stored submission archive into an isolated,
// validated working tree ready for benchmarking.
package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"optibench/internal/common/fsutil"
	"optibench/internal/common/storage"
	"optibench/internal/model"
	appErr "optibench/pkg/errors"
	"optibench/pkg/utils/logger"
	"optibench/pkg/utils/textutil"
)

const (
	// AgentDirName is the fixed extraction subdirectory inside each work dir.
	AgentDirName = "student_agent"

	requirementsFile = "requirements.txt"

	// diagTailLines bounds subprocess output carried into error messages.
	diagTailLines = 5
)

// Config holds staging settings.
type Config struct {
	// WorkRoot is where per-job work directories are created.
	WorkRoot string `yaml:"workRoot"`

	// AgentEntry is the required entry-point file, e.g. "my-agent.py".
	AgentEntry string `yaml:"agentEntry"`

	// ClientDir holds the bundled default backend client files.
	ClientDir string `yaml:"clientDir"`

	// Python is the interpreter used for dependency installation.
	Python string `yaml:"python"`
}

// Stager extracts, normalizes and validates submitted archives.
type Stager struct {
	storage storage.ObjectStorage
	cfg     Config
	backend string
}

// NewStager creates a Stager for the configured backend.
func NewStager(objStorage storage.ObjectStorage, backend string, cfg Config) (*Stager, error) {
	if objStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if cfg.ClientDir == "" {
		return nil, fmt.Errorf("client dir is required")
	}
	if cfg.AgentEntry == "" {
		cfg.AgentEntry = "my-agent.py"
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	return &Stager{storage: objStorage, cfg: cfg, backend: backend}, nil
}

// ClientFileName returns the benchmarking glue file the selected backend needs.
func ClientFileName(backend string) string {
	if backend == "openai" {
		return "openai-client.py"
	}
	return "ollama-client.py"
}

// Stage produces the job's working tree. It returns the work dir path even
// when staging fails partway, so the caller can apply the retain-on-error
// policy to whatever was extracted.
func (s *Stager) Stage(ctx context.Context, job *model.Job) (string, error) {
	workDir := filepath.Join(s.cfg.WorkRoot,
		fmt.Sprintf("job-%d-%s", job.ID, uuid.NewString()[:8]))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to create work dir: %v", err)
	}

	archivePath := filepath.Join(workDir, "submission.zip")
	if err := s.fetchArchive(ctx, job.ArchiveKey, archivePath); err != nil {
		return workDir, err
	}

	agentDir := filepath.Join(workDir, AgentDirName)
	if err := extractZip(archivePath, agentDir); err != nil {
		return workDir, err
	}

	logStagedTree(ctx, agentDir)

	if err := flattenNesting(ctx, agentDir); err != nil {
		return workDir, err
	}

	if _, err := os.Stat(filepath.Join(agentDir, s.cfg.AgentEntry)); err != nil {
		return workDir, appErr.Newf(appErr.MissingAgentEntry, "missing %s", s.cfg.AgentEntry)
	}

	if err := s.ensureClientFile(ctx, agentDir); err != nil {
		return workDir, err
	}

	if err := s.installRequirements(ctx, agentDir); err != nil {
		return workDir, err
	}

	return workDir, nil
}

func (s *Stager) fetchArchive(ctx context.Context, key, dst string) error {
	reader, err := s.storage.Get(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveNotFound, "archive not found: %v", err)
	}
	defer reader.Close()

	out, err := os.Create(dst)
	if err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to create archive copy: %v", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to copy archive: %v", err)
	}
	return out.Close()
}

// extractZip unpacks the archive into dir, refusing entries that escape it.
func extractZip(archivePath, dir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidArchive, "invalid zip")
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to create extraction dir: %v", err)
	}

	for _, file := range zr.File {
		target := filepath.Join(dir, filepath.Clean(file.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return appErr.Newf(appErr.InvalidArchive, "invalid zip (unsafe path %q)", file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.WorkspaceError,
					"internal error: failed to create dir: %v", err)
			}
			continue
		}
		if err := extractFile(file, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to create dir: %v", err)
	}
	in, err := file.Open()
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidArchive, "invalid zip (%v)", err)
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to create file: %v", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return appErr.Wrapf(err, appErr.InvalidArchive, "invalid zip (%v)", err)
	}
	return out.Close()
}

// flattenNesting lifts a single redundant wrapper directory. Naive archive
// creation commonly zips the intended tree inside an extra folder; rejecting
// those submissions would be poor usability.
func flattenNesting(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to list extraction dir: %v", err)
	}

	var dirs, files []os.DirEntry
	for _, entry := range entries {
		if isMetadataNoise(entry.Name()) {
			continue
		}
		if entry.IsDir() {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	if len(dirs) != 1 || len(files) != 0 {
		return nil
	}

	nested := filepath.Join(dir, dirs[0].Name())
	logger.Info(ctx, "flattening nested submission dir", zap.String("dir", nested))

	children, err := os.ReadDir(nested)
	if err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to list nested dir: %v", err)
	}
	for _, child := range children {
		src := filepath.Join(nested, child.Name())
		dst := filepath.Join(dir, child.Name())
		if err := os.Rename(src, dst); err != nil {
			return appErr.Wrapf(err, appErr.WorkspaceError,
				"internal error: failed to flatten nested dir: %v", err)
		}
	}
	if err := os.Remove(nested); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to remove nested dir: %v", err)
	}
	return nil
}

// isMetadataNoise matches platform sidecar entries that must not count as
// submission content (macOS resource forks, hidden files).
func isMetadataNoise(name string) bool {
	return name == "__MACOSX" || strings.HasPrefix(name, ".")
}

func (s *Stager) ensureClientFile(ctx context.Context, agentDir string) error {
	clientName := ClientFileName(s.backend)
	dst := filepath.Join(agentDir, clientName)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	src := filepath.Join(s.cfg.ClientDir, clientName)
	if _, err := os.Stat(src); err != nil {
		return appErr.Newf(appErr.BenchmarkAssetsMissing,
			"internal error: %s not found in submission and default not found at %s", clientName, src)
	}
	if err := fsutil.CopyFile(src, dst); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError,
			"internal error: failed to copy default %s: %v", clientName, err)
	}
	logger.Info(ctx, "copied default backend client", zap.String("client", clientName))
	return nil
}

// installRequirements installs declared dependencies into the user site.
// Install failures are user-attributable and carry bounded output tails.
func (s *Stager) installRequirements(ctx context.Context, agentDir string) error {
	reqPath := filepath.Join(agentDir, requirementsFile)
	if _, err := os.Stat(reqPath); err != nil {
		return nil
	}

	logger.Info(ctx, "installing submission requirements", zap.String("path", reqPath))

	cmd := exec.CommandContext(ctx, s.cfg.Python, "-m", "pip", "install", "--user", "-r", reqPath)
	cmd.Dir = agentDir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		rc := -1
		if cmd.ProcessState != nil {
			rc = cmd.ProcessState.ExitCode()
		}
		parts := []string{fmt.Sprintf("pip install failed, rc %d", rc)}
		if tail := textutil.TailLines(stdout.String(), diagTailLines); tail != "" {
			parts = append(parts, "tail of stdout: "+tail)
		}
		if tail := textutil.TailLines(stderr.String(), diagTailLines); tail != "" {
			parts = append(parts, "tail of stderr: "+tail)
		}
		return appErr.New(appErr.DependencyInstallFailed).
			WithMessage(strings.Join(parts, "; "))
	}
	return nil
}

// logStagedTree records the extracted layout for postmortem debugging.
func logStagedTree(ctx context.Context, dir string) {
	var paths []string
	_ = filepath.WalkDir(dir, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if rel, relErr := filepath.Rel(dir, path); relErr == nil {
			paths = append(paths, rel)
		}
		return nil
	})
	logger.Debug(ctx, "staged submission tree", zap.Strings("entries", paths))
}
