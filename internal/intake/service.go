// Package intake accepts submission uploads: it persists the archive and
// enqueues the benchmarking job.
package intake

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"optibench/internal/common/storage"
	appErr "optibench/pkg/errors"
	"optibench/pkg/utils/logger"
)

// Queue is the enqueue surface the intake needs from the store.
type Queue interface {
	Enqueue(ctx context.Context, name, archiveKey string) (int64, error)
	Activate(ctx context.Context, id int64, archiveKey string) error
}

// Service validates and records incoming submissions.
type Service struct {
	queue   Queue
	storage storage.ObjectStorage
}

// NewService creates an intake service.
func NewService(queue Queue, objStorage storage.ObjectStorage) *Service {
	return &Service{queue: queue, storage: objStorage}
}

// Submit registers a new job for the uploaded archive and returns its id.
//
// The job row is created first so the archive key can embed the job id;
// the job only becomes claimable after the archive is durably stored, so
// workers never race an upload still in flight.
func (s *Service) Submit(ctx context.Context, name, filename string, archive io.Reader, size int64) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, appErr.New(appErr.InvalidParams).WithMessage("name is required")
	}
	if archive == nil {
		return 0, appErr.New(appErr.InvalidParams).WithMessage("archive file is required")
	}
	base := sanitizeFilename(filename)
	if !strings.EqualFold(filepath.Ext(base), ".zip") {
		return 0, appErr.New(appErr.InvalidArchive).WithMessage("only .zip archives are accepted")
	}

	jobID, err := s.queue.Enqueue(ctx, name, "")
	if err != nil {
		return 0, err
	}
	key := fmt.Sprintf("%d_%s", jobID, base)

	if err := s.storage.Put(ctx, key, archive, size); err != nil {
		return 0, appErr.Wrapf(err, appErr.SubmissionCreateFailed,
			"failed to store archive: %v", err)
	}
	if err := s.queue.Activate(ctx, jobID, key); err != nil {
		return 0, err
	}

	logger.Info(ctx, "submission accepted",
		zap.Int64("job_id", jobID),
		zap.String("name", name),
		zap.String("archive_key", key))
	return jobID, nil
}

// Open returns a stored archive for download.
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	key = sanitizeFilename(key)
	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, appErr.Newf(appErr.ArchiveNotFound, "archive not found: %s", key)
	}
	return s.storage.Get(ctx, key)
}

// sanitizeFilename strips any client-supplied directory components.
func sanitizeFilename(name string) string {
	return filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
}
