package intake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"optibench/internal/common/db"
	"optibench/internal/common/storage"
	"optibench/internal/model"
	"optibench/internal/store"
	appErr "optibench/pkg/errors"
)

func newTestService(t *testing.T) (*Service, *store.Store, storage.ObjectStorage) {
	t.Helper()
	root := t.TempDir()

	sqlite, err := db.NewSQLite(filepath.Join(root, "leaderboard.db"))
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	st := store.New(sqlite)
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema failed: %v", err)
	}

	objStorage, err := storage.NewLocalStorage(filepath.Join(root, "submissions"))
	if err != nil {
		t.Fatalf("local storage failed: %v", err)
	}
	return NewService(st, objStorage), st, objStorage
}

func TestSubmitEnqueuesAndStores(t *testing.T) {
	service, st, objStorage := newTestService(t)
	ctx := context.Background()
	payload := []byte("zip-bytes")

	jobID, err := service.Submit(ctx, "  alice  ", "agent.zip", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	key := fmt.Sprintf("%d_agent.zip", jobID)
	exists, err := objStorage.Exists(ctx, key)
	if err != nil || !exists {
		t.Fatalf("archive not stored under %s: exists=%v err=%v", key, exists, err)
	}

	job, err := st.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job == nil || job.ID != jobID {
		t.Fatalf("submitted job should be claimable, got %+v", job)
	}
	if job.Name != "alice" {
		t.Fatalf("name should be trimmed, got %q", job.Name)
	}
	if job.ArchiveKey != key {
		t.Fatalf("archive key = %q, want %q", job.ArchiveKey, key)
	}
	if job.State != model.JobStateRunning {
		t.Fatalf("claimed state = %q", job.State)
	}
}

func TestSubmitValidation(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	payload := bytes.NewReader([]byte("zip-bytes"))

	if _, err := service.Submit(ctx, "   ", "agent.zip", payload, 9); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("blank name should be rejected, got %v", err)
	}
	if _, err := service.Submit(ctx, "alice", "agent.tar.gz", payload, 9); !appErr.Is(err, appErr.InvalidArchive) {
		t.Fatalf("non-zip should be rejected, got %v", err)
	}
	if _, err := service.Submit(ctx, "alice", "agent.zip", nil, 0); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("missing file should be rejected, got %v", err)
	}
}

func TestSubmitStripsDirectoryComponents(t *testing.T) {
	service, st, objStorage := newTestService(t)
	ctx := context.Background()
	payload := []byte("zip-bytes")

	jobID, err := service.Submit(ctx, "alice", "../../etc/agent.zip", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	key := fmt.Sprintf("%d_agent.zip", jobID)
	if exists, _ := objStorage.Exists(ctx, key); !exists {
		t.Fatalf("archive should be stored under sanitized key %s", key)
	}
	job, err := st.ClaimNext(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim failed: job=%+v err=%v", job, err)
	}
	if job.ArchiveKey != key {
		t.Fatalf("archive key = %q, want %q", job.ArchiveKey, key)
	}
}

func TestOpenMissingArchive(t *testing.T) {
	service, _, _ := newTestService(t)
	if _, err := service.Open(context.Background(), "absent.zip"); !appErr.Is(err, appErr.ArchiveNotFound) {
		t.Fatalf("expected ArchiveNotFound, got %v", err)
	}
}

func multipartBody(t *testing.T, name, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		t.Fatalf("write field failed: %v", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file failed: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("write payload failed: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer failed: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestSubmitEndpointRedirectsBrowser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service, _, _ := newTestService(t)
	router := gin.New()
	NewController(service).RegisterRoutes(router)

	body, contentType := multipartBody(t, "alice", "agent.zip", []byte("zip-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Fatalf("redirect location = %q", loc)
	}
}

func TestSubmitEndpointJSONForAPIClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service, _, _ := newTestService(t)
	router := gin.New()
	NewController(service).RegisterRoutes(router)

	body, contentType := multipartBody(t, "alice", "agent.zip", []byte("zip-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "job_id") {
		t.Fatalf("expected job_id in response, got %s", rec.Body.String())
	}
}

func TestSubmitEndpointMissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service, _, _ := newTestService(t)
	router := gin.New()
	NewController(service).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("name=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDownloadEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service, _, objStorage := newTestService(t)
	router := gin.New()
	NewController(service).RegisterRoutes(router)

	payload := []byte("zip-bytes")
	err := objStorage.Put(context.Background(), "1_agent.zip", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("store archive failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/submissions/1_agent.zip", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got, _ := io.ReadAll(rec.Body)
	if !bytes.Equal(got, payload) {
		t.Fatalf("downloaded bytes differ: %q", got)
	}
}
