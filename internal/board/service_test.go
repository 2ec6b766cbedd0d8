package board

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"optibench/internal/model"
)

type fakeSnapshotter struct {
	results []model.Result
	jobs    []model.Job
}

func (f *fakeSnapshotter) Snapshot(_ context.Context) ([]model.Result, []model.Job, error) {
	return f.results, f.jobs, nil
}

func ptrF(v float64) *float64 { return &v }
func ptrS(v string) *string   { return &v }

func TestViewRanksAndQueuePositions(t *testing.T) {
	detail := `[{"problem":"problem-1","starter_time_ms":100,"optimized_time_ms":80,"improvement_ms":20,"correct":true,"score":1.02}]`
	snap := &fakeSnapshotter{
		results: []model.Result{
			{ID: 1, JobID: 10, Name: "alice", Score: ptrF(7.5), LatencyReduction: ptrF(20.0),
				PerProblemJSON: &detail, Outcome: model.OutcomeSuccess, CompletedAt: 1700000000},
			{ID: 2, JobID: 11, Name: "bob", Score: ptrF(3.0), LatencyReduction: ptrF(5.0),
				Outcome: model.OutcomeSuccess, CompletedAt: 1700000100},
			{ID: 3, JobID: 12, Name: "carol", Outcome: model.OutcomeError,
				ErrorMessage: ptrS("missing my-agent.py"), CompletedAt: 1700000200},
		},
		jobs: []model.Job{
			{ID: 20, Name: "dave", State: model.JobStateRunning, SubmittedAt: 1700000300},
			{ID: 21, Name: "erin", State: model.JobStatePending, SubmittedAt: 1700000400},
			{ID: 22, Name: "frank", State: model.JobStatePending, SubmittedAt: 1700000500},
		},
	}

	view, err := NewService(snap).View(context.Background())
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}

	if len(view.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(view.Entries))
	}
	for i, entry := range view.Entries {
		if entry.Rank != i+1 {
			t.Fatalf("entry %d has rank %d", i, entry.Rank)
		}
	}
	if view.Entries[0].Name != "alice" || len(view.Entries[0].PerProblem) != 1 {
		t.Fatalf("top entry wrong: %+v", view.Entries[0])
	}
	if view.Entries[2].Score != nil || view.Entries[2].ErrorMessage == nil {
		t.Fatalf("error entry wrong: %+v", view.Entries[2])
	}

	if len(view.Queue) != 3 {
		t.Fatalf("expected 3 queue items, got %d", len(view.Queue))
	}
	if view.Queue[0].Ahead != nil {
		t.Fatalf("running job must not have a queue position: %+v", view.Queue[0])
	}
	if view.Queue[1].Ahead == nil || *view.Queue[1].Ahead != 0 {
		t.Fatalf("first pending job should have 0 ahead: %+v", view.Queue[1])
	}
	if view.Queue[2].Ahead == nil || *view.Queue[2].Ahead != 1 {
		t.Fatalf("second pending job should have 1 ahead: %+v", view.Queue[2])
	}
}

func TestViewToleratesCorruptDetail(t *testing.T) {
	bad := `{not json`
	snap := &fakeSnapshotter{
		results: []model.Result{
			{ID: 1, JobID: 10, Name: "alice", Score: ptrF(1.0),
				PerProblemJSON: &bad, Outcome: model.OutcomeSuccess, CompletedAt: 1700000000},
		},
	}

	view, err := NewService(snap).View(context.Background())
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	if view.Entries[0].PerProblem != nil {
		t.Fatalf("corrupt detail should decode to nil, got %+v", view.Entries[0].PerProblem)
	}
	if view.Entries[0].Score == nil || *view.Entries[0].Score != 1.0 {
		t.Fatalf("headline score must survive corrupt detail: %+v", view.Entries[0])
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	snap := &fakeSnapshotter{
		results: []model.Result{
			{ID: 1, JobID: 10, Name: "alice", Score: ptrF(7.5), LatencyReduction: ptrF(20.0),
				Outcome: model.OutcomeSuccess, CompletedAt: 1700000000},
		},
	}
	router := gin.New()
	NewController(NewService(snap)).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var envelope struct {
		Code int  `json:"code"`
		Data View `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(envelope.Data.Entries) != 1 || envelope.Data.Entries[0].Name != "alice" {
		t.Fatalf("unexpected payload: %+v", envelope.Data)
	}
}

func TestPageRenders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	detail := `[` +
		`{"problem":"problem-1","starter_time_ms":100,"optimized_time_ms":80,"improvement_ms":20,"correct":true,"score":1.02},` +
		`{"problem":"problem-2","starter_time_ms":50,"optimized_time_ms":60,"improvement_ms":-10,"correct":false,"score":0},` +
		`{"problem":"problem-3","starter_time_ms":50,"optimized_time_ms":40,"improvement_ms":10,"correct":null,"score":null}]`
	snap := &fakeSnapshotter{
		results: []model.Result{
			{ID: 1, JobID: 10, Name: "alice", Score: ptrF(7.5), LatencyReduction: ptrF(20.0),
				PerProblemJSON: &detail, Outcome: model.OutcomeSuccess, CompletedAt: 1700000000},
		},
		jobs: []model.Job{
			{ID: 20, Name: "erin", State: model.JobStatePending, SubmittedAt: 1700000400},
			{ID: 21, Name: "frank", State: model.JobStatePending, SubmittedAt: 1700000500},
		},
	}
	router := gin.New()
	NewController(NewService(snap)).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	wants := []string{
		"alice", "7.500", "20.0%", "erin", "PENDING",
		"(0 ahead)", "(1 ahead)",
		"Instructions",
		"problem-1: 1.020",
		"problem-2: 0.000 (FAIL)",
		"problem-3: ?",
	}
	for _, want := range wants {
		if !strings.Contains(body, want) {
			t.Fatalf("page missing %q:\n%s", want, body)
		}
	}
}

func TestPageRendersEmptyBoard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewController(NewService(&fakeSnapshotter{})).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No runs submitted yet") {
		t.Fatalf("empty board placeholder missing:\n%s", rec.Body.String())
	}
}
