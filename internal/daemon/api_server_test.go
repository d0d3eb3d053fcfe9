package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"cliparr/internal/api"
	"cliparr/internal/logging"
	"cliparr/internal/notifications"
	"cliparr/internal/stage"
	"cliparr/internal/store"
	"cliparr/internal/testsupport"
	"cliparr/internal/workflow"
)

type noopStage struct{}

func (noopStage) Prepare(context.Context, *store.ProcessingJob) error { return nil }
func (noopStage) Execute(context.Context, *store.ProcessingJob) error { return nil }
func (noopStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("noop")
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	mgr := workflow.NewManager(cfg, st, logger)
	mgr.ConfigureStages(workflow.StageSet{
		Processor:     noopStage{},
		Extractor:     noopStage{},
		Fingerprinter: noopStage{},
		Detector:      noopStage{},
		Trimmer:       noopStage{},
	})

	hub := logging.NewStreamHub(16)
	d, err := New(cfg, st, logger, mgr, cfg.LogDir+"/daemon.log", hub, nil, notifications.NewService(cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func jobPath(id int64) string {
	return "/processing/jobs/" + strconv.FormatInt(id, 10)
}

func TestAPIServerHandleJobs(t *testing.T) {
	d := newTestDaemon(t)
	job := testsupport.NewJob(t, d.store, "Example", 1, 1)

	req := httptest.NewRequest(http.MethodGet, "/processing/jobs", nil)
	w := httptest.NewRecorder()
	d.apiSrv.handleJobs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.JobListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(resp.Jobs))
	}
	if resp.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected job id: %d", resp.Jobs[0].ID)
	}
}

func TestAPIServerHandleJobItem(t *testing.T) {
	d := newTestDaemon(t)
	job := testsupport.NewJob(t, d.store, "Example", 1, 1)

	getReq := httptest.NewRequest(http.MethodGet, jobPath(job.ID), nil)
	getReq.URL.Path = jobPath(job.ID)
	getW := httptest.NewRecorder()
	d.apiSrv.handleJobItem(getW, getReq)

	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", getW.Code)
	}
	var resp api.JobResponse
	if err := json.Unmarshal(getW.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Job.ID != job.ID {
		t.Fatalf("unexpected job id: %d", resp.Job.ID)
	}

	delReq := httptest.NewRequest(http.MethodDelete, jobPath(job.ID), nil)
	delReq.URL.Path = jobPath(job.ID)
	delW := httptest.NewRecorder()
	d.apiSrv.handleJobItem(delW, delReq)
	if delW.Code != http.StatusNoContent {
		t.Fatalf("expected 204 No Content, got %d", delW.Code)
	}

	afterReq := httptest.NewRequest(http.MethodGet, jobPath(job.ID), nil)
	afterReq.URL.Path = jobPath(job.ID)
	afterW := httptest.NewRecorder()
	d.apiSrv.handleJobItem(afterW, afterReq)
	if afterW.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", afterW.Code)
	}
}

func TestAPIServerHandleQueueStatus(t *testing.T) {
	d := newTestDaemon(t)
	testsupport.NewJob(t, d.store, "Example", 1, 1)

	req := httptest.NewRequest(http.MethodGet, "/processing/queue/status", nil)
	w := httptest.NewRecorder()
	d.apiSrv.handleQueueStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.QueueStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.CPUPaused || resp.GPUPaused {
		t.Fatalf("expected pools to start unpaused: %+v", resp)
	}
}

func TestAPIServerHandleStatus(t *testing.T) {
	d := newTestDaemon(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	d.apiSrv.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.DaemonStatus
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Running {
		t.Fatal("expected daemon to report not running before Start")
	}
}

func TestAPIServerHandleLogs(t *testing.T) {
	d := newTestDaemon(t)
	d.logHub.Publish(logging.LogEvent{Message: "bg", Lane: "background"})
	d.logHub.Publish(logging.LogEvent{Message: "fg", Lane: "foreground"})

	req := httptest.NewRequest(http.MethodGet, "/api/logs?tail=1&limit=10", nil)
	w := httptest.NewRecorder()
	d.apiSrv.handleLogs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.LogStreamResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Events))
	}
}

func TestAPIServerHandleJobUpdate(t *testing.T) {
	d := newTestDaemon(t)
	job := testsupport.NewJob(t, d.store, "Example", 1, 1)

	info, err := d.store.EpisodeInfo(context.Background(), job.EpisodeFileID)
	if err != nil || info == nil {
		t.Fatalf("EpisodeInfo: %v", err)
	}
	if _, err := d.store.UpsertDetectionResult(context.Background(), &store.DetectionResult{
		ShowID:          info.ShowID,
		SeasonNumber:    info.SeasonNumber,
		EpisodeNumber:   info.EpisodeNumber,
		ConfidenceScore: 0.9,
		DetectionMethod: "cross_episode_cluster",
		ApprovalStatus:  store.ApprovalPending,
	}); err != nil {
		t.Fatalf("UpsertDetectionResult: %v", err)
	}

	body := bytes.NewBufferString(`{"status":"verified","confidenceScore":0.9,"introStart":0,"introEnd":30,"manualVerified":true,"processingNotes":"checked"}`)
	putReq := httptest.NewRequest(http.MethodPut, jobPath(job.ID), body)
	putReq.URL.Path = jobPath(job.ID)
	putW := httptest.NewRecorder()
	d.apiSrv.handleJobItem(putW, putReq)

	if putW.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", putW.Code, putW.Body.String())
	}
	var resp api.JobResponse
	if err := json.Unmarshal(putW.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Job.Status != "verified" {
		t.Fatalf("status = %q, want verified", resp.Job.Status)
	}
	if resp.Job.ConfidenceScore != 0.9 {
		t.Fatalf("confidence = %v, want 0.9", resp.Job.ConfidenceScore)
	}
	if resp.Job.IntroStart == nil || *resp.Job.IntroStart != 0 || resp.Job.IntroEnd == nil || *resp.Job.IntroEnd != 30 {
		t.Fatalf("intro not patched: %+v", resp.Job)
	}
	if !resp.Job.ManualVerified {
		t.Fatal("manualVerified not patched")
	}

	result, err := d.store.DetectionResultByEpisode(context.Background(), info.ShowID, info.SeasonNumber, info.EpisodeNumber)
	if err != nil || result == nil {
		t.Fatalf("DetectionResultByEpisode: %v", err)
	}
	if result.ApprovalStatus != store.ApprovalManualApproved {
		t.Fatalf("detection approval = %s, want %s", result.ApprovalStatus, store.ApprovalManualApproved)
	}
}

func TestAPIServerHandleJobUpdateRejectsBadInput(t *testing.T) {
	d := newTestDaemon(t)
	job := testsupport.NewJob(t, d.store, "Example", 1, 1)

	for _, payload := range []string{
		`{"status":"extracting_audio"}`,
		`{"confidenceScore":1.5}`,
		`{"introStart":40,"introEnd":10}`,
	} {
		putReq := httptest.NewRequest(http.MethodPut, jobPath(job.ID), bytes.NewBufferString(payload))
		putReq.URL.Path = jobPath(job.ID)
		putW := httptest.NewRecorder()
		d.apiSrv.handleJobItem(putW, putReq)
		if putW.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: expected 400, got %d", payload, putW.Code)
		}
	}
}
