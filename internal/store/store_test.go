package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"cliparr/internal/config"
	"cliparr/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.SonarrAPIKey = "test"
	cfg.StagingDir = filepath.Join(base, "staging")
	cfg.OutputDirectory = filepath.Join(base, "output")
	cfg.TempDir = filepath.Join(base, "tmp")
	cfg.LogDir = filepath.Join(base, "logs")
	return &cfg
}

func seedEpisodeFile(t *testing.T, s *store.Store, title string, season, episode int, path string) *store.EpisodeFile {
	t.Helper()
	ctx := context.Background()

	show, err := s.UpsertShow(ctx, title, "", "")
	if err != nil {
		t.Fatalf("UpsertShow failed: %v", err)
	}
	seasonRow, err := s.UpsertSeason(ctx, show.ID, season)
	if err != nil {
		t.Fatalf("UpsertSeason failed: %v", err)
	}
	episodeRow, err := s.UpsertEpisode(ctx, seasonRow.ID, episode, "", "")
	if err != nil {
		t.Fatalf("UpsertEpisode failed: %v", err)
	}
	file, err := s.UpsertEpisodeFile(ctx, episodeRow.ID, path, 1024)
	if err != nil {
		t.Fatalf("UpsertEpisodeFile failed: %v", err)
	}
	return file
}

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testConfig(t)
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	file := seedEpisodeFile(t, s, "Sample Show", 1, 1, filepath.Join(cfg.StagingDir, "s01e01.mkv"))

	job, err := s.NewJob(ctx, file.ID)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != store.StatusScanning {
		t.Fatalf("expected new job to start scanning, got %s", job.Status)
	}

	fetched, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched == nil || fetched.EpisodeFileID != file.ID {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	byFile, err := s.GetJobByEpisodeFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetJobByEpisodeFile failed: %v", err)
	}
	if byFile == nil || byFile.ID != job.ID {
		t.Fatalf("expected to find job by episode file, got %#v", byFile)
	}
}

func TestUpdateJobPersistsDetectionFields(t *testing.T) {
	cfg := testConfig(t)
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	file := seedEpisodeFile(t, s, "Sample Show", 1, 2, filepath.Join(cfg.StagingDir, "s01e02.mkv"))
	job, err := s.NewJob(ctx, file.ID)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}

	introStart := 12.5
	introEnd := 97.25
	job.Status = store.StatusDetected
	job.ConfidenceScore = 0.92
	job.IntroStart = &introStart
	job.IntroEnd = &introEnd
	job.ProgressStage = "detecting"
	job.ProgressPercent = 80

	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	fetched, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != store.StatusDetected {
		t.Fatalf("expected detected status, got %s", fetched.Status)
	}
	if fetched.IntroStart == nil || *fetched.IntroStart != introStart {
		t.Fatalf("expected intro start %v, got %v", introStart, fetched.IntroStart)
	}
	if fetched.ConfidenceScore != 0.92 {
		t.Fatalf("expected confidence 0.92, got %v", fetched.ConfidenceScore)
	}
}

func TestListSupportsStatusFilter(t *testing.T) {
	cfg := testConfig(t)
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	fileA := seedEpisodeFile(t, s, "Show A", 1, 1, filepath.Join(cfg.StagingDir, "a.mkv"))
	fileB := seedEpisodeFile(t, s, "Show A", 1, 2, filepath.Join(cfg.StagingDir, "b.mkv"))
	fileC := seedEpisodeFile(t, s, "Show A", 1, 3, filepath.Join(cfg.StagingDir, "c.mkv"))

	jobA, err := s.NewJob(ctx, fileA.ID)
	if err != nil {
		t.Fatalf("NewJob A: %v", err)
	}
	jobB, err := s.NewJob(ctx, fileB.ID)
	if err != nil {
		t.Fatalf("NewJob B: %v", err)
	}
	jobB.Status = store.StatusDetected
	if err := s.UpdateJob(ctx, jobB); err != nil {
		t.Fatalf("UpdateJob B: %v", err)
	}
	jobC, err := s.NewJob(ctx, fileC.ID)
	if err != nil {
		t.Fatalf("NewJob C: %v", err)
	}
	jobC.Status = store.StatusFailed
	jobC.ErrorMessage = "boom"
	if err := s.UpdateJob(ctx, jobC); err != nil {
		t.Fatalf("UpdateJob C: %v", err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	if all[0].ID != jobA.ID || all[1].ID != jobB.ID || all[2].ID != jobC.ID {
		t.Fatalf("expected order A,B,C, got IDs %d,%d,%d", all[0].ID, all[1].ID, all[2].ID)
	}

	filtered, err := s.List(ctx, store.StatusDetected, store.StatusFailed)
	if err != nil {
		t.Fatalf("Filtered list failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(filtered))
	}
	if filtered[0].ID != jobB.ID || filtered[1].ID != jobC.ID {
		t.Fatalf("unexpected filtered order: got %d,%d", filtered[0].ID, filtered[1].ID)
	}
}

func TestRetryFailed(t *testing.T) {
	cfg := testConfig(t)
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	fileA := seedEpisodeFile(t, s, "Show A", 1, 1, filepath.Join(cfg.StagingDir, "a.mkv"))
	fileB := seedEpisodeFile(t, s, "Show A", 1, 2, filepath.Join(cfg.StagingDir, "b.mkv"))

	jobA, err := s.NewJob(ctx, fileA.ID)
	if err != nil {
		t.Fatalf("NewJob A: %v", err)
	}
	jobB, err := s.NewJob(ctx, fileB.ID)
	if err != nil {
		t.Fatalf("NewJob B: %v", err)
	}
	for _, job := range []*store.ProcessingJob{jobA, jobB} {
		job.Status = store.StatusFailed
		job.ErrorMessage = "boom"
		if err := s.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
	}

	updated, err := s.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed all: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 jobs retried, got %d", updated)
	}

	fetched, err := s.GetJob(ctx, jobA.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fetched.Status != store.StatusScanning {
		t.Fatalf("expected job A scanning, got %s", fetched.Status)
	}

	jobB.Status = store.StatusFailed
	if err := s.UpdateJob(ctx, jobB); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	updated, err = s.RetryFailed(ctx, jobB.ID)
	if err != nil {
		t.Fatalf("RetryFailed targeted: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 job retried, got %d", updated)
	}
}

func TestUpdateHeartbeat(t *testing.T) {
	cfg := testConfig(t)
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	file := seedEpisodeFile(t, s, "Show A", 1, 1, filepath.Join(cfg.StagingDir, "a.mkv"))
	job, err := s.NewJob(ctx, file.ID)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	job.Status = store.StatusFingerprinting
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if err := s.UpdateHeartbeat(ctx, job.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	fetched, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fetched.LastHeartbeat == nil {
		t.Fatal("expected last heartbeat to be set")
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testConfig(t)
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour).UTC()
	statuses := []store.Status{
		store.StatusScanning,
		store.StatusExtractingAudio,
		store.StatusFingerprinting,
		store.StatusDetecting,
		store.StatusTrimming,
	}

	var ids []int64
	for i, status := range statuses {
		path := filepath.Join(cfg.StagingDir, fmt.Sprintf("stale-%d-%s.mkv", i, status))
		file := seedEpisodeFile(t, s, "Show Stale", 1, i+1, path)
		job, err := s.NewJob(ctx, file.ID)
		if err != nil {
			t.Fatalf("NewJob: %v", err)
		}
		job.Status = status
		job.LastHeartbeat = &past
		if err := s.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
		ids = append(ids, job.ID)
	}

	count, err := s.ReclaimStaleProcessing(ctx, time.Now().Add(-1*time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing: %v", err)
	}
	if int(count) != len(statuses) {
		t.Fatalf("expected %d jobs reclaimed, got %d", len(statuses), count)
	}

	for _, id := range ids {
		fetched, err := s.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if fetched.Status != store.StatusFailed {
			t.Fatalf("expected status failed after reclaim, got %s", fetched.Status)
		}
		if fetched.LastHeartbeat != nil {
			t.Fatalf("expected heartbeat cleared, got %v", fetched.LastHeartbeat)
		}
	}
}
