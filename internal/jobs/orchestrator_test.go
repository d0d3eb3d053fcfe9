package jobs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cliparr/internal/jobs"
	"cliparr/internal/stage"
	"cliparr/internal/store"
	"cliparr/internal/testsupport"
)

func TestRemoveDeletesJobAndScratchFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	o := jobs.New(st, nil, cfg)

	job := testsupport.NewJob(t, st, "Example", 1, 1)

	ctx := context.Background()
	if err := st.InsertFingerprints(ctx, []*store.Fingerprint{{
		EpisodeFileID: job.EpisodeFileID,
		WindowStart:   0,
		WindowEnd:     10,
		Hash:          []uint32{1, 2, 3},
	}}); err != nil {
		t.Fatalf("InsertFingerprints: %v", err)
	}

	wavPath := stage.AudioWAVPath(cfg.TempDir, job.ID, job.EpisodeFileID)
	if err := os.MkdirAll(filepath.Dir(wavPath), 0o755); err != nil {
		t.Fatalf("mkdir scratch dir: %v", err)
	}
	if err := os.WriteFile(wavPath, []byte("pcm"), 0o644); err != nil {
		t.Fatalf("write scratch wav: %v", err)
	}

	if err := o.Remove(ctx, job.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if got, err := st.GetJob(ctx, job.ID); err != nil {
		t.Fatalf("GetJob: %v", err)
	} else if got != nil {
		t.Fatalf("expected job %d to be deleted, got %+v", job.ID, got)
	}

	if _, err := os.Stat(wavPath); !os.IsNotExist(err) {
		t.Fatalf("expected scratch wav %q to be removed, stat err: %v", wavPath, err)
	}

	fps, err := st.FingerprintsForEpisodeFile(ctx, job.EpisodeFileID)
	if err != nil {
		t.Fatalf("Fingerprints: %v", err)
	}
	if len(fps) != 0 {
		t.Fatalf("expected fingerprints to be cleared, got %d", len(fps))
	}
}

func TestRemoveMissingJobReturnsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	o := jobs.New(st, nil, cfg)

	if err := o.Remove(context.Background(), 999999); err == nil {
		t.Fatal("expected error removing a nonexistent job")
	}
}

func TestBulkDeleteRemovesEveryJobAndPausesPools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	o := jobs.New(st, nil, cfg)

	jobA := testsupport.NewJob(t, st, "Show A", 1, 1)
	jobB := testsupport.NewJob(t, st, "Show B", 1, 1)

	var paused, resumed bool
	err := o.BulkDelete(context.Background(), []int64{jobA.ID, jobB.ID},
		func() { paused = true },
		func() { resumed = true },
	)
	if err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if !paused || !resumed {
		t.Fatalf("expected pools to be paused and resumed, got paused=%v resumed=%v", paused, resumed)
	}

	for _, id := range []int64{jobA.ID, jobB.ID} {
		got, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob(%d): %v", id, err)
		}
		if got != nil {
			t.Fatalf("expected job %d to be deleted", id)
		}
	}
}

func TestBulkDeleteSkipsMissingJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	o := jobs.New(st, nil, cfg)

	job := testsupport.NewJob(t, st, "Example", 1, 1)

	if err := o.BulkDelete(context.Background(), []int64{job.ID, 999999}, nil, nil); err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
}

func TestSubmitIsIdempotentForActiveJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	o := jobs.New(st, nil, cfg)

	job := testsupport.NewJob(t, st, "Example", 1, 1)
	ctx := context.Background()

	again, err := o.Submit(ctx, job.EpisodeFileID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if again.ID != job.ID {
		t.Fatalf("expected existing job %d, got %d", job.ID, again.ID)
	}
}

func TestSubmitRequeuesFailedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	o := jobs.New(st, nil, cfg)

	job := testsupport.NewJob(t, st, "Example", 1, 1)
	ctx := context.Background()

	if err := o.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cancelled, err := st.GetJob(ctx, job.ID)
	if err != nil || cancelled == nil {
		t.Fatalf("GetJob: %v", err)
	}
	if cancelled.Status != store.StatusFailed {
		t.Fatalf("status after cancel = %s, want %s", cancelled.Status, store.StatusFailed)
	}

	resubmitted, err := o.Submit(ctx, job.EpisodeFileID)
	if err != nil {
		t.Fatalf("Submit after cancel: %v", err)
	}
	if resubmitted.ID != job.ID {
		t.Fatalf("expected the same job row, got %d", resubmitted.ID)
	}
	if resubmitted.Status != store.StatusScanning {
		t.Fatalf("status after resubmit = %s, want %s", resubmitted.Status, store.StatusScanning)
	}
	if resubmitted.ErrorMessage != "" {
		t.Fatalf("error message should be cleared, got %q", resubmitted.ErrorMessage)
	}
}

func TestCancelKillsScratchAndDerivedData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	o := jobs.New(st, nil, cfg)

	job := testsupport.NewJob(t, st, "Example", 1, 1)
	ctx := context.Background()

	wavPath := stage.AudioWAVPath(cfg.TempDir, job.ID, job.EpisodeFileID)
	if err := os.MkdirAll(filepath.Dir(wavPath), 0o755); err != nil {
		t.Fatalf("mkdir scratch dir: %v", err)
	}
	if err := os.WriteFile(wavPath, []byte("RIFFdata"), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := st.InsertFingerprints(ctx, []*store.Fingerprint{{
		EpisodeFileID: job.EpisodeFileID,
		WindowStart:   0,
		WindowEnd:     10,
		Hash:          []uint32{1, 2, 3},
	}}); err != nil {
		t.Fatalf("InsertFingerprints: %v", err)
	}

	if err := o.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, err := os.Stat(wavPath); !os.IsNotExist(err) {
		t.Fatalf("expected scratch WAV to be unlinked, stat err = %v", err)
	}
	fps, err := st.FingerprintsForEpisodeFile(ctx, job.EpisodeFileID)
	if err != nil {
		t.Fatalf("FingerprintsForEpisodeFile: %v", err)
	}
	if len(fps) != 0 {
		t.Fatalf("expected partial fingerprints to be deleted, got %d", len(fps))
	}
	cancelled, err := st.GetJob(ctx, job.ID)
	if err != nil || cancelled == nil {
		t.Fatalf("GetJob: %v", err)
	}
	if cancelled.Status != store.StatusFailed {
		t.Fatalf("status = %s, want %s", cancelled.Status, store.StatusFailed)
	}
}
