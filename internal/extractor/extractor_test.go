package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cliparr/internal/logging"
	"cliparr/internal/stage"
	"cliparr/internal/testsupport"
)

func TestExecuteSkipsWhenWAVAlreadyExtracted(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.RedisAddr = ""
	st := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, st, "Example Show", 1, 1)

	file, err := st.EpisodeFileByID(context.Background(), job.EpisodeFileID)
	if err != nil || file == nil {
		t.Fatalf("EpisodeFileByID: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(file.Path), 0o755); err != nil {
		t.Fatalf("mkdir source dir: %v", err)
	}
	if err := os.WriteFile(file.Path, []byte("video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	wavPath := stage.AudioWAVPath(cfg.TempDir, job.ID, job.EpisodeFileID)
	if err := os.MkdirAll(filepath.Dir(wavPath), 0o755); err != nil {
		t.Fatalf("mkdir scratch dir: %v", err)
	}
	if err := os.WriteFile(wavPath, []byte("RIFFdata"), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	e := New(cfg, st, logging.NewNop(), nil, nil)
	if err := e.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if job.ProgressPercent != 100 {
		t.Fatalf("progress = %v, want 100", job.ProgressPercent)
	}
}

func TestIsNoAudioStream(t *testing.T) {
	cases := []struct {
		stderr string
		want   bool
	}{
		{"Output file #0 does not contain any stream", true},
		{"Stream map '0:a:0' matches no streams.", true},
		{"Error while decoding stream #0:1: unknown", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isNoAudioStream(tc.stderr); got != tc.want {
			t.Fatalf("isNoAudioStream(%q) = %v, want %v", tc.stderr, got, tc.want)
		}
	}
}

func TestCheckFreeSpaceMissingSourceFails(t *testing.T) {
	if err := checkFreeSpace(filepath.Join(t.TempDir(), "missing.mkv"), t.TempDir()); err == nil {
		t.Fatal("expected error for missing source file")
	}
}

func TestCheckFreeSpaceSucceedsForTinyFile(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "tiny.mkv")
	if err := os.WriteFile(source, []byte("x"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := checkFreeSpace(source, dir); err != nil {
		t.Fatalf("checkFreeSpace: %v", err)
	}
}
