package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cliparr/internal/config"
	"cliparr/internal/logging"
	"cliparr/internal/store"
)

// BackgroundLogger manages dedicated log files for jobs running in the
// background (GPU/CPU pool) stages, so a user can follow one job's progress
// without the rest of the daemon log.
type BackgroundLogger struct {
	baseDir string
	cfg     *config.Config
}

// NewBackgroundLogger creates a new background logger. hub is accepted for
// wiring symmetry with daemon construction but per-job log files are plain
// files; live tailing goes through the daemon's own log stream instead.
func NewBackgroundLogger(cfg *config.Config, hub *logging.StreamHub) *BackgroundLogger {
	dir := ""
	if cfg != nil && cfg.LogDir != "" {
		dir = filepath.Join(cfg.LogDir, "jobs")
	}
	return &BackgroundLogger{baseDir: dir, cfg: cfg}
}

// Ensure prepares the log directory and file path for a job, creating the
// filename the first time a job reaches a background-pool stage.
func (b *BackgroundLogger) Ensure(job *store.ProcessingJob) (string, bool, error) {
	if job == nil {
		return "", false, fmt.Errorf("job is nil")
	}
	if strings.TrimSpace(b.baseDir) == "" {
		return "", false, fmt.Errorf("background log directory not configured")
	}
	if err := os.MkdirAll(b.baseDir, 0o755); err != nil {
		return "", false, fmt.Errorf("ensure background log directory: %w", err)
	}
	path := filepath.Join(b.baseDir, b.filename(job))
	created := true
	if _, err := os.Stat(path); err == nil {
		created = false
	}
	return path, created, nil
}

// CreateHandler builds a slog.Handler writing to the specified path.
func (b *BackgroundLogger) CreateHandler(path string) (slog.Handler, error) {
	level := "info"
	format := "json"
	if b.cfg != nil {
		if strings.TrimSpace(b.cfg.LogLevel) != "" {
			level = b.cfg.LogLevel
		}
		if strings.TrimSpace(b.cfg.LogFormat) != "" {
			format = b.cfg.LogFormat
		}
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           format,
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{path},
		Development:      false,
	})
	if err != nil {
		return nil, err
	}
	return logger.Handler(), nil
}

func (b *BackgroundLogger) filename(job *store.ProcessingJob) string {
	return fmt.Sprintf("job-%d.log", job.ID)
}
