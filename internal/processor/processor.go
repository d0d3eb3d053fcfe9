// Package processor implements the pipeline's first stage:
// it resolves a ProcessingJob's episode_file_id into a concrete on-disk path,
// validates existence, and hands off to the Audio Extractor.
package processor

import (
	"context"
	"log/slog"

	"cliparr/internal/logging"
	"cliparr/internal/stage"
	"cliparr/internal/store"
)

// Processor is the Stage 1 handler.
type Processor struct {
	store  *store.Store
	logger *slog.Logger
}

// New constructs a Processor.
func New(s *store.Store, logger *slog.Logger) *Processor {
	p := &Processor{store: s}
	p.SetLogger(logger)
	return p
}

// SetLogger implements stage.LoggerAware.
func (p *Processor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p.logger = logger.With(logging.String("component", "processor"))
}

// Prepare sets initial progress metadata before resolution runs.
func (p *Processor) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	job.ProgressStage = "Scanning"
	job.ProgressMessage = "Resolving episode file"
	job.ProgressPercent = 0
	return nil
}

// Execute resolves and validates the on-disk path for job.EpisodeFileID. The
// path itself isn't stored on the job record — every later stage re-resolves
// it via stage.ResolveEpisodeFilePath from the episode_file_id, keeping a
// single source of truth in the catalog rather than duplicating it onto the
// job.
func (p *Processor) Execute(ctx context.Context, job *store.ProcessingJob) error {
	path, err := stage.ResolveEpisodeFilePath(ctx, p.store, job)
	if err != nil {
		return err
	}
	p.logger.Info("resolved episode file", logging.String("path", path), logging.Int64("episode_file_id", job.EpisodeFileID))
	job.ProgressMessage = "Episode file validated"
	job.ProgressPercent = 100
	return nil
}

// HealthCheck reports the processor as healthy whenever the store is wired;
// it has no external subprocess dependency.
func (p *Processor) HealthCheck(ctx context.Context) stage.Health {
	if p.store == nil {
		return stage.Unhealthy("processor", "store not configured")
	}
	return stage.Healthy("processor")
}
