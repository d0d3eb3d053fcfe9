// Package fingerprinter implements the pipeline's third stage: it runs the
// acoustic-hash tool over sliding windows of the extracted WAV and persists
// the resulting fingerprint set.
package fingerprinter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cliparr/internal/broker"
	"cliparr/internal/config"
	"cliparr/internal/deps"
	"cliparr/internal/fingerprint"
	"cliparr/internal/logging"
	"cliparr/internal/metrics"
	"cliparr/internal/progress"
	"cliparr/internal/services"
	"cliparr/internal/stage"
	"cliparr/internal/store"
)

const fingerprintDeadline = 30 * time.Minute

// Fingerprinter is the Stage 3 handler.
type Fingerprinter struct {
	cfg      *config.Config
	store    *store.Store
	broker   *broker.Broker
	progress *progress.Broadcaster
	logger   *slog.Logger
}

// New constructs a Fingerprinter. b may be nil, in which case active-subprocess
// tracking is skipped and GET /processing/active-ffmpeg never reports this
// stage's fpcalc invocations. pub may be nil, in which case no progress
// events are broadcast.
func New(cfg *config.Config, s *store.Store, logger *slog.Logger, b *broker.Broker, pub *progress.Broadcaster) *Fingerprinter {
	f := &Fingerprinter{cfg: cfg, store: s, broker: b, progress: pub}
	f.SetLogger(logger)
	return f
}

// SetLogger implements stage.LoggerAware.
func (f *Fingerprinter) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	f.logger = logger.With(logging.String("component", "fingerprinter"))
}

// Prepare clears any fingerprints from a prior attempt and sets progress.
func (f *Fingerprinter) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	job.ProgressStage = "Fingerprinting"
	job.ProgressMessage = "Computing acoustic fingerprints"
	job.ProgressPercent = 0
	if err := f.store.ClearFingerprints(ctx, job.EpisodeFileID); err != nil {
		return services.Wrap(services.ErrTransient, "fingerprinter", "prepare", "Could not clear prior fingerprints", err)
	}
	return nil
}

// Execute computes sliding-window fingerprints and persists them.
func (f *Fingerprinter) Execute(ctx context.Context, job *store.ProcessingJob) error {
	logger := logging.WithContext(ctx, f.logger)

	wavPath := stage.AudioWAVPath(f.cfg.TempDir, job.ID, job.EpisodeFileID)

	computeCtx, cancel := context.WithTimeout(ctx, fingerprintDeadline)
	defer cancel()

	onStart := func(pid int) {
		if f.broker == nil {
			return
		}
		f.broker.RegisterActive(ctx, broker.ActiveProcess{
			JobID:         job.ID,
			EpisodeFileID: job.EpisodeFileID,
			FilePath:      wavPath,
			Tool:          "fpcalc",
			PID:           pid,
			StartedAt:     time.Now().UTC(),
		})
	}
	f.publishProgress(job, wavPath, 0, "fingerprinting")
	inFlight := metrics.SubprocessInFlight.WithLabelValues("fpcalc")
	inFlight.Inc()
	windows, duration, err := fingerprint.Compute(
		computeCtx, f.cfg.FpcalcBinary(), wavPath,
		float64(f.cfg.FingerprintWindowSeconds), float64(f.cfg.FingerprintStepSeconds),
		onStart,
	)
	inFlight.Dec()
	if f.broker != nil {
		f.broker.UnregisterActive(ctx, job.EpisodeFileID)
	}
	if err != nil {
		var svcErr *services.ServiceError
		if errors.As(err, &svcErr) && svcErr.Message == "fingerprint_empty" {
			return err
		}
		return services.Wrap(services.ErrExternalTool, "fingerprinter", "compute", "fingerprint computation failed", err)
	}

	fingerprints := make([]*store.Fingerprint, 0, len(windows))
	for _, w := range windows {
		fingerprints = append(fingerprints, &store.Fingerprint{
			EpisodeFileID: job.EpisodeFileID,
			WindowStart:   w.Start,
			WindowEnd:     w.End,
			Hash:          w.Hash,
		})
	}

	if err := f.store.InsertFingerprints(ctx, fingerprints); err != nil {
		return services.Wrap(services.ErrTransient, "fingerprinter", "persist", "Could not persist fingerprint windows", err)
	}

	if len(windows) == 1 && windows[0].End-windows[0].Start < float64(f.cfg.FingerprintWindowSeconds) {
		job.ProcessingNotes = appendNote(job.ProcessingNotes, "short_audio")
		logger.Info("audio shorter than one window; single fingerprint persisted",
			logging.Float64("duration_seconds", duration))
	}

	job.ProgressMessage = "Fingerprints persisted"
	job.ProgressPercent = 100
	f.publishProgress(job, wavPath, 100, "fingerprinted")
	logger.Info("fingerprinting complete", logging.Int("window_count", len(windows)), logging.Float64("duration_seconds", duration))
	return nil
}

func (f *Fingerprinter) publishProgress(job *store.ProcessingJob, filePath string, percent float64, status string) {
	if f.progress == nil {
		return
	}
	f.progress.Publish(progress.Event{
		Type:          "ffmpeg-progress",
		JobID:         job.ID,
		EpisodeFileID: job.EpisodeFileID,
		FilePath:      filePath,
		Stage:         "fingerprinting",
		Percent:       percent,
		Status:        status,
		Timestamp:     time.Now().UTC(),
	})
}

// HealthCheck verifies fpcalc is resolvable on PATH.
func (f *Fingerprinter) HealthCheck(ctx context.Context) stage.Health {
	status := deps.CheckFpcalc(f.cfg.FpcalcBinary())
	if !status.Available {
		return stage.Unhealthy("fingerprinter", status.Detail)
	}
	return stage.Healthy("fingerprinter")
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	for _, part := range splitNotes(existing) {
		if part == note {
			return existing
		}
	}
	return existing + ";" + note
}

func splitNotes(notes string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(notes); i++ {
		if notes[i] == ';' {
			parts = append(parts, notes[start:i])
			start = i + 1
		}
	}
	parts = append(parts, notes[start:])
	return parts
}
