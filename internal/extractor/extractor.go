// Package extractor implements the audio extraction stage: it decodes the
// primary audio track of an episode file to a scratch mono
// 16-bit PCM WAV that the fingerprinter consumes.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"cliparr/internal/broker"
	"cliparr/internal/config"
	"cliparr/internal/deps"
	"cliparr/internal/logging"
	"cliparr/internal/media/ffprobe"
	"cliparr/internal/metrics"
	"cliparr/internal/progress"
	"cliparr/internal/services"
	"cliparr/internal/stage"
	"cliparr/internal/store"
)

// sampleRateHz fixes the decode rate the fingerprinter expects;
// spareFraction is the headroom the free-space precheck demands beyond the
// estimated WAV size.
const (
	sampleRateHz    = 44100
	spareFraction   = 0.10
	progressStep    = 250 * time.Millisecond
	extractDeadline = 30 * time.Minute
)

// Extractor is the Stage 2 handler.
type Extractor struct {
	cfg      *config.Config
	store    *store.Store
	broker   *broker.Broker
	progress *progress.Broadcaster
	logger   *slog.Logger
}

// New constructs an Extractor. b may be nil, in which case active-subprocess
// tracking is skipped and GET /processing/active-ffmpeg never reports this
// stage's ffmpeg invocations. pub may be nil, in which case no progress
// events are broadcast.
func New(cfg *config.Config, s *store.Store, logger *slog.Logger, b *broker.Broker, pub *progress.Broadcaster) *Extractor {
	e := &Extractor{cfg: cfg, store: s, broker: b, progress: pub}
	e.SetLogger(logger)
	return e
}

// SetLogger implements stage.LoggerAware.
func (e *Extractor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	e.logger = logger.With(logging.String("component", "extractor"))
}

// Prepare sets initial progress metadata.
func (e *Extractor) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	job.ProgressStage = "Extracting audio"
	job.ProgressMessage = "Starting audio extraction"
	job.ProgressPercent = 0
	return nil
}

// Execute decodes the episode file's primary audio track to a scratch WAV.
func (e *Extractor) Execute(ctx context.Context, job *store.ProcessingJob) error {
	logger := logging.WithContext(ctx, e.logger)

	sourcePath, err := stage.ResolveEpisodeFilePath(ctx, e.store, job)
	if err != nil {
		return err
	}

	wavPath := stage.AudioWAVPath(e.cfg.TempDir, job.ID, job.EpisodeFileID)
	if info, statErr := os.Stat(wavPath); statErr == nil && info.Size() > 0 {
		logger.Info("audio already extracted, skipping", logging.String("wav_path", wavPath))
		job.ProgressMessage = "Audio already extracted"
		job.ProgressPercent = 100
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(wavPath), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "extractor", "prepare scratch dir", "Could not create audio scratch directory", err)
	}

	if err := checkFreeSpace(sourcePath, filepath.Dir(wavPath)); err != nil {
		return err
	}

	durationSeconds := probeDuration(ctx, e.cfg.FFprobeBinary(), sourcePath)

	extractCtx, cancel := context.WithTimeout(ctx, extractDeadline)
	defer cancel()

	tmpPath := wavPath + ".partial"
	args := []string{
		"-y",
		"-i", sourcePath,
		"-vn",
		"-map", "0:a:0?",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", sampleRateHz),
		"-acodec", "pcm_s16le",
		"-progress", "pipe:1",
		"-nostats",
		tmpPath,
	}
	cmd := exec.CommandContext(extractCtx, e.cfg.FFmpegBinary(), args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "extractor", "extract audio", "Could not attach to ffmpeg stdout", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "extractor", "extract audio", "Could not start ffmpeg", err)
	}
	if e.broker != nil {
		e.broker.RegisterActive(ctx, broker.ActiveProcess{
			JobID:         job.ID,
			EpisodeFileID: job.EpisodeFileID,
			FilePath:      sourcePath,
			Tool:          "ffmpeg",
			PID:           cmd.Process.Pid,
			StartedAt:     time.Now().UTC(),
		})
		defer e.broker.UnregisterActive(ctx, job.EpisodeFileID)
	}
	inFlight := metrics.SubprocessInFlight.WithLabelValues("ffmpeg")
	inFlight.Inc()
	defer inFlight.Dec()

	sampler := logging.NewProgressSampler(5)
	stage.StreamFFmpegProgress(stdout, durationSeconds, progressStep, func(percent, fps float64, status string) {
		job.ProgressPercent = percent
		job.ProgressMessage = "Decoding audio"
		e.publishProgress(job, sourcePath, percent, fps, "extracting")
		if sampler.ShouldLog(percent, job.ProgressStage, status) {
			logger.Debug("extraction progress", logging.Float64("progress_percent", percent), logging.String("speed", status))
		}
	})

	waitErr := cmd.Wait()
	if waitErr != nil {
		_ = os.Remove(tmpPath)
		if isNoAudioStream(stderr.String()) {
			return services.WrapDetail(services.ErrValidation, "extractor", "extract audio", "no_audio", waitErr, strings.TrimSpace(stderr.String()))
		}
		return services.WrapDetail(services.ErrExternalTool, "extractor", "extract audio", "ffmpeg extraction failed", waitErr, strings.TrimSpace(stderr.String()))
	}

	if err := os.Rename(tmpPath, wavPath); err != nil {
		return services.Wrap(services.ErrTransient, "extractor", "finalize wav", "Could not finalize extracted audio", err)
	}

	job.ProgressMessage = "Audio extraction complete"
	job.ProgressPercent = 100
	e.publishProgress(job, sourcePath, 100, 0, "extracted")
	logger.Info("audio extracted", logging.String("wav_path", wavPath))
	return nil
}

func (e *Extractor) publishProgress(job *store.ProcessingJob, filePath string, percent, fps float64, status string) {
	if e.progress == nil {
		return
	}
	e.progress.Publish(progress.Event{
		Type:          "ffmpeg-progress",
		JobID:         job.ID,
		EpisodeFileID: job.EpisodeFileID,
		FilePath:      filePath,
		Stage:         "extracting_audio",
		Percent:       percent,
		FPS:           fps,
		Status:        status,
		Timestamp:     time.Now().UTC(),
	})
}

// HealthCheck verifies FFmpeg is resolvable on PATH.
func (e *Extractor) HealthCheck(ctx context.Context) stage.Health {
	status := deps.CheckFFmpeg(e.cfg.FFmpegBinary())
	if !status.Available {
		return stage.Unhealthy("extractor", status.Detail)
	}
	return stage.Healthy("extractor")
}

func probeDuration(ctx context.Context, ffprobeBinary, sourcePath string) float64 {
	result, err := ffprobe.Inspect(ctx, ffprobeBinary, sourcePath)
	if err != nil {
		return 0
	}
	return result.DurationSeconds()
}

// checkFreeSpace fails extraction up front when the scratch volume has less
// than the required bytes plus headroom, using the source file's size as an
// estimate of the
// decoded WAV's footprint (PCM WAV is comparable in size to a compressed
// stereo source once downmixed to mono at 44.1 kHz).
func checkFreeSpace(sourcePath, scratchDir string) error {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "extractor", "check free space", "Could not stat source file", err)
	}
	required := uint64(float64(info.Size()) * (1 + spareFraction))

	var fs unix.Statfs_t
	if err := unix.Statfs(scratchDir, &fs); err != nil {
		return services.Wrap(services.ErrTransient, "extractor", "check free space", "Could not statfs scratch directory", err)
	}
	available := fs.Bavail * uint64(fs.Bsize)
	if available < required {
		return services.WrapHint(services.ErrConfiguration, "extractor", "check free space",
			"insufficient_space", "E_INSUFFICIENT_SPACE", "free up temp_dir or point it at a larger volume", nil)
	}
	return nil
}

func isNoAudioStream(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "does not contain any stream") ||
		strings.Contains(lower, "output file #0 does not contain any stream") ||
		strings.Contains(lower, "stream map '0:a:0' matches no streams")
}
