// Package trimmer implements the pipeline's final stage: it takes an
// approved DetectionResult's intro/credits/stinger ranges, cuts them out of
// the source file with FFmpeg, and writes the result under the configured
// output directory.
package trimmer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

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

const trimDeadline = 60 * time.Minute

// streamCopyableVideoCodecs lists video codecs FFmpeg's concat demuxer can
// rejoin losslessly after a stream-copy cut.
var streamCopyableVideoCodecs = map[string]bool{
	"h264": true, "hevc": true, "vp9": true, "av1": true, "mpeg4": true, "mpeg2video": true,
}

// Trimmer is the Stage 5 handler.
type Trimmer struct {
	cfg      *config.Config
	store    *store.Store
	broker   *broker.Broker
	progress *progress.Broadcaster
	logger   *slog.Logger
}

// New constructs a Trimmer. b may be nil, in which case active-subprocess
// tracking is skipped and GET /processing/active-ffmpeg never reports this
// stage's ffmpeg invocations. pub may be nil, in which case no progress
// events are broadcast.
func New(cfg *config.Config, s *store.Store, logger *slog.Logger, b *broker.Broker, pub *progress.Broadcaster) *Trimmer {
	t := &Trimmer{cfg: cfg, store: s, broker: b, progress: pub}
	t.SetLogger(logger)
	return t
}

// SetLogger implements stage.LoggerAware.
func (t *Trimmer) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	t.logger = logger.With(logging.String("component", "trimmer"))
}

// Prepare sets initial progress metadata.
func (t *Trimmer) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	job.ProgressStage = "Trimming"
	job.ProgressMessage = "Preparing trim"
	job.ProgressPercent = 0
	return nil
}

// Execute cuts the detected ranges out of the source file and writes the
// result to the output directory.
func (t *Trimmer) Execute(ctx context.Context, job *store.ProcessingJob) error {
	logger := logging.WithContext(ctx, t.logger)

	sourcePath, err := stage.ResolveEpisodeFilePath(ctx, t.store, job)
	if err != nil {
		return err
	}

	info, err := t.store.EpisodeInfo(ctx, job.EpisodeFileID)
	if err != nil || info == nil {
		return services.Wrap(services.ErrNotFound, "trimmer", "resolve episode info", "Could not look up episode identity", err)
	}

	outputPath, err := stage.OutputPath(t.cfg.OutputDirectory, info.ShowPath, sourcePath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "trimmer", "resolve output path", "Could not resolve output path", err)
	}

	if outInfo, statErr := os.Stat(outputPath); statErr == nil {
		if srcInfo, srcErr := os.Stat(sourcePath); srcErr == nil && outInfo.ModTime().After(srcInfo.ModTime()) {
			job.ProcessingNotes = appendNote(job.ProcessingNotes, "already_trimmed")
			job.ProgressMessage = "Already trimmed"
			job.ProgressPercent = 100
			logger.Info("output already trimmed, skipping", logging.String("output_path", outputPath))
			return nil
		}
	}

	result, err := t.store.DetectionResultByEpisode(ctx, info.ShowID, info.SeasonNumber, info.EpisodeNumber)
	if err != nil {
		return services.Wrap(services.ErrTransient, "trimmer", "load detection", "Could not load detection result", err)
	}
	if result == nil {
		return services.Wrap(services.ErrValidation, "trimmer", "load detection", "No detection result for episode", nil)
	}

	trimCtx, cancel := context.WithTimeout(ctx, trimDeadline)
	defer cancel()

	probe, err := ffprobe.Inspect(trimCtx, t.cfg.FFprobeBinary(), sourcePath)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "trimmer", "probe source", "Could not probe source file", err)
	}
	duration := probe.DurationSeconds()

	cuts := cutRanges(result, t.cfg.RemoveStingers)
	keep := keepRanges(duration, cuts)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "trimmer", "prepare output dir", "Could not create output directory", err)
	}

	var backupPath string
	if t.cfg.BackupOriginals {
		backupPath, err = stage.BackupPath(t.cfg.OutputDirectory, info.ShowPath, sourcePath)
		if err != nil {
			return services.Wrap(services.ErrValidation, "trimmer", "resolve backup path", "Could not resolve backup path", err)
		}
		if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
			return services.Wrap(services.ErrTransient, "trimmer", "prepare backup dir", "Could not create backup directory", err)
		}
		if err := copyFile(sourcePath, backupPath); err != nil {
			return services.Wrap(services.ErrTransient, "trimmer", "backup original", "Could not back up original file", err)
		}
	}

	tmpOutput := outputPath + ".partial"
	if err := t.writeTrimmed(trimCtx, job, sourcePath, tmpOutput, keep, probe); err != nil {
		if backupPath != "" {
			_ = os.Remove(tmpOutput)
			logger.Warn("trim failed, backup preserved", logging.Error(err), logging.String("backup_path", backupPath))
		}
		return err
	}

	if err := os.Rename(tmpOutput, outputPath); err != nil {
		return services.Wrap(services.ErrTransient, "trimmer", "finalize output", "Could not finalize trimmed output", err)
	}

	job.ProgressMessage = "Trim complete"
	job.ProgressPercent = 100
	t.publishProgress(job, sourcePath, 100, "trimmed")
	logger.Info("trim complete", logging.String("output_path", outputPath), logging.Int("kept_ranges", len(keep)))
	return nil
}

func (t *Trimmer) publishProgress(job *store.ProcessingJob, filePath string, percent float64, status string) {
	if t.progress == nil {
		return
	}
	t.progress.Publish(progress.Event{
		Type:          "ffmpeg-progress",
		JobID:         job.ID,
		EpisodeFileID: job.EpisodeFileID,
		FilePath:      filePath,
		Stage:         "trimming",
		Percent:       percent,
		Status:        status,
		Timestamp:     time.Now().UTC(),
	})
}

// HealthCheck verifies FFmpeg is resolvable on PATH.
func (t *Trimmer) HealthCheck(ctx context.Context) stage.Health {
	status := deps.CheckFFmpeg(t.cfg.FFmpegBinary())
	if !status.Available {
		return stage.Unhealthy("trimmer", status.Detail)
	}
	return stage.Healthy("trimmer")
}

type timeRange struct {
	start, end float64
}

// cutRanges collects the ranges to excise: intro, credits, and (when the
// policy flag is set) stingers.
func cutRanges(result *store.DetectionResult, removeStingers bool) []timeRange {
	var cuts []timeRange
	if result.IntroStart != nil && result.IntroEnd != nil {
		cuts = append(cuts, timeRange{*result.IntroStart, *result.IntroEnd})
	}
	if result.CreditsStart != nil && result.CreditsEnd != nil {
		cuts = append(cuts, timeRange{*result.CreditsStart, *result.CreditsEnd})
	}
	if removeStingers {
		for _, s := range result.Stingers {
			cuts = append(cuts, timeRange{s.Start, s.End})
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].start < cuts[j].start })
	return cuts
}

// keepRanges returns the complement of cuts within [0, duration]: the
// surviving ranges that get concatenated into the output.
func keepRanges(duration float64, cuts []timeRange) []timeRange {
	var keep []timeRange
	cursor := 0.0
	for _, c := range cuts {
		start, end := c.start, c.end
		if start < 0 {
			start = 0
		}
		if end > duration {
			end = duration
		}
		if start > cursor {
			keep = append(keep, timeRange{cursor, start})
		}
		if end > cursor {
			cursor = end
		}
	}
	if cursor < duration {
		keep = append(keep, timeRange{cursor, duration})
	}
	if len(keep) == 0 {
		keep = append(keep, timeRange{0, duration})
	}
	return keep
}

// writeTrimmed cuts each keep range to a temp segment and concatenates them.
// Stream-copy is used when the source codecs are concat-safe; otherwise each
// segment is re-encoded with the configured preset before concatenation.
func (t *Trimmer) writeTrimmed(ctx context.Context, job *store.ProcessingJob, sourcePath, outputPath string, keep []timeRange, probe ffprobe.Result) error {
	if len(keep) == 1 && keep[0].start == 0 && keep[0].end >= probe.DurationSeconds() {
		// Nothing was cut; a straight remux still routes the file through
		// the output directory and backup flow.
		return t.runFFmpeg(ctx, job, sourcePath, []string{"-y", "-i", sourcePath, "-c", "copy", outputPath})
	}

	copySafe := canStreamCopy(probe)

	segDir, err := os.MkdirTemp(filepath.Dir(outputPath), "trim-segments-*")
	if err != nil {
		return services.Wrap(services.ErrTransient, "trimmer", "prepare segments", "Could not create segment scratch directory", err)
	}
	defer os.RemoveAll(segDir)

	listPath := filepath.Join(segDir, "segments.txt")
	var listLines []string

	for i, r := range keep {
		segPath := filepath.Join(segDir, fmt.Sprintf("seg-%03d.mkv", i))
		args := []string{"-y", "-ss", formatSeconds(r.start), "-to", formatSeconds(r.end), "-i", sourcePath}
		if copySafe {
			args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
		} else {
			args = append(args, "-c:v", "libx264", "-preset", t.cfg.EncodePreset, "-c:a", "aac")
		}
		args = append(args, segPath)
		if err := t.runFFmpeg(ctx, job, sourcePath, args); err != nil {
			return err
		}
		percent := float64(i+1) / float64(len(keep)+1) * 100
		job.ProgressPercent = percent
		t.publishProgress(job, sourcePath, percent, "trimming")
		listLines = append(listLines, fmt.Sprintf("file '%s'", segPath))
	}

	if err := os.WriteFile(listPath, []byte(strings.Join(listLines, "\n")+"\n"), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "trimmer", "write concat list", "Could not write concat list", err)
	}

	return t.runFFmpeg(ctx, job, sourcePath, []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", outputPath})
}

// runFFmpeg runs a single FFmpeg invocation, registering it as an active
// process while it runs so GET /processing/active-ffmpeg reports it.
// writeTrimmed calls this once per kept segment plus a final concat pass, so
// registration/unregistration brackets each subprocess rather than the whole
// trim.
func (t *Trimmer) runFFmpeg(ctx context.Context, job *store.ProcessingJob, sourcePath string, args []string) error {
	cmd := exec.CommandContext(ctx, t.cfg.FFmpegBinary(), args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "trimmer", "ffmpeg", "Could not start ffmpeg", err)
	}
	inFlight := metrics.SubprocessInFlight.WithLabelValues("ffmpeg")
	inFlight.Inc()
	defer inFlight.Dec()
	if t.broker != nil {
		t.broker.RegisterActive(ctx, broker.ActiveProcess{
			JobID:         job.ID,
			EpisodeFileID: job.EpisodeFileID,
			FilePath:      sourcePath,
			Tool:          "ffmpeg",
			PID:           cmd.Process.Pid,
			StartedAt:     time.Now().UTC(),
		})
	}
	err := cmd.Wait()
	if t.broker != nil {
		t.broker.UnregisterActive(ctx, job.EpisodeFileID)
	}
	if err != nil {
		return services.WrapDetail(services.ErrExternalTool, "trimmer", "ffmpeg", "ffmpeg trim step failed", err, strings.TrimSpace(output.String()))
	}
	return nil
}

func canStreamCopy(probe ffprobe.Result) bool {
	for _, s := range probe.Streams {
		if strings.EqualFold(s.CodecType, "video") {
			return streamCopyableVideoCodecs[strings.ToLower(s.CodecName)]
		}
	}
	return false
}

func formatSeconds(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%.3f", seconds)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + ";" + note
}
