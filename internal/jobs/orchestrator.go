// Package jobs implements the job orchestrator: the single place that
// submits, cancels, and requeues ProcessingJob rows so the API,
// the Sonarr import poller, and the CLI never manipulate the store directly.
package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"cliparr/internal/broker"
	"cliparr/internal/config"
	"cliparr/internal/services"
	"cliparr/internal/stage"
	"cliparr/internal/store"
)

// Orchestrator is the job store's single writer for lifecycle transitions
// that span more than the straightforward stage handoffs the workflow
// manager already performs (submit, cancel, requeue, bulk delete).
type Orchestrator struct {
	store  *store.Store
	broker *broker.Broker
	cfg    *config.Config
}

// New constructs an Orchestrator. broker may be nil, degrading cancel's
// active-subprocess lookup to a local no-op; the broker is coordination
// only, never the source of truth.
func New(st *store.Store, b *broker.Broker, cfg *config.Config) *Orchestrator {
	return &Orchestrator{store: st, broker: b, cfg: cfg}
}

// Submit creates a ProcessingJob for an episode file in StatusScanning,
// idempotently: at most one active job exists per EpisodeFile, so submitting
// an already-tracked file is a no-op that returns the existing job. A file
// whose previous job failed (or was cancelled) is requeued instead, so
// resubmission always restarts from scanning.
func (o *Orchestrator) Submit(ctx context.Context, episodeFileID int64) (*store.ProcessingJob, error) {
	existing, err := o.store.GetJobByEpisodeFile(ctx, episodeFileID)
	if err != nil {
		return nil, fmt.Errorf("check existing job: %w", err)
	}
	if existing != nil {
		if existing.Status == store.StatusFailed {
			return o.Requeue(ctx, existing.ID)
		}
		return existing, nil
	}
	job, err := o.store.NewJob(ctx, episodeFileID)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return job, nil
}

// Cancel stops a job wherever it currently sits in the pipeline: any FFmpeg
// or fingerprint subprocess registered for its episode file is killed, its
// scratch WAV (and in-progress partial) is unlinked, and any partial
// fingerprint or detection rows are deleted, leaving only the failed job
// record behind for review. No-op when the job is already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID int64) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "orchestrator", "cancel", fmt.Sprintf("job %d not found", jobID), nil)
	}
	if job.Status == store.StatusCompleted || job.Status == store.StatusFailed {
		return nil
	}

	o.killActiveSubprocess(ctx, job.EpisodeFileID)
	o.unlinkScratchFiles(job)
	if err := o.store.DeleteFingerprintsAndDetectionForEpisodeFile(ctx, job.EpisodeFileID); err != nil {
		return fmt.Errorf("clear derived data: %w", err)
	}

	job.Status = store.StatusFailed
	job.ErrorMessage = "cancelled by operator"
	job.LastHeartbeat = nil
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	return nil
}

// Requeue resets a job back to StatusScanning and deletes the dependent
// Fingerprint and DetectionResult rows for its file, so the pipeline
// recomputes everything from the extracted audio forward.
func (o *Orchestrator) Requeue(ctx context.Context, jobID int64) (*store.ProcessingJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "requeue", fmt.Sprintf("job %d not found", jobID), nil)
	}
	if job.IsProcessing() {
		return nil, services.Wrap(services.ErrValidation, "orchestrator", "requeue", "job is actively being processed", nil)
	}
	if err := o.store.DeleteFingerprintsAndDetectionForEpisodeFile(ctx, job.EpisodeFileID); err != nil {
		return nil, fmt.Errorf("clear derived data: %w", err)
	}
	job.Status = store.StatusScanning
	job.ConfidenceScore = 0
	job.IntroStart, job.IntroEnd = nil, nil
	job.CreditsStart, job.CreditsEnd = nil, nil
	job.ManualVerified = false
	job.ErrorMessage = ""
	job.RetryCount = 0
	job.ProcessingNotes = ""
	job.ProgressStage, job.ProgressPercent, job.ProgressMessage = "", 0, ""
	job.LastHeartbeat = nil
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("reset job: %w", err)
	}
	return job, nil
}

// Remove deletes a job outright (used by DELETE /processing/jobs/{id}), as
// distinct from Cancel which leaves a failed record behind for review.
// Deletion kills any running subprocess for the job, unlinks every scratch
// file named by the job's id, clears dependent fingerprint/detection rows,
// and notifies any listener watching the queue that the job is gone.
func (o *Orchestrator) Remove(ctx context.Context, jobID int64) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "orchestrator", "remove", fmt.Sprintf("job %d not found", jobID), nil)
	}
	return o.removeOne(ctx, job)
}

// BulkDelete removes a set of jobs, pausing every worker pool for the
// duration of the operation so a stage worker never races a delete against
// a job it is actively claiming; pauseAll/resumeAll are supplied by the
// caller (the workflow manager owns pool state) so this package stays free
// of a dependency on workflow. Each job receives the same
// kill-subprocess/unlink-scratch/clear-rows cleanup as a single Remove, so
// a bulk delete never leaves an orphaned fingerprint tool process or stale
// derived row behind.
func (o *Orchestrator) BulkDelete(ctx context.Context, jobIDs []int64, pauseAll, resumeAll func()) error {
	if pauseAll != nil {
		pauseAll()
	}
	defer func() {
		if resumeAll != nil {
			resumeAll()
		}
	}()
	for _, id := range jobIDs {
		job, err := o.store.GetJob(ctx, id)
		if err != nil {
			return fmt.Errorf("load job %d: %w", id, err)
		}
		if job == nil {
			continue
		}
		if err := o.removeOne(ctx, job); err != nil {
			return fmt.Errorf("remove job %d: %w", id, err)
		}
	}
	return nil
}

// removeOne tears down a single job: it kills any subprocess the broker has
// registered as active for the job's episode file, unlinks the extractor's
// scratch WAV (and its in-progress ".partial" sibling), deletes the
// fingerprint and detection rows derived from that episode file, deletes the
// job row itself, and publishes a "job_deleted" progress event so connected
// clients drop the job from their view without polling.
func (o *Orchestrator) removeOne(ctx context.Context, job *store.ProcessingJob) error {
	o.killActiveSubprocess(ctx, job.EpisodeFileID)
	o.unlinkScratchFiles(job)

	if err := o.store.DeleteFingerprintsAndDetectionForEpisodeFile(ctx, job.EpisodeFileID); err != nil {
		return fmt.Errorf("clear derived data: %w", err)
	}
	if _, err := o.store.Remove(ctx, job.ID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	if o.broker != nil {
		o.broker.PublishProgress(ctx, broker.ProgressEvent{
			Type:          "job_deleted",
			JobID:         job.ID,
			EpisodeFileID: job.EpisodeFileID,
			Timestamp:     time.Now().UTC(),
		})
	}
	return nil
}

// killActiveSubprocess terminates the ffmpeg/fpcalc process the broker has
// registered as in-flight for this episode file, if any. Best-effort: a
// subprocess already exited, running in another process on another host, or
// one the broker has lost track of is not an error.
func (o *Orchestrator) killActiveSubprocess(ctx context.Context, episodeFileID int64) {
	if o.broker == nil {
		return
	}
	procs, err := o.broker.ActiveProcesses(ctx)
	if err != nil {
		return
	}
	for _, proc := range procs {
		if proc.EpisodeFileID != episodeFileID {
			continue
		}
		if proc.PID > 0 {
			if p, findErr := os.FindProcess(proc.PID); findErr == nil {
				_ = p.Kill()
			}
		}
		o.broker.UnregisterActive(ctx, episodeFileID)
	}
}

// unlinkScratchFiles removes the extractor's scratch WAV for this job,
// including its in-progress ".partial" form, so no file on disk still
// carries the deleted job's id.
func (o *Orchestrator) unlinkScratchFiles(job *store.ProcessingJob) {
	if o.cfg == nil {
		return
	}
	wavPath := stage.AudioWAVPath(o.cfg.TempDir, job.ID, job.EpisodeFileID)
	_ = os.Remove(wavPath)
	_ = os.Remove(wavPath + ".partial")
}

// ReclaimStale reassigns jobs stuck mid-stage past the heartbeat deadline
// back to a retryable state, used both by periodic daemon maintenance and by
// graceful shutdown.
func (o *Orchestrator) ReclaimStale(ctx context.Context, heartbeatTimeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-heartbeatTimeout)
	return o.store.ReclaimStaleProcessing(ctx, cutoff)
}
