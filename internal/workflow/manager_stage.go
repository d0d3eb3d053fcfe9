package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cliparr/internal/logging"
	"cliparr/internal/metrics"
	"cliparr/internal/stage"
	"cliparr/internal/store"
)

func (m *Manager) processJob(ctx context.Context, pool *poolState, poolLogger *slog.Logger, job *store.ProcessingJob) error {
	stg, ok := pool.stageForStatus(job.Status)
	if !ok {
		// ClaimNext already moved the job into a processing status before this
		// worker sees it, so the original start status is no longer on the
		// record; look the stage up by its processing status instead.
		stg, ok = m.stageByProcessingStatus(pool, job.Status)
	}
	if !ok {
		if poolLogger == nil {
			poolLogger = m.logger
		}
		if poolLogger == nil {
			poolLogger = logging.NewNop()
		}
		poolLogger.Warn("no stage configured for status", logging.String("status", string(job.Status)))
		m.waitForJobOrShutdown(ctx)
		return nil
	}

	requestID := uuid.NewString()
	stageCtx := withStageContext(ctx, pool, stg.name, job, requestID)
	stageLogger := m.stageLoggerForPool(stageCtx, pool, poolLogger, job)
	if aware, ok := stg.handler.(stage.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	if err := m.finalizeProcessingState(stageCtx, pool, job); err != nil {
		stageLogger.Error("failed to persist job processing state", logging.Error(err))
		m.setLastError(err)
		return err
	}

	return m.executeStage(stageCtx, pool, stageLogger, stg, job)
}

func (m *Manager) stageByProcessingStatus(pool *poolState, status store.Status) (pipelineStage, bool) {
	for _, stg := range pool.stages {
		if stg.processingStatus == status {
			return stg, true
		}
	}
	return pipelineStage{}, false
}

func (m *Manager) executeStage(ctx context.Context, pool *poolState, stageLogger *slog.Logger, stg pipelineStage, job *store.ProcessingJob) error {
	stageStart := time.Now()
	busy := metrics.PoolWorkersBusy.WithLabelValues(string(pool.kind))
	busy.Inc()
	defer busy.Dec()
	stageLogger.Info(
		"stage started",
		logging.String("processing_status", string(stg.processingStatus)),
		logging.Int64("episode_file_id", job.EpisodeFileID),
	)

	handler := stg.handler
	if handler == nil {
		stageLogger.Warn("missing stage handler", logging.String("stage", stg.name))
		job.Status = store.StatusFailed
		job.ErrorMessage = fmt.Sprintf("stage %s missing handler", stg.name)
		if err := m.store.UpdateJob(ctx, job); err != nil {
			stageLogger.Error("failed to persist missing handler failure", logging.Error(err))
		}
		m.setLastError(errors.New("stage handler unavailable"))
		return errors.New("stage handler unavailable")
	}

	if err := handler.Prepare(ctx, job); err != nil {
		m.handleStageFailure(ctx, stg, job, err)
		m.setLastError(err)
		return err
	}
	if err := m.store.UpdateJob(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist stage preparation: %w", err)
		stageLogger.Error("failed to persist stage preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	execErr := m.executeWithHeartbeat(ctx, handler, job)
	metrics.ObserveStage(stg.name, stageStart, execErr)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			stageLogger.Info("stage interrupted by shutdown")
			return execErr
		}
		m.handleStageFailure(ctx, stg, job, execErr)
		m.setLastError(execErr)
		return execErr
	}

	// A handler usually leaves Status unchanged (still stg.processingStatus),
	// in which case the manager advances it to doneStatus. A handler may
	// instead set its own resulting status — the Detector does this to defer
	// a job back to awaiting_cohort when its cohort isn't ready yet — and
	// that decision is respected as-is.
	if job.Status == stg.processingStatus || job.Status == "" {
		job.Status = stg.doneStatus
	}
	job.LastHeartbeat = nil
	if job.Status == store.StatusCompleted || job.Status == stg.doneStatus {
		if job.ProgressPercent < 100 && job.Status != store.StatusAwaitingCohort {
			job.ProgressPercent = 100
		}
	}
	if err := m.store.UpdateJob(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		stageLogger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	stageLogger.Info(
		"stage completed",
		logging.String("next_status", string(job.Status)),
		logging.String("progress_message", strings.TrimSpace(job.ProgressMessage)),
		logging.Duration("elapsed", time.Since(stageStart)),
	)
	m.setLastJob(job)
	m.checkQueueCompletion(ctx)
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, job *store.ProcessingJob) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := handler.Execute(ctx, job)
	hbCancel()
	hbWG.Wait()
	return execErr
}

// finalizeProcessingState decorates a job ClaimNext has already transitioned
// into its processing status with progress metadata, persists it, and fires
// the queue-started notification.
func (m *Manager) finalizeProcessingState(ctx context.Context, pool *poolState, job *store.ProcessingJob) error {
	now := time.Now().UTC()
	if job.ProgressStage == "" {
		job.ProgressStage = deriveStageLabel(job.Status)
	}
	if job.ProgressMessage == "" {
		job.ProgressMessage = fmt.Sprintf("%s started", deriveStageLabel(job.Status))
	}
	job.ProgressPercent = 0
	job.ErrorMessage = ""
	job.LastHeartbeat = &now

	if err := m.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}
	m.setLastJob(job)
	if pool == nil || pool.notificationsEnabled {
		m.onJobStarted(ctx)
	}
	return nil
}
