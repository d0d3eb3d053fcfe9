package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cliparr/internal/logging"
	"cliparr/internal/metrics"
	"cliparr/internal/services"
	"cliparr/internal/store"
)

// maxRetryBackoff caps the exponential backoff so a job that has failed many
// times still retries within a bounded window.
const maxRetryBackoff = 10 * time.Minute

func (m *Manager) handleStageFailure(ctx context.Context, stg pipelineStage, job *store.ProcessingJob, stageErr error) {
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	logger := m.stageLoggerForPool(ctx, nil, base, job).With(logging.String("component", "workflow-manager"))

	stageName := stg.name
	message := m.classifyStageFailure(stageName, stageErr)
	details := services.Details(stageErr)
	metrics.StageFailuresTotal.WithLabelValues(stageName, string(details.Kind)).Inc()

	if m.shouldRetry(job, stageErr) {
		m.scheduleRetry(ctx, logger, stg, job, message, details)
		return
	}

	resolvedStatus := services.FailureStatus(stageErr)
	m.setJobFailureState(job, resolvedStatus, message)
	attrs := []logging.Attr{
		logging.String("resolved_status", string(resolvedStatus)),
		logging.String("processing_status", string(resolvedStatus)),
		logging.String("error_message", strings.TrimSpace(message)),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorOperation, details.Operation),
		logging.String(logging.FieldErrorDetailPath, details.DetailPath),
		logging.String(logging.FieldErrorCode, details.Code),
		logging.String(logging.FieldErrorHint, details.Hint),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(stageErr))
	}
	attrs = append(attrs, logging.String(logging.FieldEventType, "stage_failure"))
	logger.Error("stage failed", logging.Args(attrs...)...)

	if err := m.store.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not update stage failure")
		} else {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}

	m.setLastJob(job)
	m.notifyStageError(ctx, stageName, job, stageErr)
	m.checkQueueCompletion(ctx)
}

// shouldRetry gates the automatic re-enqueue path: the error kind must be
// retryable and the job must still have attempts left.
func (m *Manager) shouldRetry(job *store.ProcessingJob, stageErr error) bool {
	if m.cfg == nil || job == nil {
		return false
	}
	return services.Retryable(stageErr) && job.RetryCount < m.cfg.MaxRetries
}

// scheduleRetry re-enqueues a retryably-failed job at its stage's start
// status with exponential backoff: the persisted heartbeat keeps the row
// unclaimable until the backoff timer clears it. The timer lives only in
// memory: if the daemon dies while it is pending, a job whose start status is
// a processing status is later marked failed by the stale-heartbeat sweep,
// and a job waiting in awaiting_cohort or verified stays unclaimable.
func (m *Manager) scheduleRetry(ctx context.Context, logger *slog.Logger, stg pipelineStage, job *store.ProcessingJob, message string, details services.ErrorDetails) {
	job.RetryCount++
	job.Status = stg.startStatus
	job.ErrorMessage = message
	job.ProgressPercent = 0
	job.ProgressMessage = fmt.Sprintf("Retry %d of %d scheduled", job.RetryCount, m.cfg.MaxRetries)
	now := time.Now().UTC()
	job.LastHeartbeat = &now

	backoff := m.retryBackoff(job.RetryCount)
	logger.Warn("stage failed, retrying with backoff",
		logging.String("error_message", strings.TrimSpace(message)),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.Int("retry_count", job.RetryCount),
		logging.Duration("backoff", backoff),
		logging.String(logging.FieldEventType, "stage_retry_scheduled"),
	)

	if err := m.store.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not persist retry state")
		} else {
			logger.Error("failed to persist retry state", logging.Error(err))
		}
		return
	}
	m.setLastJob(job)

	jobID := job.ID
	time.AfterFunc(backoff, func() {
		if err := m.store.ClearHeartbeat(context.Background(), jobID); err != nil {
			logger.Warn("failed to release retry backoff; job stays unclaimable", logging.Error(err))
		}
	})
}

// retryBackoff doubles the configured base per attempt: base, 2*base,
// 4*base. The result is capped below the stale-heartbeat window -- a backoff
// that outlives it would let the reclaim sweep fail the waiting job before
// its timer fires.
func (m *Manager) retryBackoff(retryCount int) time.Duration {
	base := time.Duration(m.cfg.RetryBackoffSeconds) * time.Second
	if base <= 0 || retryCount < 1 {
		return 0
	}
	limit := maxRetryBackoff
	if m.heartbeatTimeout > 0 && m.heartbeatTimeout/2 < limit {
		limit = m.heartbeatTimeout / 2
	}
	backoff := base << (retryCount - 1)
	if backoff > limit || backoff < 0 {
		return limit
	}
	return backoff
}

func (m *Manager) classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return m.getStageFailureMessage(stageName, "failed without error detail")
	}

	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	if message == "" {
		message = m.getStageFailureMessage(stageName, "failed")
	}
	return message
}

func (m *Manager) getStageFailureMessage(stageName, defaultMsg string) string {
	if stageName != "" {
		return fmt.Sprintf("%s %s", stageName, defaultMsg)
	}
	return fmt.Sprintf("workflow %s", defaultMsg)
}

func (m *Manager) setJobFailureState(job *store.ProcessingJob, status store.Status, message string) {
	job.Status = status
	job.ErrorMessage = message
	job.LastHeartbeat = nil
}
