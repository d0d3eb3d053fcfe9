package workflow

import (
	"context"
	"log/slog"

	"cliparr/internal/logging"
	"cliparr/internal/store"
)

// stageLoggerForPool builds the logger a stage handler should use while
// processing job: jobs in a pool get their own per-job log file via
// backgroundLog, tagged with job_id and enriched with request/stage/pool
// fields from ctx.
func (m *Manager) stageLoggerForPool(ctx context.Context, pool *poolState, poolLogger *slog.Logger, job *store.ProcessingJob) *slog.Logger {
	base := poolLogger
	if base == nil {
		base = m.logger
	}
	if base == nil {
		base = logging.NewNop()
	}

	if job != nil && m.backgroundLog != nil {
		path, _, err := m.backgroundLog.Ensure(job)
		if err != nil {
			base.Warn("job log unavailable", logging.Error(err))
		} else {
			handler, logErr := m.backgroundLog.CreateHandler(path)
			if logErr != nil {
				base.Warn("failed to create job log writer", logging.Error(logErr))
			} else {
				base = slog.New(handler).With(logging.Int64(logging.FieldItemID, job.ID))
			}
		}
	}

	return logging.WithContext(ctx, base)
}
