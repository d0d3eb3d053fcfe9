package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cliparr/internal/logging"
	"cliparr/internal/store"
)

// HeartbeatMonitor manages job heartbeats and stale-job reclamation.
type HeartbeatMonitor struct {
	store             *store.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(st *store.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             st,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// ReclaimStaleJobs identifies processing jobs that have stopped sending
// heartbeats and marks them failed via store.ReclaimStaleProcessing; they are
// not re-queued for another worker.
func (h *HeartbeatMonitor) ReclaimStaleJobs(ctx context.Context, logger *slog.Logger) error {
	if h.heartbeatTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStaleProcessing(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		logger.Debug("reclaimed stale jobs", logging.Int64("count", reclaimed))
	}
	return nil
}

// StartLoop runs a heartbeat updater for a specific job until context cancellation.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64) {
	defer wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String("component", "workflow-heartbeat")))
	var lastSnapshot string

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("daemon shutting down, heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
				continue
			}
			h.logStatusSnapshot(ctx, logger, jobID, &lastSnapshot)
		}
	}
}

func (h *HeartbeatMonitor) logStatusSnapshot(ctx context.Context, logger *slog.Logger, jobID int64, lastSnapshot *string) {
	if h == nil || h.store == nil || logger == nil {
		return
	}
	job, err := h.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	snapshot := fmt.Sprintf("%s|%s|%.2f|%s", job.Status, job.ProgressStage, job.ProgressPercent, job.ProgressMessage)
	if lastSnapshot != nil && *lastSnapshot == snapshot {
		return
	}
	if lastSnapshot != nil {
		*lastSnapshot = snapshot
	}
	logger.Debug("status snapshot",
		logging.String("status", string(job.Status)),
		logging.String("progress_stage", strings.TrimSpace(job.ProgressStage)),
		logging.Float64("progress_percent", job.ProgressPercent),
		logging.String("progress_message", strings.TrimSpace(job.ProgressMessage)),
	)
}
