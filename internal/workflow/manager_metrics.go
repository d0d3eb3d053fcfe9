package workflow

import (
	"context"
	"time"

	"cliparr/internal/logging"
	"cliparr/internal/metrics"
	"cliparr/internal/store"
)

// queueDepthInterval is how often the queue-depth gauges are refreshed from a
// store.Stats snapshot while the manager runs.
const queueDepthInterval = 15 * time.Second

var depthStatuses = []store.Status{
	store.StatusScanning,
	store.StatusExtractingAudio,
	store.StatusFingerprinting,
	store.StatusAwaitingCohort,
	store.StatusDetecting,
	store.StatusDetected,
	store.StatusVerified,
	store.StatusTrimming,
	store.StatusCompleted,
	store.StatusFailed,
}

func publishPoolGauges(pools []*poolState) {
	for _, pool := range pools {
		workers := pool.workers
		if workers < 1 {
			workers = 1
		}
		metrics.PoolWorkersConfigured.WithLabelValues(string(pool.kind)).Set(float64(workers))
	}
}

func refreshQueueDepth(stats map[store.Status]int) {
	for _, status := range depthStatuses {
		metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(stats[status]))
	}
}

// runQueueDepthLoop keeps the queue-depth gauges current until ctx cancels.
func (m *Manager) runQueueDepthLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		stats, err := m.store.Stats(ctx)
		if err == nil {
			refreshQueueDepth(stats)
		} else if ctx.Err() == nil && m.logger != nil {
			m.logger.Debug("queue depth refresh failed", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
