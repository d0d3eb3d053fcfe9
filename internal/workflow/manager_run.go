package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cliparr/internal/logging"
	"cliparr/internal/store"
)

// Start begins background processing, launching the configured number of
// worker goroutines for each concurrency pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	pools := make([]*poolState, 0, len(m.poolOrder))
	for _, kind := range m.poolOrder {
		pool := m.pools[kind]
		if pool == nil || len(pool.statusOrder) == 0 {
			continue
		}
		pools = append(pools, pool)
	}
	if len(pools) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	totalWorkers := 0
	for _, pool := range pools {
		pool.logger = m.poolLogger(pool)
		workers := pool.workers
		if workers < 1 {
			workers = 1
		}
		totalWorkers += workers
	}
	m.wg.Add(totalWorkers + 1)
	m.mu.Unlock()

	publishPoolGauges(pools)
	go m.runQueueDepthLoop(runCtx)

	for _, pool := range pools {
		workers := pool.workers
		if workers < 1 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			go m.runWorker(runCtx, pool)
		}
	}

	return nil
}

// Stop terminates background processing and waits for every worker to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, pool *poolState) {
	defer m.wg.Done()
	if pool == nil {
		return
	}
	logger := pool.logger
	if logger == nil {
		logger = m.logger
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if pool.runReclaimer {
			if err := m.heartbeat.ReclaimStaleJobs(ctx, logger); err != nil {
				logger.Warn("reclaim stale processing failed; stuck jobs may remain", logging.Error(err))
			}
		}

		if m.poolPaused(pool.kind) {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		job, err := m.claimNextForPool(ctx, pool)
		if err != nil {
			m.handleNextJobError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		if err := m.processJob(ctx, pool, logger, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) claimNextForPool(ctx context.Context, pool *poolState) (*store.ProcessingJob, error) {
	if pool == nil || len(pool.statusOrder) == 0 {
		return nil, nil
	}
	// Each status in statusOrder maps to its own stage's processing status;
	// claim atomically one status family at a time so two workers never
	// transition the same job.
	for _, status := range pool.statusOrder {
		stg, ok := pool.stageForStatus(status)
		if !ok {
			continue
		}
		job, err := m.store.ClaimNext(ctx, stg.processingStatus, status)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}

func (m *Manager) handleNextJobError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to fetch next job", logging.Error(err))
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(m.cfg.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.pollInterval):
	}
}
