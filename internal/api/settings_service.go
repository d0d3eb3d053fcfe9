package api

import (
	"context"

	"cliparr/internal/broker"
)

// PoolController is the subset of workflow.Manager the settings service
// needs to pause and resume concurrency pools, kept as an interface so this
// package does not import workflow directly for this one concern.
type PoolController interface {
	PauseCPU()
	ResumeCPU()
	PauseGPU()
	ResumeGPU()
	PoolPaused(kind string) bool
}

// SettingsService exposes the pool-control and active-subprocess routes
// under /settings/queue/* and /processing/active-ffmpeg.
type SettingsService struct {
	pools  PoolController
	broker *broker.Broker
}

// NewSettingsService constructs a SettingsService. broker may be nil, in
// which case ActiveFFmpeg always reports an empty list.
func NewSettingsService(pools PoolController, b *broker.Broker) *SettingsService {
	if pools == nil {
		return nil
	}
	return &SettingsService{pools: pools, broker: b}
}

// PauseCPU pauses the CPU concurrency pool.
func (s *SettingsService) PauseCPU() { s.pools.PauseCPU() }

// ResumeCPU resumes the CPU concurrency pool.
func (s *SettingsService) ResumeCPU() { s.pools.ResumeCPU() }

// PauseGPU pauses the GPU concurrency pool.
func (s *SettingsService) PauseGPU() { s.pools.PauseGPU() }

// ResumeGPU resumes the GPU concurrency pool.
func (s *SettingsService) ResumeGPU() { s.pools.ResumeGPU() }

// PoolsPaused reports the pause state of both pools, used to populate
// QueueStatusResponse.
func (s *SettingsService) PoolsPaused() (cpu, gpu bool) {
	if s == nil || s.pools == nil {
		return false, false
	}
	return s.pools.PoolPaused("cpu"), s.pools.PoolPaused("gpu")
}

// ActiveFFmpeg lists every subprocess currently running across the fleet
// (GET /processing/active-ffmpeg).
func (s *SettingsService) ActiveFFmpeg(ctx context.Context) ([]ActiveFFmpegProcess, error) {
	if s == nil || s.broker == nil {
		return nil, nil
	}
	procs, err := s.broker.ActiveProcesses(ctx)
	if err != nil {
		return nil, err
	}
	return FromActiveProcesses(procs), nil
}
