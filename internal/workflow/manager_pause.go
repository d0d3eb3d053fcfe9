package workflow

import "sync/atomic"

// pauseCPU and pauseGPU gate each pool independently, backing
// POST /settings/queue/{pause,resume}-{cpu,gpu} and bulk delete's need to
// quiesce every pool before deleting rows a worker might otherwise be
// mid-claim on.
func (m *Manager) pauseFlag(kind poolKind) *atomic.Bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pauseFlags == nil {
		m.pauseFlags = make(map[poolKind]*atomic.Bool)
	}
	flag, ok := m.pauseFlags[kind]
	if !ok {
		flag = &atomic.Bool{}
		m.pauseFlags[kind] = flag
	}
	return flag
}

// PauseCPU stops the CPU pool from claiming new jobs. In-flight jobs run to
// completion.
func (m *Manager) PauseCPU() { m.pauseFlag(poolCPU).Store(true) }

// ResumeCPU allows the CPU pool to resume claiming jobs.
func (m *Manager) ResumeCPU() { m.pauseFlag(poolCPU).Store(false) }

// PauseGPU stops the GPU pool from claiming new jobs.
func (m *Manager) PauseGPU() { m.pauseFlag(poolGPU).Store(true) }

// ResumeGPU allows the GPU pool to resume claiming jobs.
func (m *Manager) ResumeGPU() { m.pauseFlag(poolGPU).Store(false) }

// PauseAll pauses every configured pool, used around bulk delete.
func (m *Manager) PauseAll() {
	m.PauseCPU()
	m.PauseGPU()
}

// ResumeAll resumes every configured pool.
func (m *Manager) ResumeAll() {
	m.ResumeCPU()
	m.ResumeGPU()
}

// PoolPaused reports whether the given pool is currently paused.
func (m *Manager) PoolPaused(kind string) bool {
	return m.pauseFlag(poolKind(kind)).Load()
}

func (m *Manager) poolPaused(kind poolKind) bool {
	return m.pauseFlag(kind).Load()
}
