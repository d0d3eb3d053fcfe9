package workflow

import "cliparr/internal/store"

// ConfigureStages registers the concrete stage handlers the workflow will run
// and assigns each to the CPU or GPU concurrency pool. Extraction and
// trimming invoke FFmpeg and may run on a GPU decode/encode path, so they
// prefer the GPU pool when one is configured (gpu_worker_limit > 0);
// otherwise every stage runs on the CPU pool.
func (m *Manager) ConfigureStages(set StageSet) {
	gpuAvailable := m.cfg != nil && m.cfg.GPUWorkerLimit > 0

	cpu := &poolState{kind: poolCPU, name: "cpu", workers: m.poolWorkers(poolCPU), notificationsEnabled: true}
	gpu := &poolState{kind: poolGPU, name: "gpu", workers: m.poolWorkers(poolGPU), notificationsEnabled: true}

	assign := func(pool *poolState, stg pipelineStage) {
		pool.stages = append(pool.stages, stg)
	}

	if set.Processor != nil {
		assign(cpu, pipelineStage{
			name:             "processor",
			handler:          set.Processor,
			startStatus:      store.StatusScanning,
			processingStatus: store.StatusScanning,
			doneStatus:       store.StatusExtractingAudio,
		})
	}
	if set.Extractor != nil {
		target := cpu
		if gpuAvailable {
			target = gpu
		}
		assign(target, pipelineStage{
			name:             "extractor",
			handler:          set.Extractor,
			startStatus:      store.StatusExtractingAudio,
			processingStatus: store.StatusExtractingAudio,
			doneStatus:       store.StatusFingerprinting,
		})
	}
	if set.Fingerprinter != nil {
		assign(cpu, pipelineStage{
			name:             "fingerprinter",
			handler:          set.Fingerprinter,
			startStatus:      store.StatusFingerprinting,
			processingStatus: store.StatusFingerprinting,
			doneStatus:       store.StatusAwaitingCohort,
		})
	}
	if set.Detector != nil {
		assign(cpu, pipelineStage{
			name:             "detector",
			handler:          set.Detector,
			startStatus:      store.StatusAwaitingCohort,
			processingStatus: store.StatusDetecting,
			doneStatus:       store.StatusDetected,
		})
	}
	if set.Trimmer != nil {
		target := cpu
		if gpuAvailable {
			target = gpu
		}
		assign(target, pipelineStage{
			name:             "trimmer",
			handler:          set.Trimmer,
			startStatus:      store.StatusVerified,
			processingStatus: store.StatusTrimming,
			doneStatus:       store.StatusCompleted,
		})
	}

	pools := make(map[poolKind]*poolState)
	order := make([]poolKind, 0, 2)

	if len(cpu.stages) > 0 {
		cpu.finalize()
		pools[cpu.kind] = cpu
		order = append(order, cpu.kind)
	}
	if len(gpu.stages) > 0 {
		gpu.finalize()
		pools[gpu.kind] = gpu
		order = append(order, gpu.kind)
	}

	for _, pool := range pools {
		pool.runReclaimer = len(pool.processingStatuses) > 0
	}

	m.mu.Lock()
	m.pools = pools
	m.poolOrder = order
	m.mu.Unlock()
}

func (m *Manager) poolWorkers(kind poolKind) int {
	if m.cfg == nil {
		return 1
	}
	var n int
	switch kind {
	case poolGPU:
		n = m.cfg.GPUWorkerLimit
	default:
		n = m.cfg.CPUWorkerLimit
	}
	if n < 1 {
		return 1
	}
	return n
}
