package workflow

import (
	"log/slog"

	"cliparr/internal/stage"
	"cliparr/internal/store"
)

// StageSet bundles the concrete stage handlers the manager orchestrates,
// one per pipeline stage.
type StageSet struct {
	Processor     stage.Handler
	Extractor     stage.Handler
	Fingerprinter stage.Handler
	Detector      stage.Handler
	Trimmer       stage.Handler
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      store.Status
	processingStatus store.Status
	doneStatus       store.Status
}

// poolKind distinguishes the two concurrency-governor pools: a CPU pool
// (most stages) and a GPU pool (hardware-accelerated decode/encode paths
// for the Extractor and Trimmer, when configured).
type poolKind string

const (
	poolCPU poolKind = "cpu"
	poolGPU poolKind = "gpu"
)

// poolState is one concurrency-governed worker pool: a fixed number of
// goroutines pulling from the same set of eligible statuses, sized by
// cfg.CPUWorkerLimit / cfg.GPUWorkerLimit.
type poolState struct {
	kind                 poolKind
	name                 string
	workers              int
	stages               []pipelineStage
	statusOrder          []store.Status
	stageByStart         map[store.Status]pipelineStage
	processingStatuses   []store.Status
	logger               *slog.Logger
	notificationsEnabled bool
	runReclaimer         bool
}

func (p *poolState) finalize() {
	if p == nil {
		return
	}
	p.stageByStart = make(map[store.Status]pipelineStage, len(p.stages))
	p.statusOrder = make([]store.Status, 0, len(p.stages))
	seenProcessing := make(map[store.Status]struct{})
	for _, stg := range p.stages {
		p.stageByStart[stg.startStatus] = stg
		p.statusOrder = append(p.statusOrder, stg.startStatus)
		if stg.processingStatus != "" {
			if _, ok := seenProcessing[stg.processingStatus]; !ok {
				p.processingStatuses = append(p.processingStatuses, stg.processingStatus)
				seenProcessing[stg.processingStatus] = struct{}{}
			}
		}
	}
}

func (p *poolState) stageForStatus(status store.Status) (pipelineStage, bool) {
	if p == nil {
		return pipelineStage{}, false
	}
	stg, ok := p.stageByStart[status]
	return stg, ok
}
