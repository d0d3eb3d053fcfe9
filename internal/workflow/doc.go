// Package workflow advances processing jobs through the configured pipeline
// stages.
//
// The Manager runs a fixed set of concurrency-governed worker pools (one per
// poolKind: CPU and, when configured, GPU), each pulling the oldest eligible
// job for its stages via an atomic claim, reclaiming stale work via
// heartbeats, and feeding claimed jobs into registered stage handlers
// (episode processor, audio extractor, fingerprinter, detector, trimmer)
// while capturing progress and failure metadata. It also aggregates queue
// stats, calls stage health checks, and emits queue-level notifications when
// processing starts or completes.
//
// Stages are assigned to pools by workload: the fingerprinter and detector
// always run on the CPU pool, while the extractor and trimmer move to the GPU
// pool when cfg.GPUWorkerLimit configures one, so hardware-accelerated decode
// and encode don't compete with CPU-bound fingerprint matching. Each pool runs
// N worker goroutines (sized by cfg.CPUWorkerLimit / cfg.GPUWorkerLimit)
// claiming jobs independently, enabling true parallel processing across
// multiple episodes at once rather than one job per lane at a time.
//
// Add new lifecycle stages by extending StageSet, updating the store.Status
// enum, and teaching ConfigureStages how to route the new stage to a pool;
// this package is the authoritative home for that coordination logic.
package workflow
