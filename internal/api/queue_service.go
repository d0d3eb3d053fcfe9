package api

import (
	"context"
	"fmt"

	"cliparr/internal/jobs"
	"cliparr/internal/store"
)

// updatableStatuses lists the job statuses a PUT request may set directly.
// Transitions the pipeline owns (claiming, stage advancement) are rejected so
// a stray patch can't fight a worker mid-stage.
var updatableStatuses = map[store.Status]bool{
	store.StatusDetected:  true,
	store.StatusVerified:  true,
	store.StatusCompleted: true,
	store.StatusFailed:    true,
}

// QueueService exposes the processing job surface behind the /processing/*
// routes, returning transport DTOs rather than store types.
type QueueService struct {
	store        *store.Store
	orchestrator *jobs.Orchestrator
}

// NewQueueService constructs a QueueService.
func NewQueueService(st *store.Store, orchestrator *jobs.Orchestrator) *QueueService {
	if st == nil {
		return nil
	}
	return &QueueService{store: st, orchestrator: orchestrator}
}

// List returns jobs, optionally filtered by status and bounded by limit.
func (s *QueueService) List(ctx context.Context, limit int, statuses ...store.Status) ([]ProcessingJob, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	entries, err := s.store.ListJobsWithMetadata(ctx, limit, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobListEntries(entries), nil
}

// Describe fetches a single job by ID.
func (s *QueueService) Describe(ctx context.Context, id int64) (*ProcessingJob, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	info, err := s.store.EpisodeInfo(ctx, job.EpisodeFileID)
	if err != nil {
		return nil, err
	}
	file, err := s.store.EpisodeFileByID(ctx, job.EpisodeFileID)
	if err != nil {
		return nil, err
	}
	if info == nil || file == nil {
		dto := FromJob(job)
		return &dto, nil
	}
	dto := FromJobListEntry(store.JobListEntry{Job: *job, EpisodeFile: *file, ShowID: info.ShowID, ShowTitle: info.ShowTitle,
		SeasonNumber: info.SeasonNumber, EpisodeNumber: info.EpisodeNumber, EpisodeTitle: info.EpisodeTitle})
	return &dto, nil
}

// Requeue resets a job to scanning, discarding its fingerprints and
// detection result (the CLI's `queue requeue`).
func (s *QueueService) Requeue(ctx context.Context, id int64) (*ProcessingJob, error) {
	if s == nil || s.orchestrator == nil {
		return nil, nil
	}
	job, err := s.orchestrator.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Update patches the user-editable fields of a job (PUT /processing/jobs/{id}):
// status, confidence, intro/credits bounds, manual verification, and notes.
func (s *QueueService) Update(ctx context.Context, id int64, req JobUpdateRequest) (*ProcessingJob, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	if req.Status != nil {
		status := store.Status(*req.Status)
		if !updatableStatuses[status] {
			return nil, fmt.Errorf("status %q cannot be set directly", *req.Status)
		}
		job.Status = status
	}
	if req.ConfidenceScore != nil {
		if *req.ConfidenceScore < 0 || *req.ConfidenceScore > 1 {
			return nil, fmt.Errorf("confidence score must be within [0, 1]")
		}
		job.ConfidenceScore = *req.ConfidenceScore
	}
	if req.IntroStart != nil {
		job.IntroStart = req.IntroStart
	}
	if req.IntroEnd != nil {
		job.IntroEnd = req.IntroEnd
	}
	if req.CreditsStart != nil {
		job.CreditsStart = req.CreditsStart
	}
	if req.CreditsEnd != nil {
		job.CreditsEnd = req.CreditsEnd
	}
	if job.IntroStart != nil && job.IntroEnd != nil && *job.IntroStart > *job.IntroEnd {
		return nil, fmt.Errorf("intro start must not exceed intro end")
	}
	if job.CreditsStart != nil && job.CreditsEnd != nil && *job.CreditsStart > *job.CreditsEnd {
		return nil, fmt.Errorf("credits start must not exceed credits end")
	}
	if req.ManualVerified != nil {
		job.ManualVerified = *req.ManualVerified
		if *req.ManualVerified && req.Status == nil && job.Status == store.StatusDetected {
			job.Status = store.StatusVerified
		}
	}
	if req.ProcessingNotes != nil {
		job.ProcessingNotes = *req.ProcessingNotes
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	// A manual verification approves the backing detection result too: the
	// trimmer's input contract is an approved DetectionResult, and the
	// detection-stats rollup groups by approval status.
	if req.ManualVerified != nil && *req.ManualVerified && job.Status == store.StatusVerified {
		if err := s.approveDetection(ctx, job.EpisodeFileID); err != nil {
			return nil, err
		}
	}
	dto := FromJob(job)
	return &dto, nil
}

// approveDetection marks the DetectionResult backing an episode file as
// manually approved. A job verified before detection has run has no result
// row yet; that's not an error, the detector will honor the job state later.
func (s *QueueService) approveDetection(ctx context.Context, episodeFileID int64) error {
	info, err := s.store.EpisodeInfo(ctx, episodeFileID)
	if err != nil || info == nil {
		return err
	}
	result, err := s.store.DetectionResultByEpisode(ctx, info.ShowID, info.SeasonNumber, info.EpisodeNumber)
	if err != nil || result == nil {
		return err
	}
	if result.ApprovalStatus == store.ApprovalManualApproved {
		return nil
	}
	return s.store.SetApprovalStatus(ctx, result.ID, store.ApprovalManualApproved)
}

// Remove deletes a single job (DELETE /processing/jobs/{id}).
func (s *QueueService) Remove(ctx context.Context, id int64) error {
	if s == nil || s.orchestrator == nil {
		return nil
	}
	return s.orchestrator.Remove(ctx, id)
}

// BulkDelete removes a set of jobs, pausing every worker pool for the
// duration (POST /processing/jobs/bulk-delete).
func (s *QueueService) BulkDelete(ctx context.Context, ids []int64, pauseAll, resumeAll func()) (int, error) {
	if s == nil || s.orchestrator == nil {
		return 0, nil
	}
	removed := 0
	for _, id := range ids {
		if job, err := s.store.GetJob(ctx, id); err == nil && job != nil {
			removed++
		}
	}
	if err := s.orchestrator.BulkDelete(ctx, ids, pauseAll, resumeAll); err != nil {
		return 0, err
	}
	return removed, nil
}

// QueueStatus reports per-status depth counts (GET /processing/queue/status).
func (s *QueueService) QueueStatus(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}
