package api

import (
	"cliparr/internal/broker"
	"cliparr/internal/logging"
	"cliparr/internal/store"
	"cliparr/internal/workflow"
)

// FromJobListEntry converts a store join row into its transport DTO.
func FromJobListEntry(entry store.JobListEntry) ProcessingJob {
	job := entry.Job
	return ProcessingJob{
		ID:            job.ID,
		EpisodeFileID: job.EpisodeFileID,
		ShowID:        entry.ShowID,
		ShowTitle:     entry.ShowTitle,
		SeasonNumber:  entry.SeasonNumber,
		EpisodeNumber: entry.EpisodeNumber,
		EpisodeTitle:  entry.EpisodeTitle,
		FilePath:      entry.EpisodeFile.Path,
		Status:        string(job.Status),
		Progress: Progress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		ConfidenceScore: job.ConfidenceScore,
		IntroStart:      job.IntroStart,
		IntroEnd:        job.IntroEnd,
		CreditsStart:    job.CreditsStart,
		CreditsEnd:      job.CreditsEnd,
		ManualVerified:  job.ManualVerified,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// FromJobListEntries converts a slice of join rows.
func FromJobListEntries(entries []store.JobListEntry) []ProcessingJob {
	out := make([]ProcessingJob, 0, len(entries))
	for _, e := range entries {
		out = append(out, FromJobListEntry(e))
	}
	return out
}

// FromJob converts a bare ProcessingJob (no catalog identity resolved) into
// its transport DTO, used when only the job row itself is available.
func FromJob(job *store.ProcessingJob) ProcessingJob {
	if job == nil {
		return ProcessingJob{}
	}
	return ProcessingJob{
		ID:            job.ID,
		EpisodeFileID: job.EpisodeFileID,
		Status:        string(job.Status),
		Progress: Progress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		ConfidenceScore: job.ConfidenceScore,
		IntroStart:      job.IntroStart,
		IntroEnd:        job.IntroEnd,
		CreditsStart:    job.CreditsStart,
		CreditsEnd:      job.CreditsEnd,
		ManualVerified:  job.ManualVerified,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// FromSegment converts a store.Segment.
func FromSegment(s store.Segment) Segment {
	return Segment{Kind: s.Kind, Start: s.Start, End: s.End}
}

// FromSegments converts a slice of store.Segment.
func FromSegments(segments []store.Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		out = append(out, FromSegment(s))
	}
	return out
}

// FromDetectionResult converts a store.DetectionResult.
func FromDetectionResult(d *store.DetectionResult) DetectionResult {
	if d == nil {
		return DetectionResult{}
	}
	return DetectionResult{
		EpisodeNumber:   d.EpisodeNumber,
		IntroStart:      d.IntroStart,
		IntroEnd:        d.IntroEnd,
		CreditsStart:    d.CreditsStart,
		CreditsEnd:      d.CreditsEnd,
		Stingers:        FromSegments(d.Stingers),
		Segments:        FromSegments(d.Segments),
		ConfidenceScore: d.ConfidenceScore,
		DetectionMethod: d.DetectionMethod,
		ApprovalStatus:  string(d.ApprovalStatus),
	}
}

// FromDetectionResults converts a slice of store.DetectionResult.
func FromDetectionResults(results []*store.DetectionResult) []DetectionResult {
	out := make([]DetectionResult, 0, len(results))
	for _, r := range results {
		out = append(out, FromDetectionResult(r))
	}
	return out
}

// FromStatusSummary converts a workflow.StatusSummary.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	stats := make(map[string]int, len(summary.QueueStats))
	for status, count := range summary.QueueStats {
		stats[string(status)] = count
	}
	health := make([]StageHealth, 0, len(summary.StageHealth))
	for name, h := range summary.StageHealth {
		health = append(health, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  stats,
		LastError:   summary.LastError,
		LastJob:     jobPointer(summary.LastJob),
		StageHealth: health,
	}
}

func jobPointer(job *store.ProcessingJob) *ProcessingJob {
	if job == nil {
		return nil
	}
	dto := FromJob(job)
	return &dto
}

// FromActiveProcess converts a broker.ActiveProcess.
func FromActiveProcess(p broker.ActiveProcess) ActiveFFmpegProcess {
	return ActiveFFmpegProcess{
		JobID:         p.JobID,
		EpisodeFileID: p.EpisodeFileID,
		FilePath:      p.FilePath,
		Tool:          p.Tool,
		PID:           p.PID,
		StartedAt:     p.StartedAt,
	}
}

// FromActiveProcesses converts a slice of broker.ActiveProcess.
func FromActiveProcesses(procs []broker.ActiveProcess) []ActiveFFmpegProcess {
	out := make([]ActiveFFmpegProcess, 0, len(procs))
	for _, p := range procs {
		out = append(out, FromActiveProcess(p))
	}
	return out
}

// FromLogEvent converts a logging.LogEvent.
func FromLogEvent(evt logging.LogEvent) LogEvent {
	return LogEvent{
		Sequence:      evt.Sequence,
		Timestamp:     evt.Timestamp,
		Level:         evt.Level,
		Message:       evt.Message,
		Component:     evt.Component,
		Stage:         evt.Stage,
		ItemID:        evt.ItemID,
		Lane:          evt.Lane,
		CorrelationID: evt.CorrelationID,
		Fields:        evt.Fields,
	}
}

// FromLogEvents converts a slice of logging.LogEvent.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, FromLogEvent(evt))
	}
	return out
}
