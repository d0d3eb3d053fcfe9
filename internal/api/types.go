// Package api provides the transport-level DTOs and read/write services
// backing the daemon's HTTP surface: the processing job queue, the show
// catalog, detection segments, and pool/queue control. The daemon's HTTP
// server (internal/daemon) wires these services to concrete routes; this
// package stays free of net/http so it can be unit tested directly.
package api

import "time"

// ProcessingJob describes one job in a transport-friendly format.
type ProcessingJob struct {
	ID              int64     `json:"id"`
	EpisodeFileID   int64     `json:"episodeFileId"`
	ShowID          int64     `json:"showId"`
	ShowTitle       string    `json:"showTitle"`
	SeasonNumber    int       `json:"seasonNumber"`
	EpisodeNumber   int       `json:"episodeNumber"`
	EpisodeTitle    string    `json:"episodeTitle"`
	FilePath        string    `json:"filePath"`
	Status          string    `json:"status"`
	Progress        Progress  `json:"progress"`
	ConfidenceScore float64   `json:"confidenceScore"`
	IntroStart      *float64  `json:"introStart,omitempty"`
	IntroEnd        *float64  `json:"introEnd,omitempty"`
	CreditsStart    *float64  `json:"creditsStart,omitempty"`
	CreditsEnd      *float64  `json:"creditsEnd,omitempty"`
	ManualVerified  bool      `json:"manualVerified"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Progress captures stage progress information for a job.
type Progress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []ProcessingJob `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job ProcessingJob `json:"job"`
}

// JobUpdateRequest is the body of PUT /processing/jobs/{id}. Only the listed
// fields may be patched; nil pointers leave the stored value untouched.
type JobUpdateRequest struct {
	Status          *string  `json:"status,omitempty"`
	ConfidenceScore *float64 `json:"confidenceScore,omitempty"`
	IntroStart      *float64 `json:"introStart,omitempty"`
	IntroEnd        *float64 `json:"introEnd,omitempty"`
	CreditsStart    *float64 `json:"creditsStart,omitempty"`
	CreditsEnd      *float64 `json:"creditsEnd,omitempty"`
	ManualVerified  *bool    `json:"manualVerified,omitempty"`
	ProcessingNotes *string  `json:"processingNotes,omitempty"`
}

// Segment mirrors store.Segment for transport.
type Segment struct {
	Kind  string  `json:"kind"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// DetectionResult describes one episode's detected segments.
type DetectionResult struct {
	EpisodeNumber   int       `json:"episodeNumber"`
	IntroStart      *float64  `json:"introStart,omitempty"`
	IntroEnd        *float64  `json:"introEnd,omitempty"`
	CreditsStart    *float64  `json:"creditsStart,omitempty"`
	CreditsEnd      *float64  `json:"creditsEnd,omitempty"`
	Stingers        []Segment `json:"stingers,omitempty"`
	Segments        []Segment `json:"segments,omitempty"`
	ConfidenceScore float64   `json:"confidenceScore"`
	DetectionMethod string    `json:"detectionMethod"`
	ApprovalStatus  string    `json:"approvalStatus"`
}

// SegmentsResponse wraps the detection results for a show's season.
type SegmentsResponse struct {
	ShowID       int64             `json:"showId"`
	SeasonNumber int               `json:"seasonNumber"`
	Episodes     []DetectionResult `json:"episodes"`
}

// DetectionStatsResponse summarizes detection approval counts for a show.
type DetectionStatsResponse struct {
	ShowID   int64          `json:"showId"`
	Counts   map[string]int `json:"counts"`
	Total    int            `json:"total"`
}

// ScanRequest is the body of POST /shows/scan and POST /shows/rescan.
type ScanRequest struct {
	ShowIDs []int64 `json:"showIds,omitempty"`
}

// ScanResponse reports how many shows a scan/rescan touched and how many
// jobs it enqueued.
type ScanResponse struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
}

// BulkDeleteRequest is the body of POST /processing/jobs/bulk-delete.
type BulkDeleteRequest struct {
	JobIDs []int64 `json:"jobIds"`
}

// BulkDeleteResponse reports how many jobs were removed.
type BulkDeleteResponse struct {
	Removed int `json:"removed"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *ProcessingJob `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// QueueStatusResponse backs GET /processing/queue/status: depth per status
// plus whether each concurrency pool is currently paused.
type QueueStatusResponse struct {
	Counts     map[string]int `json:"counts"`
	CPUPaused  bool           `json:"cpuPaused"`
	GPUPaused  bool           `json:"gpuPaused"`
}

// ActiveFFmpegProcess describes one in-flight subprocess for transport.
type ActiveFFmpegProcess struct {
	JobID         int64     `json:"jobId"`
	EpisodeFileID int64     `json:"episodeFileId"`
	FilePath      string    `json:"filePath"`
	Tool          string    `json:"tool"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"startedAt"`
}

// ActiveFFmpegResponse wraps the active subprocess list.
type ActiveFFmpegResponse struct {
	Processes []ActiveFFmpegProcess `json:"processes"`
}

// LogEvent mirrors logging.LogEvent for transport, so CLI/daemon diagnostics
// decode a stable DTO rather than depending on internal/logging directly.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	ItemID        int64             `json:"item_id,omitempty"`
	Lane          string            `json:"lane,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse is the GET /api/logs payload shape.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}
