package ipc

import "cliparr/internal/api"

// StatusRequest fetches combined daemon/workflow status.
type StatusRequest struct{}

// StatusResponse mirrors api.DaemonStatus over the wire.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// DependencyStatus aliases the api DTO so CLI consumers that already talk to
// the ipc surface don't need a second import for dependency rendering.
type DependencyStatus = api.DependencyStatus

// StopRequest asks the daemon to stop processing and release its lock.
type StopRequest struct{}

// StopResponse reports whether the stop completed.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// JobListRequest filters the job listing by status and bounds the result.
type JobListRequest struct {
	Statuses []string `json:"statuses"`
	Limit    int      `json:"limit"`
}

// JobListResponse returns matching jobs.
type JobListResponse struct {
	Jobs []api.ProcessingJob `json:"jobs"`
}

// JobDescribeRequest fetches a single job by ID.
type JobDescribeRequest struct {
	ID int64 `json:"id"`
}

// JobDescribeResponse returns the job, if found.
type JobDescribeResponse struct {
	Job   api.ProcessingJob `json:"job"`
	Found bool              `json:"found"`
}

// JobRequeueRequest resets a job back to scanning.
type JobRequeueRequest struct {
	ID int64 `json:"id"`
}

// JobRequeueResponse returns the job's new state.
type JobRequeueResponse struct {
	Job api.ProcessingJob `json:"job"`
}

// JobRemoveRequest deletes a single job.
type JobRemoveRequest struct {
	ID int64 `json:"id"`
}

// JobRemoveResponse acknowledges removal.
type JobRemoveResponse struct{}

// JobBulkDeleteRequest deletes a set of jobs, pausing every pool for the
// duration of the operation.
type JobBulkDeleteRequest struct {
	IDs []int64 `json:"ids"`
}

// JobBulkDeleteResponse reports how many jobs were removed.
type JobBulkDeleteResponse struct {
	Removed int `json:"removed"`
}

// QueueStatusRequest fetches per-status depth and pool pause state.
type QueueStatusRequest struct{}

// QueueStatusResponse mirrors api.QueueStatusResponse over the wire.
type QueueStatusResponse struct {
	Status api.QueueStatusResponse `json:"status"`
}

// PoolControlRequest pauses or resumes one concurrency pool.
type PoolControlRequest struct {
	Pool  string `json:"pool"` // "cpu" or "gpu"
	Pause bool   `json:"pause"`
}

// PoolControlResponse acknowledges the pool state change.
type PoolControlResponse struct {
	Pool   string `json:"pool"`
	Paused bool   `json:"paused"`
}

// ShowsScanRequest triggers a Sonarr import scan for the given series, or
// all known series when SonarrSeriesIDs is empty.
type ShowsScanRequest struct {
	SonarrSeriesIDs []int64 `json:"sonarrSeriesIds,omitempty"`
}

// ShowsScanResponse reports how many shows were scanned and how many jobs
// the scan enqueued.
type ShowsScanResponse struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
}

// ShowsRescanRequest re-evaluates already-imported shows, discarding prior
// detection results.
type ShowsRescanRequest struct {
	ShowIDs []int64 `json:"showIds,omitempty"`
}

// ShowsRescanResponse reports how many shows were invalidated and how many
// jobs the rescan enqueued.
type ShowsRescanResponse struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// DatabaseHealthRequest fetches job store diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse mirrors store.DatabaseHealth over the wire.
type DatabaseHealthResponse struct {
	DBPath           string   `json:"dbPath"`
	DatabaseExists   bool     `json:"databaseExists"`
	DatabaseReadable bool     `json:"databaseReadable"`
	SchemaVersion    string   `json:"schemaVersion"`
	TableExists      bool     `json:"tableExists"`
	ColumnsPresent   []string `json:"columnsPresent"`
	MissingColumns   []string `json:"missingColumns"`
	IntegrityCheck   bool     `json:"integrityCheck"`
	TotalItems       int      `json:"totalItems"`
	Error            string   `json:"error"`
}
