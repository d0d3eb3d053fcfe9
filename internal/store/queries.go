package store

import (
	"context"
	"database/sql"
	"fmt"
)

// JobListEntry is a ProcessingJob joined with the show/episode identity it
// belongs to, backing GET /processing/jobs's joined file/show metadata.
type JobListEntry struct {
	Job           ProcessingJob
	EpisodeFile   EpisodeFile
	ShowID        int64
	ShowTitle     string
	SeasonNumber  int
	EpisodeNumber int
	EpisodeTitle  string
}

// ListJobsWithMetadata returns jobs (optionally filtered by status and
// bounded by limit) joined with their episode file and catalog identity,
// most recently created first.
func (s *Store) ListJobsWithMetadata(ctx context.Context, limit int, statuses ...Status) ([]JobListEntry, error) {
	ctx = ensureContext(ctx)
	query := `SELECT
            pj.id, pj.episode_file_id, pj.status, pj.confidence_score,
            pj.intro_start, pj.intro_end, pj.credits_start, pj.credits_end,
            pj.manual_verified, pj.processing_notes, pj.error_message, pj.retry_count,
            pj.progress_stage, pj.progress_percent, pj.progress_message,
            pj.last_heartbeat, pj.created_at, pj.updated_at,
            ef.id, ef.episode_id, ef.path, ef.size_bytes, ef.created_at,
            sh.id, sh.title, se.number, e.number, e.title
        FROM processing_jobs pj
        JOIN episode_files ef ON ef.id = pj.episode_file_id
        JOIN episodes e ON e.id = ef.episode_id
        JOIN seasons se ON se.id = e.season_id
        JOIN shows sh ON sh.id = se.show_id`

	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE pj.status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY pj.created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs with metadata: %w", err)
	}
	defer rows.Close()

	var entries []JobListEntry
	for rows.Next() {
		entry, err := scanJobListEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job metadata row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanJobListEntry(rows *sql.Rows) (JobListEntry, error) {
	var (
		entry            JobListEntry
		statusStr        string
		introStart       sql.NullFloat64
		introEnd         sql.NullFloat64
		creditsStart     sql.NullFloat64
		creditsEnd       sql.NullFloat64
		manualVerified   int64
		processingNotes  sql.NullString
		errorMessage     sql.NullString
		retryCount       int64
		progressStage    sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		lastHeartbeatRaw sql.NullString
		jobCreatedRaw    string
		jobUpdatedRaw    string
		fileCreatedRaw   string
	)

	if err := rows.Scan(
		&entry.Job.ID, &entry.Job.EpisodeFileID, &statusStr, &entry.Job.ConfidenceScore,
		&introStart, &introEnd, &creditsStart, &creditsEnd,
		&manualVerified, &processingNotes, &errorMessage, &retryCount,
		&progressStage, &progressPercent, &progressMessage,
		&lastHeartbeatRaw, &jobCreatedRaw, &jobUpdatedRaw,
		&entry.EpisodeFile.ID, &entry.EpisodeFile.EpisodeID, &entry.EpisodeFile.Path,
		&entry.EpisodeFile.SizeBytes, &fileCreatedRaw,
		&entry.ShowID, &entry.ShowTitle, &entry.SeasonNumber, &entry.EpisodeNumber, &entry.EpisodeTitle,
	); err != nil {
		return entry, err
	}

	entry.Job.Status = Status(statusStr)
	entry.Job.ManualVerified = manualVerified != 0
	entry.Job.ProcessingNotes = processingNotes.String
	entry.Job.ErrorMessage = errorMessage.String
	entry.Job.RetryCount = int(retryCount)
	entry.Job.ProgressStage = progressStage.String
	entry.Job.ProgressPercent = progressPercent.Float64
	entry.Job.ProgressMessage = progressMessage.String
	if introStart.Valid {
		v := introStart.Float64
		entry.Job.IntroStart = &v
	}
	if introEnd.Valid {
		v := introEnd.Float64
		entry.Job.IntroEnd = &v
	}
	if creditsStart.Valid {
		v := creditsStart.Float64
		entry.Job.CreditsStart = &v
	}
	if creditsEnd.Valid {
		v := creditsEnd.Float64
		entry.Job.CreditsEnd = &v
	}
	if created, err := parseTimeString(jobCreatedRaw); err == nil {
		entry.Job.CreatedAt = created
	}
	if updated, err := parseTimeString(jobUpdatedRaw); err == nil {
		entry.Job.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			entry.Job.LastHeartbeat = &heartbeat
		}
	}
	if created, err := parseTimeString(fileCreatedRaw); err == nil {
		entry.EpisodeFile.CreatedAt = created
	}
	return entry, nil
}

// DetectionResultsForShowSeason lists detection results for every episode in
// a show's season, backing GET /shows/{id}/segments?season=N.
func (s *Store) DetectionResultsForShowSeason(ctx context.Context, showID int64, seasonNumber int) ([]*DetectionResult, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+detectionColumns+` FROM detection_results WHERE show_id = ? AND season_number = ? ORDER BY episode_number`,
		showID, seasonNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("detection results for show season: %w", err)
	}
	defer rows.Close()

	var results []*DetectionResult
	for rows.Next() {
		result, err := scanDetectionResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// DetectionStatsForShow aggregates detection result counts by approval
// status for a show, backing GET /shows/{id}/detection-stats.
func (s *Store) DetectionStatsForShow(ctx context.Context, showID int64) (map[ApprovalStatus]int, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT approval_status, COUNT(1) FROM detection_results WHERE show_id = ? GROUP BY approval_status`,
		showID,
	)
	if err != nil {
		return nil, fmt.Errorf("detection stats for show: %w", err)
	}
	defer rows.Close()

	stats := make(map[ApprovalStatus]int)
	for rows.Next() {
		var status ApprovalStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// DeleteDetectionResultsForShow removes every detection result belonging to
// a show; rescan invalidates stored detections before any new pipeline run
// picks the show up.
func (s *Store) DeleteDetectionResultsForShow(ctx context.Context, showID int64) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM detection_results WHERE show_id = ?`, showID)
	if err != nil {
		return 0, fmt.Errorf("delete detection results for show: %w", err)
	}
	return res.RowsAffected()
}

// EpisodeFileIDsForShow lists every episode file belonging to a show, used
// by scan/rescan to enumerate the jobs to create or fingerprints to clear.
func (s *Store) EpisodeFileIDsForShow(ctx context.Context, showID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `
        SELECT ef.id
        FROM episode_files ef
        JOIN episodes e ON e.id = ef.episode_id
        JOIN seasons se ON se.id = e.season_id
        WHERE se.show_id = ?
        ORDER BY ef.id`, showID)
	if err != nil {
		return nil, fmt.Errorf("episode file ids for show: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ShowByID fetches a show by identifier.
func (s *Store) ShowByID(ctx context.Context, id int64) (*Show, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT id, title, external_id, path, created_at FROM shows WHERE id = ?`, id)
	return scanShow(row)
}

// DeleteFingerprintsAndDetectionForEpisodeFile clears an episode file's
// fingerprints and its episode's detection result, used by requeue to make
// the pipeline recompute everything for the file from scratch.
func (s *Store) DeleteFingerprintsAndDetectionForEpisodeFile(ctx context.Context, episodeFileID int64) error {
	if err := s.ClearFingerprints(ctx, episodeFileID); err != nil {
		return err
	}
	info, err := s.EpisodeInfo(ctx, episodeFileID)
	if err != nil {
		return fmt.Errorf("resolve episode info: %w", err)
	}
	if info == nil {
		return nil
	}
	_, err = s.execWithRetry(
		ctx,
		`DELETE FROM detection_results WHERE show_id = ? AND season_number = ? AND episode_number = ?`,
		info.ShowID, info.SeasonNumber, info.EpisodeNumber,
	)
	if err != nil {
		return fmt.Errorf("delete detection result for episode file: %w", err)
	}
	return nil
}
