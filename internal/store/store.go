package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cliparr/internal/config"
)

// Store persists the Cliparr data model (shows, episode files, processing
// jobs, fingerprints, detection results, and settings) backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job store database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.LogDir, "cliparr.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// NewJob creates a ProcessingJob for an EpisodeFile in StatusScanning.
// At most one active job exists per episode file.
func (s *Store) NewJob(ctx context.Context, episodeFileID int64) (*ProcessingJob, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO processing_jobs (
            episode_file_id, status, confidence_score, progress_percent, created_at, updated_at
        ) VALUES (?, ?, 0, 0, ?, ?)`,
		episodeFileID, StatusScanning, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

const jobColumns = "id, episode_file_id, status, confidence_score, intro_start, intro_end, credits_start, credits_end, manual_verified, processing_notes, error_message, retry_count, progress_stage, progress_percent, progress_message, last_heartbeat, created_at, updated_at"

// GetJob fetches a ProcessingJob by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*ProcessingJob, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetJobByEpisodeFile fetches the active job for an episode file, if any.
func (s *Store) GetJobByEpisodeFile(ctx context.Context, episodeFileID int64) (*ProcessingJob, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM processing_jobs WHERE episode_file_id = ?`, episodeFileID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by episode file: %w", err)
	}
	return job, nil
}

// UpdateJob persists changes to an existing ProcessingJob.
func (s *Store) UpdateJob(ctx context.Context, job *ProcessingJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs
         SET status = ?, confidence_score = ?, intro_start = ?, intro_end = ?,
             credits_start = ?, credits_end = ?, manual_verified = ?, processing_notes = ?,
             error_message = ?, retry_count = ?, progress_stage = ?, progress_percent = ?,
             progress_message = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ?`,
		job.Status,
		job.ConfidenceScore,
		nullableFloat(job.IntroStart),
		nullableFloat(job.IntroEnd),
		nullableFloat(job.CreditsStart),
		nullableFloat(job.CreditsEnd),
		boolToInt(job.ManualVerified),
		nullableString(job.ProcessingNotes),
		nullableString(job.ErrorMessage),
		job.RetryCount,
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		nullableTime(job.LastHeartbeat),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// JobsByStatus returns jobs matching a status ordered by creation time.
func (s *Store) JobsByStatus(ctx context.Context, status Status) ([]*ProcessingJob, error) {
	return s.List(ctx, status)
}

// List returns jobs filtered by status set (or all jobs when none is given).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*ProcessingJob, error) {
	ctx = ensureContext(ctx)
	baseQuery := `SELECT ` + jobColumns + ` FROM processing_jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextForStatuses returns the oldest job matching any of the provided statuses.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*ProcessingJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE status IN (` + placeholders + `) ORDER BY created_at LIMIT 1`
	row := s.db.QueryRowContext(ensureContext(ctx), query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext atomically moves the oldest unclaimed job matching any of
// statuses into processingStatus and returns it, so that concurrent pool
// workers never pick up the same job twice. A job counts as unclaimed when
// its last_heartbeat is NULL; for most stages processingStatus equals the
// sole status being claimed (e.g. extracting_audio is both the job's start
// and in-flight status), so the status column alone can't mark a claim --
// last_heartbeat, set by this UPDATE and cleared whenever a job becomes
// eligible for its next stage, is what prevents two workers from claiming
// the same row. Returns (nil, nil) when nothing is available.
func (s *Store) ClaimNext(ctx context.Context, processingStatus Status, statuses ...Status) (*ProcessingJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	var claimedID int64
	var found bool
	err := retryOnBusy(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		selectQuery := `SELECT id FROM processing_jobs WHERE status IN (` + placeholders + `) AND last_heartbeat IS NULL ORDER BY created_at LIMIT 1`
		row := tx.QueryRowContext(ctx, selectQuery, args...)
		var id int64
		if scanErr := row.Scan(&id); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				found = false
				return tx.Commit()
			}
			return scanErr
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, execErr := tx.ExecContext(
			ctx,
			`UPDATE processing_jobs SET status = ?, last_heartbeat = ?, updated_at = ? WHERE id = ?`,
			processingStatus, now, now, id,
		); execErr != nil {
			return execErr
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return commitErr
		}
		claimedID = id
		found = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	if !found {
		return nil, nil
	}
	return s.GetJob(ctx, claimedID)
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ClearHeartbeat marks a job claimable again by nulling its heartbeat, used
// when a retry backoff elapses.
func (s *Store) ClearHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs SET last_heartbeat = NULL, updated_at = ? WHERE id = ?`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("clear heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing marks jobs stuck in a processing state as failed
// (progress stage "reclaimed_stale_processing") and clears their heartbeat
// when the heartbeat is older than cutoff.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	statuses := []Status{StatusScanning, StatusExtractingAudio, StatusFingerprinting, StatusDetecting, StatusTrimming}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses)+2)
	args = append(args, now.Format(time.RFC3339Nano))
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))
	query := `UPDATE processing_jobs
        SET status = ?, progress_stage = 'reclaimed_stale_processing', progress_percent = 0,
            progress_message = NULL, last_heartbeat = NULL, updated_at = ?
        WHERE status IN (` + placeholders + `) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`
	res, err := s.execWithRetry(ctx, query, append([]any{StatusFailed}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed jobs back to StatusScanning for reprocessing.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE processing_jobs
            SET status = ?, progress_stage = 'retry_requested', progress_percent = 0,
                progress_message = NULL, error_message = NULL, retry_count = 0, updated_at = ?
            WHERE status = ?`,
			StatusScanning, now, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusScanning, now)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE processing_jobs
        SET status = ?, progress_stage = 'retry_requested', progress_percent = 0,
            progress_message = NULL, error_message = NULL, retry_count = 0, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM processing_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusFailed:
			health.Failed += count
		case StatusCompleted:
			health.Completed += count
		case StatusDetected, StatusVerified:
			health.Review += count
		default:
			if _, ok := processingStatuses[status]; ok {
				health.Processing += count
			} else {
				health.Pending += count
			}
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the job store database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path, SchemaVersion: "current"}

	if s.path == "" {
		return health, errors.New("job store database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat job store database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("job store database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("job store database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping job store database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'processing_jobs'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM processing_jobs")
		if err := row.Scan(&health.TotalItems); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count jobs: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM processing_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed jobs.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM processing_jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM processing_jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed jobs.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM processing_jobs WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*ProcessingJob, error) {
	var (
		id               int64
		episodeFileID    int64
		statusStr        string
		confidence       float64
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
		createdRaw       string
		updatedRaw       string
	)

	if err := scanner.Scan(
		&id, &episodeFileID, &statusStr, &confidence,
		&introStart, &introEnd, &creditsStart, &creditsEnd,
		&manualVerified, &processingNotes, &errorMessage, &retryCount,
		&progressStage, &progressPercent, &progressMessage,
		&lastHeartbeatRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &ProcessingJob{
		ID:              id,
		EpisodeFileID:   episodeFileID,
		Status:          Status(statusStr),
		ConfidenceScore: confidence,
		ManualVerified:  manualVerified != 0,
		ProcessingNotes: processingNotes.String,
		ErrorMessage:    errorMessage.String,
		RetryCount:      int(retryCount),
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
	}
	if introStart.Valid {
		v := introStart.Float64
		job.IntroStart = &v
	}
	if introEnd.Valid {
		v := introEnd.Float64
		job.IntroEnd = &v
	}
	if creditsStart.Valid {
		v := creditsStart.Float64
		job.CreditsStart = &v
	}
	if creditsEnd.Valid {
		v := creditsEnd.Float64
		job.CreditsEnd = &v
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
