package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const detectionColumns = "id, show_id, season_number, episode_number, intro_start, intro_end, credits_start, credits_end, stingers_json, segments_json, confidence_score, detection_method, approval_status, processing_notes, created_at, updated_at"

// UpsertDetectionResultsTx writes every cohort episode's detection result in
// a single transaction, so readers never observe a half-written cohort.
func (s *Store) UpsertDetectionResultsTx(ctx context.Context, results []*DetectionResult) error {
	if len(results) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin detection result transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO detection_results (
            show_id, season_number, episode_number, intro_start, intro_end, credits_start, credits_end,
            stingers_json, segments_json, confidence_score, detection_method, approval_status,
            processing_notes, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (show_id, season_number, episode_number) DO UPDATE SET
            intro_start = excluded.intro_start,
            intro_end = excluded.intro_end,
            credits_start = excluded.credits_start,
            credits_end = excluded.credits_end,
            stingers_json = excluded.stingers_json,
            segments_json = excluded.segments_json,
            confidence_score = excluded.confidence_score,
            detection_method = excluded.detection_method,
            approval_status = excluded.approval_status,
            processing_notes = excluded.processing_notes,
            updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare detection result upsert: %w", err)
		}
		defer stmt.Close()

		for _, result := range results {
			stingersJSON, err := json.Marshal(result.Stingers)
			if err != nil {
				return fmt.Errorf("marshal stingers: %w", err)
			}
			segmentsJSON, err := json.Marshal(result.Segments)
			if err != nil {
				return fmt.Errorf("marshal segments: %w", err)
			}
			if result.ApprovalStatus == "" {
				result.ApprovalStatus = ApprovalPending
			}
			if _, err := stmt.ExecContext(ctx,
				result.ShowID, result.SeasonNumber, result.EpisodeNumber,
				nullableFloat(result.IntroStart), nullableFloat(result.IntroEnd),
				nullableFloat(result.CreditsStart), nullableFloat(result.CreditsEnd),
				string(stingersJSON), string(segmentsJSON),
				result.ConfidenceScore, nullableString(result.DetectionMethod), result.ApprovalStatus,
				nullableString(result.ProcessingNotes), now, now,
			); err != nil {
				return fmt.Errorf("upsert detection result: %w", err)
			}
		}
		return tx.Commit()
	})
}

// UpsertDetectionResult inserts or replaces the detection result for an episode.
func (s *Store) UpsertDetectionResult(ctx context.Context, result *DetectionResult) (*DetectionResult, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	stingersJSON, err := json.Marshal(result.Stingers)
	if err != nil {
		return nil, fmt.Errorf("marshal stingers: %w", err)
	}
	segmentsJSON, err := json.Marshal(result.Segments)
	if err != nil {
		return nil, fmt.Errorf("marshal segments: %w", err)
	}
	if result.ApprovalStatus == "" {
		result.ApprovalStatus = ApprovalPending
	}

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO detection_results (
            show_id, season_number, episode_number, intro_start, intro_end, credits_start, credits_end,
            stingers_json, segments_json, confidence_score, detection_method, approval_status,
            processing_notes, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (show_id, season_number, episode_number) DO UPDATE SET
            intro_start = excluded.intro_start,
            intro_end = excluded.intro_end,
            credits_start = excluded.credits_start,
            credits_end = excluded.credits_end,
            stingers_json = excluded.stingers_json,
            segments_json = excluded.segments_json,
            confidence_score = excluded.confidence_score,
            detection_method = excluded.detection_method,
            approval_status = excluded.approval_status,
            processing_notes = excluded.processing_notes,
            updated_at = excluded.updated_at`,
		result.ShowID, result.SeasonNumber, result.EpisodeNumber,
		nullableFloat(result.IntroStart), nullableFloat(result.IntroEnd),
		nullableFloat(result.CreditsStart), nullableFloat(result.CreditsEnd),
		string(stingersJSON), string(segmentsJSON),
		result.ConfidenceScore, nullableString(result.DetectionMethod), result.ApprovalStatus,
		nullableString(result.ProcessingNotes), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert detection result: %w", err)
	}

	return s.DetectionResultByEpisode(ctx, result.ShowID, result.SeasonNumber, result.EpisodeNumber)
}

// DetectionResultByEpisode fetches the detection result for a specific episode.
func (s *Store) DetectionResultByEpisode(ctx context.Context, showID int64, seasonNumber, episodeNumber int) (*DetectionResult, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+detectionColumns+` FROM detection_results WHERE show_id = ? AND season_number = ? AND episode_number = ?`,
		showID, seasonNumber, episodeNumber,
	)
	result, err := scanDetectionResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return result, err
}

// DetectionResultsByApproval lists detection results filtered by approval status.
func (s *Store) DetectionResultsByApproval(ctx context.Context, status ApprovalStatus) ([]*DetectionResult, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+detectionColumns+` FROM detection_results WHERE approval_status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list detection results: %w", err)
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

// SetApprovalStatus updates a detection result's approval status.
func (s *Store) SetApprovalStatus(ctx context.Context, id int64, status ApprovalStatus) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE detection_results SET approval_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("set approval status: %w", err)
	}
	return nil
}

func scanDetectionResult(scanner interface{ Scan(dest ...any) error }) (*DetectionResult, error) {
	var (
		result         DetectionResult
		introStart     sql.NullFloat64
		introEnd       sql.NullFloat64
		creditsStart   sql.NullFloat64
		creditsEnd     sql.NullFloat64
		stingersJSON   sql.NullString
		segmentsJSON   sql.NullString
		detectMethod   sql.NullString
		processNotes   sql.NullString
		approvalStatus string
		createdRaw     string
		updatedRaw     string
	)

	if err := scanner.Scan(
		&result.ID, &result.ShowID, &result.SeasonNumber, &result.EpisodeNumber,
		&introStart, &introEnd, &creditsStart, &creditsEnd,
		&stingersJSON, &segmentsJSON, &result.ConfidenceScore, &detectMethod,
		&approvalStatus, &processNotes, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	result.ApprovalStatus = ApprovalStatus(approvalStatus)
	result.DetectionMethod = detectMethod.String
	result.ProcessingNotes = processNotes.String
	if introStart.Valid {
		v := introStart.Float64
		result.IntroStart = &v
	}
	if introEnd.Valid {
		v := introEnd.Float64
		result.IntroEnd = &v
	}
	if creditsStart.Valid {
		v := creditsStart.Float64
		result.CreditsStart = &v
	}
	if creditsEnd.Valid {
		v := creditsEnd.Float64
		result.CreditsEnd = &v
	}
	if stingersJSON.Valid && stingersJSON.String != "" {
		_ = json.Unmarshal([]byte(stingersJSON.String), &result.Stingers)
	}
	if segmentsJSON.Valid && segmentsJSON.String != "" {
		_ = json.Unmarshal([]byte(segmentsJSON.String), &result.Segments)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		result.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		result.UpdatedAt = updated
	}
	return &result, nil
}
