package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertShow inserts a show by title if it does not already exist, returning
// the existing or newly created record. externalID and path are recorded on
// first insert only; a Show is immutable thereafter except for its path, see
// SetShowPath.
func (s *Store) UpsertShow(ctx context.Context, title, externalID, path string) (*Show, error) {
	ctx = ensureContext(ctx)
	existing, err := scanShow(s.db.QueryRowContext(ctx, `SELECT id, title, external_id, path, created_at FROM shows WHERE title = ?`, title))
	if err != nil || existing != nil {
		return existing, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.execWithRetry(
		ctx,
		`INSERT OR IGNORE INTO shows (title, external_id, path, created_at) VALUES (?, ?, ?, ?)`,
		title, nullableString(externalID), nullableString(path), now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert show: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT id, title, external_id, path, created_at FROM shows WHERE title = ?`, title)
	return scanShow(row)
}

// SetShowPath updates the on-disk library path for a show, the one field the
// Lifecycle allows to change after import.
func (s *Store) SetShowPath(ctx context.Context, showID int64, path string) error {
	_, err := s.execWithRetry(ensureContext(ctx), `UPDATE shows SET path = ? WHERE id = ?`, nullableString(path), showID)
	if err != nil {
		return fmt.Errorf("set show path: %w", err)
	}
	return nil
}

func scanShow(scanner interface{ Scan(dest ...any) error }) (*Show, error) {
	var (
		show       Show
		externalID sql.NullString
		path       sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&show.ID, &show.Title, &externalID, &path, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan show: %w", err)
	}
	show.ExternalID = externalID.String
	show.Path = path.String
	if created, err := parseTimeString(createdRaw); err == nil {
		show.CreatedAt = created
	}
	return &show, nil
}

// UpsertSeason inserts a season under a show if it does not already exist.
func (s *Store) UpsertSeason(ctx context.Context, showID int64, number int) (*Season, error) {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(ctx, `INSERT OR IGNORE INTO seasons (show_id, number) VALUES (?, ?)`, showID, number)
	if err != nil {
		return nil, fmt.Errorf("upsert season: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, show_id, number FROM seasons WHERE show_id = ? AND number = ?`, showID, number)
	var season Season
	if err := row.Scan(&season.ID, &season.ShowID, &season.Number); err != nil {
		return nil, fmt.Errorf("fetch season: %w", err)
	}
	return &season, nil
}

// UpsertEpisode inserts an episode under a season if it does not already exist.
func (s *Store) UpsertEpisode(ctx context.Context, seasonID int64, number int, title, externalID string) (*Episode, error) {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(
		ctx,
		`INSERT OR IGNORE INTO episodes (season_id, number, title, external_id) VALUES (?, ?, ?, ?)`,
		seasonID, number, nullableString(title), nullableString(externalID),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert episode: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, season_id, number, title, external_id FROM episodes WHERE season_id = ? AND number = ?`,
		seasonID, number,
	)
	var episode Episode
	var titleValue, externalValue sql.NullString
	if err := row.Scan(&episode.ID, &episode.SeasonID, &episode.Number, &titleValue, &externalValue); err != nil {
		return nil, fmt.Errorf("fetch episode: %w", err)
	}
	episode.Title = titleValue.String
	episode.ExternalID = externalValue.String
	return &episode, nil
}

// EpisodeInfo resolves show/season/episode identity for an episode file, used
// by the detector and trimmer stages to label DetectionResults and build
// output paths without re-threading catalog lookups through every stage.
func (s *Store) EpisodeInfo(ctx context.Context, episodeFileID int64) (*EpisodeInfo, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `
        SELECT sh.id, sh.title, sh.path, se.number, e.number, e.title
        FROM episode_files ef
        JOIN episodes e ON e.id = ef.episode_id
        JOIN seasons se ON se.id = e.season_id
        JOIN shows sh ON sh.id = se.show_id
        WHERE ef.id = ?`, episodeFileID)

	var info EpisodeInfo
	var showPath, episodeTitle sql.NullString
	if err := row.Scan(&info.ShowID, &info.ShowTitle, &showPath, &info.SeasonNumber, &info.EpisodeNumber, &episodeTitle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("episode info: %w", err)
	}
	info.ShowPath = showPath.String
	info.EpisodeTitle = episodeTitle.String
	return &info, nil
}

// UpsertEpisodeFile records (or returns the existing) file for an episode.
func (s *Store) UpsertEpisodeFile(ctx context.Context, episodeID int64, path string, sizeBytes int64) (*EpisodeFile, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`INSERT OR IGNORE INTO episode_files (episode_id, path, size_bytes, created_at) VALUES (?, ?, ?, ?)`,
		episodeID, path, sizeBytes, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert episode file: %w", err)
	}
	return s.EpisodeFileByPath(ctx, path)
}

// EpisodeFileByPath fetches an episode file by its filesystem path.
func (s *Store) EpisodeFileByPath(ctx context.Context, path string) (*EpisodeFile, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT id, episode_id, path, size_bytes, created_at FROM episode_files WHERE path = ?`, path)
	return scanEpisodeFile(row)
}

// EpisodeFileByID fetches an episode file by identifier.
func (s *Store) EpisodeFileByID(ctx context.Context, id int64) (*EpisodeFile, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT id, episode_id, path, size_bytes, created_at FROM episode_files WHERE id = ?`, id)
	return scanEpisodeFile(row)
}

// CohortEpisodeFiles returns all episode files belonging to the same season
// as the given episode file, used to build a detection cohort.
func (s *Store) CohortEpisodeFiles(ctx context.Context, episodeFileID int64) ([]*EpisodeFile, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
        SELECT ef.id, ef.episode_id, ef.path, ef.size_bytes, ef.created_at
        FROM episode_files ef
        JOIN episodes e ON e.id = ef.episode_id
        WHERE e.season_id = (
            SELECT e2.season_id FROM episodes e2
            JOIN episode_files ef2 ON ef2.episode_id = e2.id
            WHERE ef2.id = ?
        )
        ORDER BY ef.id`, episodeFileID)
	if err != nil {
		return nil, fmt.Errorf("cohort episode files: %w", err)
	}
	defer rows.Close()

	var files []*EpisodeFile
	for rows.Next() {
		file, err := scanEpisodeFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func scanEpisodeFile(scanner interface{ Scan(dest ...any) error }) (*EpisodeFile, error) {
	var (
		file       EpisodeFile
		createdRaw string
	)
	if err := scanner.Scan(&file.ID, &file.EpisodeID, &file.Path, &file.SizeBytes, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan episode file: %w", err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		file.CreatedAt = created
	}
	return &file, nil
}
