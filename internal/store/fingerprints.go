package store

import (
	"context"
	"encoding/binary"
	"fmt"
)

// InsertFingerprint persists one sliding-window hash for an episode file.
func (s *Store) InsertFingerprint(ctx context.Context, fp *Fingerprint) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO fingerprints (episode_file_id, window_start, window_end, hash) VALUES (?, ?, ?, ?)`,
		fp.EpisodeFileID, fp.WindowStart, fp.WindowEnd, encodeHash(fp.Hash),
	)
	if err != nil {
		return 0, fmt.Errorf("insert fingerprint: %w", err)
	}
	return res.LastInsertId()
}

// InsertFingerprints persists a full set of sliding-window hashes for an
// episode file in a single transaction, so a crashed fingerprinter never
// leaves a partial window set behind.
func (s *Store) InsertFingerprints(ctx context.Context, fingerprints []*Fingerprint) error {
	if len(fingerprints) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin fingerprint transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO fingerprints (episode_file_id, window_start, window_end, hash) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare fingerprint insert: %w", err)
		}
		defer stmt.Close()

		for _, fp := range fingerprints {
			if _, err := stmt.ExecContext(ctx, fp.EpisodeFileID, fp.WindowStart, fp.WindowEnd, encodeHash(fp.Hash)); err != nil {
				return fmt.Errorf("insert fingerprint: %w", err)
			}
		}
		return tx.Commit()
	})
}

// FingerprintsForEpisodeFile returns all windows for one episode file ordered
// by window start.
func (s *Store) FingerprintsForEpisodeFile(ctx context.Context, episodeFileID int64) ([]*Fingerprint, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, episode_file_id, window_start, window_end, hash FROM fingerprints WHERE episode_file_id = ? ORDER BY window_start`,
		episodeFileID,
	)
	if err != nil {
		return nil, fmt.Errorf("fingerprints for episode file: %w", err)
	}
	defer rows.Close()

	var fingerprints []*Fingerprint
	for rows.Next() {
		var (
			fp       Fingerprint
			hashBlob []byte
		)
		if err := rows.Scan(&fp.ID, &fp.EpisodeFileID, &fp.WindowStart, &fp.WindowEnd, &hashBlob); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		fp.Hash = decodeHash(hashBlob)
		fingerprints = append(fingerprints, &fp)
	}
	return fingerprints, rows.Err()
}

// ClearFingerprints removes all fingerprint windows for an episode file,
// used when a job is retried and windows must be recomputed.
func (s *Store) ClearFingerprints(ctx context.Context, episodeFileID int64) error {
	_, err := s.execWithRetry(ctx, `DELETE FROM fingerprints WHERE episode_file_id = ?`, episodeFileID)
	if err != nil {
		return fmt.Errorf("clear fingerprints: %w", err)
	}
	return nil
}

func encodeHash(hash []uint32) []byte {
	buf := make([]byte, len(hash)*4)
	for i, value := range hash {
		binary.BigEndian.PutUint32(buf[i*4:], value)
	}
	return buf
}

func decodeHash(blob []byte) []uint32 {
	count := len(blob) / 4
	hash := make([]uint32, count)
	for i := 0; i < count; i++ {
		hash[i] = binary.BigEndian.Uint32(blob[i*4:])
	}
	return hash
}
