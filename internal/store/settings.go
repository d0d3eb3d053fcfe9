package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting fetches a live runtime override by key, returning ok=false when
// no override exists and the bootstrap Config value should apply.
func (s *Store) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT value FROM settings WHERE key = ?`, key)
	if scanErr := row.Scan(&value); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %q: %w", key, scanErr)
	}
	return value, true, nil
}

// SetSetting writes a live runtime override, replacing any existing value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// AllSettings returns every live runtime override currently stored.
func (s *Store) AllSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var setting Setting
		if err := rows.Scan(&setting.Key, &setting.Value); err != nil {
			return nil, err
		}
		settings = append(settings, setting)
	}
	return settings, rows.Err()
}

// DeleteSetting removes a live runtime override, reverting to the bootstrap
// Config value.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.execWithRetry(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}
