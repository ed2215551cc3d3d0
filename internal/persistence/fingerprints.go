package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Load implements fingerprint.Store.
func (s *SQLiteStore) Load(ctx context.Context, key string) (string, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM fingerprints WHERE path = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load fingerprint %s: %w", key, err)
	}
	return body, true, nil
}

// Save implements fingerprint.Store. Saves are idempotent upserts.
func (s *SQLiteStore) Save(ctx context.Context, key, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (path, body, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			body = excluded.body,
			updated_at = CURRENT_TIMESTAMP
	`, key, text)
	if err != nil {
		return fmt.Errorf("failed to save fingerprint %s: %w", key, err)
	}
	return nil
}

// Delete implements fingerprint.Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE path = ?`, key); err != nil {
		return fmt.Errorf("failed to delete fingerprint %s: %w", key, err)
	}
	return nil
}

// CountFingerprints returns the number of stored fingerprints.
func (s *SQLiteStore) CountFingerprints(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	return n, nil
}
