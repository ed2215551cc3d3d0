package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS fingerprints (
		path TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		action INTEGER NOT NULL,
		success INTEGER NOT NULL,
		required INTEGER NOT NULL,
		executed INTEGER NOT NULL,
		up_to_date INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		not_run INTEGER NOT NULL,
		implicit_recomputes INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_failures (
		run_id TEXT NOT NULL,
		task TEXT NOT NULL,
		reason INTEGER NOT NULL,
		error TEXT,
		PRIMARY KEY (run_id, task),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
