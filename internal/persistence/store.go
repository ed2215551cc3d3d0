// Package persistence keeps fingerprints and run history in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/forge/internal/fingerprint"
	"github.com/aristath/forge/internal/scheduler"
)

// Store is the persistence surface used by the CLI: fingerprint storage for
// the scheduler plus a history of finished runs.
type Store interface {
	fingerprint.Store

	SaveRun(ctx context.Context, res *scheduler.Results) error
	GetRun(ctx context.Context, runID string) (*scheduler.Results, error)
	ListRuns(ctx context.Context, limit int) ([]*scheduler.Results, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Every pooled connection runs in WAL
// mode with foreign keys on and waits up to five seconds for a writer lock.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?%s&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath, connPragmas)
	return open(ctx, connStr, maxOpenConns)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each call
// gets its own database on a single connection; shared-cache table locks do
// not honour busy_timeout.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:forge-%s?mode=memory&cache=shared&%s", uuid.NewString(), connPragmas)
	return open(ctx, connStr, 1)
}

const (
	maxOpenConns = 4

	// modernc.org/sqlite applies _pragma parameters to every new connection.
	connPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
)

func open(ctx context.Context, connStr string, conns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Workers load and save fingerprints concurrently; SQLite serialises writers.
	db.SetMaxOpenConns(conns)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
