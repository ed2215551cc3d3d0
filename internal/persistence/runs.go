package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/forge/internal/scheduler"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// SaveRun records a finished run and its failures. Saving the same run twice
// replaces the earlier record.
func (s *SQLiteStore) SaveRun(ctx context.Context, res *scheduler.Results) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, action, success, required, executed, up_to_date, failed, not_run, implicit_recomputes, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			action = excluded.action,
			success = excluded.success,
			required = excluded.required,
			executed = excluded.executed,
			up_to_date = excluded.up_to_date,
			failed = excluded.failed,
			not_run = excluded.not_run,
			implicit_recomputes = excluded.implicit_recomputes,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, res.RunID, int(res.Action), res.Success, res.RequiredCount, res.ExecutedCount, res.UpToDateCount,
		res.FailedCount, res.NotRunCount, res.ImplicitRecomputeCount,
		res.StartedAt.UnixNano(), res.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_failures WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("failed to delete old failures: %w", err)
	}

	for _, f := range res.Failures {
		errorStr := ""
		if f.Err != nil {
			errorStr = f.Err.Error()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_failures (run_id, task, reason, error)
			VALUES (?, ?, ?, ?)
		`, res.RunID, f.Task, int(f.Reason), errorStr)
		if err != nil {
			return fmt.Errorf("failed to insert failure %s: %w", f.Task, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = `id, action, success, required, executed, up_to_date, failed, not_run, implicit_recomputes, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*scheduler.Results, error) {
	var (
		res               scheduler.Results
		action            int
		started, finished int64
	)
	err := row.Scan(&res.RunID, &action, &res.Success, &res.RequiredCount, &res.ExecutedCount,
		&res.UpToDateCount, &res.FailedCount, &res.NotRunCount, &res.ImplicitRecomputeCount,
		&started, &finished)
	if err != nil {
		return nil, err
	}
	res.Action = scheduler.Action(action)
	res.StartedAt = time.Unix(0, started)
	res.FinishedAt = time.Unix(0, finished)
	return &res, nil
}

// GetRun retrieves a run by ID, including its failures. Per-task statuses
// are not persisted.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*scheduler.Results, error) {
	res, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	if err := s.loadFailures(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*scheduler.Results, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	var runs []*scheduler.Results
	for rows.Next() {
		res, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, res)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	rows.Close()

	// Failures are loaded after the run cursor is closed so the pool never
	// needs a second connection for the nested query.
	for _, res := range runs {
		if err := s.loadFailures(ctx, res); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *SQLiteStore) loadFailures(ctx context.Context, res *scheduler.Results) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task, reason, error
		FROM run_failures
		WHERE run_id = ?
		ORDER BY task
	`, res.RunID)
	if err != nil {
		return fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f        scheduler.Failure
			reason   int
			errorStr sql.NullString
		)
		if err := rows.Scan(&f.Task, &reason, &errorStr); err != nil {
			return fmt.Errorf("failed to scan failure: %w", err)
		}
		f.Reason = scheduler.FailureReason(reason)
		if errorStr.String != "" {
			f.Err = errors.New(errorStr.String)
		}
		res.Failures = append(res.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating failures: %w", err)
	}
	return nil
}
