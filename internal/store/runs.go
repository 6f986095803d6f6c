package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"tickerpipe/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunHistory = (*SQLiteRunHistory)(nil)

// SQLiteRunHistory implements RunHistory backed by a SQLite database. It is
// the queryable index over run metadata; the JSON artifacts in the log
// partitions remain the authoritative record.
type SQLiteRunHistory struct {
	db *sql.DB
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	run_date            TEXT NOT NULL,
	status              TEXT NOT NULL,
	error_message       TEXT,
	started_at          TEXT NOT NULL,
	finished_at         TEXT NOT NULL,
	runtime_seconds     REAL NOT NULL,
	symbols_processed   INTEGER NOT NULL,
	symbols_successful  INTEGER NOT NULL,
	symbols_failed      INTEGER NOT NULL,
	insufficient_data   INTEGER NOT NULL,
	rows_written        INTEGER NOT NULL,
	rate_limit_hits     INTEGER NOT NULL,
	worker_history      TEXT NOT NULL,
	total_sleep_seconds REAL NOT NULL,
	dry_run             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_run_date ON runs(run_date);
`

// NewSQLiteRunHistory opens (or creates) a SQLite database at dbPath and
// ensures the runs table exists.
func NewSQLiteRunHistory(dbPath string) (*SQLiteRunHistory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(runsSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteRunHistory{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteRunHistory) Close() error {
	return s.db.Close()
}

// RecordRun inserts one finalized run row.
func (s *SQLiteRunHistory) RecordRun(ctx context.Context, meta *domain.RunMetadata) error {
	history, err := json.Marshal(meta.WorkerHistory)
	if err != nil {
		return err
	}

	dryRun := 0
	if meta.DryRun {
		dryRun = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_date, status, error_message, started_at, finished_at,
			runtime_seconds, symbols_processed, symbols_successful,
			symbols_failed, insufficient_data, rows_written,
			rate_limit_hits, worker_history, total_sleep_seconds, dry_run
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.RunDate,
		string(meta.Status),
		meta.ErrorMessage,
		meta.StartedAt.UTC().Format(time.RFC3339),
		meta.FinishedAt.UTC().Format(time.RFC3339),
		meta.RuntimeSeconds,
		meta.SymbolsProcessed,
		meta.SymbolsSuccessful,
		meta.SymbolsFailed,
		meta.InsufficientData,
		meta.RowsWritten,
		meta.RateLimitHits,
		string(history),
		meta.TotalSleepSecs,
		dryRun,
	)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLiteRunHistory) RecentRuns(ctx context.Context, limit int) ([]domain.RunMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_date, status, error_message, started_at, finished_at,
		       runtime_seconds, symbols_processed, symbols_successful,
		       symbols_failed, insufficient_data, rows_written,
		       rate_limit_hits, worker_history, total_sleep_seconds, dry_run
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunMetadata
	for rows.Next() {
		var (
			meta       domain.RunMetadata
			status     string
			errMsg     sql.NullString
			startedAt  string
			finishedAt string
			history    string
			dryRun     int
		)
		if err := rows.Scan(
			&meta.RunDate, &status, &errMsg, &startedAt, &finishedAt,
			&meta.RuntimeSeconds, &meta.SymbolsProcessed, &meta.SymbolsSuccessful,
			&meta.SymbolsFailed, &meta.InsufficientData, &meta.RowsWritten,
			&meta.RateLimitHits, &history, &meta.TotalSleepSecs, &dryRun,
		); err != nil {
			return nil, err
		}

		meta.Status = domain.RunStatus(status)
		meta.ErrorMessage = errMsg.String
		meta.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		meta.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
		meta.DryRun = dryRun != 0
		_ = json.Unmarshal([]byte(history), &meta.WorkerHistory)

		runs = append(runs, meta)
	}
	return runs, rows.Err()
}
