package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/store"
)

// IsProcessed reports whether a file with this content hash was loaded.
func (s *Store) IsProcessed(ctx context.Context, contentHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM file_registry WHERE content_hash = ? AND status = ?",
		contentHash, core.RegistryProcessed,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check file registry: %w", err)
	}
	return n > 0, nil
}

// BeginLog inserts an IN_PROGRESS execution log outside any transaction.
func (s *Store) BeginLog(ctx context.Context, log core.ExecutionLog) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
INSERT INTO execution_logs (run_id, file_name, content_hash, started_at, status, records_read, strategy)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullString(log.RunID), log.FileName, log.ContentHash, formatTime(log.StartedAt),
		string(core.LogInProgress), log.RecordsRead, nullString(log.Strategy),
	)
	if err != nil {
		return 0, fmt.Errorf("begin execution log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin execution log: %w", err)
	}
	return id, nil
}

// Finalize closes the log and registers the file in one transaction.
func (s *Store) Finalize(ctx context.Context, log core.ExecutionLog, entry *core.FileRegistryEntry) error {
	details, err := marshalDetails(log.Details)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
UPDATE execution_logs SET
    finished_at = ?,
    status = ?,
    records_read = ?,
    records_inserted = ?,
    records_rejected = ?,
    records_duplicate = ?,
    records_failed = ?,
    duration_ms = ?,
    strategy = ?,
    error_text = ?,
    details = ?
WHERE id = ?`,
		formatTimePtr(log.FinishedAt), string(log.Status),
		log.RecordsRead, log.RecordsInserted, log.RecordsRejected,
		log.RecordsDuplicate, log.RecordsFailed, log.DurationMs,
		nullString(log.Strategy), nullString(log.ErrorText), details, log.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize execution log: %w", err)
	}

	if entry != nil {
		_, err = tx.ExecContext(ctx, `
INSERT INTO file_registry (content_hash, file_name, file_path, size_bytes, status, execution_log_id, processed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (content_hash) DO NOTHING`,
			entry.ContentHash, entry.FileName, entry.FilePath, entry.SizeBytes,
			entry.Status, entry.ExecutionLogID, formatTime(entry.ProcessedAt),
		)
		if err != nil {
			return fmt.Errorf("register file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func marshalDetails(details map[string]any) (sql.NullString, error) {
	if len(details) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal log details: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

const executionLogColumns = `id, run_id, file_name, content_hash, started_at, finished_at, status,
    records_read, records_inserted, records_rejected, records_duplicate, records_failed,
    duration_ms, strategy, error_text, details`

// ListExecutionLogs returns logs newest first.
func (s *Store) ListExecutionLogs(ctx context.Context, f store.LogFilter) ([]core.ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+executionLogColumns+`
FROM execution_logs
WHERE (? = '' OR status = ?) AND (? = '' OR run_id = ?)
ORDER BY started_at DESC, id DESC
LIMIT ?`,
		string(f.Status), string(f.Status), f.RunID, f.RunID, store.NormalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer rows.Close()

	var logs []core.ExecutionLog
	for rows.Next() {
		log, err := scanExecutionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// GetExecutionLog returns one log by id.
func (s *Store) GetExecutionLog(ctx context.Context, id int64) (core.ExecutionLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionLogColumns+` FROM execution_logs WHERE id = ?`, id)
	log, err := scanExecutionLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ExecutionLog{}, fmt.Errorf("execution log %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return core.ExecutionLog{}, fmt.Errorf("get execution log: %w", err)
	}
	return log, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecutionLog(row scanner) (core.ExecutionLog, error) {
	var (
		log        core.ExecutionLog
		runID      sql.NullString
		startedAt  string
		finishedAt sql.NullString
		status     string
		strategy   sql.NullString
		errorText  sql.NullString
		details    sql.NullString
	)

	err := row.Scan(
		&log.ID, &runID, &log.FileName, &log.ContentHash, &startedAt, &finishedAt, &status,
		&log.RecordsRead, &log.RecordsInserted, &log.RecordsRejected, &log.RecordsDuplicate, &log.RecordsFailed,
		&log.DurationMs, &strategy, &errorText, &details,
	)
	if err != nil {
		return log, err
	}

	log.Status = core.LogStatus(status)
	log.RunID = runID.String
	log.Strategy = strategy.String
	log.ErrorText = errorText.String
	if log.StartedAt, err = parseTime(startedAt); err != nil {
		return log, fmt.Errorf("decode started_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return log, fmt.Errorf("decode finished_at: %w", err)
		}
		log.FinishedAt = &t
	}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &log.Details); err != nil {
			return log, fmt.Errorf("decode details: %w", err)
		}
	}
	return log, nil
}

// ListProcessedFiles returns registry entries newest first.
func (s *Store) ListProcessedFiles(ctx context.Context, limit int) ([]core.FileRegistryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT content_hash, file_name, file_path, size_bytes, status, COALESCE(execution_log_id, 0), processed_at
FROM file_registry
ORDER BY processed_at DESC
LIMIT ?`, store.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list processed files: %w", err)
	}
	defer rows.Close()

	var entries []core.FileRegistryEntry
	for rows.Next() {
		var (
			e           core.FileRegistryEntry
			processedAt string
		)
		if err := rows.Scan(&e.ContentHash, &e.FileName, &e.FilePath, &e.SizeBytes, &e.Status, &e.ExecutionLogID, &processedAt); err != nil {
			return nil, fmt.Errorf("scan file registry: %w", err)
		}
		if e.ProcessedAt, err = parseTime(processedAt); err != nil {
			return nil, fmt.Errorf("decode processed_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
