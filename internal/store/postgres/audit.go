package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// IsProcessed reports whether a file with this content hash was loaded.
func (s *Store) IsProcessed(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM file_registry WHERE content_hash = $1 AND status = $2)",
		contentHash, core.RegistryProcessed,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check file registry: %w", err)
	}
	return exists, nil
}

// BeginLog inserts an IN_PROGRESS execution log outside any transaction.
func (s *Store) BeginLog(ctx context.Context, log core.ExecutionLog) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO execution_logs (run_id, file_name, content_hash, started_at, status, records_read, strategy)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		toPgText(log.RunID), log.FileName, log.ContentHash, log.StartedAt,
		string(core.LogInProgress), log.RecordsRead, toPgText(log.Strategy),
	).Scan(&id)
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
UPDATE execution_logs SET
    finished_at = $2,
    status = $3,
    records_read = $4,
    records_inserted = $5,
    records_rejected = $6,
    records_duplicate = $7,
    records_failed = $8,
    duration_ms = $9,
    strategy = $10,
    error_text = $11,
    details = $12
WHERE id = $1`,
		log.ID, log.FinishedAt, string(log.Status),
		log.RecordsRead, log.RecordsInserted, log.RecordsRejected,
		log.RecordsDuplicate, log.RecordsFailed, log.DurationMs,
		toPgText(log.Strategy), toPgText(log.ErrorText), details,
	)
	if err != nil {
		return fmt.Errorf("finalize execution log: %w", err)
	}

	if entry != nil {
		_, err = tx.Exec(ctx, `
INSERT INTO file_registry (content_hash, file_name, file_path, size_bytes, status, execution_log_id, processed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (content_hash) DO NOTHING`,
			entry.ContentHash, entry.FileName, entry.FilePath, entry.SizeBytes,
			entry.Status, entry.ExecutionLogID, entry.ProcessedAt,
		)
		if err != nil {
			return fmt.Errorf("register file: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func marshalDetails(details map[string]any) ([]byte, error) {
	if len(details) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal log details: %w", err)
	}
	return b, nil
}

const executionLogColumns = `id, run_id, file_name, content_hash, started_at, finished_at, status,
    records_read, records_inserted, records_rejected, records_duplicate, records_failed,
    duration_ms, strategy, error_text, details`

// ListExecutionLogs returns logs newest first.
func (s *Store) ListExecutionLogs(ctx context.Context, f store.LogFilter) ([]core.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+executionLogColumns+`
FROM execution_logs
WHERE ($1 = '' OR status = $1) AND ($2 = '' OR run_id = $2)
ORDER BY started_at DESC, id DESC
LIMIT $3`,
		string(f.Status), f.RunID, store.NormalizeLimit(f.Limit),
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
	row := s.pool.QueryRow(ctx, `SELECT `+executionLogColumns+` FROM execution_logs WHERE id = $1`, id)
	log, err := scanExecutionLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ExecutionLog{}, fmt.Errorf("execution log %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return core.ExecutionLog{}, fmt.Errorf("get execution log: %w", err)
	}
	return log, nil
}

// scanExecutionLog scans one execution_logs row. Accepts pgx.Row or pgx.Rows.
func scanExecutionLog(row pgx.Row) (core.ExecutionLog, error) {
	var (
		log        core.ExecutionLog
		runID      pgtype.Text
		finishedAt pgtype.Timestamptz
		status     string
		strategy   pgtype.Text
		errorText  pgtype.Text
		details    []byte
	)

	err := row.Scan(
		&log.ID, &runID, &log.FileName, &log.ContentHash, &log.StartedAt, &finishedAt, &status,
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
	if finishedAt.Valid {
		t := finishedAt.Time
		log.FinishedAt = &t
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &log.Details); err != nil {
			return log, fmt.Errorf("decode details: %w", err)
		}
	}
	return log, nil
}

// ListProcessedFiles returns registry entries newest first.
func (s *Store) ListProcessedFiles(ctx context.Context, limit int) ([]core.FileRegistryEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT content_hash, file_name, file_path, size_bytes, status, COALESCE(execution_log_id, 0), processed_at
FROM file_registry
ORDER BY processed_at DESC
LIMIT $1`, store.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list processed files: %w", err)
	}
	defer rows.Close()

	var entries []core.FileRegistryEntry
	for rows.Next() {
		var e core.FileRegistryEntry
		if err := rows.Scan(&e.ContentHash, &e.FileName, &e.FilePath, &e.SizeBytes, &e.Status, &e.ExecutionLogID, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan file registry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
