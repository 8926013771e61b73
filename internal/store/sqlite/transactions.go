package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/store"
)

const transactionColumnList = `business_key, transaction_date, customer, product, category,
    amount, payment_status, payment_date, year, month, weekday,
    quarter, source_file, ingested_at`

const transactionColumnCount = 14

// maxRowsPerStatement keeps multi-row VALUES under SQLite's bound-parameter
// limit (32766).
const maxRowsPerStatement = 32766 / transactionColumnCount

var (
	insertTransactionSQL = "INSERT INTO transactions (" + transactionColumnList + ") VALUES " + placeholders(1)
	insertStagingSQL     = "INSERT INTO temp.stg_transactions (" + transactionColumnList + ") VALUES " + placeholders(1)
)

func placeholders(rows int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", transactionColumnCount), ", ") + ")"
	parts := make([]string, rows)
	for i := range parts {
		parts[i] = row
	}
	return strings.Join(parts, ", ")
}

func transactionArgs(t core.Transaction) []any {
	return []any{
		t.BusinessKey,
		formatTime(t.TransactionDate),
		t.Customer,
		t.Product,
		t.Category,
		t.Amount.StringFixed(2),
		string(t.Status),
		formatTimePtr(t.PaymentDate),
		t.Year,
		t.Month,
		t.Weekday,
		t.Quarter,
		t.SourceFile,
		formatTime(t.IngestedAt),
	}
}

// InsertBatch inserts each record under its own savepoint so one bad record
// does not abort the batch.
func (s *Store) InsertBatch(ctx context.Context, txns []core.Transaction) (store.BatchResult, error) {
	var res store.BatchResult
	if len(txns) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("begin transaction: %w", err)
		res.Failed = len(txns)
		res.Errors = append(res.Errors, err)
		return res, err
	}
	defer tx.Rollback()

	abort := func(from int, err error) (store.BatchResult, error) {
		res.Failed += res.Inserted + len(txns) - from
		res.Inserted = 0
		res.Errors = append(res.Errors, err)
		return res, err
	}

	stmt, err := tx.PrepareContext(ctx, insertTransactionSQL)
	if err != nil {
		return abort(0, fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	for i, t := range txns {
		savepointName := fmt.Sprintf("sp_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepointName); err != nil {
			return abort(i, fmt.Errorf("create savepoint: %w", err))
		}

		if _, err := stmt.ExecContext(ctx, transactionArgs(t)...); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
				return abort(i, fmt.Errorf("rollback savepoint: %w", rbErr))
			}
			_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName)
			if err = mapError(err); errors.Is(err, store.ErrDuplicateKey) {
				res.Skipped++
				continue
			}
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("insert %s: %w", t.BusinessKey, err))
			continue
		}

		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName)
		res.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return abort(len(txns), fmt.Errorf("commit: %w", err))
	}
	return res, nil
}

// UpsertIgnoreConflict inserts the batch with multi-row statements that
// ignore business-key conflicts. Batches larger than the parameter limit are
// split across statements in one transaction.
func (s *Store) UpsertIgnoreConflict(ctx context.Context, txns []core.Transaction) (store.BatchResult, error) {
	var res store.BatchResult
	if len(txns) == 0 {
		return res, nil
	}
	fail := func(err error) (store.BatchResult, error) {
		return store.BatchResult{Failed: len(txns), Errors: []error{err}}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	var inserted int64
	for start := 0; start < len(txns); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(txns))
		chunk := txns[start:end]

		args := make([]any, 0, len(chunk)*transactionColumnCount)
		for _, t := range chunk {
			args = append(args, transactionArgs(t)...)
		}
		query := "INSERT INTO transactions (" + transactionColumnList + ") VALUES " +
			placeholders(len(chunk)) + " ON CONFLICT (business_key) DO NOTHING"

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fail(fmt.Errorf("insert batch: %w", err))
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fail(fmt.Errorf("rows affected: %w", err))
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}

	res.Inserted = int(inserted)
	res.Skipped = len(txns) - res.Inserted
	return res, nil
}

const (
	createStagingSQL = `
CREATE TEMP TABLE stg_transactions (
    business_key     TEXT,
    transaction_date TEXT,
    customer         TEXT,
    product          TEXT,
    category         TEXT,
    amount           TEXT,
    payment_status   TEXT,
    payment_date     TEXT,
    year             INTEGER,
    month            INTEGER,
    weekday          INTEGER,
    quarter          INTEGER,
    source_file      TEXT,
    ingested_at      TEXT
)`

	// WHERE true disambiguates the upsert clause after a SELECT.
	mergeStagingSQL = `
INSERT INTO transactions (` + transactionColumnList + `)
SELECT ` + transactionColumnList + `
FROM temp.stg_transactions WHERE true
ON CONFLICT (business_key) DO NOTHING`
)

// BulkLoadStaged streams all records into a temp table on the store's single
// connection and merges them in one statement.
func (s *Store) BulkLoadStaged(ctx context.Context, txns []core.Transaction) (store.BatchResult, error) {
	var res store.BatchResult
	if len(txns) == 0 {
		return res, nil
	}
	fail := func(err error) (store.BatchResult, error) {
		return store.BatchResult{Failed: len(txns), Errors: []error{err}}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := resetStaging(ctx, tx, "stg_transactions", createStagingSQL); err != nil {
		return fail(err)
	}

	stmt, err := tx.PrepareContext(ctx, insertStagingSQL)
	if err != nil {
		return fail(fmt.Errorf("prepare staging insert: %w", err))
	}
	for _, t := range txns {
		if _, err := stmt.ExecContext(ctx, transactionArgs(t)...); err != nil {
			stmt.Close()
			return fail(fmt.Errorf("stage %s: %w", t.BusinessKey, err))
		}
	}
	stmt.Close()

	result, err := tx.ExecContext(ctx, mergeStagingSQL)
	if err != nil {
		return fail(fmt.Errorf("merge staging: %w", err))
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fail(fmt.Errorf("rows affected: %w", err))
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE temp.stg_transactions"); err != nil {
		return fail(fmt.Errorf("drop staging table: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}

	res.Inserted = int(inserted)
	res.Skipped = len(txns) - res.Inserted
	return res, nil
}

// resetStaging drops a leftover staging table from an aborted attempt and
// creates it fresh.
func resetStaging(ctx context.Context, tx *sql.Tx, name, ddl string) error {
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS temp."+name); err != nil {
		return fmt.Errorf("drop staging table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}
	return nil
}
