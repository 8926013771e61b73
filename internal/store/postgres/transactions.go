package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var transactionColumns = []string{
	"business_key", "transaction_date", "customer", "product", "category",
	"amount", "payment_status", "payment_date", "year", "month", "weekday",
	"quarter", "source_file", "ingested_at",
}

const insertTransactionSQL = `
INSERT INTO transactions (
    business_key, transaction_date, customer, product, category,
    amount, payment_status, payment_date, year, month, weekday,
    quarter, source_file, ingested_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func toPgTimestamp(t *time.Time) pgtype.Timestamp {
	if t == nil {
		return pgtype.Timestamp{}
	}
	return pgtype.Timestamp{Time: *t, Valid: true}
}

func transactionArgs(t core.Transaction) []any {
	return []any{
		t.BusinessKey,
		pgtype.Timestamp{Time: t.TransactionDate, Valid: true},
		t.Customer,
		t.Product,
		t.Category,
		toPgNumeric(t.Amount),
		string(t.Status),
		toPgTimestamp(t.PaymentDate),
		t.Year,
		t.Month,
		t.Weekday,
		t.Quarter,
		t.SourceFile,
		pgtype.Timestamp{Time: t.IngestedAt, Valid: true},
	}
}

// InsertBatch inserts each record under its own savepoint so one bad record
// does not abort the batch.
func (s *Store) InsertBatch(ctx context.Context, txns []core.Transaction) (store.BatchResult, error) {
	var res store.BatchResult
	if len(txns) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		err = fmt.Errorf("begin transaction: %w", err)
		res.Failed = len(txns)
		res.Errors = append(res.Errors, err)
		return res, err
	}
	defer tx.Rollback(ctx)

	// abort counts everything not yet committed as failed.
	abort := func(from int, err error) (store.BatchResult, error) {
		res.Failed += res.Inserted + len(txns) - from
		res.Inserted = 0
		res.Errors = append(res.Errors, err)
		return res, err
	}

	for i, t := range txns {
		savepointName := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepointName); err != nil {
			return abort(i, fmt.Errorf("create savepoint: %w", err))
		}

		_, err := tx.Exec(ctx, insertTransactionSQL, transactionArgs(t)...)
		if err != nil {
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
				return abort(i, fmt.Errorf("rollback savepoint: %w", rbErr))
			}
			if err = mapError(err); errors.Is(err, store.ErrDuplicateKey) {
				res.Skipped++
				continue
			}
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("insert %s: %w", t.BusinessKey, err))
			continue
		}

		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+savepointName)
		res.Inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return abort(len(txns), fmt.Errorf("commit: %w", err))
	}
	return res, nil
}

const upsertIgnoreSQL = `
INSERT INTO transactions (
    business_key, transaction_date, customer, product, category,
    amount, payment_status, payment_date, year, month, weekday,
    quarter, source_file, ingested_at
)
SELECT * FROM unnest(
    $1::text[], $2::timestamp[], $3::text[], $4::text[], $5::text[],
    $6::numeric[], $7::text[], $8::timestamp[], $9::int[], $10::int[], $11::int[],
    $12::int[], $13::text[], $14::timestamp[]
)
ON CONFLICT (business_key) DO NOTHING`

// UpsertIgnoreConflict inserts the whole batch with one statement.
func (s *Store) UpsertIgnoreConflict(ctx context.Context, txns []core.Transaction) (store.BatchResult, error) {
	var res store.BatchResult
	if len(txns) == 0 {
		return res, nil
	}

	n := len(txns)
	var (
		keys       = make([]string, n)
		dates      = make([]pgtype.Timestamp, n)
		customers  = make([]string, n)
		products   = make([]string, n)
		categories = make([]string, n)
		amounts    = make([]pgtype.Numeric, n)
		statuses   = make([]string, n)
		paidDates  = make([]pgtype.Timestamp, n)
		years      = make([]int32, n)
		months     = make([]int32, n)
		weekdays   = make([]int32, n)
		quarters   = make([]int32, n)
		sources    = make([]string, n)
		ingested   = make([]pgtype.Timestamp, n)
	)
	for i, t := range txns {
		keys[i] = t.BusinessKey
		dates[i] = pgtype.Timestamp{Time: t.TransactionDate, Valid: true}
		customers[i] = t.Customer
		products[i] = t.Product
		categories[i] = t.Category
		amounts[i] = toPgNumeric(t.Amount)
		statuses[i] = string(t.Status)
		paidDates[i] = toPgTimestamp(t.PaymentDate)
		years[i] = int32(t.Year)
		months[i] = int32(t.Month)
		weekdays[i] = int32(t.Weekday)
		quarters[i] = int32(t.Quarter)
		sources[i] = t.SourceFile
		ingested[i] = pgtype.Timestamp{Time: t.IngestedAt, Valid: true}
	}

	tag, err := s.pool.Exec(ctx, upsertIgnoreSQL,
		keys, dates, customers, products, categories, amounts, statuses,
		paidDates, years, months, weekdays, quarters, sources, ingested)
	if err != nil {
		err = fmt.Errorf("insert batch: %w", err)
		res.Failed = n
		res.Errors = append(res.Errors, err)
		return res, err
	}

	res.Inserted = int(tag.RowsAffected())
	res.Skipped = n - res.Inserted
	return res, nil
}

const (
	createStagingSQL = `
CREATE TEMP TABLE stg_transactions (
    business_key     TEXT,
    transaction_date TIMESTAMP,
    customer         TEXT,
    product          TEXT,
    category         TEXT,
    amount           NUMERIC(15, 2),
    payment_status   TEXT,
    payment_date     TIMESTAMP,
    year             INTEGER,
    month            INTEGER,
    weekday          INTEGER,
    quarter          INTEGER,
    source_file      TEXT,
    ingested_at      TIMESTAMP
) ON COMMIT DROP`

	mergeStagingSQL = `
INSERT INTO transactions (
    business_key, transaction_date, customer, product, category,
    amount, payment_status, payment_date, year, month, weekday,
    quarter, source_file, ingested_at
)
SELECT
    business_key, transaction_date, customer, product, category,
    amount, payment_status, payment_date, year, month, weekday,
    quarter, source_file, ingested_at
FROM stg_transactions
ON CONFLICT (business_key) DO NOTHING`
)

// BulkLoadStaged copies all records into a temp table and merges them in one
// statement. The staging table is private to the session and dropped at
// commit.
func (s *Store) BulkLoadStaged(ctx context.Context, txns []core.Transaction) (store.BatchResult, error) {
	var res store.BatchResult
	if len(txns) == 0 {
		return res, nil
	}

	fail := func(err error) (store.BatchResult, error) {
		res = store.BatchResult{Failed: len(txns), Errors: []error{err}}
		return res, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createStagingSQL); err != nil {
		return fail(fmt.Errorf("create staging table: %w", err))
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"stg_transactions"},
		transactionColumns,
		pgx.CopyFromSlice(len(txns), func(i int) ([]any, error) {
			return transactionArgs(txns[i]), nil
		}),
	)
	if err != nil {
		return fail(fmt.Errorf("copy into staging: %w", err))
	}

	tag, err := tx.Exec(ctx, mergeStagingSQL)
	if err != nil {
		return fail(fmt.Errorf("merge staging: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}

	res.Inserted = int(tag.RowsAffected())
	res.Skipped = int(copied) - res.Inserted
	return res, nil
}
