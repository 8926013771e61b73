package sqlite

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/store"
)

// LoadCatalog inserts categories then products, ignoring names that exist.
func (s *Store) LoadCatalog(ctx context.Context, entries []core.CatalogEntry) (store.CatalogResult, error) {
	var res store.CatalogResult
	if len(entries) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.Category] {
			continue
		}
		seen[e.Category] = true
		result, err := tx.ExecContext(ctx,
			"INSERT INTO categories (name) VALUES (?) ON CONFLICT (name) DO NOTHING", e.Category)
		if err != nil {
			return store.CatalogResult{}, fmt.Errorf("insert category %s: %w", e.Category, err)
		}
		n, _ := result.RowsAffected()
		res.Categories += int(n)
	}

	for _, e := range entries {
		result, err := tx.ExecContext(ctx, `
INSERT INTO products (category_id, name, description, price)
SELECT c.id, ?, ?, ? FROM categories c WHERE c.name = ?
ON CONFLICT (name) DO NOTHING`,
			e.Product, nullString(e.Description), e.Price.StringFixed(2), e.Category)
		if err != nil {
			return store.CatalogResult{}, fmt.Errorf("insert product %s: %w", e.Product, err)
		}
		n, _ := result.RowsAffected()
		res.Products += int(n)
	}
	res.Skipped = len(entries) - res.Products

	if err := tx.Commit(); err != nil {
		return store.CatalogResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

const (
	createItemStagingSQL = `
CREATE TEMP TABLE stg_transaction_items (
    business_key TEXT,
    product      TEXT,
    quantity     INTEGER,
    unit_price   TEXT,
    total        TEXT
)`

	mergeItemStagingSQL = `
INSERT INTO transaction_items (business_key, product_id, quantity, unit_price, total)
SELECT s.business_key, p.id, s.quantity, s.unit_price, s.total
FROM temp.stg_transaction_items s
JOIN products p ON p.name = s.product
JOIN transactions t ON t.business_key = s.business_key
WHERE true
ON CONFLICT (business_key, product_id) DO NOTHING`
)

// MergeItems stages items in a temp table and merges the ones whose product
// and transaction exist.
func (s *Store) MergeItems(ctx context.Context, items []core.TransactionItem) (store.BatchResult, error) {
	var res store.BatchResult
	if len(items) == 0 {
		return res, nil
	}
	fail := func(err error) (store.BatchResult, error) {
		return store.BatchResult{Failed: len(items), Errors: []error{err}}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := resetStaging(ctx, tx, "stg_transaction_items", createItemStagingSQL); err != nil {
		return fail(err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO temp.stg_transaction_items (business_key, product, quantity, unit_price, total) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fail(fmt.Errorf("prepare staging insert: %w", err))
	}
	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.BusinessKey, it.Product, it.Quantity,
			it.UnitPrice.StringFixed(2), it.Total.StringFixed(2)); err != nil {
			stmt.Close()
			return fail(fmt.Errorf("stage item %s: %w", it.BusinessKey, err))
		}
	}
	stmt.Close()

	result, err := tx.ExecContext(ctx, mergeItemStagingSQL)
	if err != nil {
		return fail(fmt.Errorf("merge staging: %w", mapError(err)))
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fail(fmt.Errorf("rows affected: %w", err))
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE temp.stg_transaction_items"); err != nil {
		return fail(fmt.Errorf("drop staging table: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}

	res.Inserted = int(inserted)
	res.Skipped = len(items) - res.Inserted
	return res, nil
}
