package postgres

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// LoadCatalog inserts categories then products, ignoring names that exist.
func (s *Store) LoadCatalog(ctx context.Context, entries []core.CatalogEntry) (store.CatalogResult, error) {
	var res store.CatalogResult
	if len(entries) == 0 {
		return res, nil
	}

	var categories []string
	seen := make(map[string]bool)
	names := make([]string, len(entries))
	productCategories := make([]string, len(entries))
	descriptions := make([]pgtype.Text, len(entries))
	prices := make([]pgtype.Numeric, len(entries))
	for i, e := range entries {
		if !seen[e.Category] {
			seen[e.Category] = true
			categories = append(categories, e.Category)
		}
		names[i] = e.Product
		productCategories[i] = e.Category
		descriptions[i] = toPgText(e.Description)
		prices[i] = toPgNumeric(e.Price)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
INSERT INTO categories (name)
SELECT * FROM unnest($1::text[])
ON CONFLICT (name) DO NOTHING`, categories)
	if err != nil {
		return res, fmt.Errorf("insert categories: %w", err)
	}
	res.Categories = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, `
INSERT INTO products (category_id, name, description, price)
SELECT c.id, p.name, p.description, p.price
FROM unnest($1::text[], $2::text[], $3::text[], $4::numeric[]) AS p(category, name, description, price)
JOIN categories c ON c.name = p.category
ON CONFLICT (name) DO NOTHING`, productCategories, names, descriptions, prices)
	if err != nil {
		return res, fmt.Errorf("insert products: %w", err)
	}
	res.Products = int(tag.RowsAffected())
	res.Skipped = len(entries) - res.Products

	if err := tx.Commit(ctx); err != nil {
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
    unit_price   NUMERIC(15, 2),
    total        NUMERIC(15, 2)
) ON COMMIT DROP`

	mergeItemStagingSQL = `
INSERT INTO transaction_items (business_key, product_id, quantity, unit_price, total)
SELECT s.business_key, p.id, s.quantity, s.unit_price, s.total
FROM stg_transaction_items s
JOIN products p ON p.name = s.product
JOIN transactions t ON t.business_key = s.business_key
ON CONFLICT (business_key, product_id) DO NOTHING`
)

// MergeItems copies items into a staging table and merges the ones whose
// product and transaction exist.
func (s *Store) MergeItems(ctx context.Context, items []core.TransactionItem) (store.BatchResult, error) {
	var res store.BatchResult
	if len(items) == 0 {
		return res, nil
	}
	fail := func(err error) (store.BatchResult, error) {
		return store.BatchResult{Failed: len(items), Errors: []error{err}}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createItemStagingSQL); err != nil {
		return fail(fmt.Errorf("create staging table: %w", err))
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"stg_transaction_items"},
		[]string{"business_key", "product", "quantity", "unit_price", "total"},
		pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
			it := items[i]
			return []any{it.BusinessKey, it.Product, it.Quantity, toPgNumeric(it.UnitPrice), toPgNumeric(it.Total)}, nil
		}),
	)
	if err != nil {
		return fail(fmt.Errorf("copy into staging: %w", err))
	}

	tag, err := tx.Exec(ctx, mergeItemStagingSQL)
	if err != nil {
		return fail(fmt.Errorf("merge staging: %w", mapError(err)))
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}

	res.Inserted = int(tag.RowsAffected())
	res.Skipped = len(items) - res.Inserted
	return res, nil
}
