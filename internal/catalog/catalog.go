// Package catalog loads the product catalog and transaction line items that
// supplement the canonical transactions.
//
// Both inputs go through the same format registry as transaction files, so
// delimited text in any supported encoding and .xlsx workbooks are accepted.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/extract"
	"github.com/JonMunkholm/txnetl/internal/logging"
	"github.com/JonMunkholm/txnetl/internal/store"
	"github.com/shopspring/decimal"
)

// ErrMissingColumns is wrapped when a catalog or items header lacks a
// required column.
var ErrMissingColumns = errors.New("missing required columns")

var catalogAliases = map[string]string{
	"category":       "category",
	"categoria":      "category",
	"nome_categoria": "category",
	"product":        "product",
	"produto":        "product",
	"nome_produto":   "product",
	"description":    "description",
	"descricao":      "description",
	"price":          "price",
	"preco":          "price",
	"valor":          "price",
}

var itemAliases = map[string]string{
	"transaction_id": "transaction_id",
	"id_transacao":   "transaction_id",
	"business_key":   "transaction_id",
	"product":        "product",
	"produto":        "product",
	"quantity":       "quantity",
	"quantidade":     "quantity",
	"qtd":            "quantity",
	"unit_price":     "unit_price",
	"preco_unitario": "unit_price",
	"valor_unitario": "unit_price",
	"total":          "total",
	"valor_total":    "total",
}

var (
	catalogRequired = []string{"category", "product", "price"}
	itemsRequired   = []string{"transaction_id", "product", "quantity", "unit_price"}
)

// Rejected describes an input row that was not loaded.
type Rejected struct {
	Line   int
	Reason string
}

// CatalogResult is the outcome of LoadCatalog.
type CatalogResult struct {
	Read     int
	Rejected []Rejected
	store.CatalogResult
}

// ItemsResult is the outcome of LoadItems.
type ItemsResult struct {
	Read     int
	Rejected []Rejected
	store.BatchResult
}

// sheet is a header-resolved table: rows keyed by canonical column.
type sheet struct {
	rows    []map[string]string
	lines   []int
	numeric []map[string]bool // columns read from numeric spreadsheet cells
}

// amount parses column col of row i. Numeric spreadsheet cells are in
// machine format; text cells go through locale detection.
func (s *sheet) amount(i int, col string) (decimal.Decimal, bool) {
	if s.numeric[i][col] {
		return core.ParseMachineAmount(s.rows[i][col])
	}
	return core.ParseAmount(s.rows[i][col])
}

// readSheet reads path through the format registry and resolves the first
// non-empty row as the header.
func readSheet(path string, aliases map[string]string, required []string) (*sheet, error) {
	format, ok := extract.FormatFor(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	tbl, err := format.Read(data)
	if err != nil {
		return nil, err
	}

	headerIdx := -1
	for i, row := range tbl.Rows {
		if !blankRow(row) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, extract.ErrEmptyFile
	}

	columns := make([]string, len(tbl.Rows[headerIdx]))
	present := make(map[string]bool)
	for i, h := range tbl.Rows[headerIdx] {
		if c, ok := aliases[core.NormalizeColumn(h)]; ok && !present[c] {
			columns[i] = c
			present[c] = true
		}
	}
	var missing []string
	for _, c := range required {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	s := &sheet{}
	for i := headerIdx + 1; i < len(tbl.Rows); i++ {
		row := tbl.Rows[i]
		if blankRow(row) {
			continue
		}
		fields := make(map[string]string, len(present))
		var numeric map[string]bool
		for j, cell := range row {
			if j >= len(columns) || columns[j] == "" {
				continue
			}
			fields[columns[j]] = core.CleanCell(cell)
			if tbl.IsNumeric(i, j) {
				if numeric == nil {
					numeric = make(map[string]bool)
				}
				numeric[columns[j]] = true
			}
		}
		s.rows = append(s.rows, fields)
		s.lines = append(s.lines, tbl.Line(i))
		s.numeric = append(s.numeric, numeric)
	}
	return s, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ReadCatalog parses a catalog file with category, product, and price
// columns and an optional description.
func ReadCatalog(path string) ([]core.CatalogEntry, []Rejected, error) {
	s, err := readSheet(path, catalogAliases, catalogRequired)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog %s: %w", filepath.Base(path), err)
	}

	var entries []core.CatalogEntry
	var rejected []Rejected
	for i, f := range s.rows {
		line := s.lines[i]
		if core.IsBlank(f["category"]) || core.IsBlank(f["product"]) {
			rejected = append(rejected, Rejected{Line: line, Reason: "missing category or product"})
			continue
		}
		price, ok := s.amount(i, "price")
		if !ok || price.IsNegative() {
			rejected = append(rejected, Rejected{Line: line, Reason: fmt.Sprintf("invalid price %q", f["price"])})
			continue
		}
		entries = append(entries, core.CatalogEntry{
			Category:    f["category"],
			Product:     f["product"],
			Description: f["description"],
			Price:       price,
		})
	}
	return entries, rejected, nil
}

// ReadItems parses an items file. A missing or blank total is computed as
// quantity times unit price.
func ReadItems(path string) ([]core.TransactionItem, []Rejected, error) {
	s, err := readSheet(path, itemAliases, itemsRequired)
	if err != nil {
		return nil, nil, fmt.Errorf("read items %s: %w", filepath.Base(path), err)
	}

	var items []core.TransactionItem
	var rejected []Rejected
	for i, f := range s.rows {
		line := s.lines[i]
		if core.IsBlank(f["transaction_id"]) || core.IsBlank(f["product"]) {
			rejected = append(rejected, Rejected{Line: line, Reason: "missing transaction id or product"})
			continue
		}
		qty, err := strconv.Atoi(f["quantity"])
		if err != nil || qty <= 0 {
			rejected = append(rejected, Rejected{Line: line, Reason: fmt.Sprintf("invalid quantity %q", f["quantity"])})
			continue
		}
		unit, ok := s.amount(i, "unit_price")
		if !ok || unit.IsNegative() {
			rejected = append(rejected, Rejected{Line: line, Reason: fmt.Sprintf("invalid unit price %q", f["unit_price"])})
			continue
		}

		total := unit.Mul(decimal.NewFromInt(int64(qty))).Round(2)
		if raw := f["total"]; !core.IsBlank(raw) {
			t, ok := s.amount(i, "total")
			if !ok || t.IsNegative() {
				rejected = append(rejected, Rejected{Line: line, Reason: fmt.Sprintf("invalid total %q", raw)})
				continue
			}
			total = t
		}

		items = append(items, core.TransactionItem{
			BusinessKey: f["transaction_id"],
			Product:     f["product"],
			Quantity:    qty,
			UnitPrice:   unit,
			Total:       total,
		})
	}
	return items, rejected, nil
}

// LoadCatalog reads path and inserts its categories and products. Names
// that already exist are left untouched.
func LoadCatalog(ctx context.Context, w store.CatalogWriter, path string) (CatalogResult, error) {
	entries, rejected, err := ReadCatalog(path)
	if err != nil {
		return CatalogResult{}, err
	}

	res := CatalogResult{Read: len(entries) + len(rejected), Rejected: rejected}
	res.CatalogResult, err = w.LoadCatalog(ctx, entries)
	if err != nil {
		return res, fmt.Errorf("load catalog: %w", err)
	}

	logging.FromContext(ctx).Info("catalog loaded",
		"file", filepath.Base(path),
		"read", res.Read,
		"categories", res.Categories,
		"products", res.Products,
		"skipped", res.Skipped,
		"rejected", len(rejected),
	)
	return res, nil
}

// LoadItems reads path and merges the items whose product and transaction
// exist. Unmatched items are counted as skipped.
func LoadItems(ctx context.Context, w store.CatalogWriter, path string) (ItemsResult, error) {
	items, rejected, err := ReadItems(path)
	if err != nil {
		return ItemsResult{}, err
	}

	res := ItemsResult{Read: len(items) + len(rejected), Rejected: rejected}
	res.BatchResult, err = w.MergeItems(ctx, items)
	if err != nil {
		return res, fmt.Errorf("load items: %w", err)
	}

	logging.FromContext(ctx).Info("items loaded",
		"file", filepath.Base(path),
		"read", res.Read,
		"inserted", res.Inserted,
		"skipped", res.Skipped,
		"rejected", len(rejected),
	)
	return res, nil
}
