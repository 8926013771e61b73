// Package store defines the narrow persistence contract the loader and the
// ops surfaces depend on. Engines live in subpackages.
package store

import (
	"context"
	"errors"

	"github.com/JonMunkholm/txnetl/internal/core"
)

var (
	// ErrDuplicateKey is returned when an insert collides on a unique key.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
)

// BatchResult accounts for every record handed to a write call:
// Inserted + Skipped + Failed equals the number of records.
type BatchResult struct {
	Inserted int
	Skipped  int
	Failed   int
	Errors   []error // per-record or per-batch failures, in order
}

// Add folds another result into r.
func (r *BatchResult) Add(o BatchResult) {
	r.Inserted += o.Inserted
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// FirstError returns the first recorded failure, or nil.
func (r BatchResult) FirstError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// TransactionWriter writes canonical transactions with the three insert
// strategies. Each call accounts for all of its records in the returned
// BatchResult. The error is non-nil only when the call failed as a unit;
// per-record failures are reported in BatchResult.Errors.
type TransactionWriter interface {
	// InsertBatch inserts one batch in one transaction with a savepoint per
	// record. Unique violations are skipped, other errors fail the record.
	InsertBatch(ctx context.Context, txns []core.Transaction) (BatchResult, error)
	// UpsertIgnoreConflict inserts one batch with a single statement that
	// ignores business-key conflicts.
	UpsertIgnoreConflict(ctx context.Context, txns []core.Transaction) (BatchResult, error)
	// BulkLoadStaged streams all records into a session-scoped staging table
	// and merges them with one statement.
	BulkLoadStaged(ctx context.Context, txns []core.Transaction) (BatchResult, error)
}

// AuditWriter owns the execution log and file registry.
type AuditWriter interface {
	IsProcessed(ctx context.Context, contentHash string) (bool, error)
	// BeginLog commits an IN_PROGRESS log immediately and returns its id.
	BeginLog(ctx context.Context, log core.ExecutionLog) (int64, error)
	// Finalize updates the log and, when entry is non-nil, registers the
	// file, in one transaction. A registry conflict on the content hash is
	// ignored.
	Finalize(ctx context.Context, log core.ExecutionLog, entry *core.FileRegistryEntry) error
}

// LogFilter narrows ListExecutionLogs.
type LogFilter struct {
	Status core.LogStatus
	RunID  string
	Limit  int
}

// DefaultListLimit applies when a filter has no limit.
const DefaultListLimit = 50

// AuditReader serves the history views.
type AuditReader interface {
	ListExecutionLogs(ctx context.Context, f LogFilter) ([]core.ExecutionLog, error)
	GetExecutionLog(ctx context.Context, id int64) (core.ExecutionLog, error)
	ListProcessedFiles(ctx context.Context, limit int) ([]core.FileRegistryEntry, error)
}

// CatalogResult counts rows new to the catalog tables.
type CatalogResult struct {
	Categories int
	Products   int
	Skipped    int
}

// CatalogWriter loads the catalog and item supplements.
type CatalogWriter interface {
	LoadCatalog(ctx context.Context, entries []core.CatalogEntry) (CatalogResult, error)
	// MergeItems stages items and inserts those whose product and
	// transaction exist. Unmatched items are skipped.
	MergeItems(ctx context.Context, items []core.TransactionItem) (BatchResult, error)
}

// Repository is everything an engine provides.
type Repository interface {
	TransactionWriter
	AuditWriter
	AuditReader
	CatalogWriter

	// EnsureSchema creates tables and indexes when absent.
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// NormalizeLimit clamps a list limit to [1, 1000], defaulting to DefaultListLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
