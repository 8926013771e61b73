// Package load persists cleaned transactions exactly once per distinct file.
//
// A Loader walks a fixed state machine per file:
//
//	CHECK_IDEMPOTENCY → ENSURE_SCHEMA → BEGIN_LOG → INSERT → FINALIZE_LOG → REGISTER_FILE
//
// The insert strategy is chosen from the record count: row-level inserts with
// a savepoint per record, set-based conflict-ignore inserts per batch, or a
// single bulk-staged merge.
package load

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/logging"
	"github.com/JonMunkholm/txnetl/internal/store"
)

// State names, logged at debug as the machine advances.
const (
	StateCheckIdempotency = "CHECK_IDEMPOTENCY"
	StateEnsureSchema     = "ENSURE_SCHEMA"
	StateBeginLog         = "BEGIN_LOG"
	StateInsert           = "INSERT"
	StateFinalizeLog      = "FINALIZE_LOG"
	StateRegisterFile     = "REGISTER_FILE"
)

// ErrLoadFailed is wrapped when no record of a file could be written.
var ErrLoadFailed = errors.New("load failed")

// Repository is what the loader needs from a store engine.
type Repository interface {
	store.TransactionWriter
	store.AuditWriter
	EnsureSchema(ctx context.Context) error
}

// Stats carries upstream counts recorded in the execution log.
type Stats struct {
	RecordsRead     int // rows extracted; defaults to len(records)
	RecordsRejected int // rows dropped by the transformer
	Details         map[string]any
}

// Loader loads one file's records at a time.
type Loader struct {
	repo Repository
	cfg  Config

	schemaMu    sync.Mutex
	schemaReady bool
}

// New creates a Loader. Zero config fields take their defaults.
func New(repo Repository, cfg Config) *Loader {
	return &Loader{repo: repo, cfg: cfg.withDefaults()}
}

// Load persists records for file with no upstream stats.
func (l *Loader) Load(ctx context.Context, records []core.Transaction, file core.FileIdentity) core.LoadResult {
	return l.LoadWithStats(ctx, records, file, Stats{})
}

// LoadWithStats persists records for file and records stats in the log.
func (l *Loader) LoadWithStats(ctx context.Context, records []core.Transaction, file core.FileIdentity, stats Stats) core.LoadResult {
	start := l.cfg.Now()
	logger := logging.FromContext(ctx).With("hash", shortHash(file.ContentHash))
	res := core.LoadResult{}
	fail := func(err error) core.LoadResult {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	if stats.RecordsRead == 0 {
		stats.RecordsRead = len(records)
	}

	logger.Debug("loader state", "state", StateCheckIdempotency)
	processed, err := l.repo.IsProcessed(ctx, file.ContentHash)
	if err != nil {
		return fail(fmt.Errorf("check idempotency: %w", err))
	}
	if processed {
		logger.Info("file already processed, skipping", "records", len(records))
		res.Success = true
		res.AlreadyProcessed = true
		res.Skipped = len(records)
		res.Duration = time.Since(start)
		return res
	}

	logger.Debug("loader state", "state", StateEnsureSchema)
	if err := l.ensureSchema(ctx); err != nil {
		return fail(err)
	}

	strategy := l.cfg.SelectStrategy(len(records))
	res.Strategy = string(strategy)

	logger.Debug("loader state", "state", StateBeginLog, "strategy", strategy)
	logID, err := l.repo.BeginLog(ctx, core.ExecutionLog{
		RunID:       core.RunIDFromContext(ctx),
		FileName:    file.FileName,
		ContentHash: file.ContentHash,
		StartedAt:   start,
		RecordsRead: stats.RecordsRead,
		Strategy:    string(strategy),
	})
	if err != nil {
		return fail(fmt.Errorf("begin execution log: %w", err))
	}
	res.LogID = logID

	logger.Debug("loader state", "state", StateInsert, "records", len(records))
	written, batches := l.insert(ctx, strategy, records)
	res.Inserted, res.Skipped, res.Failed = written.Inserted, written.Skipped, written.Failed

	status := FinalStatus(written)
	res.Status = status
	res.Duration = time.Since(start)
	finished := l.cfg.Now()

	details := map[string]any{
		"batches":             batches,
		"batch_size":          l.cfg.BatchSize,
		"set_based_threshold": l.cfg.SetBasedThreshold,
		"bulk_threshold":      l.cfg.BulkThreshold,
		"bulk_enabled":        l.cfg.BulkEnabled,
	}
	for k, v := range stats.Details {
		details[k] = v
	}

	execLog := core.ExecutionLog{
		ID:               logID,
		RunID:            core.RunIDFromContext(ctx),
		FileName:         file.FileName,
		ContentHash:      file.ContentHash,
		StartedAt:        start,
		FinishedAt:       &finished,
		Status:           status,
		RecordsRead:      stats.RecordsRead,
		RecordsInserted:  written.Inserted,
		RecordsRejected:  stats.RecordsRejected,
		RecordsDuplicate: written.Skipped,
		RecordsFailed:    written.Failed,
		DurationMs:       res.Duration.Milliseconds(),
		Strategy:         string(strategy),
		ErrorText:        errorText(written),
		Details:          details,
	}

	var entry *core.FileRegistryEntry
	if status != core.LogError {
		entry = &core.FileRegistryEntry{
			ContentHash:    file.ContentHash,
			FileName:       file.FileName,
			FilePath:       file.FilePath,
			SizeBytes:      file.SizeBytes,
			Status:         core.RegistryProcessed,
			ExecutionLogID: logID,
			ProcessedAt:    finished,
		}
	}

	logger.Debug("loader state", "state", StateFinalizeLog, "status", status)
	if entry != nil {
		logger.Debug("loader state", "state", StateRegisterFile)
	}
	// Bookkeeping is written even when the caller has given up on the run.
	if err := l.repo.Finalize(context.WithoutCancel(ctx), execLog, entry); err != nil {
		return fail(fmt.Errorf("finalize execution log: %w", err))
	}

	if status == core.LogError {
		res.Err = fmt.Errorf("%w: %s", ErrLoadFailed, execLog.ErrorText)
		return res
	}
	res.Success = true
	return res
}

// FinalStatus derives the execution log status from insert counts.
func FinalStatus(r store.BatchResult) core.LogStatus {
	switch {
	case r.Failed > 0 && r.Inserted == 0:
		return core.LogError
	case r.Failed > 0:
		return core.LogPartial
	default:
		return core.LogSuccess
	}
}

func (l *Loader) ensureSchema(ctx context.Context) error {
	l.schemaMu.Lock()
	defer l.schemaMu.Unlock()

	if l.schemaReady {
		return nil
	}
	if err := l.repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	l.schemaReady = true
	return nil
}

// insert writes records with the chosen strategy and returns the totals and
// the number of write calls made.
func (l *Loader) insert(ctx context.Context, strategy Strategy, records []core.Transaction) (store.BatchResult, int) {
	var total store.BatchResult
	if len(records) == 0 {
		return total, 0
	}
	logger := logging.FromContext(ctx)

	if strategy == StrategyBulk {
		r, err := l.repo.BulkLoadStaged(ctx, records)
		if err != nil {
			logger.Warn("bulk load failed", "records", len(records), "error", err)
		}
		total.Add(r)
		return total, 1
	}

	write := l.repo.InsertBatch
	if strategy == StrategySet {
		write = l.repo.UpsertIgnoreConflict
	}

	batches := 0
	for start := 0; start < len(records); start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, len(records))
		batches++

		r, err := write(ctx, records[start:end])
		if err != nil {
			logger.Warn("batch failed",
				"batch", batches,
				"records", end-start,
				"strategy", strategy,
				"error", err,
			)
		}
		total.Add(r)
	}
	return total, batches
}

// errorText summarizes write failures for the execution log.
func errorText(r store.BatchResult) string {
	first := r.FirstError()
	if first == nil {
		if r.Failed > 0 {
			return fmt.Sprintf("%d records failed", r.Failed)
		}
		return ""
	}
	if extra := len(r.Errors) - 1; extra > 0 {
		return fmt.Sprintf("%v (and %d more errors)", first, extra)
	}
	return first.Error()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
