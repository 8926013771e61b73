// Package core holds the domain types shared by every stage of the pipeline.
// This package has no storage or transport dependencies.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the canonical payment state of a transaction.
type PaymentStatus string

const (
	StatusPaid      PaymentStatus = "PAID"
	StatusPending   PaymentStatus = "PENDING"
	StatusCancelled PaymentStatus = "CANCELLED"
	StatusLate      PaymentStatus = "LATE"
)

// Valid reports whether s is one of the canonical statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPaid, StatusPending, StatusCancelled, StatusLate:
		return true
	}
	return false
}

// UnknownValue replaces blank customer and category values.
const UnknownValue = "UNKNOWN"

// RawRecord is one input row as extracted. Fields are keyed by the header
// text as it appeared in the file.
type RawRecord struct {
	Line   int // 1-based row number in the file
	Fields map[string]string

	// Columns is the header in file order, shared by every record of a
	// file. When two headers map to the same canonical column the earlier
	// one is used.
	Columns []string

	// Numeric marks fields read from numeric spreadsheet cells. Their values
	// are in machine format and bypass locale detection.
	Numeric map[string]bool
}

// Transaction is the canonical, cleaned form of one input row.
type Transaction struct {
	BusinessKey     string
	TransactionDate time.Time
	Customer        string
	Product         string
	Category        string
	Amount          decimal.Decimal
	Status          PaymentStatus
	PaymentDate     *time.Time
	Year            int
	Month           int
	Weekday         int // 0=Monday .. 6=Sunday
	Quarter         int
	SourceFile      string
	IngestedAt      time.Time
}

// FileIdentity carries everything the loader needs to know about the file
// a batch of records came from.
type FileIdentity struct {
	ContentHash string
	FileName    string
	FilePath    string
	SizeBytes   int64
}

// LogStatus is the state of an execution log.
type LogStatus string

const (
	LogInProgress LogStatus = "IN_PROGRESS"
	LogSuccess    LogStatus = "SUCCESS"
	LogPartial    LogStatus = "PARTIAL"
	LogError      LogStatus = "ERROR"
)

// RegistryProcessed is the only registry status the pipeline writes.
const RegistryProcessed = "PROCESSED"

// ExecutionLog is the audit record of one load attempt.
type ExecutionLog struct {
	ID               int64          `json:"id"`
	RunID            string         `json:"runId,omitempty"`
	FileName         string         `json:"fileName"`
	ContentHash      string         `json:"contentHash"`
	StartedAt        time.Time      `json:"startedAt"`
	FinishedAt       *time.Time     `json:"finishedAt,omitempty"`
	Status           LogStatus      `json:"status"`
	RecordsRead      int            `json:"recordsRead"`
	RecordsInserted  int            `json:"recordsInserted"`
	RecordsRejected  int            `json:"recordsRejected"`
	RecordsDuplicate int            `json:"recordsDuplicate"`
	RecordsFailed    int            `json:"recordsFailed"`
	DurationMs       int64          `json:"durationMs"`
	Strategy         string         `json:"strategy,omitempty"`
	ErrorText        string         `json:"error,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// FileRegistryEntry marks a file's content as durably loaded.
type FileRegistryEntry struct {
	ContentHash    string    `json:"contentHash"`
	FileName       string    `json:"fileName"`
	FilePath       string    `json:"filePath"`
	SizeBytes      int64     `json:"sizeBytes"`
	Status         string    `json:"status"`
	ExecutionLogID int64     `json:"executionLogId"`
	ProcessedAt    time.Time `json:"processedAt"`
}

// ExtractionResult is the outcome of reading and validating one file.
type ExtractionResult struct {
	Success     bool
	Records     []RawRecord
	Columns     []string // header as read
	FileName    string
	FilePath    string
	SizeBytes   int64
	ContentHash string
	Format      string
	Encoding    string
	Delimiter   string
	Warnings    []string
	Err         error
}

// Identity returns the file identity used by the loader.
func (r ExtractionResult) Identity() FileIdentity {
	return FileIdentity{
		ContentHash: r.ContentHash,
		FileName:    r.FileName,
		FilePath:    r.FilePath,
		SizeBytes:   r.SizeBytes,
	}
}

// StageStats reports what one transform stage did.
type StageStats struct {
	Stage    string         `json:"stage"`
	In       int            `json:"in"`
	Out      int            `json:"out"`
	Counters map[string]int `json:"counters,omitempty"`
}

// Rejection describes a record dropped by the transformer.
type Rejection struct {
	Line        int
	BusinessKey string
	Stage       string
	Reason      string
}

// TransformationResult is the outcome of cleaning one file's records.
type TransformationResult struct {
	Success           bool
	Records           []Transaction
	InputCount        int
	OutputCount       int
	RemovedCount      int
	DuplicatesRemoved int
	RepairedCount     int
	StageStats        []StageStats
	Warnings          []string
	Rejections        []Rejection
	Err               error
}

// LoadResult is the outcome of loading one file's records.
type LoadResult struct {
	Success          bool
	Inserted         int
	Skipped          int
	Failed           int
	LogID            int64
	Duration         time.Duration
	Strategy         string
	Status           LogStatus
	AlreadyProcessed bool
	Err              error
}

// FileReport summarizes one file's trip through the pipeline.
type FileReport struct {
	FilePath         string
	FileName         string
	ContentHash      string
	Stage            string // stage that failed, empty on success
	Success          bool
	AlreadyProcessed bool
	Extracted        int
	Transformed      int
	Removed          int
	Inserted         int
	Skipped          int
	Failed           int
	Status           LogStatus
	Warnings         []string
	Err              error
	ErrorCode        string
	Duration         time.Duration
}

// Summary aggregates the reports of one pipeline run.
type Summary struct {
	RunID            string
	FilesTotal       int
	FilesSucceeded   int
	FilesFailed      int
	FilesSkipped     int
	RecordsExtracted int
	RecordsLoaded    int
	RecordsSkipped   int
	RecordsFailed    int
	RecordsRemoved   int
	Duration         time.Duration
	Files            []FileReport
}

// Add folds a file report into the summary.
func (s *Summary) Add(r FileReport) {
	s.FilesTotal++
	switch {
	case !r.Success:
		s.FilesFailed++
	case r.AlreadyProcessed:
		s.FilesSkipped++
		s.FilesSucceeded++
	default:
		s.FilesSucceeded++
	}
	s.RecordsExtracted += r.Extracted
	s.RecordsLoaded += r.Inserted
	s.RecordsSkipped += r.Skipped
	s.RecordsFailed += r.Failed
	s.RecordsRemoved += r.Removed
	s.Files = append(s.Files, r)
}

// Failed reports whether any file in the run failed.
func (s Summary) Failed() bool {
	return s.FilesFailed > 0
}

// CatalogEntry is one product line of a catalog file.
type CatalogEntry struct {
	Category    string
	Product     string
	Description string
	Price       decimal.Decimal
}

// TransactionItem is one line item attached to a loaded transaction.
type TransactionItem struct {
	BusinessKey string
	Product     string
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}
