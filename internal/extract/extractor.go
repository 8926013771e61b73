// Package extract reads transaction files, validates their header, and
// computes the content hash that identifies a file for idempotency.
// Extraction never touches the store.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/logging"
)

var (
	// ErrMissingColumns is wrapped when required header columns are absent.
	ErrMissingColumns = errors.New("missing required columns")
	// ErrUnsupportedFormat is wrapped when no reader handles the extension.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrFileTooLarge is wrapped when a file exceeds Config.MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")
	// ErrEmptyFile is wrapped when a file has no header row.
	ErrEmptyFile = errors.New("empty file")
)

// DefaultMaxFileSize applies when Config.MaxFileSize is zero.
const DefaultMaxFileSize int64 = 500 * 1024 * 1024

// MaxHeaderSearchRows is the maximum number of rows scanned for the header.
var MaxHeaderSearchRows = 20

// Config controls extraction limits.
type Config struct {
	MaxFileSize int64
}

// Extractor reads one file at a time.
type Extractor struct {
	cfg Config
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	return &Extractor{cfg: cfg}
}

// ContentHash returns the lowercase hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Extract reads and validates the file at path. On a structural problem the
// result has Success=false, Err set, and no records.
func (e *Extractor) Extract(ctx context.Context, path string) core.ExtractionResult {
	res := core.ExtractionResult{FileName: filepath.Base(path), FilePath: path}
	fail := func(err error) core.ExtractionResult {
		res.Records = nil
		res.Err = fmt.Errorf("extract %s: %w", res.FileName, err)
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail(err)
	}
	if info.IsDir() {
		return fail(fmt.Errorf("%s is a directory", path))
	}
	if info.Size() > e.cfg.MaxFileSize {
		return fail(fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, info.Size(), e.cfg.MaxFileSize))
	}

	format, ok := FormatFor(path)
	if !ok {
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".xls" {
			return fail(fmt.Errorf("%w: %s (legacy binary workbook, re-save as .xlsx)", ErrUnsupportedFormat, ext))
		}
		return fail(fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext))
	}
	res.Format = format.Name

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}
	res.SizeBytes = int64(len(data))
	res.ContentHash = ContentHash(data)

	tbl, err := format.Read(data)
	if err != nil {
		return fail(err)
	}
	res.Encoding = tbl.Encoding
	res.Delimiter = tbl.Delimiter

	headerIdx, missing := findHeader(tbl.Rows)
	if headerIdx < 0 {
		return fail(fmt.Errorf("%w: no header row", ErrEmptyFile))
	}
	if len(missing) > 0 {
		return fail(fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", ")))
	}

	header := make([]string, len(tbl.Rows[headerIdx]))
	for i, h := range tbl.Rows[headerIdx] {
		header[i] = core.CleanCell(h)
	}
	res.Columns = header
	res.Warnings = headerWarnings(header)

	keep := keptColumns(header)
	for i := headerIdx + 1; i < len(tbl.Rows); i++ {
		row := tbl.Rows[i]
		if isEmptyRow(row) {
			continue
		}
		rec := core.RawRecord{
			Line:    tbl.Line(i),
			Fields:  make(map[string]string, len(header)),
			Columns: header,
		}
		for j, name := range header {
			if !keep[j] {
				continue
			}
			if j >= len(row) {
				rec.Fields[name] = ""
				continue
			}
			rec.Fields[name] = row[j]
			if tbl.IsNumeric(i, j) {
				if rec.Numeric == nil {
					rec.Numeric = make(map[string]bool)
				}
				rec.Numeric[name] = true
			}
		}
		res.Records = append(res.Records, rec)
	}

	res.Success = true
	logging.FromContext(ctx).Debug("file extracted",
		"format", res.Format,
		"encoding", res.Encoding,
		"delimiter", res.Delimiter,
		"records", len(res.Records),
		"hash", res.ContentHash,
	)
	return res
}

// findHeader returns the index of the first row among the leading rows that
// carries every required column. When none does, it falls back to the first
// non-empty row and reports the columns it lacks. Returns -1 for a file with
// no non-empty rows.
func findHeader(rows [][]string) (int, []string) {
	first := -1
	var firstMissing []string

	limit := MaxHeaderSearchRows
	if len(rows) < limit {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		if isEmptyRow(rows[i]) {
			continue
		}
		missing := missingColumns(rows[i])
		if len(missing) == 0 {
			return i, nil
		}
		if first < 0 {
			first, firstMissing = i, missing
		}
	}
	return first, firstMissing
}

func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[core.CanonicalColumn(h)] = true
	}
	var missing []string
	for _, c := range core.RequiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// keptColumns marks the header positions whose values are extracted: the
// first header for each canonical column, in file order. Later repeats are
// the ones headerWarnings reports as ignored.
func keptColumns(header []string) []bool {
	keep := make([]bool, len(header))
	seen := make(map[string]bool, len(header))
	for j, h := range header {
		if h == "" {
			continue
		}
		c := core.CanonicalColumn(h)
		if seen[c] {
			continue
		}
		seen[c] = true
		keep[j] = true
	}
	return keep
}

func headerWarnings(header []string) []string {
	var warnings []string

	seen := make(map[string]string, len(header))
	var extra, dup []string
	for _, h := range header {
		if h == "" {
			continue
		}
		c := core.CanonicalColumn(h)
		if prev, ok := seen[c]; ok {
			dup = append(dup, fmt.Sprintf("%s (same as %s)", h, prev))
			continue
		}
		seen[c] = h
		if !core.IsKnownColumn(c) {
			extra = append(extra, h)
		}
	}

	for _, c := range core.OptionalColumns {
		if _, ok := seen[c]; !ok {
			warnings = append(warnings, fmt.Sprintf("optional column %s not present", c))
		}
	}
	if len(extra) > 0 {
		warnings = append(warnings, fmt.Sprintf("ignoring unexpected columns: %s", strings.Join(extra, ", ")))
	}
	if len(dup) > 0 {
		warnings = append(warnings, fmt.Sprintf("ignoring repeated columns: %s", strings.Join(dup, ", ")))
	}
	return warnings
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ListFiles returns the readable files directly inside dir, sorted by name.
// Spreadsheet lock files ("~$...") and hidden files are skipped.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			continue
		}
		if _, ok := FormatFor(name); ok {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}
