// Package pipeline runs files through extract, transform, and load.
//
// Files are processed one at a time. A failure at any stage is recorded in
// that file's report and the run moves on to the next file. A Summary
// aggregates the reports; Summary.Failed drives the process exit status.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/extract"
	"github.com/JonMunkholm/txnetl/internal/load"
	"github.com/JonMunkholm/txnetl/internal/logging"
	"github.com/google/uuid"
)

// Stage names recorded in FileReport.Stage when a file fails.
const (
	StageExtract   = "extract"
	StageTransform = "transform"
	StageLoad      = "load"
)

// Extractor reads one file.
type Extractor interface {
	Extract(ctx context.Context, path string) core.ExtractionResult
}

// Transformer cleans one file's records.
type Transformer interface {
	Transform(records []core.RawRecord, sourceFile string) core.TransformationResult
}

// Loader persists one file's records.
type Loader interface {
	LoadWithStats(ctx context.Context, records []core.Transaction, file core.FileIdentity, stats load.Stats) core.LoadResult
}

// Config controls what happens to files after a run.
type Config struct {
	// ProcessedPath receives files that loaded successfully. Empty leaves
	// them in place.
	ProcessedPath string

	// RejectsPath receives a CSV of dropped records per file. Empty disables
	// reject reports.
	RejectsPath string

	Now      func() time.Time
	NewRunID func() string
}

// Pipeline wires the three stages together.
type Pipeline struct {
	ext Extractor
	tr  Transformer
	ld  Loader
	cfg Config
}

// New creates a Pipeline.
func New(ext Extractor, tr Transformer, ld Loader, cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = func() string { return uuid.NewString() }
	}
	return &Pipeline{ext: ext, tr: tr, ld: ld, cfg: cfg}
}

// RunDir processes every supported file directly inside dir.
func (p *Pipeline) RunDir(ctx context.Context, dir string) (core.Summary, error) {
	files, err := extract.ListFiles(dir)
	if err != nil {
		return core.Summary{}, fmt.Errorf("scan %s: %w", dir, err)
	}
	return p.Run(ctx, files), nil
}

// Run processes paths in order. Directories are expanded to the supported
// files they contain. The context's run id is reused when present;
// otherwise a new one is assigned.
func (p *Pipeline) Run(ctx context.Context, paths []string) core.Summary {
	start := p.cfg.Now()

	runID := core.RunIDFromContext(ctx)
	if runID == "" {
		runID = p.cfg.NewRunID()
		ctx = core.ContextWithRunID(ctx, runID)
	}
	logger := logging.FromContext(ctx)

	summary := core.Summary{RunID: runID}
	files, listFailures := expandPaths(paths)
	for _, r := range listFailures {
		summary.Add(r)
	}

	logger.Info("run started", "files", len(files))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			summary.Add(failed(core.FileReport{FilePath: path, FileName: filepath.Base(path)}, StageExtract, err))
			continue
		}
		summary.Add(p.ProcessFile(ctx, path))
	}

	summary.Duration = time.Since(start)
	logger.Info("run finished",
		"files", summary.FilesTotal,
		"succeeded", summary.FilesSucceeded,
		"failed", summary.FilesFailed,
		"already_processed", summary.FilesSkipped,
		"loaded", summary.RecordsLoaded,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return summary
}

// ProcessFile runs one file through every stage and never panics or returns
// an error; problems are reported in the FileReport.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) core.FileReport {
	start := p.cfg.Now()
	ctx = core.ContextWithFile(ctx, filepath.Base(path))
	logger := logging.FromContext(ctx)

	report := core.FileReport{FilePath: path, FileName: filepath.Base(path)}
	done := func(r core.FileReport) core.FileReport {
		r.Duration = time.Since(start)
		if r.Success {
			logger.Info("file processed",
				"status", r.Status,
				"already_processed", r.AlreadyProcessed,
				"extracted", r.Extracted,
				"removed", r.Removed,
				"inserted", r.Inserted,
				"skipped", r.Skipped,
				"failed", r.Failed,
				"duration_ms", r.Duration.Milliseconds(),
			)
		} else {
			logger.Error("file failed", "stage", r.Stage, "code", r.ErrorCode, "error", r.Err)
		}
		return r
	}

	ex := p.ext.Extract(ctx, path)
	report.ContentHash = ex.ContentHash
	report.Extracted = len(ex.Records)
	report.Warnings = append(report.Warnings, ex.Warnings...)
	if ex.Err != nil {
		return done(failed(report, StageExtract, ex.Err))
	}

	tr := p.tr.Transform(ex.Records, ex.FileName)
	report.Transformed = tr.OutputCount
	report.Removed = tr.RemovedCount
	report.Warnings = append(report.Warnings, tr.Warnings...)
	if tr.Err != nil {
		return done(failed(report, StageTransform, tr.Err))
	}

	if p.cfg.RejectsPath != "" && len(tr.Rejections) > 0 {
		out, err := writeRejects(p.cfg.RejectsPath, ex.FileName, tr.Rejections)
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("reject report not written: %v", err))
		} else {
			logger.Debug("reject report written", "path", out, "rejections", len(tr.Rejections))
		}
	}

	ld := p.ld.LoadWithStats(ctx, tr.Records, ex.Identity(), load.Stats{
		RecordsRead:     len(ex.Records),
		RecordsRejected: tr.RemovedCount,
		Details: map[string]any{
			"format":             ex.Format,
			"encoding":           ex.Encoding,
			"delimiter":          ex.Delimiter,
			"duplicates_removed": tr.DuplicatesRemoved,
			"repaired":           tr.RepairedCount,
		},
	})
	report.AlreadyProcessed = ld.AlreadyProcessed
	report.Inserted = ld.Inserted
	report.Skipped = ld.Skipped
	report.Failed = ld.Failed
	report.Status = ld.Status
	if !ld.Success {
		return done(failed(report, StageLoad, ld.Err))
	}
	report.Success = true

	if p.cfg.ProcessedPath != "" {
		if err := moveFile(path, p.cfg.ProcessedPath, p.cfg.Now()); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("file not moved: %v", err))
		}
	}
	return done(report)
}

func failed(r core.FileReport, stage string, err error) core.FileReport {
	if err == nil {
		err = fmt.Errorf("%s failed", stage)
	}
	r.Success = false
	r.Stage = stage
	r.Err = err
	r.ErrorCode = core.MapError(err).Code
	return r
}

// expandPaths replaces directories with the files they contain. Directories
// that cannot be listed become failed reports.
func expandPaths(paths []string) ([]string, []core.FileReport) {
	var files []string
	var failures []core.FileReport
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			files = append(files, path)
			continue
		}
		listed, err := extract.ListFiles(path)
		if err != nil {
			failures = append(failures, failed(core.FileReport{FilePath: path, FileName: filepath.Base(path)}, StageExtract, err))
			continue
		}
		files = append(files, listed...)
	}
	return files, failures
}

// moveFile moves path into dir. An existing file of the same name is kept
// and the moved file gets a timestamp prefix.
func moveFile(path, dir string, now time.Time) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create processed directory: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(dir, now.UTC().Format("20060102T150405")+"-"+filepath.Base(path))
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("move to %s: %w", dir, err)
	}
	return nil
}
