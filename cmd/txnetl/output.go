package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/txnetl/internal/catalog"
	"github.com/JonMunkholm/txnetl/internal/core"
)

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, "✓ "+fmt.Sprintf(format, args...))
}

func printRejected(rejected []catalog.Rejected) {
	for _, r := range rejected {
		fmt.Fprintf(os.Stderr, "⚠ line %d: %s\n", r.Line, r.Reason)
	}
}

// printSummary writes one row per file, then the run totals.
func printSummary(w io.Writer, s core.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tEXTRACTED\tREMOVED\tINSERTED\tSKIPPED\tFAILED\tNOTE")
	for _, f := range s.Files {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			f.FileName, fileStatus(f), f.Extracted, f.Removed, f.Inserted, f.Skipped, f.Failed, fileNote(f))
	}
	tw.Flush()

	fmt.Fprintf(w, "\nrun %s: %d files, %d succeeded, %d failed, %d already processed; %d records loaded, %d skipped, %d failed, %d removed in %s\n",
		s.RunID, s.FilesTotal, s.FilesSucceeded, s.FilesFailed, s.FilesSkipped,
		s.RecordsLoaded, s.RecordsSkipped, s.RecordsFailed, s.RecordsRemoved,
		s.Duration.Round(time.Millisecond))
}

func fileStatus(f core.FileReport) string {
	switch {
	case !f.Success:
		return "FAILED"
	case f.AlreadyProcessed:
		return "ALREADY_PROCESSED"
	default:
		return string(f.Status)
	}
}

func fileNote(f core.FileReport) string {
	if f.Err != nil {
		return f.Stage + ": " + core.FormatUserError(f.Err)
	}
	if len(f.Warnings) > 0 {
		return fmt.Sprintf("%d warnings", len(f.Warnings))
	}
	return ""
}

// printLogs writes execution logs as a table.
func printLogs(w io.Writer, logs []core.ExecutionLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tFILE\tSTATUS\tSTRATEGY\tREAD\tINSERTED\tDUPLICATE\tREJECTED\tFAILED\tMS")
	for _, l := range logs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			l.ID, l.StartedAt.Local().Format("2006-01-02 15:04:05"), l.FileName, l.Status, l.Strategy,
			l.RecordsRead, l.RecordsInserted, l.RecordsDuplicate, l.RecordsRejected, l.RecordsFailed, l.DurationMs)
	}
	tw.Flush()
}
