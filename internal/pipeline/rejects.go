package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JonMunkholm/txnetl/internal/core"
)

var rejectHeader = []string{"line", "business_key", "stage", "reason"}

// RejectFileName is the report name for a source file: "<name> - rejected.csv".
func RejectFileName(sourceFile string) string {
	base := filepath.Base(sourceFile)
	return strings.TrimSuffix(base, filepath.Ext(base)) + " - rejected.csv"
}

// writeRejects writes one CSV row per rejection into dir and returns the
// report path. An existing report for the same source name is replaced.
func writeRejects(dir, sourceFile string, rejections []core.Rejection) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create rejects directory: %w", err)
	}

	path := filepath.Join(dir, RejectFileName(sourceFile))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create reject report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(rejectHeader); err != nil {
		return "", fmt.Errorf("write reject report: %w", err)
	}
	for _, r := range rejections {
		row := []string{strconv.Itoa(r.Line), r.BusinessKey, r.Stage, r.Reason}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write reject report: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write reject report: %w", err)
	}
	return path, f.Close()
}
