package extract

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Table is the grid of cells read from one file, before header handling.
type Table struct {
	Rows      [][]string
	Lines     []int    // 1-based file line of each row; nil means row index + 1
	Numeric   [][]bool // cells holding machine-format numbers; nil for text formats
	Encoding  string
	Delimiter string
}

// Line returns the file line number of row i.
func (t *Table) Line(i int) int {
	if i < len(t.Lines) {
		return t.Lines[i]
	}
	return i + 1
}

// IsNumeric reports whether cell (i, j) holds a machine-format number.
func (t *Table) IsNumeric(i, j int) bool {
	return i < len(t.Numeric) && j < len(t.Numeric[i]) && t.Numeric[i][j]
}

// ReadFunc turns raw file bytes into a Table.
type ReadFunc func(data []byte) (*Table, error)

// Format describes one readable input format.
type Format struct {
	Name       string
	Extensions []string // lower-case, with leading dot
	Read       ReadFunc
}

var (
	formats   = make(map[string]Format)
	formatsMu sync.RWMutex
)

// Register adds a format to the registry under each of its extensions.
// Panics if an extension is already registered.
func Register(f Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()

	for _, ext := range f.Extensions {
		ext = strings.ToLower(ext)
		if existing, ok := formats[ext]; ok {
			panic(fmt.Sprintf("extension %s already registered by %s", ext, existing.Name))
		}
		formats[ext] = f
	}
}

// FormatFor returns the format registered for a path's extension.
func FormatFor(path string) (Format, bool) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()

	f, ok := formats[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// Extensions returns all registered extensions, sorted.
func Extensions() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()

	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func init() {
	Register(Format{Name: "delimited", Extensions: []string{".csv", ".txt", ".tsv"}, Read: readDelimited})
	Register(Format{Name: "spreadsheet", Extensions: []string{".xlsx", ".xlsm"}, Read: readSpreadsheet})
}
