package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/extract"
	"github.com/JonMunkholm/txnetl/internal/load"
	"github.com/JonMunkholm/txnetl/internal/store"
	"github.com/JonMunkholm/txnetl/internal/store/sqlite"
	"github.com/JonMunkholm/txnetl/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const header = "id_transacao;data_transacao;cliente;produto;categoria;valor;status_pagamento;data_pagamento\n"

const salesFile = header +
	"T1;15/03/2024;Ana;Notebook;Eletrônicos;\"R$ 2.500,00\";pago;16/03/2024\n" +
	"T2;16/03/2024;Bruno;Mouse;Periféricos;50,00;pendente;\n" +
	"T2;16/03/2024;Bruno;Mouse;Periféricos;50,00;pendente;\n" +
	"T3;16/03/2024;Carla;Teclado;Periféricos;-10,00;pago;\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type harness struct {
	store *sqlite.Store
	p     *Pipeline
	raw   string
	done  string
	rej   string
}

func newHarness(t *testing.T, ld Loader) *harness {
	t.Helper()
	s, err := sqlite.Open(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	if ld == nil {
		ld = load.New(s, load.DefaultConfig())
	}
	base := t.TempDir()
	h := &harness{
		store: s,
		raw:   filepath.Join(base, "raw"),
		done:  filepath.Join(base, "processed"),
		rej:   filepath.Join(base, "rejects"),
	}
	require.NoError(t, os.MkdirAll(h.raw, 0o755))

	h.p = New(extract.New(extract.Config{}), transform.New(transform.Config{}), ld, Config{
		ProcessedPath: h.done,
		RejectsPath:   h.rej,
		NewRunID:      func() string { return "run-1" },
	})
	return h
}

func TestRunDir_FaultIsolationAndIdempotency(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	writeFile(t, h.raw, "a_vendas.csv", salesFile)
	writeFile(t, h.raw, "b_copia.csv", salesFile)
	writeFile(t, h.raw, "c_quebrado.csv", "id_transacao,cliente\nT9,Ana\n")
	writeFile(t, h.raw, "notas.md", "ignored")

	summary, err := h.p.RunDir(ctx, h.raw)
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 3, summary.FilesTotal)
	assert.Equal(t, 2, summary.FilesSucceeded)
	assert.Equal(t, 1, summary.FilesFailed)
	assert.Equal(t, 1, summary.FilesSkipped)
	assert.Equal(t, 2, summary.RecordsLoaded)
	assert.Equal(t, 2, summary.RecordsSkipped)
	assert.True(t, summary.Failed())

	first, copied, broken := summary.Files[0], summary.Files[1], summary.Files[2]

	assert.True(t, first.Success)
	assert.Equal(t, 4, first.Extracted)
	assert.Equal(t, 2, first.Transformed)
	assert.Equal(t, 2, first.Removed)
	assert.Equal(t, core.LogSuccess, first.Status)

	assert.True(t, copied.Success)
	assert.True(t, copied.AlreadyProcessed)
	assert.Equal(t, first.ContentHash, copied.ContentHash)

	assert.False(t, broken.Success)
	assert.Equal(t, StageExtract, broken.Stage)
	assert.Equal(t, "SCHEMA001", broken.ErrorCode)
	assert.True(t, errors.Is(broken.Err, extract.ErrMissingColumns))

	logs, err := h.store.ListExecutionLogs(ctx, store.LogFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1, "only the first file reached the log")
	assert.Equal(t, 4, logs[0].RecordsRead)
	assert.Equal(t, 2, logs[0].RecordsRejected)
	assert.Equal(t, "delimited", logs[0].Details["format"])

	assert.FileExists(t, filepath.Join(h.done, "a_vendas.csv"))
	assert.FileExists(t, filepath.Join(h.done, "b_copia.csv"))
	assert.FileExists(t, filepath.Join(h.raw, "c_quebrado.csv"), "failed files stay in place")
}

func TestProcessFile_WritesRejectReport(t *testing.T) {
	h := newHarness(t, nil)
	path := writeFile(t, h.raw, "vendas.csv", salesFile)

	report := h.p.ProcessFile(context.Background(), path)
	require.True(t, report.Success, "%v", report.Err)

	f, err := os.Open(filepath.Join(h.rej, "vendas - rejected.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, rejectHeader, rows[0])

	keys := []string{rows[1][1], rows[2][1]}
	assert.ElementsMatch(t, []string{"T2", "T3"}, keys)
}

func TestRejectFileName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"vendas.csv", "vendas - rejected.csv"},
		{"data/raw/Março 2024.xlsx", "Março 2024 - rejected.csv"},
		{"noext", "noext - rejected.csv"},
	}
	for _, tt := range tests {
		if got := RejectFileName(tt.in); got != tt.want {
			t.Errorf("RejectFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// failingLoader fails files whose name matches and delegates the rest.
type failingLoader struct {
	Loader
	fail string
	err  error
}

func (l failingLoader) LoadWithStats(ctx context.Context, records []core.Transaction, file core.FileIdentity, stats load.Stats) core.LoadResult {
	if file.FileName == l.fail {
		return core.LoadResult{Err: l.err}
	}
	return l.Loader.LoadWithStats(ctx, records, file, stats)
}

// capturingLoader records what reaches the loader and delegates.
type capturingLoader struct {
	Loader
	got []core.Transaction
}

func (l *capturingLoader) LoadWithStats(ctx context.Context, records []core.Transaction, file core.FileIdentity, stats load.Stats) core.LoadResult {
	l.got = append(l.got, records...)
	return l.Loader.LoadWithStats(ctx, records, file, stats)
}

func TestProcessFile_SpreadsheetNumericAmount(t *testing.T) {
	s, err := sqlite.Open(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	ld := &capturingLoader{Loader: load.New(s, load.DefaultConfig())}
	h := newHarness(t, ld)

	path := filepath.Join(h.raw, "vendas.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	head := []any{"id_transacao", "data_transacao", "cliente", "produto", "categoria", "valor", "status_pagamento"}
	data := []any{"T1", "15/03/2024", "Ana", "Caneta", "Papelaria", 12.825, "Pago"}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &head))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &data))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	report := h.p.ProcessFile(context.Background(), path)
	require.True(t, report.Success, "%v", report.Err)
	require.Len(t, ld.got, 1)
	assert.Equal(t, "12.83", ld.got[0].Amount.StringFixed(2))
}

func TestRun_LoadFailureDoesNotStopRun(t *testing.T) {
	s, err := sqlite.Open(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	refused := errors.New("check idempotency: dial tcp: connection refused")
	h := newHarness(t, failingLoader{Loader: load.New(s, load.DefaultConfig()), fail: "a.csv", err: refused})

	a := writeFile(t, h.raw, "a.csv", salesFile)
	b := writeFile(t, h.raw, "b.csv", header+"T7;01/02/2024;Ana;Mouse;Periféricos;10,00;quitado;\n")

	summary := h.p.Run(context.Background(), []string{a, b})
	require.Len(t, summary.Files, 2)

	assert.False(t, summary.Files[0].Success)
	assert.Equal(t, StageLoad, summary.Files[0].Stage)
	assert.Equal(t, "DB004", summary.Files[0].ErrorCode)
	assert.FileExists(t, a)

	assert.True(t, summary.Files[1].Success)
	assert.Equal(t, 1, summary.Files[1].Inserted)
	assert.Equal(t, 1, summary.RecordsLoaded)
}

func TestRun_ExpandsDirectoriesAndReportsMissingFiles(t *testing.T) {
	h := newHarness(t, nil)
	writeFile(t, h.raw, "vendas.csv", salesFile)

	summary := h.p.Run(context.Background(), []string{h.raw, filepath.Join(h.raw, "missing.csv")})
	require.Len(t, summary.Files, 2)
	assert.True(t, summary.Files[0].Success)
	assert.False(t, summary.Files[1].Success)
	assert.Equal(t, "FILE004", summary.Files[1].ErrorCode)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t, nil)
	path := writeFile(t, h.raw, "vendas.csv", salesFile)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := h.p.Run(ctx, []string{path})
	require.Len(t, summary.Files, 1)
	assert.False(t, summary.Files[0].Success)
	assert.Equal(t, "RUN002", summary.Files[0].ErrorCode)
}

func TestRun_KeepsRunIDFromContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx := core.ContextWithRunID(context.Background(), "outer")
	summary := h.p.Run(ctx, nil)
	assert.Equal(t, "outer", summary.RunID)
	assert.Equal(t, 0, summary.FilesTotal)
	assert.False(t, summary.Failed())
}

func TestRunDir_MissingDirectory(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.p.RunDir(context.Background(), filepath.Join(h.raw, "nope"))
	assert.Error(t, err)
}

func TestMoveFile_KeepsExistingTarget(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, dst, "vendas.csv", "old")
	path := writeFile(t, src, "vendas.csv", "new")

	require.NoError(t, moveFile(path, dst, fixedTime))

	old, err := os.ReadFile(filepath.Join(dst, "vendas.csv"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
	assert.FileExists(t, filepath.Join(dst, "20240601T120000-vendas.csv"))
	assert.NoFileExists(t, path)
}
