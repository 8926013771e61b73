package transform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestTransformer() *Transformer {
	return New(Config{Now: func() time.Time { return fixedNow }})
}

// row builds a raw record with Portuguese headers, the way the legacy exports
// arrive.
func row(line int, id, date, customer, product, category, amount, status, paid string) core.RawRecord {
	return core.RawRecord{
		Line: line,
		Fields: map[string]string{
			"id_transacao":     id,
			"data_transacao":   date,
			"cliente":          customer,
			"produto":          product,
			"categoria":        category,
			"valor":            amount,
			"status_pagamento": status,
			"data_pagamento":   paid,
		},
	}
}

func stats(t *testing.T, res core.TransformationResult, name string) core.StageStats {
	t.Helper()
	for _, s := range res.StageStats {
		if s.Stage == name {
			return s
		}
	}
	t.Fatalf("stage %s not reported", name)
	return core.StageStats{}
}

func TestTransform_HappyPath(t *testing.T) {
	res := newTestTransformer().Transform([]core.RawRecord{
		row(2, "T1", "15/03/2024", "Ana", "Notebook", "Eletrônicos", "R$ 2.500,00", "pago", "16/03/2024"),
	}, "vendas.csv")

	require.True(t, res.Success, "Transform() err = %v", res.Err)
	require.Len(t, res.Records, 1)

	tx := res.Records[0]
	assert.Equal(t, "T1", tx.BusinessKey)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), tx.TransactionDate)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(2500)), "Amount = %s", tx.Amount)
	assert.Equal(t, core.StatusPaid, tx.Status)
	require.NotNil(t, tx.PaymentDate)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), *tx.PaymentDate)
	assert.Equal(t, 2024, tx.Year)
	assert.Equal(t, 3, tx.Month)
	assert.Equal(t, 4, tx.Weekday, "2024-03-15 is a Friday")
	assert.Equal(t, 1, tx.Quarter)
	assert.Equal(t, "vendas.csv", tx.SourceFile)
	assert.Equal(t, "Eletrônicos", tx.Category)

	assert.Equal(t, 1, res.InputCount)
	assert.Equal(t, 1, res.OutputCount)
	assert.Equal(t, 0, res.RemovedCount)
	assert.Empty(t, res.Warnings)
}

func TestTransform_StagesRunInOrder(t *testing.T) {
	res := newTestTransformer().Transform(nil, "empty.csv")
	require.True(t, res.Success)

	want := []string{
		StageNormalizeColumns, StageCoerceTypes, StageHandleNulls, StageNormalizeStatus,
		StageDeriveFields, StageDeduplicate, StageValidateQuality, StageProject,
	}
	var got []string
	for _, s := range res.StageStats {
		got = append(got, s.Stage)
	}
	assert.Equal(t, want, got)
	assert.Empty(t, res.Records)
}

func TestTransform_StatusMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want core.PaymentStatus
	}{
		{"Cancelled", core.StatusCancelled},
		{"quitado", core.StatusPaid},
		{"  PAGO ", core.StatusPaid},
		{"Concluído", core.StatusPaid},
		{"em aberto", core.StatusPending},
		{"Em_Atraso", core.StatusLate},
		{"vencido", core.StatusLate},
		{"estornado", core.StatusCancelled},
		{"LATE", core.StatusLate},
		{"xyz-unknown", core.StatusPending},
		{"", core.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			res := newTestTransformer().Transform([]core.RawRecord{
				row(2, "T1", "2024-03-15", "Ana", "Mouse", "Periféricos", "50.00", tt.raw, ""),
			}, "f.csv")
			require.True(t, res.Success)
			require.Len(t, res.Records, 1)
			assert.Equal(t, tt.want, res.Records[0].Status)
		})
	}
}

func TestTransform_UnmappedStatusWarns(t *testing.T) {
	res := newTestTransformer().Transform([]core.RawRecord{
		row(2, "T1", "2024-03-15", "Ana", "Mouse", "P", "10", "xyz-unknown", ""),
		row(3, "T2", "2024-03-15", "Ana", "Mouse", "P", "10", "xyz-unknown", ""),
		row(4, "T3", "2024-03-15", "Ana", "Mouse", "P", "10", "pago", ""),
	}, "f.csv")
	require.True(t, res.Success)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], `"xyz-unknown"`)
	assert.Contains(t, res.Warnings[0], "2 records")
	assert.Equal(t, 2, stats(t, res, StageNormalizeStatus).Counters["status_defaulted"])
	assert.Equal(t, 1, stats(t, res, StageNormalizeStatus).Counters["status_mapped"])
}

func TestTransform_ExtraSynonymsAppended(t *testing.T) {
	table := DefaultStatusTable().With([]StatusSynonym{
		{Synonym: "inadimplente", Status: core.StatusLate},
		{Synonym: "pago", Status: core.StatusCancelled}, // built-in wins
	})
	tr := New(Config{Statuses: table, Now: func() time.Time { return fixedNow }})

	res := tr.Transform([]core.RawRecord{
		row(2, "T1", "2024-03-15", "Ana", "Mouse", "P", "10", "Inadimplente", ""),
		row(3, "T2", "2024-03-15", "Ana", "Mouse", "P", "10", "pago", ""),
	}, "f.csv")
	require.True(t, res.Success)
	require.Len(t, res.Records, 2)
	assert.Equal(t, core.StatusLate, res.Records[0].Status)
	assert.Equal(t, core.StatusPaid, res.Records[1].Status)
}

func TestTransform_NullHandling(t *testing.T) {
	res := newTestTransformer().Transform([]core.RawRecord{
		row(2, "T1", "2024-03-15", "", "Mouse", "nan", "10", "pago", ""),
		row(3, "", "2024-03-15", "Ana", "Mouse", "P", "10", "pago", ""),
		row(4, "T3", "", "Ana", "Mouse", "P", "10", "pago", ""),
		row(5, "T4", "2024-03-15", "Ana", "Mouse", "P", "", "pago", ""),
		row(6, "T5", "not a date", "Ana", "Mouse", "P", "10", "pago", ""),
		row(7, "T6", "2024-03-15", "Ana", "Mouse", "P", "abc", "pago", ""),
	}, "f.csv")
	require.True(t, res.Success)

	require.Len(t, res.Records, 1)
	assert.Equal(t, core.UnknownValue, res.Records[0].Customer)
	assert.Equal(t, core.UnknownValue, res.Records[0].Category)

	s := stats(t, res, StageHandleNulls)
	assert.Equal(t, 6, s.In)
	assert.Equal(t, 1, s.Out)
	assert.Equal(t, 1, s.Counters["dropped_missing_business_key"])
	assert.Equal(t, 2, s.Counters["dropped_missing_transaction_date"])
	assert.Equal(t, 2, s.Counters["dropped_missing_amount"])
	assert.Equal(t, 1, stats(t, res, StageCoerceTypes).Counters["date_invalid"])
	assert.Equal(t, 1, stats(t, res, StageCoerceTypes).Counters["amount_invalid"])

	assert.Equal(t, 5, res.RemovedCount)
	require.Len(t, res.Rejections, 5)
	assert.Equal(t, 3, res.Rejections[0].Line)
	assert.Equal(t, StageHandleNulls, res.Rejections[0].Stage)
}

func TestTransform_DeduplicateKeepsFirst(t *testing.T) {
	base := []core.RawRecord{
		row(2, "T1", "2024-03-15", "Ana", "Mouse", "P", "10", "pago", ""),
		row(3, "T2", "2024-03-15", "Ana", "Mouse", "P", "20", "pago", ""),
	}
	res := newTestTransformer().Transform(base, "f.csv")
	require.True(t, res.Success)
	assert.Equal(t, 0, res.DuplicatesRemoved)

	withDup := append(base, row(4, "T1", "2024-03-16", "Bruno", "Teclado", "P", "99", "pendente", ""))
	res = newTestTransformer().Transform(withDup, "f.csv")
	require.True(t, res.Success)

	assert.Equal(t, 1, res.DuplicatesRemoved)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Ana", res.Records[0].Customer, "first occurrence wins")
	require.Len(t, res.Rejections, 1)
	assert.Contains(t, res.Rejections[0].Reason, "line 2")
}

func TestTransform_QualityRules(t *testing.T) {
	res := newTestTransformer().Transform([]core.RawRecord{
		row(2, "T1", "2024-03-15", "Ana", "Mouse", "P", "-10,00", "pago", ""),
		row(3, "T2", "2024-12-25", "Ana", "Mouse", "P", "10", "pago", ""),
		row(4, "T3", "2024-03-15", "Ana", "Mouse", "P", "(5,00)", "pago", ""),
		row(5, "T4", "2024-03-15", "Ana", "Mouse", "P", "0", "pago", "2024-03-10"),
		row(6, "T5", "2024-06-01", "Ana", "Mouse", "P", "10", "pago", ""),
	}, "f.csv")
	require.True(t, res.Success)

	s := stats(t, res, StageValidateQuality)
	assert.Equal(t, 2, s.Counters["dropped_negative_amount"])
	assert.Equal(t, 1, s.Counters["dropped_future_date"])
	assert.Equal(t, 1, s.Counters["payment_date_repaired"])
	assert.Equal(t, 1, res.RepairedCount)

	require.Len(t, res.Records, 2)
	repaired := res.Records[0]
	assert.Equal(t, "T4", repaired.BusinessKey)
	require.NotNil(t, repaired.PaymentDate)
	assert.Equal(t, repaired.TransactionDate, *repaired.PaymentDate)
	assert.True(t, repaired.Amount.IsZero(), "zero amount is allowed")
	assert.Equal(t, "T5", res.Records[1].BusinessKey, "today is not the future")

	// Repairs keep the record, so they do not count as removed.
	assert.Equal(t, 3, res.RemovedCount)
}

func TestTransform_OutputInvariants(t *testing.T) {
	res := newTestTransformer().Transform([]core.RawRecord{
		row(2, "A", "01/02/2024", "", "x", "", "1.234,56", "PAID", ""),
		row(3, "B", "2024-02-29", "c", "x", "k", "(3)", "pendente", ""),
		row(4, "A", "2024-02-29", "c", "x", "k", "3", "pendente", ""),
		row(5, "C", "45366", "c", "x", "k", "3", "bogus", "45360"),
		row(6, "D", "2030-01-01", "c", "x", "k", "3", "late", ""),
	}, "f.csv")
	require.True(t, res.Success)

	assert.Equal(t, res.InputCount-res.OutputCount, res.RemovedCount)
	assert.LessOrEqual(t, res.OutputCount, res.InputCount)

	keys := make(map[string]bool)
	for _, tx := range res.Records {
		assert.False(t, keys[tx.BusinessKey], "duplicate key %s", tx.BusinessKey)
		keys[tx.BusinessKey] = true
		assert.True(t, tx.Status.Valid())
		assert.False(t, tx.Amount.IsNegative())
		assert.False(t, tx.TransactionDate.After(fixedNow))
		assert.NotEmpty(t, tx.Customer)
		assert.NotEmpty(t, tx.Category)
		if tx.PaymentDate != nil {
			assert.False(t, tx.PaymentDate.Before(tx.TransactionDate))
		}
		assert.Equal(t, tx.TransactionDate.Year(), tx.Year)
		assert.Equal(t, int(tx.TransactionDate.Month()), tx.Month)
		assert.Equal(t, core.Quarter(tx.TransactionDate.Month()), tx.Quarter)
	}
	assert.Equal(t, map[string]bool{"A": true, "C": true}, keys)
}

func TestTransform_EnglishHeadersAndMissingPaymentDate(t *testing.T) {
	res := newTestTransformer().Transform([]core.RawRecord{{
		Line: 2,
		Fields: map[string]string{
			"Transaction ID":   "X1",
			"Transaction Date": "2024-01-05",
			"Customer":         "Acme",
			"Product":          "Widget",
			"Category":         "Tools",
			"Amount":           "$1,250.75",
			"Payment Status":   "Completed",
			"Notes":            "ignored",
		},
	}}, "en.csv")
	require.True(t, res.Success)
	require.Len(t, res.Records, 1)

	tx := res.Records[0]
	assert.Nil(t, tx.PaymentDate)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("1250.75")), "Amount = %s", tx.Amount)
	assert.Equal(t, core.StatusPaid, tx.Status)

	s := stats(t, res, StageNormalizeColumns)
	assert.Equal(t, 1, s.Counters["columns_ignored"])
	assert.Equal(t, 7, s.Counters["columns_renamed"])
}

func TestTransform_Deterministic(t *testing.T) {
	in := []core.RawRecord{
		row(2, "T1", "2024-03-15", "Ana", "Mouse", "P", "10", "zzz", ""),
		row(3, "T2", "2024-03-15", "Ana", "Mouse", "P", "10", "aaa", ""),
		row(4, "T1", "2024-03-15", "Ana", "Mouse", "P", "10", "pago", ""),
	}
	a := newTestTransformer().Transform(in, "f.csv")
	b := newTestTransformer().Transform(in, "f.csv")
	assert.Equal(t, a.Records, b.Records)
	assert.Equal(t, a.Warnings, b.Warnings)
	assert.Equal(t, a.StageStats, b.StageStats)
}

func TestLoadStatusSynonyms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.yaml")
	content := "late: [inadimplente]\nPAID:\n  - liquidado total\n  - ok\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	extra, err := LoadStatusSynonyms(path)
	require.NoError(t, err)
	assert.Equal(t, []StatusSynonym{
		{Synonym: "liquidado total", Status: core.StatusPaid},
		{Synonym: "ok", Status: core.StatusPaid},
		{Synonym: "inadimplente", Status: core.StatusLate},
	}, extra)

	table := DefaultStatusTable().With(extra)
	assert.Equal(t, DefaultStatusTable().Len()+3, table.Len())
	got, ok := table.Lookup("OK")
	assert.True(t, ok)
	assert.Equal(t, core.StatusPaid, got)
}

func TestLoadStatusSynonyms_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadStatusSynonyms(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("REFUNDED: [x]\n"), 0o644))
	_, err = LoadStatusSynonyms(bad)
	assert.ErrorContains(t, err, "unknown status")
}

func TestTransform_RepeatedColumnFollowsHeaderOrder(t *testing.T) {
	fields := map[string]string{
		"id_transacao":     "T1",
		"data_transacao":   "15/03/2024",
		"cliente":          "Ana",
		"valor":            "100,00",
		"amount":           "999,00",
		"status_pagamento": "pago",
	}

	tests := []struct {
		name    string
		columns []string
		want    string
	}{
		{name: "valor first", columns: []string{"id_transacao", "data_transacao", "cliente", "valor", "amount", "status_pagamento"}, want: "100"},
		{name: "amount first", columns: []string{"id_transacao", "data_transacao", "cliente", "amount", "valor", "status_pagamento"}, want: "999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestTransformer().Transform([]core.RawRecord{{Line: 2, Fields: fields, Columns: tt.columns}}, "f.csv")
			require.True(t, res.Success)
			require.Len(t, res.Records, 1)
			assert.True(t, res.Records[0].Amount.Equal(decimal.RequireFromString(tt.want)), "Amount = %s", res.Records[0].Amount)
			assert.Equal(t, 1, stats(t, res, StageNormalizeColumns).Counters["columns_ignored"])
		})
	}
}

func TestTransform_NumericAmountSkipsLocaleGrouping(t *testing.T) {
	numeric := row(2, "T1", "15/03/2024", "Ana", "Mouse", "P", "12.825", "pago", "")
	numeric.Numeric = map[string]bool{"valor": true}
	text := row(3, "T2", "15/03/2024", "Ana", "Mouse", "P", "12.825", "pago", "")

	res := newTestTransformer().Transform([]core.RawRecord{numeric, text}, "f.xlsx")
	require.True(t, res.Success)
	require.Len(t, res.Records, 2)

	assert.True(t, res.Records[0].Amount.Equal(decimal.RequireFromString("12.83")), "numeric Amount = %s", res.Records[0].Amount)
	assert.True(t, res.Records[1].Amount.Equal(decimal.RequireFromString("12825")), "text Amount = %s", res.Records[1].Amount)
}

func TestTransform_TwoDigitYearPivotsOnClock(t *testing.T) {
	res := newTestTransformer().Transform([]core.RawRecord{
		row(2, "T1", "15/03/45", "Ana", "Mouse", "P", "10", "pago", ""),
	}, "f.csv")
	require.True(t, res.Success)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 1945, res.Records[0].Year)
}
