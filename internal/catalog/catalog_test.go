package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCatalog(t *testing.T) {
	path := writeFile(t, "catalogo.csv",
		"Categoria;Produto;Descrição;Preço\n"+
			"Eletrônicos;Notebook;15 polegadas;\"R$ 2.500,00\"\n"+
			"\n"+
			"Periféricos;Mouse;;49,90\n"+
			"Periféricos;;sem nome;10,00\n"+
			"Periféricos;Teclado;;abc\n")

	entries, rejected, err := ReadCatalog(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Eletrônicos", entries[0].Category)
	assert.Equal(t, "Notebook", entries[0].Product)
	assert.Equal(t, "15 polegadas", entries[0].Description)
	assert.True(t, entries[0].Price.Equal(decimal.RequireFromString("2500.00")))
	assert.True(t, entries[1].Price.Equal(decimal.RequireFromString("49.90")))

	require.Len(t, rejected, 2)
	assert.Equal(t, 5, rejected[0].Line)
	assert.Contains(t, rejected[1].Reason, "abc")
}

func TestReadCatalog_MissingColumns(t *testing.T) {
	path := writeFile(t, "catalogo.csv", "categoria,descricao\nA,B\n")
	_, _, err := ReadCatalog(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumns))
	assert.Contains(t, err.Error(), "product, price")
}

func TestReadItems(t *testing.T) {
	path := writeFile(t, "itens.csv",
		"id_transacao,produto,quantidade,preco_unitario,valor_total\n"+
			"T1,Mouse,2,\"49,90\",\n"+
			"T1,Notebook,1,2500.00,2400.00\n"+
			"T2,Mouse,0,49.90,\n"+
			",Mouse,1,49.90,\n"+
			"T3,Mouse,1,49.90,-49.90\n")

	items, rejected, err := ReadItems(path)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, items[0].Total.Equal(decimal.RequireFromString("99.80")), "total computed: %s", items[0].Total)
	assert.True(t, items[1].Total.Equal(decimal.RequireFromString("2400.00")), "explicit total kept")

	require.Len(t, rejected, 3)
	assert.Contains(t, rejected[0].Reason, "quantity")
	assert.Equal(t, 6, rejected[2].Line)
	assert.Contains(t, rejected[2].Reason, `invalid total "-49.90"`)
}

func TestReadCatalog_SpreadsheetNumericPrice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogo.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	head := []any{"categoria", "produto", "preco"}
	number := []any{"Papelaria", "Caneta", 12.825}
	text := []any{"Papelaria", "Caderno", "1.500"}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &head))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &number))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &text))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	entries, rejected, err := ReadCatalog(path)
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Len(t, entries, 2)
	assert.Equal(t, "12.83", entries[0].Price.StringFixed(2))
	assert.Equal(t, "1500.00", entries[1].Price.StringFixed(2))
}

func TestLoadCatalogAndItems(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(ctx, sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(ctx))

	cat := writeFile(t, "catalogo.csv",
		"category,product,price\n"+
			"Periféricos,Mouse,49.90\n"+
			"Periféricos,Teclado,120.00\n"+
			"Eletrônicos,Notebook,2500.00\n")

	res, err := LoadCatalog(ctx, s, cat)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Read)
	assert.Equal(t, 2, res.Categories)
	assert.Equal(t, 3, res.Products)

	again, err := LoadCatalog(ctx, s, cat)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Categories)
	assert.Equal(t, 0, again.Products)
	assert.Equal(t, 3, again.Skipped)

	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	_, err = s.InsertBatch(ctx, []core.Transaction{{
		BusinessKey: "T1", TransactionDate: date, Customer: "Ana", Product: "Mouse",
		Category: "Periféricos", Amount: decimal.RequireFromString("99.80"), Status: core.StatusPaid,
		Year: 2024, Month: 3, Weekday: 4, Quarter: 1, SourceFile: "vendas.csv", IngestedAt: date,
	}})
	require.NoError(t, err)

	items := writeFile(t, "itens.csv",
		"transaction_id,product,quantity,unit_price\n"+
			"T1,Mouse,2,49.90\n"+
			"T1,Teclado,1,120.00\n"+
			"T1,Monitor,1,900.00\n"+
			"T9,Mouse,1,49.90\n")

	ir, err := LoadItems(ctx, s, items)
	require.NoError(t, err)
	assert.Equal(t, 4, ir.Read)
	assert.Equal(t, 2, ir.Inserted)
	assert.Equal(t, 2, ir.Skipped, "unknown product and unknown transaction")
}

func TestLoadItems_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "itens.json", "{}")
	_, err := LoadItems(context.Background(), nil, path)
	require.Error(t, err)
	assert.Equal(t, "FILE002", core.MapError(err).Code)
}
