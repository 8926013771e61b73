package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// readSpreadsheet reads the first sheet of a workbook. Cells are read raw so
// date cells arrive as serial numbers instead of locale-formatted text, and
// numeric cells are flagged so their machine-format values ("12.825") are
// not mistaken for grouped amounts.
func readSpreadsheet(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("empty file: workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: read sheet %q: %w", sheet, err)
	}

	numeric := make([][]bool, len(rows))
	for i, row := range rows {
		for j, v := range row {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				continue
			}
			isNum, err := numericCell(f, sheet, j+1, i+1)
			if err != nil {
				return nil, fmt.Errorf("open spreadsheet: %w", err)
			}
			if !isNum {
				continue
			}
			if numeric[i] == nil {
				numeric[i] = make([]bool, len(row))
			}
			numeric[i][j] = true
		}
	}

	return &Table{Rows: rows, Numeric: numeric, Encoding: "xlsx"}, nil
}

// numericCell reports whether the cell stores a number rather than text.
// Numbers carry no type attribute or an explicit "n".
func numericCell(f *excelize.File, sheet string, col, row int) (bool, error) {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return false, err
	}
	typ, err := f.GetCellType(sheet, cell)
	if err != nil {
		return false, fmt.Errorf("cell %s: %w", cell, err)
	}
	return typ == excelize.CellTypeUnset || typ == excelize.CellTypeNumber, nil
}
