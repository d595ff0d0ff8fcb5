package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	rowsSheet    = "Report"
	summarySheet = "Summary"
)

// amountFormat is the built-in "#,##0.00" number format.
const amountFormat = 4

// WriteXLSX writes a workbook with the rows on one sheet and the summaries
// on a second one. Numbers are written as numeric cells so the workbook can
// compute with them; summary amounts carry a two-decimal format.
func WriteXLSX(w io.Writer, doc Document) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", rowsSheet); err != nil {
		return fmt.Errorf("export: rename sheet: %w", err)
	}
	if err := writeSheetRows(f, rowsSheet, 1, toCells(doc.Columns)); err != nil {
		return err
	}
	for i, row := range doc.Rows {
		cells := toCells(row)
		if i < len(doc.Values) && len(doc.Values[i]) == len(row) {
			cells = doc.Values[i]
		}
		if err := writeSheetRows(f, rowsSheet, i+2, cells); err != nil {
			return err
		}
	}

	if len(doc.Summaries) > 0 {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return fmt.Errorf("export: new sheet: %w", err)
		}
		style, err := f.NewStyle(&excelize.Style{NumFmt: amountFormat})
		if err != nil {
			return fmt.Errorf("export: amount style: %w", err)
		}
		line := 1
		for _, s := range doc.Summaries {
			if err := writeSheetRows(f, summarySheet, line, []any{s.Name}); err != nil {
				return err
			}
			line++
			if err := writeSheetRows(f, summarySheet, line, toCells(s.Headers)); err != nil {
				return err
			}
			line++
			first := line
			for i, row := range s.Rows {
				cells := toCells(row)
				if i < len(s.Values) && len(s.Values[i]) == len(row) {
					cells = s.Values[i]
				}
				if err := writeSheetRows(f, summarySheet, line, cells); err != nil {
					return err
				}
				line++
			}
			var total any = s.TotalValue
			if len(s.Values) != len(s.Rows) {
				total = s.Total
			}
			if err := writeSheetRows(f, summarySheet, line, []any{"Total", "", total}); err != nil {
				return err
			}
			if err := styleAmounts(f, first, line, len(s.Headers), style); err != nil {
				return err
			}
			line += 2
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}

// styleAmounts formats the amount columns (third onwards) of rows first..last.
func styleAmounts(f *excelize.File, first, last, columns, style int) error {
	if columns < 3 {
		columns = 3
	}
	from, err := excelize.CoordinatesToCellName(3, first)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(columns, last)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, from, to, style); err != nil {
		return fmt.Errorf("export: style %s:%s: %w", from, to, err)
	}
	return nil
}

func writeSheetRows(f *excelize.File, sheet string, line int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("export: write %s row %d: %w", sheet, line, err)
	}
	return nil
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
