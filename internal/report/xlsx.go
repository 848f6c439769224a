package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// DefaultSheet is the worksheet name used when none is given.
const DefaultSheet = "Report"

// WriteXLSX renders rows as a single-sheet workbook using the same columns as
// WriteCSV. Empty input produces a workbook with an empty sheet.
func WriteXLSX(w io.Writer, sheet string, rows []Row) error {
	if sheet == "" {
		sheet = DefaultSheet
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}
	cols := columns(rows)
	if len(cols) > 0 {
		header := make([]any, len(cols))
		for i, c := range cols {
			header[i] = c
		}
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return err
		}
		for n, r := range rows {
			values := make([]any, len(cols))
			for i, c := range cols {
				values[i] = cell(r, c)
			}
			addr, err := excelize.CoordinatesToCellName(1, n+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, addr, &values); err != nil {
				return err
			}
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return nil
}
