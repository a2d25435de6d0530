package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Events"

// encodeXLSX writes a single-sheet workbook with the same columns as the
// CSV format.
func encodeXLSX(w io.Writer, fieldMap map[string]string, records []Record) error {
	cols := columnsFor(fieldMap)

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // workbook already flushed by Write

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, col := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell name: %w", err)
		}
		if err := f.SetCellValue(xlsxSheet, cell, col.header); err != nil {
			return fmt.Errorf("write header cell: %w", err)
		}
	}

	for rowIdx := range records {
		for colIdx, col := range cols {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("cell name: %w", err)
			}
			if err := f.SetCellValue(xlsxSheet, cell, records[rowIdx].Value(col.key)); err != nil {
				return fmt.Errorf("write cell: %w", err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
