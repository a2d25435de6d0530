package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// encodeCSV writes a header row and one row per record. The csv writer
// quotes fields containing commas, quotes, or newlines and doubles
// embedded quotes; line endings are LF.
func encodeCSV(w io.Writer, fieldMap map[string]string, records []Record) error {
	cols := columnsFor(fieldMap)

	cw := csv.NewWriter(w)
	headers := make([]string, len(cols))
	for i, col := range cols {
		headers[i] = col.header
	}
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(cols))
	for i := range records {
		for j, col := range cols {
			row[j] = records[i].Value(col.key)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
