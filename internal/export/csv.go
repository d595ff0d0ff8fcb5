package export

import (
	"encoding/csv"
	"io"
)

// WriteCSV writes the rows followed by one block per summary.
func WriteCSV(w io.Writer, doc Document) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(doc.Columns); err != nil {
		return err
	}
	for _, row := range doc.Rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	for _, s := range doc.Summaries {
		if err := writer.Write([]string{}); err != nil {
			return err
		}
		if err := writer.Write([]string{s.Name}); err != nil {
			return err
		}
		if err := writer.Write(s.Headers); err != nil {
			return err
		}
		for _, row := range s.Rows {
			if err := writer.Write(row); err != nil {
				return err
			}
		}
		if err := writer.Write([]string{"Total", "", s.Total}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
