package output

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVWriter renders reports as CSV with a header row.
type CSVWriter struct {
	// Comma overrides the field delimiter; zero means ','
	Comma rune
}

func NewCSVWriter() *CSVWriter {
	return &CSVWriter{}
}

func (w *CSVWriter) Write(out io.Writer, r *Report) error {
	writer := csv.NewWriter(out)
	if w.Comma != 0 {
		writer.Comma = w.Comma
	}

	if err := writer.Write(Headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range r.rows() {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprint(v)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
