package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Writer renders a report.
type Writer interface {
	Write(out io.Writer, r *Report) error
}

// GetWriter returns the writer for format.
func GetWriter(format OutputFormat) (Writer, error) {
	switch format {
	case FormatJSON:
		return JSONWriter{}, nil
	case FormatCSV:
		return NewCSVWriter(), nil
	case FormatXLSX:
		return NewExcelWriter(DefaultExcelConfig()), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteFile renders r into filename, choosing the format from the
// extension when format is empty.
func WriteFile(filename string, format OutputFormat, r *Report) error {
	if format == "" {
		f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(filename), "."))
		if err != nil {
			f = FormatJSON
		}
		format = f
	}
	writer, err := GetWriter(format)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := writer.Write(file, r); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
