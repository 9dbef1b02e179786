package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// DefaultExcelMaxCellLength is the maximum characters in a single cell.
const DefaultExcelMaxCellLength = 32767

// ExcelConfig controls the XLSX layout.
type ExcelConfig struct {
	SheetName    string
	AutoFilter   bool
	FreezePane   bool
	ColumnWidths map[string]float64
}

// DefaultExcelConfig is used for API and CLI exports.
func DefaultExcelConfig() ExcelConfig {
	return ExcelConfig{
		SheetName:  "Batch",
		AutoFilter: true,
		FreezePane: true,
		ColumnWidths: map[string]float64{
			"A": 6, "B": 60, "C": 16, "D": 40, "E": 38, "F": 60, "G": 24, "H": 14,
		},
	}
}

// ExcelWriter renders reports as XLSX workbooks with an outcome sheet and a
// summary sheet.
type ExcelWriter struct {
	config ExcelConfig
}

func NewExcelWriter(config ExcelConfig) *ExcelWriter {
	if config.SheetName == "" {
		config.SheetName = "Batch"
	}
	return &ExcelWriter{config: config}
}

func (w *ExcelWriter) Write(out io.Writer, r *Report) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := w.config.SheetName
	if def := file.GetSheetName(0); def != sheet {
		if err := file.SetSheetName(def, sheet); err != nil {
			return err
		}
	}

	header, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}

	if err := writeRow(file, sheet, 1, toCells(Headers)); err != nil {
		return err
	}
	lastCol := columnName(len(Headers))
	if err := file.SetCellStyle(sheet, "A1", lastCol+"1", header); err != nil {
		return err
	}

	failed, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "9C0006"},
	})
	if err != nil {
		return err
	}
	for i, row := range r.rows() {
		n := i + 2
		if err := writeRow(file, sheet, n, row); err != nil {
			return err
		}
		if row[2] == "failed" {
			if err := file.SetCellStyle(sheet, "C"+strconv.Itoa(n), "C"+strconv.Itoa(n), failed); err != nil {
				return err
			}
		}
	}

	for col, width := range w.config.ColumnWidths {
		if err := file.SetColWidth(sheet, col, col, width); err != nil {
			return err
		}
	}
	if w.config.AutoFilter {
		ref := fmt.Sprintf("A1:%s%d", lastCol, len(r.Outcomes)+1)
		if err := file.AutoFilter(sheet, ref, nil); err != nil {
			return err
		}
	}
	if w.config.FreezePane {
		if err := file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}

	if err := w.writeSummary(file, r, header); err != nil {
		return err
	}
	_, err = file.WriteTo(out)
	return err
}

func (w *ExcelWriter) writeSummary(file *excelize.File, r *Report, header int) error {
	const sheet = "Summary"
	if _, err := file.NewSheet(sheet); err != nil {
		return err
	}
	if err := writeRow(file, sheet, 1, []interface{}{"Status", "Count"}); err != nil {
		return err
	}
	if err := file.SetCellStyle(sheet, "A1", "B1", header); err != nil {
		return err
	}

	statuses := make([]string, 0, len(r.Summary))
	for s := range r.Summary {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	row := 2
	for _, s := range statuses {
		if err := writeRow(file, sheet, row, []interface{}{s, r.Summary[s]}); err != nil {
			return err
		}
		row++
	}
	return writeRow(file, sheet, row, []interface{}{"total", len(r.Outcomes)})
}

func writeRow(file *excelize.File, sheet string, row int, values []interface{}) error {
	for i, v := range values {
		if s, ok := v.(string); ok && len(s) > DefaultExcelMaxCellLength {
			v = s[:DefaultExcelMaxCellLength]
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := file.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// columnName converts a 1-based column number to its letter name.
func columnName(n int) string {
	name, err := excelize.ColumnNumberToName(n)
	if err != nil {
		return "A"
	}
	return name
}
