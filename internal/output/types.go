// Package output renders batch reports as XLSX, CSV or JSON so operators
// can review per-item outcomes outside the admin API.
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/valpere/Importexter/internal/jobs"
)

// OutputFormat is a report format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
	FormatXLSX OutputFormat = "xlsx"
)

// ValidOutputFormats returns every supported format.
func ValidOutputFormats() []OutputFormat {
	return []OutputFormat{FormatJSON, FormatCSV, FormatXLSX}
}

// ParseFormat maps a query or flag value to a format. Empty means JSON.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	case "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// ContentType is the MIME type of a format.
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}

// Report is a completed batch.
type Report struct {
	SourceID    string         `json:"source_id,omitempty"`
	CategoryID  string         `json:"category_id,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
	Outcomes    []jobs.Outcome `json:"outcomes"`
	Summary     map[string]int `json:"summary"`
}

// NewReport builds a report and its per-status summary.
func NewReport(cfg jobs.BatchConfig, outcomes []jobs.Outcome) *Report {
	summary := make(map[string]int)
	for _, o := range outcomes {
		summary[string(o.Status)]++
	}
	return &Report{
		SourceID:    cfg.SourceID,
		CategoryID:  cfg.CategoryID,
		GeneratedAt: time.Now().UTC(),
		Outcomes:    outcomes,
		Summary:     summary,
	}
}

// Headers are the columns of tabular reports.
var Headers = []string{"#", "URL", "Status", "Slug", "Catalog ID", "Error", "Error Kind", "Duration (ms)"}

// rows flattens outcomes into cells in Headers order.
func (r *Report) rows() [][]interface{} {
	out := make([][]interface{}, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out = append(out, []interface{}{
			o.Index + 1,
			o.URL,
			string(o.Status),
			o.Slug,
			o.CatalogID,
			o.Error,
			o.ErrorKind,
			o.Duration.Milliseconds(),
		})
	}
	return out
}

// Filename suggests a download name for the report.
func (r *Report) Filename(f OutputFormat) string {
	return fmt.Sprintf("batch-%s.%s", r.GeneratedAt.Format("20060102-150405"), f)
}
