// Package export renders a report (full record set plus grouped summaries)
// as CSV, XLSX or PDF.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/backoffice/internal/report"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("export: unsupported format %q", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv"
	}
}

// Document is a report flattened into printable cells. Values mirrors Rows
// with numbers kept as float64 for spreadsheets; it may be nil.
type Document struct {
	Title       string
	Filters     []string
	Columns     []string
	Rows        [][]string
	Values      [][]any
	Summaries   []SummaryTable
	GeneratedAt time.Time
}

// SummaryTable is one grouped total in printable form, with the numeric
// values behind each printed row.
type SummaryTable struct {
	Name       string
	Signed     bool
	Headers    []string
	Rows       [][]string
	Values     [][]any
	Total      string
	TotalValue float64
}

// CellFunc renders one cell of a record.
type CellFunc func(rec report.Record, column string) string

// PlainCell renders the raw value of the column.
func PlainCell(rec report.Record, column string) string {
	return report.Stringify(rec[column])
}

var printer = message.NewPrinter(language.English)

// FormatAmount renders a number with grouping separators and two decimals.
func FormatAmount(v float64) string {
	return printer.Sprintf("%.2f", v)
}

// NewDocument flattens rep using columns and cell.
func NewDocument(title string, columns []string, rep report.Report[report.Record], cell CellFunc) Document {
	if cell == nil {
		cell = PlainCell
	}
	doc := Document{
		Title:       title,
		Columns:     columns,
		Rows:        make([][]string, 0, len(rep.Records)),
		GeneratedAt: rep.GeneratedAt,
	}
	for _, key := range rep.Criteria.Keys() {
		v, _ := rep.Criteria.Get(key)
		doc.Filters = append(doc.Filters, key+": "+report.FormatValue(v))
	}
	doc.Values = make([][]any, 0, len(rep.Records))
	for _, rec := range rep.Records {
		row := make([]string, len(columns))
		values := make([]any, len(columns))
		for i, col := range columns {
			row[i] = cell(rec, col)
			values[i] = row[i]
			if raw := rec[col]; isNumber(raw) && row[i] == report.Stringify(raw) {
				values[i] = report.ToFloat(raw)
			}
		}
		doc.Rows = append(doc.Rows, row)
		doc.Values = append(doc.Values, values)
	}
	for _, s := range rep.Summaries {
		doc.Summaries = append(doc.Summaries, summaryTable(s))
	}
	return doc
}

func summaryTable(s report.Summary) SummaryTable {
	t := SummaryTable{Name: s.Name, Signed: s.Signed}
	if s.Signed {
		t.Headers = []string{"Group", "Records", "Positive", "Negative", "Net"}
	} else {
		t.Headers = []string{"Group", "Records", "Total"}
	}
	for _, g := range s.Groups {
		amounts := []float64{g.Sum.InexactFloat64()}
		if s.Signed {
			amounts = []float64{g.PositiveSum.InexactFloat64(), g.NegativeSum.InexactFloat64(), g.Net().InexactFloat64()}
		}
		row := []string{g.Key, printer.Sprintf("%d", g.Count)}
		values := []any{g.Key, g.Count}
		for _, a := range amounts {
			row = append(row, FormatAmount(a))
			values = append(values, a)
		}
		t.Rows = append(t.Rows, row)
		t.Values = append(t.Values, values)
	}
	t.TotalValue = s.Total().InexactFloat64()
	t.Total = FormatAmount(t.TotalValue)
	return t
}

func isNumber(v any) bool {
	switch val := v.(type) {
	case json.Number:
		_, err := val.Float64()
		return err == nil
	case float64, float32, int, int64:
		return true
	default:
		return false
	}
}
