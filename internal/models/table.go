package models

// Source formats accepted by the parsers
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatHTML = "html"
)

// RawTable is the grid of cells produced by a parser, before header selection
type RawTable struct {
	Rows     [][]string `json:"rows"`
	Format   string     `json:"format"`
	Encoding string     `json:"encoding,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
}

// Table is a RawTable after header selection. Every row has len(Headers) cells.
type Table struct {
	Headers        []string   `json:"headers"`
	Rows           [][]string `json:"rows"`
	HeaderRowIndex int        `json:"header_row_index"`
	Warnings       []string   `json:"warnings,omitempty"`
}

// Samples returns up to n data rows
func (t *Table) Samples(n int) [][]string {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

// Column returns the values of one column across all data rows
func (t *Table) Column(i int) []string {
	out := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		if i < len(row) {
			out = append(out, row[i])
		}
	}
	return out
}
