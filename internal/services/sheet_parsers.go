package services

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// ParseXLSX reads one worksheet into a RawTable. An empty sheet name selects
// the first sheet of the workbook.
func ParseXLSX(r io.Reader, sheet string) (*models.RawTable, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyInput
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	table := &models.RawTable{Format: models.FormatXLSX, Encoding: "utf-8"}
	for _, row := range rows {
		if isBlankRow(row) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}

	if len(table.Rows) == 0 {
		return nil, ErrEmptyInput
	}
	return table, nil
}

// ParseHTMLTable reads the first <table> of an HTML document. Header cells
// (<th>) and data cells (<td>) are treated alike; colspan is expanded with
// empty cells so columns stay aligned.
func ParseHTMLTable(r io.Reader) (*models.RawTable, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	tableSel := doc.Find("table").First()
	if tableSel.Length() == 0 {
		return nil, ErrEmptyInput
	}

	table := &models.RawTable{Format: models.FormatHTML, Encoding: "utf-8"}
	tableSel.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		// skip rows of nested tables
		if tr.Closest("table").Get(0) != tableSel.Get(0) {
			return
		}

		var row []string
		tr.Children().Filter("th,td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, collapseSpaces(cell.Text()))
			if span, ok := cell.Attr("colspan"); ok {
				var n int
				if _, err := fmt.Sscanf(span, "%d", &n); err == nil {
					for i := 1; i < n && i < 100; i++ {
						row = append(row, "")
					}
				}
			}
		})

		if !isBlankRow(row) {
			table.Rows = append(table.Rows, row)
		}
	})

	if len(table.Rows) == 0 {
		return nil, ErrEmptyInput
	}
	return table, nil
}

// ParseSource dispatches on the source format
func ParseSource(data []byte, format string, opts ParseOptions, sheet string) (*models.RawTable, error) {
	switch format {
	case "", models.FormatCSV:
		return ParseDelimited(data, opts)
	case models.FormatXLSX:
		return ParseXLSX(bytes.NewReader(data), sheet)
	case models.FormatHTML:
		decoded, _, err := DetectAndDecode(data)
		if err != nil {
			return nil, fmt.Errorf("encoding detection failed: %w", err)
		}
		return ParseHTMLTable(bytes.NewReader(decoded))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// FormatFromFileName guesses the source format from an upload name
func FormatFromFileName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xlsm"):
		return models.FormatXLSX
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return models.FormatHTML
	}
	return models.FormatCSV
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
