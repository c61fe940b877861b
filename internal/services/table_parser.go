package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// ParseOptions controls delimited text parsing
type ParseOptions struct {
	// Delimiter forces the field separator. Zero means sniff it from the first line.
	Delimiter rune
}

var candidateDelimiters = []rune{',', ';', '\t', '|'}

// ParseDelimited parses delimited text into a RawTable. Quoted fields may
// contain the delimiter, line breaks and doubled quotes. Blank lines are skipped.
func ParseDelimited(data []byte, opts ParseOptions) (*models.RawTable, error) {
	decoded, encoding, err := DetectAndDecode(data)
	if err != nil {
		return nil, fmt.Errorf("encoding detection failed: %w", err)
	}

	delimiter := opts.Delimiter
	if delimiter == 0 {
		delimiter = SniffDelimiter(decoded)
	}
	if !ValidDelimiter(delimiter) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDelimiter, delimiter)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.Comma = delimiter
	// Rows are padded or truncated later against the chosen header
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	table := &models.RawTable{
		Format:   models.FormatCSV,
		Encoding: encoding,
	}

	line := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if err != nil {
			table.Warnings = append(table.Warnings, fmt.Sprintf("line %d: parse error: %v", line, err))
			continue
		}
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

// ValidDelimiter reports whether r can separate fields in a delimited file
func ValidDelimiter(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' &&
		utf8.ValidRune(r) && r != utf8.RuneError
}

// SniffDelimiter picks the candidate separator that occurs most often outside
// quotes on the first non-blank line. Ties and no hits fall back to a comma.
func SniffDelimiter(data []byte) rune {
	var first string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			first = line
			break
		}
	}

	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range first {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', counts[',']
	for _, d := range candidateDelimiters[1:] {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// SelectHeader splits a raw table at the header row. Rows before the header
// are discarded; data rows are padded or truncated to the header width.
func SelectHeader(raw *models.RawTable, headerRow int) (*models.Table, error) {
	if raw == nil || len(raw.Rows) == 0 {
		return nil, ErrEmptyInput
	}
	if headerRow < 0 || headerRow >= len(raw.Rows) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrHeaderRowOutOfRange, headerRow, len(raw.Rows))
	}

	headers := uniqueHeaders(raw.Rows[headerRow])
	width := len(headers)

	table := &models.Table{
		Headers:        headers,
		HeaderRowIndex: headerRow,
		Rows:           make([][]string, 0, len(raw.Rows)-headerRow-1),
		Warnings:       append([]string(nil), raw.Warnings...),
	}

	for i, row := range raw.Rows[headerRow+1:] {
		switch {
		case len(row) < width:
			padded := make([]string, width)
			copy(padded, row)
			row = padded
		case len(row) > width:
			if !isBlankRow(row[width:]) {
				table.Warnings = append(table.Warnings,
					fmt.Sprintf("row %d has %d columns, expected %d; truncating extra columns", i, len(row), width))
			}
			row = row[:width]
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// uniqueHeaders trims header cells, names blank ones and suffixes duplicates
func uniqueHeaders(row []string) []string {
	headers := make([]string, len(row))
	seen := make(map[string]int, len(row))

	for i, cell := range row {
		h := strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("Column %d", i+1)
		}
		if seen[h] > 0 {
			base := h
			for n := seen[base] + 1; ; n++ {
				h = fmt.Sprintf("%s (%d)", base, n)
				if seen[h] == 0 {
					seen[base] = n
					break
				}
			}
		}
		seen[h]++
		headers[i] = h
	}
	return headers
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
