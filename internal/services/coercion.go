package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// numberTokenRe finds the first numeric run, sign included. Ranges such as
// "100 a 200" or "100-200" therefore yield their lower bound.
var numberTokenRe = regexp.MustCompile(`-?\d[\d.,]*`)

var affirmativeTokens = map[string]bool{
	"true": true,
	"1":    true,
	"yes":  true,
	"sim":  true,
	"s":    true,
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2/1/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
}

// Coerce converts a raw cell into the Go value of the field type. Empty input
// yields nil for every type except text. Values that cannot be read yield nil.
func Coerce(raw string, fieldType models.FieldType) any {
	s := strings.TrimSpace(raw)

	if fieldType == models.TypeText {
		return s
	}
	if s == "" {
		return nil
	}

	switch fieldType {
	case models.TypeNumber:
		if f, ok := ParseLocaleNumber(s); ok {
			return f
		}
		return nil

	case models.TypeInteger:
		if f, ok := ParseLocaleNumber(s); ok {
			r := math.Round(f)
			// float64(math.MaxInt64) rounds up to 2^63, which does not fit
			if r < math.MinInt64 || r >= math.MaxInt64 {
				return nil
			}
			return int64(r)
		}
		return nil

	case models.TypeBoolean:
		return affirmativeTokens[strings.ToLower(s)]

	case models.TypeTags:
		if tags := SplitTags(s); len(tags) > 0 {
			return tags
		}
		return nil

	case models.TypeDate:
		if t, ok := ParseDate(s); ok {
			return t
		}
		return nil
	}

	return s
}

// ParseLocaleNumber reads the first number in s, ignoring currency symbols and
// units. When both '.' and ',' occur, the first one seen groups thousands and
// the last one is the decimal mark. A lone separator is a decimal mark unless
// it repeats, in which case it groups thousands. Non-finite results fail.
func ParseLocaleNumber(s string) (float64, bool) {
	token := numberTokenRe.FindString(s)
	if token == "" {
		return 0, false
	}
	token = strings.TrimRight(token, ".,")

	hasDot := strings.Contains(token, ".")
	hasComma := strings.Contains(token, ",")

	switch {
	case hasDot && hasComma:
		thousands, decimal := ".", ","
		if strings.Index(token, ",") < strings.Index(token, ".") {
			thousands, decimal = ",", "."
		}
		token = strings.ReplaceAll(token, thousands, "")
		token = strings.Replace(token, decimal, ".", 1)

	case hasComma:
		if strings.Count(token, ",") > 1 {
			token = strings.ReplaceAll(token, ",", "")
		} else {
			token = strings.Replace(token, ",", ".", 1)
		}

	case hasDot:
		if strings.Count(token, ".") > 1 {
			token = strings.ReplaceAll(token, ".", "")
		}
	}

	f, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// SplitTags splits on ',', ';' and '|', trims and drops empty entries
func SplitTags(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})

	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// ParseDate tries the accepted layouts and returns the UTC calendar date
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
