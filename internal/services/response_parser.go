package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// errUnparsable is returned when no parse strategy yields valid JSON
var errUnparsable = errors.New("response is not valid JSON")

var trailingCommaRe = regexp.MustCompile(`,\s*([\]}])`)

// candidateStrategy turns a raw oracle response into a candidate JSON text
type candidateStrategy func(raw string, open, close byte) (string, bool)

// responseStrategies are tried in order; the first candidate that decodes wins
var responseStrategies = []candidateStrategy{
	directCandidate,
	fencedCandidate,
	bracketCandidate,
}

func directCandidate(raw string, _, _ byte) (string, bool) {
	s := strings.TrimSpace(raw)
	return s, s != ""
}

// fencedCandidate removes a markdown code fence around the payload
func fencedCandidate(raw string, _, _ byte) (string, bool) {
	start := strings.Index(raw, "```")
	end := strings.LastIndex(raw, "```")
	if start < 0 || end <= start {
		return "", false
	}
	cleaned := cleanJSONResponse(raw[start : end+3])
	return cleaned, cleaned != ""
}

// bracketCandidate keeps the text between the first opening and the last
// closing bracket, drops trailing commas and collapses line breaks
func bracketCandidate(raw string, open, close byte) (string, bool) {
	start := strings.IndexByte(raw, open)
	end := strings.LastIndexByte(raw, close)
	if start < 0 || end <= start {
		return "", false
	}
	s := raw[start : end+1]
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	return s, true
}

// cleanJSONResponse removes markdown code blocks and surrounding whitespace
func cleanJSONResponse(response string) string {
	cleaned := strings.TrimSpace(response)

	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
	} else if strings.HasPrefix(cleaned, "```JSON") {
		cleaned = strings.TrimPrefix(cleaned, "```JSON")
	}
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	return strings.TrimSpace(cleaned)
}

// ParseJSONArray extracts an array of objects from an oracle response
func ParseJSONArray(raw string) ([]map[string]any, error) {
	for _, strategy := range responseStrategies {
		candidate, ok := strategy(raw, '[', ']')
		if !ok {
			continue
		}
		var records []map[string]any
		if err := decodeStrict(candidate, &records); err == nil && records != nil {
			return records, nil
		}
	}
	return nil, errUnparsable
}

// jsonPair is one key of a JSON object, in document order
type jsonPair struct {
	Key   string
	Value any
}

// ParseJSONObject extracts an object from an oracle response, keeping key order
func ParseJSONObject(raw string) ([]jsonPair, error) {
	for _, strategy := range responseStrategies {
		candidate, ok := strategy(raw, '{', '}')
		if !ok {
			continue
		}
		if pairs, err := decodeOrderedObject(candidate); err == nil {
			return pairs, nil
		}
	}
	return nil, errUnparsable
}

func decodeStrict(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

func decodeOrderedObject(s string) ([]jsonPair, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var pairs []jsonPair
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		pairs = append(pairs, jsonPair{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	return pairs, nil
}

// stringify renders a decoded JSON value as cell text
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
