package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Input errors. They are returned before any side effect happens.
var (
	ErrEmptyInput          = errors.New("input contains no rows")
	ErrHeaderRowOutOfRange = errors.New("header row index out of range")
	ErrUnknownField        = errors.New("mapping target is not a canonical field")
	ErrNoIdentifier        = errors.New("no column can supply the mandatory identifier")
	ErrUnsupportedFormat   = errors.New("unsupported source format")
	ErrAIUnavailable       = errors.New("AI assistance requested but no oracle is configured")
	ErrInvalidDelimiter    = errors.New("invalid delimiter")
)

// DuplicateTargetError is returned when several columns map to a field that
// only accepts one source column
type DuplicateTargetError struct {
	Conflicts map[string][]string // target -> columns
}

func (e *DuplicateTargetError) Error() string {
	targets := make([]string, 0, len(e.Conflicts))
	for target := range e.Conflicts {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, fmt.Sprintf("%s <- [%s]", target, strings.Join(e.Conflicts[target], ", ")))
	}
	return "multiple columns map to the same field: " + strings.Join(parts, "; ")
}

// UnknownTargetError names the columns whose targets are not canonical fields
type UnknownTargetError struct {
	Targets map[string]string // column -> target
}

func (e *UnknownTargetError) Error() string {
	cols := make([]string, 0, len(e.Targets))
	for col := range e.Targets {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		parts = append(parts, fmt.Sprintf("%s -> %s", col, e.Targets[col]))
	}
	return fmt.Sprintf("%s: %s", ErrUnknownField.Error(), strings.Join(parts, "; "))
}

func (e *UnknownTargetError) Unwrap() error {
	return ErrUnknownField
}

// BatchError reports a persistence batch that the store rejected
type BatchError struct {
	Batch      int
	FirstIndex int
	Count      int
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (rows %d-%d) failed: %v", e.Batch, e.FirstIndex, e.FirstIndex+e.Count-1, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsInputError reports whether err is a caller mistake rather than a runtime failure
func IsInputError(err error) bool {
	var dup *DuplicateTargetError
	return errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrHeaderRowOutOfRange) ||
		errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrNoIdentifier) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrAIUnavailable) ||
		errors.Is(err, ErrInvalidDelimiter) ||
		errors.As(err, &dup)
}
