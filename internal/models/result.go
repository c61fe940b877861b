package models

import "time"

// Reasons recorded in import results
const (
	ReasonMissingIdentifier = "missing mandatory identifier"
	ReasonUnparsableAI      = "unparsable AI response"

	ReasonDuplicateReferenceCode = "duplicate reference code"
)

// SkippedRow is a row that was dropped by the assembler
type SkippedRow struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// RowError is a row whose persistence failed
type RowError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// AIBatchFailure is a normalization batch whose oracle output was unusable
type AIBatchFailure struct {
	Batch      int    `json:"batch"`
	FirstIndex int    `json:"first_index"`
	Count      int    `json:"count"`
	Reason     string `json:"reason"`
	Raw        string `json:"raw,omitempty"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

// ImportResult summarises one import run. Values are snapshots: use Clone
// before extending one that was already handed out. Total counts candidate
// rows, which under AI normalization are the records the oracle returned;
// row indexes always point into the uploaded file's data rows.
type ImportResult struct {
	RunID             string           `json:"run_id"`
	TenantID          string           `json:"tenant_id"`
	Total             int              `json:"total"`
	Imported          int              `json:"imported"`
	Skipped           []SkippedRow     `json:"skipped"`
	Errors            []RowError       `json:"errors"`
	AIFailures        []AIBatchFailure `json:"ai_failures,omitempty"`
	DimensionsCreated int              `json:"dimensions_created"`
	Progress          int              `json:"progress"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at,omitempty"`
}

// NewImportResult creates the empty accumulator for a run
func NewImportResult(runID, tenantID string, total int) ImportResult {
	return ImportResult{
		RunID:     runID,
		TenantID:  tenantID,
		Total:     total,
		Skipped:   []SkippedRow{},
		Errors:    []RowError{},
		StartedAt: time.Now(),
	}
}

// Clone returns a copy that shares no slices with r
func (r ImportResult) Clone() ImportResult {
	out := r
	out.Skipped = append([]SkippedRow{}, r.Skipped...)
	out.Errors = append([]RowError{}, r.Errors...)
	if r.AIFailures != nil {
		out.AIFailures = append([]AIBatchFailure{}, r.AIFailures...)
	}
	return out
}

// Succeeded reports whether every candidate row was imported
func (r ImportResult) Succeeded() bool {
	return len(r.Errors) == 0 && r.Imported+len(r.Skipped) == r.Total
}
