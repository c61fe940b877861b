package models

import "time"

// RunState is the lifecycle state of an import run
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// IsTerminal reports whether the run can no longer change
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateCancelled
}

// ImportOptions are the caller-controlled knobs of one run
type ImportOptions struct {
	Format               string        `json:"format,omitempty"`
	Delimiter            string        `json:"delimiter,omitempty"`
	Sheet                string        `json:"sheet,omitempty"`
	HeaderRow            int           `json:"header_row"`
	Mapping              ColumnMapping `json:"mapping,omitempty"`
	UseAIMapping         bool          `json:"use_ai_mapping,omitempty"`
	UseAINormalization   bool          `json:"use_ai_normalization,omitempty"`
	Upsert               bool          `json:"upsert,omitempty"`
	ContinueOnBatchError bool          `json:"continue_on_batch_error,omitempty"`
}

// ImportJob is the payload handed to the asynchronous worker
type ImportJob struct {
	RunID    string        `json:"run_id"`
	TenantID string        `json:"tenant_id"`
	UserID   string        `json:"user_id,omitempty"`
	Bucket   string        `json:"bucket"`
	Key      string        `json:"key"`
	FileName string        `json:"file_name,omitempty"`
	Options  ImportOptions `json:"options"`
}

// ImportStatus is the externally visible progress of a run
type ImportStatus struct {
	RunID     string    `json:"run_id"`
	TenantID  string    `json:"tenant_id"`
	State     RunState  `json:"state"`
	Progress  int       `json:"progress"`
	Total     int       `json:"total"`
	Imported  int       `json:"imported"`
	Skipped   int       `json:"skipped"`
	Errored   int       `json:"errored"`
	Message   string    `json:"message,omitempty"`
	ReportKey string    `json:"report_key,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusFromResult derives the status snapshot from a result
func StatusFromResult(state RunState, r ImportResult) ImportStatus {
	return ImportStatus{
		RunID:     r.RunID,
		TenantID:  r.TenantID,
		State:     state,
		Progress:  r.Progress,
		Total:     r.Total,
		Imported:  r.Imported,
		Skipped:   len(r.Skipped),
		Errored:   len(r.Errors),
		UpdatedAt: time.Now().UTC(),
	}
}
