package models

import (
	"encoding/json"
	"time"
)

// AssembledRecord is one import row converted to the store shape
type AssembledRecord struct {
	ID          string         `json:"id" dynamodbav:"id"`
	TenantID    string         `json:"tenant_id" dynamodbav:"tenant_id"`
	RowIndex    int            `json:"row_index" dynamodbav:"row_index"`
	Core        map[string]any `json:"core" dynamodbav:"core"`
	Extra       map[string]any `json:"extra_attributes,omitempty" dynamodbav:"extra_attributes,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty" dynamodbav:"created_by,omitempty"`
	ImportRunID string         `json:"import_run_id,omitempty" dynamodbav:"import_run_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at" dynamodbav:"created_at"`
}

// Name returns the mandatory identifier value
func (r *AssembledRecord) Name() string {
	s, _ := r.Core[FieldName].(string)
	return s
}

// Value returns a field value from the core or extra container
func (r *AssembledRecord) Value(field string) (any, bool) {
	if v, ok := r.Core[field]; ok {
		return v, true
	}
	v, ok := r.Extra[field]
	return v, ok
}

// StoreValues returns the core map with dates rendered as ISO dates, ready for SQL or JSON columns
func (r *AssembledRecord) StoreValues() map[string]any {
	out := make(map[string]any, len(r.Core))
	for k, v := range r.Core {
		out[k] = storeValue(v)
	}
	return out
}

// ExtraJSON encodes the extra attributes container
func (r *AssembledRecord) ExtraJSON() ([]byte, error) {
	if len(r.Extra) == 0 {
		return []byte("{}"), nil
	}
	extra := make(map[string]any, len(r.Extra))
	for k, v := range r.Extra {
		extra[k] = storeValue(v)
	}
	return json.Marshal(extra)
}

func storeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(DateLayout)
	}
	return v
}

// DateLayout is the canonical serialization of date fields
const DateLayout = "2006-01-02"
