package storage

import (
	"context"
	"testing"
	"time"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

func TestRecordRow(t *testing.T) {
	created := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	rec := models.AssembledRecord{
		ID:       "rec_1",
		TenantID: "t1",
		RowIndex: 4,
		Core: map[string]any{
			models.FieldName:     "Casa",
			models.FieldListedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		Extra:       map[string]any{models.FieldFeatures: []string{"piscina"}},
		CreatedBy:   "u1",
		ImportRunID: "run-1",
		CreatedAt:   created,
	}

	row, err := RecordRow("t1", rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(row) != len(RecordColumns) {
		t.Fatalf("Expected %d values, got %d", len(RecordColumns), len(row))
	}

	expected := []any{"rec_1", "t1", "Casa", `{"listed_at":"2024-01-02","name":"Casa"}`, `{"features":["piscina"]}`, "u1", "run-1", created}
	for i := range expected {
		if row[i] != expected[i] {
			t.Errorf("%s: expected %v, got %v", RecordColumns[i], expected[i], row[i])
		}
	}
}

func TestRecordRows_RejectsForeignTenant(t *testing.T) {
	records := []models.AssembledRecord{{ID: "a", TenantID: "t2", Core: map[string]any{}}}
	if _, err := RecordRows("t1", records); err == nil {
		t.Error("Expected error for a record of another tenant")
	}
}

func TestLastByID(t *testing.T) {
	records := []models.AssembledRecord{
		{ID: "a", RowIndex: 0},
		{ID: "b", RowIndex: 1},
		{ID: "a", RowIndex: 2},
	}

	got := LastByID(records)
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].ID != "a" || got[0].RowIndex != 2 || got[1].ID != "b" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	f := func(context.Context, Config) (RecordStore, error) { return nil, nil }
	Register("test-duplicate", f)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	Register("test-duplicate", f)
}

func TestValidateMode(t *testing.T) {
	testCases := []struct {
		mode  InsertMode
		valid bool
	}{
		{ModeInsert, true},
		{ModeUpsert, true},
		{"merge", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.mode), func(t *testing.T) {
			if err := ValidateMode(tc.mode); (err == nil) != tc.valid {
				t.Errorf("Expected valid=%t, got %v", tc.valid, err)
			}
		})
	}
}
