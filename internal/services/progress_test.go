package services

import (
	"context"
	"errors"
	"testing"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

func TestStatusKeys(t *testing.T) {
	if got := statusKey("run-1"); got != "import:run:run-1" {
		t.Errorf("Expected: %q, got: %q", "import:run:run-1", got)
	}
	if got := reportKey("run-1"); got != "import:run:run-1:report" {
		t.Errorf("Expected: %q, got: %q", "import:run:run-1:report", got)
	}
}

func TestMemoryStatusStore(t *testing.T) {
	store := NewMemoryStatusStore()
	ctx := context.Background()

	if _, err := store.GetStatus(ctx, "run-1"); !errors.Is(err, ErrStatusNotFound) {
		t.Fatalf("Expected ErrStatusNotFound, got %v", err)
	}

	result := models.NewImportResult("run-1", "t1", 250)
	result.Imported = 100
	result.Progress = 34
	if err := store.SaveStatus(ctx, models.StatusFromResult(models.RunStateRunning, result)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status, err := store.GetStatus(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.State != models.RunStateRunning || status.Progress != 34 || status.Imported != 100 || status.TenantID != "t1" {
		t.Errorf("unexpected status %+v", status)
	}

	report := []byte("index,kind,reason\n")
	_ = store.SaveReport(ctx, "run-1", report)
	report[0] = 'X'

	got, err := store.GetReport(ctx, "run-1")
	if err != nil || string(got) != "index,kind,reason\n" {
		t.Errorf("Expected stored copy of the report, got %q, %v", got, err)
	}
	if _, err := store.GetReport(ctx, "run-2"); !errors.Is(err, ErrStatusNotFound) {
		t.Errorf("Expected ErrStatusNotFound, got %v", err)
	}
}
