package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage/memory"
)

// failingStore rejects selected batches by call number and can cancel a
// context once a given call has started
type failingStore struct {
	*memory.Store
	failCalls   map[int]bool
	calls       int
	cancelAfter int
	cancel      context.CancelFunc
	ctxErrs     []error
}

func (s *failingStore) InsertRecords(ctx context.Context, tenantID string, records []models.AssembledRecord, mode storage.InsertMode) error {
	s.calls++
	if s.cancel != nil && s.calls == s.cancelAfter {
		s.cancel()
	}
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.failCalls[s.calls] {
		return errors.New("store unavailable")
	}
	return s.Store.InsertRecords(ctx, tenantID, records, mode)
}

func makeAssembled(n int) []models.AssembledRecord {
	records := make([]models.AssembledRecord, n)
	for i := range records {
		records[i] = models.AssembledRecord{
			ID:       fmt.Sprintf("rec_%03d", i),
			TenantID: "t1",
			RowIndex: i,
			Core:     map[string]any{models.FieldName: fmt.Sprintf("Casa %d", i)},
		}
	}
	return records
}

func TestProgressAfter(t *testing.T) {
	testCases := []struct {
		done, total, expected int
	}{
		{1, 3, 34},
		{2, 3, 67},
		{3, 3, 100},
		{1, 1, 100},
		{1, 7, 15},
		{7, 7, 100},
		{0, 0, 100},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d_of_%d", tc.done, tc.total), func(t *testing.T) {
			if got := progressAfter(tc.done, tc.total); got != tc.expected {
				t.Errorf("Expected: %d, got: %d", tc.expected, got)
			}
		})
	}
}

func TestBatchPersister_ProgressSequence(t *testing.T) {
	store := memory.New()
	persister := NewBatchPersister(store, NewImportMetrics(nil, nil), nil)

	var progress []int
	result, err := persister.Persist(context.Background(), models.NewImportResult("run-1", "t1", 250), makeAssembled(250), PersistOptions{
		BatchSize:  100,
		OnProgress: func(r models.ImportResult) { progress = append(progress, r.Progress) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(progress, []int{34, 67, 100}) {
		t.Errorf("Expected progress [34 67 100], got %v", progress)
	}
	if result.Imported != 250 || result.Total != 250 || !result.Succeeded() {
		t.Errorf("unexpected result %+v", result)
	}
	if got := len(store.Records("t1")); got != 250 {
		t.Errorf("Expected 250 stored records, got %d", got)
	}
}

func TestBatchPersister_AbortOnFailure(t *testing.T) {
	store := &failingStore{Store: memory.New(), failCalls: map[int]bool{2: true}}
	persister := NewBatchPersister(store, NewImportMetrics(nil, nil), nil)

	result, err := persister.Persist(context.Background(), models.NewImportResult("run-1", "t1", 250), makeAssembled(250), PersistOptions{BatchSize: 100})

	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("Expected *BatchError, got %v", err)
	}
	if batchErr.Batch != 1 || batchErr.FirstIndex != 100 || batchErr.Count != 100 {
		t.Errorf("unexpected batch error %+v", batchErr)
	}
	if store.calls != 2 {
		t.Errorf("run should stop after the failed batch, got %d calls", store.calls)
	}
	if result.Imported != 100 || len(result.Errors) != 100 || result.Errors[0].Index != 100 {
		t.Errorf("unexpected result: imported=%d errors=%d", result.Imported, len(result.Errors))
	}
	if result.Progress != 34 {
		t.Errorf("Expected progress to stay at 34, got %d", result.Progress)
	}
}

func TestBatchPersister_ContinueOnFailure(t *testing.T) {
	store := &failingStore{Store: memory.New(), failCalls: map[int]bool{2: true}}
	persister := NewBatchPersister(store, NewImportMetrics(nil, nil), nil)

	var progress []int
	result, err := persister.Persist(context.Background(), models.NewImportResult("run-1", "t1", 250), makeAssembled(250), PersistOptions{
		BatchSize:       100,
		ContinueOnError: true,
		OnProgress:      func(r models.ImportResult) { progress = append(progress, r.Progress) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Imported != 150 || len(result.Errors) != 100 {
		t.Errorf("Expected 150 imported and 100 errors, got %d and %d", result.Imported, len(result.Errors))
	}
	if !reflect.DeepEqual(progress, []int{34, 67, 100}) {
		t.Errorf("Expected progress [34 67 100], got %v", progress)
	}
	if result.Succeeded() {
		t.Error("a run with row errors is not a success")
	}
}

func TestBatchPersister_CancellationBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &failingStore{Store: memory.New(), cancelAfter: 1, cancel: cancel}
	persister := NewBatchPersister(store, NewImportMetrics(nil, nil), nil)

	result, err := persister.Persist(ctx, models.NewImportResult("run-1", "t1", 250), makeAssembled(250), PersistOptions{BatchSize: 100})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	// the in-flight batch completes; the next one is never sent
	if store.calls != 1 || result.Imported != 100 {
		t.Errorf("Expected one completed batch, got calls=%d imported=%d", store.calls, result.Imported)
	}
	if store.ctxErrs[0] != nil {
		t.Errorf("in-flight batch must not observe cancellation, got %v", store.ctxErrs[0])
	}
}

func TestBatchPersister_SnapshotsAreIndependent(t *testing.T) {
	store := &failingStore{Store: memory.New(), failCalls: map[int]bool{1: true}}
	persister := NewBatchPersister(store, NewImportMetrics(nil, nil), nil)

	var snapshots []models.ImportResult
	_, _ = persister.Persist(context.Background(), models.NewImportResult("run-1", "t1", 20), makeAssembled(20), PersistOptions{
		BatchSize:       10,
		ContinueOnError: true,
		OnProgress:      func(r models.ImportResult) { snapshots = append(snapshots, r) },
	})

	if len(snapshots) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snapshots))
	}
	if len(snapshots[0].Errors) != 10 || snapshots[0].Imported != 0 {
		t.Errorf("first snapshot changed after it was handed out: %+v", snapshots[0])
	}
	if snapshots[1].Imported != 10 {
		t.Errorf("Expected 10 imported in the last snapshot, got %d", snapshots[1].Imported)
	}
}

func TestBatchPersister_Empty(t *testing.T) {
	result, err := NewBatchPersister(memory.New(), NewImportMetrics(nil, nil), nil).
		Persist(context.Background(), models.NewImportResult("run-1", "t1", 3), nil, PersistOptions{})
	if err != nil || result.Progress != 100 || result.Imported != 0 {
		t.Errorf("unexpected result %+v, %v", result, err)
	}
}
