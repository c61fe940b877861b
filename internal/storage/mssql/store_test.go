package mssql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return NewWithDB(db), mock
}

func makeRecords(n int) []models.AssembledRecord {
	records := make([]models.AssembledRecord, n)
	for i := range records {
		records[i] = models.AssembledRecord{
			ID:        fmt.Sprintf("rec_%d", i),
			TenantID:  "t1",
			Core:      map[string]any{models.FieldName: fmt.Sprintf("Casa %d", i)},
			CreatedAt: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		}
	}
	return records
}

func TestBuildWriteSQL_Insert(t *testing.T) {
	rows := [][]any{{"rec_1", "t1", "Casa", "{}", "{}", "", "", nil}}

	q, args := buildWriteSQL(rows, storage.ModeInsert)

	expected := "INSERT INTO import_records ([id], [tenant_id], [name], [core], [extra_attributes], [created_by], [import_run_id], [created_at]) VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8)"
	if q != expected {
		t.Errorf("Expected: %q, got: %q", expected, q)
	}
	if len(args) != 8 {
		t.Errorf("Expected 8 args, got %d", len(args))
	}
}

func TestBuildWriteSQL_Merge(t *testing.T) {
	rows := [][]any{
		{"rec_1", "t1", "Casa", "{}", "{}", "", "", nil},
		{"rec_2", "t1", "Apto", "{}", "{}", "", "", nil},
	}

	q, _ := buildWriteSQL(rows, storage.ModeUpsert)

	for _, part := range []string{
		"MERGE INTO import_records WITH (HOLDLOCK) AS tgt USING (VALUES (@p1,",
		"(@p9, @p10,",
		"ON tgt.[id] = src.[id] WHEN MATCHED AND tgt.[tenant_id] = src.[tenant_id] THEN UPDATE SET tgt.[name] = src.[name]",
		"WHEN NOT MATCHED THEN INSERT ([id],",
	} {
		if !strings.Contains(q, part) {
			t.Errorf("Expected statement to contain %q, got %q", part, q)
		}
	}
	if !strings.HasSuffix(q, ");") {
		t.Errorf("MERGE must be terminated by a semicolon: %q", q)
	}
}

func TestChunkRows(t *testing.T) {
	rows := make([][]any, 600)
	chunks := chunkRows(rows, maxParams/len(storage.RecordColumns))

	if len(chunks) != 3 || len(chunks[0]) != 250 || len(chunks[2]) != 100 {
		t.Errorf("unexpected chunking: %d chunks", len(chunks))
	}
}

func TestStore_InsertRecords_Transaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_records")).WillReturnResult(sqlmock.NewResult(0, 250))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_records")).WillReturnResult(sqlmock.NewResult(0, 50))
	mock.ExpectCommit()

	if err := store.InsertRecords(context.Background(), "t1", makeRecords(300), storage.ModeInsert); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_InsertRecords_RollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_records")).WillReturnResult(sqlmock.NewResult(0, 250))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_records")).WillReturnError(errors.New("deadlock victim"))
	mock.ExpectRollback()

	if err := store.InsertRecords(context.Background(), "t1", makeRecords(300), storage.ModeInsert); err == nil {
		t.Fatal("Expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_CreateDimension(t *testing.T) {
	testCases := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "created",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_dimensions")).WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "already present",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("WHERE NOT EXISTS")).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: storage.ErrDimensionExists,
		},
		{
			name: "lost race",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_dimensions")).WillReturnError(mssqldb.Error{Number: errUniqueConstraint})
			},
			wantErr: storage.ErrDimensionExists,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tc.setup(mock)

			_, err := store.CreateDimension(context.Background(), "t1", models.DimensionCategory, "Casa")
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected error %v, got %v", tc.wantErr, err)
			}
		})
	}
}
