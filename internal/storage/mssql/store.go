package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

// maxParams stays under the 2100 parameter limit of a SQL Server request
const maxParams = 2000

// SQL Server duplicate key error numbers
const (
	errUniqueConstraint = 2627
	errUniqueIndex      = 2601
)

// Store implements storage.RecordStore for Microsoft SQL Server.
//
// A batch may need several statements to respect the parameter limit, so
// every batch runs inside one transaction. Upserts use MERGE keyed by id and
// only update rows of the same tenant.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens a connection using the "sqlserver" driver and validates it with PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.RecordStore, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return NewWithDB(raw), nil
}

// NewWithDB wraps an already opened handle
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases database resources held by this store.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureSchema creates the tables if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: ensure schema: %w", err)
		}
	}
	return nil
}

// InsertRecords writes one batch atomically
func (s *Store) InsertRecords(ctx context.Context, tenantID string, records []models.AssembledRecord, mode storage.InsertMode) (err error) {
	if len(records) == 0 {
		return nil
	}
	if err := storage.ValidateMode(mode); err != nil {
		return err
	}
	if mode == storage.ModeUpsert {
		records = storage.LastByID(records)
	}

	rows, err := storage.RecordRows(tenantID, records)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mssql: begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, chunk := range chunkRows(rows, maxParams/len(storage.RecordColumns)) {
		q, args := buildWriteSQL(chunk, mode)
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("mssql: write %d records: %w", len(chunk), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("mssql: commit batch: %w", err)
	}
	return nil
}

// SelectDimensions lists the values of one kind
func (s *Store) SelectDimensions(ctx context.Context, tenantID, kind string) ([]models.DimensionEntity, error) {
	rows, err := s.db.QueryContext(ctx, selectDimensionsSQL, tenantID, kind)
	if err != nil {
		return nil, fmt.Errorf("mssql: select dimensions: %w", err)
	}
	defer rows.Close()

	var out []models.DimensionEntity
	for rows.Next() {
		var d models.DimensionEntity
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Kind, &d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDimension inserts where not exists. A concurrent writer that wins
// the race surfaces as a duplicate key error, reported the same way.
func (s *Store) CreateDimension(ctx context.Context, tenantID, kind, name string) (models.DimensionEntity, error) {
	d := models.NewDimensionEntity(tenantID, kind, name)

	res, err := s.db.ExecContext(ctx, insertDimensionSQL, d.ID, d.TenantID, d.Kind, d.Name, d.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return d, storage.ErrDimensionExists
		}
		return models.DimensionEntity{}, fmt.Errorf("mssql: create dimension %s/%s: %w", kind, name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return d, storage.ErrDimensionExists
	}
	return d, nil
}

func isDuplicateKey(err error) bool {
	var msErr mssqldb.Error
	if errors.As(err, &msErr) {
		return msErr.Number == errUniqueConstraint || msErr.Number == errUniqueIndex
	}
	return false
}

var schemaStatements = []string{
	`IF OBJECT_ID(N'` + storage.RecordsTable + `', N'U') IS NULL
CREATE TABLE ` + storage.RecordsTable + ` (
	id NVARCHAR(64) NOT NULL PRIMARY KEY,
	tenant_id NVARCHAR(128) NOT NULL,
	name NVARCHAR(400) NOT NULL,
	core NVARCHAR(MAX) NOT NULL,
	extra_attributes NVARCHAR(MAX) NOT NULL DEFAULT '{}',
	created_by NVARCHAR(128) NULL,
	import_run_id NVARCHAR(64) NULL,
	created_at DATETIME2 NOT NULL
)`,
	`IF OBJECT_ID(N'` + storage.DimensionsTable + `', N'U') IS NULL
CREATE TABLE ` + storage.DimensionsTable + ` (
	id NVARCHAR(64) NOT NULL PRIMARY KEY,
	tenant_id NVARCHAR(128) NOT NULL,
	kind NVARCHAR(64) NOT NULL,
	name NVARCHAR(400) NOT NULL,
	created_at DATETIME2 NOT NULL,
	CONSTRAINT uq_` + storage.DimensionsTable + ` UNIQUE (tenant_id, kind, name)
)`,
}

const (
	selectDimensionsSQL = `SELECT id, tenant_id, kind, name, created_at FROM ` + storage.DimensionsTable +
		` WHERE tenant_id = @p1 AND kind = @p2 ORDER BY name`
	insertDimensionSQL = `INSERT INTO ` + storage.DimensionsTable + ` (id, tenant_id, kind, name, created_at)` +
		` SELECT @p1, @p2, @p3, @p4, @p5 WHERE NOT EXISTS (SELECT 1 FROM ` + storage.DimensionsTable +
		` WITH (UPDLOCK, HOLDLOCK) WHERE tenant_id = @p2 AND kind = @p3 AND name = @p4)`
)

func chunkRows(rows [][]any, size int) [][][]any {
	if size < 1 {
		size = 1
	}
	var chunks [][][]any
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

// buildWriteSQL builds a multi-row INSERT, or a MERGE for upserts
func buildWriteSQL(rows [][]any, mode storage.InsertMode) (string, []any) {
	columns := storage.RecordColumns
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = msIdent(c)
	}
	colList := strings.Join(cols, ", ")

	var values strings.Builder
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteString("(")
		for j := range columns {
			if j > 0 {
				values.WriteString(", ")
			}
			fmt.Fprintf(&values, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		values.WriteString(")")
	}

	if mode != storage.ModeUpsert {
		return "INSERT INTO " + storage.RecordsTable + " (" + colList + ") VALUES " + values.String(), args
	}

	var sets, srcCols []string
	for _, c := range columns {
		srcCols = append(srcCols, "src."+msIdent(c))
		if c == "id" || c == "tenant_id" || c == "created_at" {
			continue
		}
		sets = append(sets, "tgt."+msIdent(c)+" = src."+msIdent(c))
	}

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(storage.RecordsTable)
	b.WriteString(" WITH (HOLDLOCK) AS tgt USING (VALUES ")
	b.WriteString(values.String())
	b.WriteString(") AS src (")
	b.WriteString(colList)
	b.WriteString(") ON tgt.[id] = src.[id]")
	b.WriteString(" WHEN MATCHED AND tgt.[tenant_id] = src.[tenant_id] THEN UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(colList)
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(srcCols, ", "))
	b.WriteString(");")

	return b.String(), args
}

func msIdent(name string) string {
	return storage.QuoteIdent(name, "[", "]")
}
